package assistant

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/spamguard/spamrag/common/logger"
	"github.com/spamguard/spamrag/config"
	"github.com/spamguard/spamrag/errdefs"
	"github.com/spamguard/spamrag/llm"
	"github.com/spamguard/spamrag/schema"
	"github.com/spamguard/spamrag/search"
	"github.com/spamguard/spamrag/structured"
)

func (a *Assistant) stageOptions(s config.StageLLM) structured.Options {
	return structured.Options{
		Model:       s.Model,
		Temperature: llm.Float(s.Temperature),
		Timeout:     a.stageTimeout,
	}
}

// condense rewrites the last user turn as a standalone query and tags the topic.
func (a *Assistant) condense(ctx context.Context, history schema.ChatHistory) (Condensor, error) {
	out, err := structured.Invoke[Condensor](ctx, a.llm, "Condensor", structured.Prompt{
		System:  contextualizeSystemPrompt,
		History: history.Previous(),
		Human:   fmt.Sprintf(contextualizeHumanTemplate, history.LastQuery()),
	}, a.stageOptions(a.cfg.Condense))
	if err != nil {
		return Condensor{}, err
	}
	out.Condensor = strings.TrimSpace(out.Condensor)
	out.Topic = normalizeTopic(out.Topic)
	if out.Language == "" {
		out.Language = "Spanish"
	}
	return out, nil
}

// expand produces at least cfg.MinQueries searches for the condensed query,
// padding with the condensed query itself when the model returns fewer.
func (a *Assistant) expand(ctx context.Context, cq Condensor) ([]ExpandedQuery, error) {
	out, err := structured.Invoke[Queries](ctx, a.llm, "Queries", structured.Prompt{
		System:   multiquerySystem(a.cfg.CurrentYear),
		Examples: selfQueryExamples(a.cfg.CurrentYear),
		Human:    cq.Condensor,
	}, a.stageOptions(a.cfg.Expand))
	if err != nil {
		return nil, err
	}

	queries := make([]ExpandedQuery, 0, len(out.Queries))
	for _, q := range out.Queries {
		text := strings.TrimSpace(q.Query)
		if text == "" {
			continue
		}
		queries = append(queries, ExpandedQuery{
			Query:   text,
			Domain:  cq.Topic,
			Country: normalizeEntity(q.Country),
			Region:  normalizeEntity(q.Region),
			Year:    normalizeEntity(q.Year),
		})
	}
	for len(queries) < a.cfg.MinQueries {
		queries = append(queries, ExpandedQuery{
			Query:   cq.Condensor,
			Domain:  cq.Topic,
			Country: NullEntity,
			Region:  NullEntity,
			Year:    NullEntity,
		})
	}
	return queries, nil
}

// entityFilter narrows a search to the entities the expansion stage found.
// Comma separated values become a OneOf. Entities on fields the index cannot
// filter are dropped.
func entityFilter(ic config.IndexConfig, q ExpandedQuery) search.Expr {
	var exprs []search.Expr
	for _, e := range []struct{ field, value string }{
		{"country", q.Country},
		{"region", q.Region},
		{"year", q.Year},
	} {
		if e.value == NullEntity {
			continue
		}
		if !ic.IsFilterable(e.field) {
			logger.Debugf("assistant: index %s cannot filter on %s, ignoring %q", ic.Name, e.field, e.value)
			continue
		}
		var values []string
		for _, v := range strings.Split(e.value, ",") {
			if v = strings.TrimSpace(v); v != "" && v != NullEntity {
				values = append(values, v)
			}
		}
		if len(values) > 0 {
			exprs = append(exprs, search.OneOf(e.field, values...))
		}
	}
	return search.And(exprs...)
}

// retrieve runs every expanded query concurrently and concatenates the hits
// in query order. Identical searches run once. Any failure fails the stage.
func (a *Assistant) retrieve(ctx context.Context, ic config.IndexConfig, queries []ExpandedQuery) ([]schema.SearchHit, error) {
	type job struct {
		key    string
		query  search.Query
		result []schema.SearchHit
	}
	var jobs []*job
	slot := make([]*job, len(queries))
	seen := map[string]*job{}
	for i, q := range queries {
		filter := entityFilter(ic, q)
		key := q.Query + "\x00" + search.RenderOData(filter)
		j, ok := seen[key]
		if !ok {
			j = &job{key: key, query: search.Query{Text: q.Query, K: a.cfg.KTop, Hybrid: a.cfg.Hybrid, Filter: filter}}
			seen[key] = j
			jobs = append(jobs, j)
		}
		slot[i] = j
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(gctx, a.searchTimeout)
			defer cancel()
			hits, err := a.search.Search(qctx, a.cfg.Index, j.query)
			if err != nil {
				return errdefs.Upstream("retrieve", err)
			}
			j.result = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []schema.SearchHit
	for _, j := range slot {
		for _, h := range j.result {
			all = append(all, h.Clone())
		}
	}
	return all, nil
}

func synthesisMessages(query, context, language string) []llm.Message {
	return []llm.Message{
		{Role: schema.RoleSystem, Content: synthesisSystemPrompt},
		{Role: schema.RoleUser, Content: fmt.Sprintf(synthesisHumanTemplate, query, context, language)},
	}
}

func (a *Assistant) synthesisRequest(cq Condensor, context string) llm.Request {
	return llm.Request{
		Model:       a.cfg.Synthesis.Model,
		Messages:    synthesisMessages(cq.Condensor, context, cq.Language),
		Temperature: llm.Float(a.cfg.Synthesis.Temperature),
		Seed:        llm.Int(structured.DefaultSeed),
		Timeout:     a.stageTimeout,
	}
}

func (a *Assistant) synthesize(ctx context.Context, cq Condensor, context string) (string, error) {
	resp, err := a.llm.Complete(ctx, a.synthesisRequest(cq, context))
	if err != nil {
		return "", errdefs.Upstream("synthesis", err)
	}
	return resp.Content, nil
}

func (a *Assistant) followups(ctx context.Context, cq Condensor, context string) ([]schema.FollowupQuestion, error) {
	out, err := structured.Invoke[Questions](ctx, a.llm, "Questions", structured.Prompt{
		System: followupSystemPrompt,
		Human:  fmt.Sprintf(followupHumanTemplate, context, cq.Condensor),
	}, a.stageOptions(a.cfg.Followup))
	if err != nil {
		return nil, err
	}
	list := make([]schema.FollowupQuestion, 0, len(out.FollowupQuestions))
	for _, f := range out.FollowupQuestions {
		if strings.TrimSpace(f.FollowupQuestion) == "" {
			continue
		}
		list = append(list, schema.FollowupQuestion{Question: f.FollowupQuestion, QuestionToShow: f.FollowupQuestionSummary})
	}
	return list, nil
}
