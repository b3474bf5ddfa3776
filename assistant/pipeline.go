// Package assistant answers domain questions over a search index: condense the
// conversation, expand the query, retrieve concurrently, reduce, then
// synthesize an answer and suggest follow-up questions.
package assistant

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/spamguard/spamrag/common/logger"
	"github.com/spamguard/spamrag/config"
	"github.com/spamguard/spamrag/errdefs"
	"github.com/spamguard/spamrag/llm"
	"github.com/spamguard/spamrag/memory"
	"github.com/spamguard/spamrag/metrics"
	"github.com/spamguard/spamrag/schema"
	"github.com/spamguard/spamrag/search"
)

// Stage names used in metrics and errors.
const (
	StageCondense  = "condense"
	StageExpand    = "multiquery"
	StageRetrieve  = "search"
	StageReduce    = "reduce"
	StageSynthesis = "synthesis"
	StageFollowup  = "followup"
)

// Searcher is the part of the search client the pipeline needs.
type Searcher interface {
	Search(ctx context.Context, index string, q search.Query) ([]schema.SearchHit, error)
	Index(name string) (config.IndexConfig, error)
}

type Assistant struct {
	cfg           config.RAGConfig
	llm           llm.Provider
	search        Searcher
	reducer       *reducer
	memory        memory.Store
	lastN         int
	stageTimeout  time.Duration
	searchTimeout time.Duration
}

type Option func(*Assistant)

// WithMemory enables conversation memory: turns are saved per conversation id
// and single-turn requests get the last n rounds prepended.
func WithMemory(store memory.Store, lastN int) Option {
	return func(a *Assistant) {
		a.memory = store
		a.lastN = lastN
	}
}

func New(cfg config.RAGConfig, provider llm.Provider, searcher Searcher, opts ...Option) (*Assistant, error) {
	ic, err := searcher.Index(cfg.Index)
	if err != nil {
		return nil, errdefs.Configuration("rag.index", err)
	}
	if cfg.MinQueries <= 0 {
		cfg.MinQueries = 3
	}
	if cfg.KTop <= 0 {
		cfg.KTop = 8
	}
	if cfg.CurrentYear <= 0 {
		cfg.CurrentYear = time.Now().Year()
	}
	a := &Assistant{
		cfg:           cfg,
		llm:           provider,
		search:        searcher,
		reducer:       newReducer(ic, cfg),
		stageTimeout:  config.Millis(cfg.StageTimeoutMs, 60*time.Second),
		searchTimeout: config.Millis(cfg.SearchTimeoutMs, 15*time.Second),
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// prepare validates the history and, for single-turn requests on a known
// conversation, prepends the remembered rounds.
func (a *Assistant) prepare(ctx context.Context, req Request) (schema.ChatHistory, error) {
	if err := req.History.Validate(); err != nil {
		var roleErr *schema.UnknownRoleError
		if errors.As(err, &roleErr) {
			return nil, errdefs.UnknownRole("history", err)
		}
		return nil, errdefs.InvalidInput("history", err)
	}
	history := req.History
	if a.memory == nil || req.ConversationID == "" || len(history) > 1 {
		return history, nil
	}
	rounds, err := a.memory.LastRounds(ctx, req.ConversationID, a.lastN)
	if err != nil {
		logger.With("conversation_id", req.ConversationID).Warnf("memory unavailable, continuing without it: %v", err)
		return history, nil
	}
	return append(memory.History(rounds), history...), nil
}

func (a *Assistant) remember(ctx context.Context, req Request, messageID, answer string, ids []string) {
	if a.memory == nil || req.ConversationID == "" {
		return
	}
	err := a.memory.SaveRound(ctx, req.ConversationID, memory.Round{
		Question:  req.History.LastQuery(),
		Answer:    answer,
		MessageID: messageID,
		DocIDs:    ids,
		Timestamp: time.Now(),
	})
	if err != nil {
		logger.With("conversation_id", req.ConversationID).Warnf("failed to save round: %v", err)
	}
}

// prepared is the state shared by the blocking and streaming paths once
// retrieval is done.
type prepared struct {
	messageID string
	start     time.Time
	condensed Condensor
	reduced   reduction
	chain     *metrics.ChainLog
}

func stageErr(stage string, err error) error {
	metrics.IncStageError(stage, string(errdefs.KindOf(err)))
	return err
}

// retrieveContext runs condense, expand, retrieve and reduce.
func (a *Assistant) retrieveContext(ctx context.Context, history schema.ChatHistory, messageID string) (*prepared, error) {
	p := &prepared{messageID: messageID, start: time.Now(), chain: &metrics.ChainLog{MessageID: messageID}}
	log := logger.With("message_id", messageID)

	sw := metrics.StartStage(StageCondense)
	cq, err := a.condense(ctx, history)
	p.chain.TimeCondensor = sw.Stop()
	if err != nil {
		return nil, stageErr(StageCondense, err)
	}
	p.condensed = cq
	p.chain.NodeCondensor = metrics.CondensorNode{Query: cq.Condensor, Language: cq.Language, Topic: cq.Topic}
	log.Debugf("condensed %q -> %q (topic %s)", history.LastQuery(), cq.Condensor, cq.Topic)

	sw = metrics.StartStage(StageExpand)
	queries, err := a.expand(ctx, cq)
	p.chain.TimeMultiquery = sw.Stop()
	if err != nil {
		return nil, stageErr(StageExpand, err)
	}
	for _, q := range queries {
		p.chain.NodeMultiquery.Queries = append(p.chain.NodeMultiquery.Queries, q.asMap())
	}

	sw = metrics.StartStage(StageRetrieve)
	hits, err := a.retrieve(ctx, a.reducer.index, queries)
	p.chain.TimeSearch = sw.Stop()
	if err != nil {
		return nil, stageErr(StageRetrieve, err)
	}

	sw = metrics.StartStage(StageReduce)
	p.reduced = a.reducer.reduce(hits)
	p.chain.TimeReduce = sw.Stop()
	metrics.ObserveDedup(p.reduced.Duplicates)
	p.chain.Retrieval = metrics.RetrievalNode{
		IDContent:  p.reduced.IDs,
		Retrieved:  len(hits),
		Duplicates: p.reduced.Duplicates,
	}
	if p.chain.Retrieval.IDContent == nil {
		p.chain.Retrieval.IDContent = []string{}
	}
	log.Infof("retrieved %d hits for %d queries, %d after reduce", len(hits), len(queries), len(p.reduced.Hits))
	return p, nil
}

// Run answers one turn. With debug set the chain log is returned as metadata.
func (a *Assistant) Run(ctx context.Context, req Request, debug bool) (*Response, error) {
	history, err := a.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	p, err := a.retrieveContext(ctx, history, uuid.NewString())
	if err != nil {
		return nil, err
	}

	var (
		answer    string
		followups []schema.FollowupQuestion
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sw := metrics.StartStage(StageSynthesis)
		out, err := a.synthesize(gctx, p.condensed, p.reduced.Context)
		p.chain.TimeSynthesis = sw.Stop()
		if err != nil {
			return stageErr(StageSynthesis, err)
		}
		answer = out
		return nil
	})
	g.Go(func() error {
		sw := metrics.StartStage(StageFollowup)
		out, err := a.followups(gctx, p.condensed, p.reduced.Context)
		p.chain.TimeFollowup = sw.Stop()
		if err != nil {
			return stageErr(StageFollowup, err)
		}
		followups = out
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p.chain.NodeSynthesis = &metrics.SynthesisNode{Response: answer}
	p.chain.TimeTotal = time.Since(p.start).Seconds()
	p.chain.LogJSON()
	a.remember(ctx, req, p.messageID, answer, p.reduced.IDs)

	resp := &Response{
		MessageID:         p.messageID,
		Response:          answer,
		References:        nonNilRefs(p.reduced.References),
		FollowupQuestions: nonNilFollowups(followups),
	}
	if debug {
		resp.Metadata = p.chain
	}
	return resp, nil
}

func nonNilRefs(r []schema.Reference) []schema.Reference {
	if r == nil {
		return []schema.Reference{}
	}
	return r
}

func nonNilFollowups(f []schema.FollowupQuestion) []schema.FollowupQuestion {
	if f == nil {
		return []schema.FollowupQuestion{}
	}
	return f
}
