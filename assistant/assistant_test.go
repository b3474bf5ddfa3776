package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spamguard/spamrag/config"
	"github.com/spamguard/spamrag/embedding/embeddingtest"
	"github.com/spamguard/spamrag/errdefs"
	"github.com/spamguard/spamrag/llm"
	"github.com/spamguard/spamrag/llm/llmtest"
	"github.com/spamguard/spamrag/memory"
	"github.com/spamguard/spamrag/schema"
	"github.com/spamguard/spamrag/search"
	"github.com/spamguard/spamrag/search/searchtest"
)

const brasil = "¿Cuáles fueron los logros de Brasil en 2022?"

const answer = "Brasil amplió su red de hospitales en 2022."

func knowledgeHit(id string, score float64, country, year, link string) schema.SearchHit {
	return searchtest.Hit(id, score, map[string]any{
		"id_content": id,
		"title":      "Informe " + country,
		"content":    "Logros de " + country + " en " + year,
		"link":       link,
		"country":    country,
		"year":       year,
	})
}

type harness struct {
	llm     *llmtest.Fake
	backend *searchtest.Backend
	client  *search.Client
}

func newHarness() *harness {
	fake := llmtest.New(map[string]string{
		"Condensor": `{"language":"Spanish","condensor":"` + brasil + `","topic":"deportes"}`,
		"Queries": `{"queries":[
			{"query":"` + brasil + `","country":"Brasil","region":"Null","year":"2022"},
			{"query":"Logros de Brasil","country":"Brasil","region":"","year":"null"}
		]}`,
		"Questions": `{"followup_questions":[
			{"followup_question":"¿Qué logros tuvo Brasil en 2021?","followup_question_summary":"Brasil 2021"},
			{"followup_question":"¿Cómo se compara con Argentina?","followup_question_summary":"vs Argentina"}
		]}`,
		"": answer,
	})
	backend := &searchtest.Backend{
		Handler: func(ic config.IndexConfig, req search.Request) ([]schema.SearchHit, error) {
			return []schema.SearchHit{
				knowledgeHit("doc-1", 0.6, "Brasil", "2022", "https://example.org/br-2022"),
				knowledgeHit("doc-2", 0.5, "Brasil", "2021", ""),
			}, nil
		},
	}
	return &harness{
		llm:     fake,
		backend: backend,
		client:  search.NewClient(backend, &embeddingtest.Fake{}, config.DefaultIndexes()),
	}
}

func (h *harness) assistant(t *testing.T, opts ...Option) *Assistant {
	t.Helper()
	a, err := New(config.Default().RAG, h.llm, h.client, opts...)
	require.NoError(t, err)
	return a
}

func userTurn(content string) Request {
	return Request{History: schema.ChatHistory{{Role: schema.RoleUser, Content: content}}}
}

func TestRunBrasilScenario(t *testing.T) {
	h := newHarness()
	resp, err := h.assistant(t).Run(context.Background(), userTurn(brasil), true)
	require.NoError(t, err)

	assert.NotEmpty(t, resp.MessageID)
	assert.Equal(t, answer, resp.Response)
	assert.Equal(t, []schema.Reference{{Link: "https://example.org/br-2022", NameToShow: "Brasil_2022"}}, resp.References)
	require.Len(t, resp.FollowupQuestions, 2)
	assert.Equal(t, "Brasil 2021", resp.FollowupQuestions[0].QuestionToShow)

	chain := resp.Metadata
	require.NotNil(t, chain)
	assert.Equal(t, brasil, chain.NodeCondensor.Query)
	assert.Equal(t, TopicNull, chain.NodeCondensor.Topic)
	require.Len(t, chain.NodeMultiquery.Queries, 3)
	for _, q := range chain.NodeMultiquery.Queries {
		assert.Equal(t, TopicNull, q["domain"])
	}
	first := chain.NodeMultiquery.Queries[0]
	assert.Equal(t, "Brasil", first["country"])
	assert.Equal(t, "2022", first["year"])
	assert.Equal(t, NullEntity, chain.NodeMultiquery.Queries[1]["year"])
	assert.Equal(t, []string{"doc-1", "doc-2"}, chain.Retrieval.IDContent)
	assert.Equal(t, 6, chain.Retrieval.Retrieved)
	assert.Equal(t, 4, chain.Retrieval.Duplicates)
	require.NotNil(t, chain.NodeSynthesis)
	assert.Equal(t, answer, chain.NodeSynthesis.Response)

	calls := h.backend.Calls()
	require.Len(t, calls, 3)
	filters := map[string]bool{}
	for _, c := range calls {
		assert.Equal(t, "knowledge-index", c.Index)
		assert.Equal(t, 8, c.K)
		filters[c.Filter] = true
	}
	assert.True(t, filters["country eq 'Brasil' and year eq '2022'"])
	assert.True(t, filters["country eq 'Brasil'"])
	assert.True(t, filters[""])

	expand := h.llm.RequestsFor("Queries")
	require.Len(t, expand, 1)
	assert.Contains(t, expand[0].Messages[0].Content, "The current year is 2024")
	assert.Equal(t, brasil, expand[0].Messages[1].Content)

	synth := h.llm.RequestsFor("")
	require.Len(t, synth, 1)
	assert.Equal(t, "gpt-4o", synth[0].Model)
	assert.Contains(t, synth[0].Messages[1].Content, "user_question: "+brasil)
	assert.Contains(t, synth[0].Messages[1].Content, "Please respond in this language: Spanish")
	assert.Contains(t, synth[0].Messages[1].Content, "country: Brasil")

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"node_multyquery"`)
	assert.Contains(t, string(raw), `"time_condensor"`)
}

func TestRunWithoutDebugOmitsMetadata(t *testing.T) {
	h := newHarness()
	resp, err := h.assistant(t).Run(context.Background(), userTurn(brasil), false)
	require.NoError(t, err)
	assert.Nil(t, resp.Metadata)
}

func TestExpandPadsToMinQueries(t *testing.T) {
	h := newHarness()
	h.llm.Responses["Queries"] = `{"queries":[{"query":"  ","country":"Null","region":"Null","year":"Null"}]}`
	a := h.assistant(t)

	queries, err := a.expand(context.Background(), Condensor{Condensor: "seguros de autos", Topic: TopicAutos})
	require.NoError(t, err)
	require.Len(t, queries, 3)
	for _, q := range queries {
		assert.Equal(t, "seguros de autos", q.Query)
		assert.Equal(t, TopicAutos, q.Domain)
	}
}

func TestEntityFilter(t *testing.T) {
	ic := config.DefaultIndexes()["knowledge"]
	f := entityFilter(ic, ExpandedQuery{Country: "Chile", Region: NullEntity, Year: "2020, 2021"})
	assert.Equal(t, "country eq 'Chile' and (year eq '2020' or year eq '2021')", search.RenderOData(f))

	assert.Nil(t, entityFilter(ic, ExpandedQuery{Country: NullEntity, Region: NullEntity, Year: NullEntity}))

	// the messages index cannot filter on country
	assert.Nil(t, entityFilter(config.DefaultIndexes()["messages"], ExpandedQuery{Country: "Chile", Region: NullEntity, Year: NullEntity}))
}

func TestCondenseUsesHistory(t *testing.T) {
	h := newHarness()
	history := schema.ChatHistory{
		{Role: schema.RoleUser, Content: brasil},
		{Role: schema.RoleAssistant, Content: answer},
		{Role: schema.RoleUser, Content: "¿Y en 2023?"},
	}
	_, err := h.assistant(t).Run(context.Background(), Request{History: history}, false)
	require.NoError(t, err)

	reqs := h.llm.RequestsFor("Condensor")
	require.Len(t, reqs, 1)
	msgs := reqs[0].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, schema.RoleAssistant, msgs[2].Role)
	assert.Equal(t, "last user question: ¿Y en 2023?", msgs[3].Content)
}

func TestMemoryPrependsRememberedRounds(t *testing.T) {
	h := newHarness()
	store := memory.NewInMemoryStore(5)
	a := h.assistant(t, WithMemory(store, 5))
	ctx := context.Background()

	first := userTurn(brasil)
	first.ConversationID = "conv-1"
	_, err := a.Run(ctx, first, false)
	require.NoError(t, err)

	second := userTurn("¿Y en 2023?")
	second.ConversationID = "conv-1"
	_, err = a.Run(ctx, second, false)
	require.NoError(t, err)

	reqs := h.llm.RequestsFor("Condensor")
	require.Len(t, reqs, 2)
	msgs := reqs[1].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, brasil, msgs[1].Content)
	assert.Equal(t, answer, msgs[2].Content)

	rounds, err := store.LastRounds(ctx, "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	assert.Equal(t, []string{"doc-1", "doc-2"}, rounds[0].DocIDs)
}

func TestRunRejectsBadHistoryBeforeAnyCall(t *testing.T) {
	h := newHarness()
	a := h.assistant(t)

	_, err := a.Run(context.Background(), Request{History: schema.ChatHistory{{Role: "tool", Content: "x"}, {Role: schema.RoleUser, Content: "hola"}}}, false)
	assert.True(t, errors.Is(err, errdefs.ErrUnknownRole))

	_, err = a.Run(context.Background(), Request{History: schema.ChatHistory{{Role: schema.RoleAssistant, Content: "hola"}}}, false)
	assert.True(t, errors.Is(err, errdefs.ErrInvalidInput))

	_, err = a.Run(context.Background(), Request{}, false)
	assert.True(t, errors.Is(err, errdefs.ErrInvalidInput))

	assert.Empty(t, h.llm.Requests())
}

func TestStageFailuresAbortTheTurn(t *testing.T) {
	t.Run("condense parse", func(t *testing.T) {
		h := newHarness()
		h.llm.Responses["Condensor"] = `not json`
		_, err := h.assistant(t).Run(context.Background(), userTurn(brasil), false)
		assert.True(t, errors.Is(err, errdefs.ErrStructuredOutputParse))
		assert.Empty(t, h.backend.Calls())
	})
	t.Run("search", func(t *testing.T) {
		h := newHarness()
		h.backend.Handler = func(ic config.IndexConfig, req search.Request) ([]schema.SearchHit, error) {
			if strings.Contains(search.RenderOData(req.Filter), "2022") {
				return nil, errors.New("503 service unavailable")
			}
			return nil, nil
		}
		_, err := h.assistant(t).Run(context.Background(), userTurn(brasil), false)
		assert.True(t, errors.Is(err, errdefs.ErrUpstreamService))
		assert.Empty(t, h.llm.RequestsFor(""))
	})
	t.Run("followups", func(t *testing.T) {
		h := newHarness()
		delete(h.llm.Responses, "Questions")
		_, err := h.assistant(t).Run(context.Background(), userTurn(brasil), false)
		assert.True(t, errors.Is(err, errdefs.ErrUpstreamService))
	})
}

func TestNewRejectsUnknownIndex(t *testing.T) {
	h := newHarness()
	cfg := config.Default().RAG
	cfg.Index = "missing"
	_, err := New(cfg, h.llm, h.client)
	assert.True(t, errors.Is(err, errdefs.ErrConfiguration))
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestStreamEmitsDeltasThenEnd(t *testing.T) {
	h := newHarness()
	ch, err := h.assistant(t).Stream(context.Background(), userTurn(brasil))
	require.NoError(t, err)
	events := collect(t, ch)
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	assert.Equal(t, EventEnd, last.Type)
	assert.Equal(t, answer, last.Response)
	assert.Len(t, last.References, 1)
	require.NotNil(t, last.ChainLogs.NodeSynthesis)
	assert.Equal(t, answer, last.ChainLogs.NodeSynthesis.Response)

	var text strings.Builder
	id := events[0].MessageID
	assert.NotEmpty(t, id)
	for _, ev := range events[:len(events)-1] {
		assert.Equal(t, EventDelta, ev.Type)
		assert.Equal(t, id, ev.MessageID)
		assert.Len(t, ev.FollowupQuestions, 2)
		require.NotNil(t, ev.ChainLogs)
		assert.Equal(t, brasil, ev.ChainLogs.NodeCondensor.Query)
		text.WriteString(ev.Delta)
	}
	assert.Equal(t, answer, text.String())
}

func TestStreamErrorEvent(t *testing.T) {
	h := newHarness()
	h.llm.StreamErr = errdefs.Upstream("llm.stream", errors.New("connection reset"))
	ch, err := h.assistant(t).Stream(context.Background(), userTurn(brasil))
	require.NoError(t, err)
	events := collect(t, ch)
	last := events[len(events)-1]
	assert.Equal(t, EventError, last.Type)
	assert.Equal(t, "UpstreamServiceError", last.Error)
}

func TestStreamWithoutTerminalChunkFails(t *testing.T) {
	h := newHarness()
	h.llm.StreamTruncated = true
	store := memory.NewInMemoryStore(5)
	req := userTurn(brasil)
	req.ConversationID = "conv-cut"

	ch, err := h.assistant(t, WithMemory(store, 5)).Stream(context.Background(), req)
	require.NoError(t, err)
	events := collect(t, ch)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventError, last.Type)
	assert.Equal(t, "UpstreamServiceError", last.Error)
	assert.Empty(t, last.Response)
	assert.Nil(t, last.ChainLogs.NodeSynthesis)

	rounds, err := store.LastRounds(context.Background(), "conv-cut", 0)
	require.NoError(t, err)
	assert.Empty(t, rounds)
}

func TestStreamReturnsEarlyErrors(t *testing.T) {
	h := newHarness()
	h.llm.Handler = func(req llm.Request) (string, error) {
		return "", errors.New("401 unauthorized")
	}
	_, err := h.assistant(t).Stream(context.Background(), userTurn(brasil))
	assert.True(t, errors.Is(err, errdefs.ErrUpstreamService))
}
