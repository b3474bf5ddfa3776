package spamrag

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/spamguard/spamrag/assistant"
	"github.com/spamguard/spamrag/config"
	"github.com/spamguard/spamrag/embedding/embeddingtest"
	"github.com/spamguard/spamrag/errdefs"
	"github.com/spamguard/spamrag/predictor"
	"github.com/spamguard/spamrag/schema"
	"github.com/spamguard/spamrag/search"
	"github.com/spamguard/spamrag/search/searchtest"
	"github.com/spamguard/spamrag/store"
)

type stubEnsemble struct {
	last predictor.Input
}

func (s *stubEnsemble) Predict(ctx context.Context, in predictor.Input) (schema.EnsembleResponse, error) {
	s.last = in
	if in.Text == "" && in.Image == "" {
		return nil, errdefs.InvalidInputf("predict", "text or image is required")
	}
	return schema.EnsembleResponse{
		"xgboost":        {ID: "p1", Result: schema.LabelSpam},
		"image_analysis": schema.EmptyPrediction(),
	}, nil
}

func (s *stubEnsemble) PredictOne(ctx context.Context, name string, in predictor.Input) (schema.PredictionResult, error) {
	if name != "xgboost" {
		return schema.PredictionResult{}, errdefs.InvalidInputf("predict", "model %q is not configured", name)
	}
	return schema.PredictionResult{ID: "p2", Result: schema.LabelHam}, nil
}

func (s *stubEnsemble) Has(name string) bool { return name == "xgboost" }

type stubAssistant struct {
	req   assistant.Request
	debug bool
	err   error
}

func (s *stubAssistant) Run(ctx context.Context, req assistant.Request, debug bool) (*assistant.Response, error) {
	s.req, s.debug = req, debug
	if s.err != nil {
		return nil, s.err
	}
	return &assistant.Response{MessageID: "m-1", Response: "respuesta"}, nil
}

func (s *stubAssistant) Stream(ctx context.Context, req assistant.Request) (<-chan assistant.Event, error) {
	return nil, errors.New("not used")
}

type fixture struct {
	svc       Services
	backend   *searchtest.Backend
	ensemble  *stubEnsemble
	assistant *stubAssistant
	records   *store.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := &searchtest.Backend{Hits: []schema.SearchHit{
		searchtest.Hit("k1", 0.9, map[string]any{"id_content": "k1", "title": "Copa 2022", "country": "Brasil"}),
	}}
	sc := search.NewClient(backend, &embeddingtest.Fake{Dim: 4}, config.DefaultIndexes())
	records, err := store.Open(config.StoreConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "records.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = records.Close() })

	f := &fixture{backend: backend, ensemble: &stubEnsemble{}, assistant: &stubAssistant{}, records: records}
	f.svc = Services{
		Ensemble:      f.ensemble,
		Assistant:     f.assistant,
		Search:        sc,
		Records:       records,
		Uploader:      sc,
		TrainingIndex: "messages",
		DefaultIndex:  "knowledge",
	}
	return f
}

func call(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestToolsAreListed(t *testing.T) {
	s := NewMCPServer("spamrag", newFixture(t).svc)
	msg := s.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	names := gjson.GetBytes(raw, "result.tools.#.name").Array()
	got := make([]string, 0, len(names))
	for _, n := range names {
		got = append(got, n.String())
	}
	assert.ElementsMatch(t, []string{"predict", "predict-model", "chat", "search", "add-training-example", "list-evaluations"}, got)

	required := gjson.GetBytes(raw, `result.tools.#(name=="predict-model").inputSchema.required`).Array()
	assert.Len(t, required, 2)
	assert.Contains(t, gjson.GetBytes(raw, `result.tools.#(name=="search").description`).String(), "knowledge")
	assert.Equal(t, "Earlier turns of the conversation, oldest first",
		gjson.GetBytes(raw, `result.tools.#(name=="chat").inputSchema.properties.history.description`).String())
}

func TestToolsRegisteredOnlyForAvailableServices(t *testing.T) {
	s := NewMCPServer("spamrag", Services{Ensemble: &stubEnsemble{}})
	msg := s.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Equal(t, int64(2), gjson.GetBytes(raw, "result.tools.#").Int())
}

func TestPredictTools(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := HandlePredict(f.svc)(ctx, call("predict", map[string]any{"text": "WIN a prize"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	text := resultText(t, res)
	assert.Equal(t, "spam", gjson.Get(text, "xgboost.result").String())
	assert.Equal(t, "{}", gjson.Get(text, "image_analysis").Raw)

	res, err = HandlePredict(f.svc)(ctx, call("predict", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "InvalidInputError: text or image is required", resultText(t, res))

	res, err = HandlePredictModel(f.svc)(ctx, call("predict-model", map[string]any{"model": "xgboost", "text": "see you at 5"}))
	require.NoError(t, err)
	assert.Equal(t, "ham", gjson.Get(resultText(t, res), "result").String())

	res, err = HandlePredictModel(f.svc)(ctx, call("predict-model", map[string]any{"model": "bert", "text": "x"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestChatTool(t *testing.T) {
	f := newFixture(t)
	res, err := HandleChat(f.svc)(context.Background(), call("chat", map[string]any{
		"question":        "¿Y en 2022?",
		"conversation_id": "c-1",
		"history": []any{
			map[string]any{"role": "user", "content": "¿Logros de Brasil?"},
			map[string]any{"role": "assistant", "content": "Varios."},
		},
		"debug": true,
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "respuesta", gjson.Get(resultText(t, res), "response").String())

	require.Len(t, f.assistant.req.History, 3)
	assert.Equal(t, "¿Y en 2022?", f.assistant.req.History.LastQuery())
	assert.Equal(t, "c-1", f.assistant.req.ConversationID)
	assert.True(t, f.assistant.debug)

	f.assistant.err = errdefs.Upstream("synthesis", errors.New("rate limited: key sk-123"))
	res, err = HandleChat(f.svc)(context.Background(), call("chat", map[string]any{"question": "hola"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.NotContains(t, resultText(t, res), "sk-123")
}

func TestSearchTool(t *testing.T) {
	f := newFixture(t)
	res, err := HandleSearch(f.svc)(context.Background(), call("search", map[string]any{
		"query":  "mundial",
		"top_k":  3,
		"filter": map[string]any{"year": "2022", "country": "Brasil"},
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	assert.Equal(t, "k1", gjson.Get(resultText(t, res), "0.id").String())

	calls := f.backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "knowledge-index", calls[0].Index)
	assert.Equal(t, 3, calls[0].K)
	assert.Equal(t, "country eq 'Brasil' and year eq '2022'", calls[0].Filter)

	res, err = HandleSearch(f.svc)(context.Background(), call("search", map[string]any{"query": "x", "filter": map[string]any{"content": "y"}}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = HandleSearch(f.svc)(context.Background(), call("search", map[string]any{"query": "x", "index": "nope"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestAddTrainingExampleAndListEvaluations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := HandleAddTrainingExample(f.svc)(ctx, call("add-training-example", map[string]any{"text": "Claim your reward", "label": "Spam"}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	uploaded := f.backend.Uploaded("spam-messages")
	require.Len(t, uploaded, 1)
	assert.Equal(t, "spam", uploaded[0].Fields["label"])
	assert.Equal(t, gjson.Get(resultText(t, res), "id").String(), uploaded[0].ID)

	res, err = HandleAddTrainingExample(f.svc)(ctx, call("add-training-example", map[string]any{"text": "x", "label": "unsure"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = HandleListEvaluations(f.svc)(ctx, call("list-evaluations", nil))
	require.NoError(t, err)
	assert.Equal(t, "No evaluation records found.", resultText(t, res))

	require.NoError(t, f.records.SaveEvaluations(ctx, []store.EvaluationRecord{
		{RunID: "r1", Kind: store.KindEnsemble, Model: "xgboost", SampleSize: 20, Metrics: map[string]any{"accuracy": 0.9}},
		{RunID: "r1", Kind: store.KindEnsemble, Model: "gpt-4o", SampleSize: 20, Metrics: map[string]any{"accuracy": 0.95}},
	}))
	res, err = HandleListEvaluations(f.svc)(ctx, call("list-evaluations", map[string]any{"kind": "ensemble", "limit": 1}))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Equal(t, int64(1), gjson.Get(text, "#").Int())
	assert.Equal(t, "gpt-4o", gjson.Get(text, "0.model").String())
}
