package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spamguard/spamrag/assistant"
	"github.com/spamguard/spamrag/config"
	"github.com/spamguard/spamrag/errdefs"
	"github.com/spamguard/spamrag/predictor"
	"github.com/spamguard/spamrag/schema"
	"github.com/spamguard/spamrag/store"
)

type fakeEnsemble struct {
	resp schema.EnsembleResponse
	err  error
	last predictor.Input
}

func (f *fakeEnsemble) Predict(ctx context.Context, in predictor.Input) (schema.EnsembleResponse, error) {
	f.last = in
	return f.resp, f.err
}

func (f *fakeEnsemble) PredictOne(ctx context.Context, name string, in predictor.Input) (schema.PredictionResult, error) {
	f.last = in
	if f.err != nil {
		return schema.PredictionResult{}, f.err
	}
	return f.resp[name], nil
}

func (f *fakeEnsemble) Has(name string) bool {
	_, ok := f.resp[name]
	return ok
}

type fakeAssistant struct {
	resp   *assistant.Response
	events []assistant.Event
	err    error
	debug  bool
}

func (f *fakeAssistant) Run(ctx context.Context, req assistant.Request, debug bool) (*assistant.Response, error) {
	f.debug = debug
	return f.resp, f.err
}

func (f *fakeAssistant) Stream(ctx context.Context, req assistant.Request) (<-chan assistant.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan assistant.Event, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

type fakeRecords struct {
	mu          sync.Mutex
	evaluations []store.EvaluationRecord
	predictions []*store.PredictionRecord
}

func (f *fakeRecords) ListEvaluations(ctx context.Context, kind string, limit int) ([]store.EvaluationRecord, error) {
	return f.evaluations, nil
}

func (f *fakeRecords) SavePrediction(ctx context.Context, rec *store.PredictionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.predictions = append(f.predictions, rec)
	return nil
}

type fakeUploader struct {
	index string
	docs  []schema.Document
	err   error
}

func (f *fakeUploader) Upload(ctx context.Context, index string, docs []schema.Document) error {
	f.index, f.docs = index, docs
	return f.err
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func spamResponse() schema.EnsembleResponse {
	return schema.EnsembleResponse{
		"xgboost":        {ID: "1", Result: schema.LabelSpam},
		"gpt-4o":         {ID: "2", Result: schema.LabelSpam},
		"gpt-4o-mini":    {ID: "3", Result: schema.LabelSpam},
		"image_analysis": schema.EmptyPrediction(),
	}
}

func TestPredictPersistsInBackground(t *testing.T) {
	ens := &fakeEnsemble{resp: spamResponse()}
	rec := &fakeRecords{}
	s := NewServer(config.ServerConfig{PersistPredictions: true}, Deps{Ensemble: ens, Records: rec})

	w := do(t, s.Router(), http.MethodPost, "/predict", PredictRequest{Text: "WIN a free prize now"})
	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "spam", got["xgboost"]["result"])
	assert.Empty(t, got["image_analysis"])
	assert.Equal(t, "WIN a free prize now", ens.last.Text)

	s.drain(context.Background())
	require.Len(t, rec.predictions, 1)
	assert.Equal(t, "WIN a free prize now", rec.predictions[0].Text)
	assert.False(t, rec.predictions[0].HasImage)
}

func TestPredictErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   int
		marker string
		detail string
	}{
		{"invalid image", errdefs.InvalidInputf("predict", "invalid image encoding"), http.StatusBadRequest, "InvalidInputError", "invalid image encoding"},
		{"upstream", errdefs.Upstream("chat", errors.New("secret upstream body")), http.StatusInternalServerError, "UpstreamServiceError", internalDetail},
		{"plain", errors.New("boom"), http.StatusInternalServerError, "InternalError", internalDetail},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewServer(config.ServerConfig{}, Deps{Ensemble: &fakeEnsemble{err: tc.err}})
			w := do(t, s.Router(), http.MethodPost, "/predict", PredictRequest{Text: "x", Image: "%%%"})
			assert.Equal(t, tc.code, w.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.marker, body.Error)
			assert.Equal(t, tc.detail, body.Detail)
		})
	}
}

func TestPredictModelRoutes(t *testing.T) {
	s := NewServer(config.ServerConfig{}, Deps{Ensemble: &fakeEnsemble{resp: spamResponse()}})
	r := s.Router()

	w := do(t, r, http.MethodPost, "/xgboost/predict", TextInput{Text: "free entry"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id_pred":"1"`)

	w = do(t, r, http.MethodPost, "/generative/gpt-4o-mini", TextInput{Text: "free entry"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id_pred":"3"`)

	w = do(t, r, http.MethodPost, "/generative/bert", TextInput{Text: "free entry"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodPost, "/generative/gpt-4o", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatDebugFlag(t *testing.T) {
	a := &fakeAssistant{resp: &assistant.Response{MessageID: "m-1", Response: "Brasil ganó"}}
	s := NewServer(config.ServerConfig{}, Deps{Assistant: a})
	req := assistant.Request{History: schema.ChatHistory{{Role: schema.RoleUser, Content: "¿Brasil?"}}}

	w := do(t, s.Router(), http.MethodPost, "/chat?debug=true", req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, a.debug)
	assert.Contains(t, w.Body.String(), "Brasil ganó")

	a.err = errdefs.UnknownRole("chat", errors.New(`unknown message role "bot" at turn 0`))
	w = do(t, s.Router(), http.MethodPost, "/chat", req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, a.debug)
}

func TestChatStreamWritesEvents(t *testing.T) {
	a := &fakeAssistant{events: []assistant.Event{
		{Type: assistant.EventDelta, MessageID: "m-1", Delta: "Hola"},
		{Type: assistant.EventDelta, MessageID: "m-1", Delta: " mundo"},
		{Type: assistant.EventEnd, MessageID: "m-1", Response: "Hola mundo"},
	}}
	s := NewServer(config.ServerConfig{}, Deps{Assistant: a})
	req := assistant.Request{History: schema.ChatHistory{{Role: schema.RoleUser, Content: "hola"}}}

	w := do(t, s.Router(), http.MethodPost, "/chat/stream", req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")
	body := w.Body.String()
	assert.Equal(t, 2, bytes.Count([]byte(body), []byte("event:delta")))
	assert.Contains(t, body, "event:end")
	assert.Contains(t, body, `"response":"Hola mundo"`)

	a.err = errdefs.InvalidInputf("chat", "chat history is empty")
	w = do(t, s.Router(), http.MethodPost, "/chat/stream", req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvaluationMetrics(t *testing.T) {
	rec := &fakeRecords{}
	s := NewServer(config.ServerConfig{}, Deps{Records: rec})

	w := do(t, s.Router(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	rec.evaluations = []store.EvaluationRecord{{
		ID: "e1", RunID: "r1", RunTime: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Kind: store.KindEnsemble, Model: "xgboost", SampleSize: 20,
		Metrics: map[string]any{"accuracy": 0.95},
	}}
	w = do(t, s.Router(), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got []store.EvaluationRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, 0.95, got[0].Metrics["accuracy"])
}

func TestContinuousTraining(t *testing.T) {
	up := &fakeUploader{}
	s := NewServer(config.ServerConfig{}, Deps{Uploader: up})

	w := do(t, s.Router(), http.MethodPost, "/continous_training", NewKnowledge{Text: "Claim your prize", Label: "SPAM"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "messages", up.index)
	require.Len(t, up.docs, 1)
	assert.Equal(t, "spam", up.docs[0].Fields["label"])
	assert.Equal(t, "continous_training", up.docs[0].Fields["source"])

	w = do(t, s.Router(), http.MethodPost, "/continous_training", NewKnowledge{Text: "x", Label: "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	up.err = errdefs.Upstream("upload", errors.New("503"))
	w = do(t, s.Router(), http.MethodPost, "/continous_training", NewKnowledge{Text: "x", Label: "ham"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHealthAndPrometheus(t *testing.T) {
	r := NewServer(config.ServerConfig{}, Deps{}).Router()
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/prometheus", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodPost, "/predict", PredictRequest{Text: "x"}).Code)
}
