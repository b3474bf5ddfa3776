package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spamguard/spamrag/common/httpx"
	"github.com/spamguard/spamrag/config"
	"github.com/spamguard/spamrag/schema"
)

func newAzure(t *testing.T, h http.HandlerFunc) *AzureBackend {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewAzureBackend(config.SearchConfig{Endpoint: srv.URL + "/", APIKey: "secret"},
		httpx.New(httpx.Options{Timeout: time.Second, MaxConsecutiveFail: 5, CircuitOpen: time.Second}))
}

func TestAzureSearchRequestAndParsing(t *testing.T) {
	b := newAzure(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/indexes/knowledge-index/docs/search", r.URL.Path)
		assert.Equal(t, "2023-11-01", r.URL.Query().Get("api-version"))
		assert.Equal(t, "secret", r.Header.Get("api-key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "logros Brasil", body["search"])
		assert.Equal(t, "country eq 'Brasil'", body["filter"])
		assert.Equal(t, "id_content,link", body["select"])
		vq := body["vectorQueries"].([]any)[0].(map[string]any)
		assert.Equal(t, "vector", vq["kind"])
		assert.Equal(t, "content_vector", vq["fields"])
		assert.EqualValues(t, 8, vq["k"])

		fmt.Fprint(w, `{"value":[
			{"@search.score":0.81,"@search.rerankerScore":null,"id_content":"k1","link":"https://x/1","year":2022},
			{"@search.score":0.42,"id_content":"k2","link":""}]}`)
	})

	hits, err := b.Search(context.Background(), config.IndexConfig{
		Name: "knowledge-index", IDField: "id_content", VectorField: "content_vector",
	}, Request{Text: "logros Brasil", Vector: []float32{0.1, 0.2}, K: 8, Filter: Equals("country", "Brasil"), Select: []string{"id_content", "link"}})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "k1", hits[0].ID)
	assert.InDelta(t, 0.81, hits[0].Score, 1e-9)
	assert.Equal(t, "2022", hits[0].String("year"))
	assert.NotContains(t, hits[0].Fields, "@search.rerankerScore")
}

func TestAzureSearchErrorStatus(t *testing.T) {
	b := newAzure(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":"","message":"Invalid expression"}}`)
	})
	_, err := b.Search(context.Background(), config.IndexConfig{Name: "i", VectorField: "v"}, Request{Vector: []float32{1}, K: 1})
	var se *httpx.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	assert.Equal(t, "Invalid expression", se.Body)
}

func TestAzureUploadReportsRejectedKeys(t *testing.T) {
	var got map[string]any
	b := newAzure(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/indexes/spam-messages/docs/index", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(207)
		fmt.Fprint(w, `{"value":[{"key":"a","status":true},{"key":"b","status":false,"errorMessage":"bad"}]}`)
	})
	ic := config.IndexConfig{Name: "spam-messages", IDField: "id", VectorField: "main_vector"}
	err := b.Upload(context.Background(), ic, []schema.Document{
		{ID: "a", Fields: map[string]any{"message": "hi"}, Vector: []float32{1}},
		{ID: "b", Fields: map[string]any{"message": "yo"}, Vector: []float32{2}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b")

	docs := got["value"].([]any)
	first := docs[0].(map[string]any)
	assert.Equal(t, "upload", first["@search.action"])
	assert.Equal(t, "a", first["id"])
	assert.Equal(t, []any{1.0}, first["main_vector"])
}
