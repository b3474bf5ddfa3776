package search_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spamguard/spamrag/config"
	"github.com/spamguard/spamrag/embedding/embeddingtest"
	"github.com/spamguard/spamrag/errdefs"
	"github.com/spamguard/spamrag/schema"
	"github.com/spamguard/spamrag/search"
	"github.com/spamguard/spamrag/search/searchtest"
)

func newClient(b *searchtest.Backend) (*search.Client, *embeddingtest.Fake) {
	emb := &embeddingtest.Fake{}
	return search.NewClient(b, emb, config.DefaultIndexes()), emb
}

func TestSearchAppliesBaseAndCallerFilter(t *testing.T) {
	b := &searchtest.Backend{Hits: []schema.SearchHit{searchtest.Hit("1", 0.9, nil)}}
	c, emb := newClient(b)

	hits, err := c.Search(context.Background(), "classification", search.Query{
		Text: "cobro indebido", K: 3, Hybrid: true, Filter: search.Equals("type", "reclamo"),
	})
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	calls := b.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "classification-index", calls[0].Index)
	assert.Equal(t, "cobro indebido", calls[0].Text)
	assert.Equal(t, 3, calls[0].K)
	assert.Equal(t, "type_dataset eq 'train' and type eq 'reclamo'", calls[0].Filter)
	assert.Equal(t, []string{"cobro indebido"}, emb.Texts())
}

func TestSearchVectorModeOmitsText(t *testing.T) {
	b := &searchtest.Backend{}
	c, _ := newClient(b)
	_, err := c.Search(context.Background(), "messages", search.Query{Text: "win", K: 50})
	require.NoError(t, err)
	assert.Equal(t, "", b.Calls()[0].Text)
}

func TestSearchRejectsBadInput(t *testing.T) {
	c, _ := newClient(&searchtest.Backend{})
	ctx := context.Background()

	_, err := c.Search(ctx, "messages", search.Query{Text: "x", Filter: search.Equals("message", "x")})
	assert.ErrorIs(t, err, errdefs.ErrInvalidInput)

	_, err = c.Search(ctx, "nope", search.Query{Text: "x"})
	assert.ErrorIs(t, err, errdefs.ErrInvalidInput)

	_, err = c.Search(ctx, "messages", search.Query{Text: "  "})
	assert.ErrorIs(t, err, errdefs.ErrInvalidInput)
}

func TestSearchBackendFailureIsUpstream(t *testing.T) {
	b := &searchtest.Backend{Handler: func(config.IndexConfig, search.Request) ([]schema.SearchHit, error) {
		return nil, errors.New("503 service unavailable")
	}}
	c, _ := newClient(b)
	_, err := c.Search(context.Background(), "knowledge", search.Query{Text: "x"})
	assert.ErrorIs(t, err, errdefs.ErrUpstreamService)
}

func TestRefineByCategoriesTwoPasses(t *testing.T) {
	b := &searchtest.Backend{Hits: []schema.SearchHit{
		searchtest.Hit("1", 0.9, map[string]any{"service": "Internet"}),
		searchtest.Hit("2", 0.8, map[string]any{"service": "Telefonia"}),
		searchtest.Hit("3", 0.7, map[string]any{"service": "Internet"}),
	}}
	c, emb := newClient(b)

	_, err := c.RefineByCategories(context.Background(), "classification", search.Query{Text: "sin señal", K: 5})
	require.NoError(t, err)

	calls := b.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "type_dataset eq 'train'", calls[0].Filter)
	assert.Equal(t, "type_dataset eq 'train' and (service eq 'Internet' or service eq 'Telefonia')", calls[1].Filter)
	// the query is embedded once for both passes
	assert.Len(t, emb.Texts(), 1)
}

func TestRefineByCategoriesHybridFirstPassSkipsBaseFilter(t *testing.T) {
	b := &searchtest.Backend{Hits: []schema.SearchHit{
		searchtest.Hit("1", 0.9, map[string]any{"service": "Internet"}),
	}}
	c, _ := newClient(b)

	_, err := c.RefineByCategories(context.Background(), "classification", search.Query{
		Text: "sin señal", K: 5, Hybrid: true, Filter: search.Equals("type", "reclamo"),
	})
	require.NoError(t, err)
	calls := b.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "type eq 'reclamo'", calls[0].Filter)
	assert.Equal(t, "type_dataset eq 'train' and type eq 'reclamo' and service eq 'Internet'", calls[1].Filter)
}

func TestRefineWithoutCategoriesReturnsFirstPass(t *testing.T) {
	b := &searchtest.Backend{}
	c, _ := newClient(b)
	hits, err := c.RefineByCategories(context.Background(), "classification", search.Query{Text: "x"})
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Len(t, b.Calls(), 1)

	_, err = c.RefineByCategories(context.Background(), "messages", search.Query{Text: "x"})
	assert.ErrorIs(t, err, errdefs.ErrConfiguration)
}

func TestUploadEmbedsTrainingDocuments(t *testing.T) {
	b := &searchtest.Backend{}
	c, emb := newClient(b)
	doc := search.NewTrainingDocument("WINNER!! claim your prize", "spam")

	require.NoError(t, c.Upload(context.Background(), "messages", []schema.Document{doc}))
	up := b.Uploaded("spam-messages")
	require.Len(t, up, 1)
	assert.NotEmpty(t, up[0].Vector)
	assert.Equal(t, search.SourceContinuousTraining, up[0].Fields["source"])
	assert.Equal(t, up[0].ID, up[0].Fields["id"])
	assert.Equal(t, []string{"WINNER!! claim your prize"}, emb.Texts())
}
