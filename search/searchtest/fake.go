// Package searchtest provides a scripted search.Backend for tests.
package searchtest

import (
	"context"
	"sync"

	"github.com/spamguard/spamrag/config"
	"github.com/spamguard/spamrag/schema"
	"github.com/spamguard/spamrag/search"
)

// Call is one recorded backend search.
type Call struct {
	Index  string
	Text   string
	K      int
	Filter string // OData rendering
}

// Backend answers searches with Handler, or with Hits when Handler is nil.
type Backend struct {
	Hits    []schema.SearchHit
	Handler func(index config.IndexConfig, req search.Request) ([]schema.SearchHit, error)

	mu       sync.Mutex
	calls    []Call
	uploaded map[string][]schema.Document
}

func (b *Backend) Name() string { return "fake" }

func (b *Backend) Search(ctx context.Context, index config.IndexConfig, req search.Request) ([]schema.SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.calls = append(b.calls, Call{Index: index.Name, Text: req.Text, K: req.K, Filter: search.RenderOData(req.Filter)})
	b.mu.Unlock()
	if b.Handler != nil {
		return b.Handler(index, req)
	}
	out := make([]schema.SearchHit, len(b.Hits))
	for i, h := range b.Hits {
		out[i] = h.Clone()
	}
	return out, nil
}

func (b *Backend) Upload(ctx context.Context, index config.IndexConfig, docs []schema.Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.uploaded == nil {
		b.uploaded = map[string][]schema.Document{}
	}
	b.uploaded[index.Name] = append(b.uploaded[index.Name], docs...)
	return nil
}

func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

func (b *Backend) Uploaded(index string) []schema.Document {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]schema.Document(nil), b.uploaded[index]...)
}

// Hit is a shorthand constructor.
func Hit(id string, score float64, fields map[string]any) schema.SearchHit {
	return schema.SearchHit{ID: id, Score: score, Fields: fields}
}
