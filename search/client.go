// Package search is the vector-search client: typed filters, per-index schemas,
// hybrid or pure-vector queries, two-pass category refinement and ingestion.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spamguard/spamrag/common/logger"
	"github.com/spamguard/spamrag/config"
	"github.com/spamguard/spamrag/embedding"
	"github.com/spamguard/spamrag/errdefs"
	"github.com/spamguard/spamrag/metrics"
	"github.com/spamguard/spamrag/schema"
)

const defaultTop = 5

// Request is what a backend executes. Text is empty for pure-vector queries;
// Filter is already validated against the index.
type Request struct {
	Text   string
	Vector []float32
	K      int
	Filter Expr
	Select []string
}

// Backend is a concrete search service.
type Backend interface {
	Name() string
	Search(ctx context.Context, index config.IndexConfig, req Request) ([]schema.SearchHit, error)
	Upload(ctx context.Context, index config.IndexConfig, docs []schema.Document) error
}

// Query is a caller-level search.
type Query struct {
	Text   string
	K      int
	Hybrid bool
	Filter Expr
	// Vector skips embedding when already known.
	Vector []float32
}

type Client struct {
	backend  Backend
	embedder embedding.Provider
	indexes  map[string]config.IndexConfig
}

func NewClient(backend Backend, embedder embedding.Provider, indexes map[string]config.IndexConfig) *Client {
	return &Client{backend: backend, embedder: embedder, indexes: indexes}
}

func (c *Client) Index(name string) (config.IndexConfig, error) {
	ic, ok := c.indexes[name]
	if !ok {
		return config.IndexConfig{}, errdefs.InvalidInputf("search", "index %q is not configured", name)
	}
	return ic, nil
}

// Indexes lists the configured index names.
func (c *Client) Indexes() []string {
	out := make([]string, 0, len(c.indexes))
	for k := range c.indexes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func baseFilter(ic config.IndexConfig) Expr {
	if len(ic.BaseFilter) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ic.BaseFilter))
	for k := range ic.BaseFilter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	exprs := make([]Expr, len(keys))
	for i, k := range keys {
		exprs[i] = Equals(k, ic.BaseFilter[k])
	}
	return And(exprs...)
}

// Search runs one query against the named index. The index base filter is
// always applied.
func (c *Client) Search(ctx context.Context, indexName string, q Query) ([]schema.SearchHit, error) {
	ic, err := c.Index(indexName)
	if err != nil {
		return nil, err
	}
	return c.search(ctx, ic, q, And(baseFilter(ic), q.Filter))
}

func (c *Client) search(ctx context.Context, ic config.IndexConfig, q Query, filter Expr) ([]schema.SearchHit, error) {
	if err := Validate(filter, ic.IsFilterable); err != nil {
		return nil, err
	}
	if strings.TrimSpace(q.Text) == "" && q.Vector == nil {
		return nil, errdefs.InvalidInputf("search", "query text is empty")
	}
	vec := q.Vector
	if vec == nil {
		v, err := c.embedder.GetEmbedding(ctx, q.Text)
		if err != nil {
			return nil, errdefs.Upstream("search.embed", err)
		}
		vec = v
	}
	k := q.K
	if k <= 0 {
		k = defaultTop
	}
	req := Request{Vector: vec, K: k, Filter: filter, Select: ic.Select}
	mode := "vector"
	if q.Hybrid {
		req.Text = q.Text
		mode = "hybrid"
	}

	start := time.Now()
	hits, err := c.backend.Search(ctx, ic, req)
	if err != nil {
		logger.Warnf("search: %s query on %s failed: %v", mode, ic.Name, err)
		return nil, errdefs.Upstream("search", err)
	}
	metrics.ObserveSearch(ic.Name, mode, start, len(hits))
	logger.Debugf("search: %s on %s k=%d filter=%q -> %d hits", mode, ic.Name, k, RenderOData(filter), len(hits))
	return hits, nil
}

// RefineByCategories searches once, collects the distinct combinations of the
// index's category fields among the hits, then searches again restricted to
// those combinations.
//
// In hybrid mode the first pass runs without the index base filter, matching
// the behaviour of the deployed classification service.
func (c *Client) RefineByCategories(ctx context.Context, indexName string, q Query) ([]schema.SearchHit, error) {
	ic, err := c.Index(indexName)
	if err != nil {
		return nil, err
	}
	if len(ic.CategoryFields) == 0 {
		return nil, errdefs.Configuration("search.refine", fmt.Errorf("index %q has no category fields", indexName))
	}
	if q.Vector == nil && strings.TrimSpace(q.Text) != "" {
		v, err := c.embedder.GetEmbedding(ctx, q.Text)
		if err != nil {
			return nil, errdefs.Upstream("search.embed", err)
		}
		q.Vector = v
	}

	first := And(baseFilter(ic), q.Filter)
	if q.Hybrid {
		first = q.Filter
	}
	hits, err := c.search(ctx, ic, q, first)
	if err != nil {
		return nil, err
	}
	restrict := categoryFilter(ic.CategoryFields, hits)
	if restrict == nil {
		return hits, nil
	}
	return c.search(ctx, ic, q, And(baseFilter(ic), q.Filter, restrict))
}

// categoryFilter builds OneOf for a single category field, or an Or of Ands for
// composite categories, in first-seen order.
func categoryFilter(fields []string, hits []schema.SearchHit) Expr {
	seen := map[string]bool{}
	var combos [][]string
	for _, h := range hits {
		vals := make([]string, len(fields))
		empty := true
		for i, f := range fields {
			vals[i] = h.String(f)
			if vals[i] != "" {
				empty = false
			}
		}
		if empty {
			continue
		}
		key := strings.Join(vals, "\x1f")
		if !seen[key] {
			seen[key] = true
			combos = append(combos, vals)
		}
	}
	if len(combos) == 0 {
		return nil
	}
	if len(fields) == 1 {
		values := make([]string, len(combos))
		for i, c := range combos {
			values[i] = c[0]
		}
		return OneOf(fields[0], values...)
	}
	alts := make([]Expr, len(combos))
	for i, c := range combos {
		eqs := make([]Expr, len(fields))
		for j, f := range fields {
			eqs[j] = Equals(f, c[j])
		}
		alts[i] = And(eqs...)
	}
	return Or(alts...)
}

// Upload embeds documents lacking a vector from the index's first text field
// and sends them to the backend.
func (c *Client) Upload(ctx context.Context, indexName string, docs []schema.Document) error {
	ic, err := c.Index(indexName)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	if len(ic.TextFields) == 0 {
		return errdefs.Configuration("search.upload", fmt.Errorf("index %q has no text fields", indexName))
	}
	var texts []string
	var pending []int
	for i, d := range docs {
		if d.Vector != nil {
			continue
		}
		text, _ := d.Fields[ic.TextFields[0]].(string)
		if strings.TrimSpace(text) == "" {
			return errdefs.InvalidInputf("search.upload", "document %d has empty %s", i, ic.TextFields[0])
		}
		texts = append(texts, text)
		pending = append(pending, i)
	}
	if len(texts) > 0 {
		vecs, err := c.embedder.GetEmbeddings(ctx, texts)
		if err != nil {
			return errdefs.Upstream("search.embed", err)
		}
		for j, i := range pending {
			docs[i].Vector = vecs[j]
		}
	}
	if err := c.backend.Upload(ctx, ic, docs); err != nil {
		return errdefs.Upstream("search.upload", err)
	}
	logger.Infof("search: uploaded %d documents to %s", len(docs), ic.Name)
	return nil
}
