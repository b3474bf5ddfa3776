package search

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/spamguard/spamrag/common/logger"
	"github.com/spamguard/spamrag/config"
	"github.com/spamguard/spamrag/schema"
)

// MilvusBackend serves the same index schemas from Milvus collections. Milvus
// has no lexical scoring, so hybrid requests run as pure-vector searches.
type MilvusBackend struct {
	client     client.Client
	metricType entity.MetricType
	ef         int
	hybridOnce sync.Once
}

func NewMilvusBackend(ctx context.Context, cfg config.MilvusConfig) (*MilvusBackend, error) {
	port := cfg.Port
	if port == 0 {
		port = 19530
	}
	c, err := client.NewClient(ctx, client.Config{
		Address:  fmt.Sprintf("%s:%d", cfg.Host, port),
		Username: cfg.Username,
		Password: cfg.Password,
		DBName:   cfg.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}
	return newMilvusBackend(c, cfg), nil
}

func newMilvusBackend(c client.Client, cfg config.MilvusConfig) *MilvusBackend {
	mt := entity.MetricType(strings.ToUpper(cfg.MetricType))
	if mt == "" {
		mt = entity.IP
	}
	ef := cfg.Ef
	if ef <= 0 {
		ef = 64
	}
	return &MilvusBackend{client: c, metricType: mt, ef: ef}
}

func (b *MilvusBackend) Name() string { return "milvus" }

func (b *MilvusBackend) Close() error { return b.client.Close() }

func (b *MilvusBackend) Search(ctx context.Context, index config.IndexConfig, req Request) ([]schema.SearchHit, error) {
	if req.Text != "" {
		b.hybridOnce.Do(func() {
			logger.Infof("milvus: hybrid search not supported, running vector-only queries")
		})
	}
	sp, err := entity.NewIndexHNSWSearchParam(b.ef)
	if err != nil {
		return nil, err
	}
	output := req.Select
	if len(output) == 0 {
		output = index.TextFields
	}
	results, err := b.client.Search(ctx, index.Name, nil, RenderMilvus(req.Filter), output,
		[]entity.Vector{entity.FloatVector(req.Vector)}, index.VectorField, b.metricType, req.K, sp)
	if err != nil {
		return nil, err
	}
	var hits []schema.SearchHit
	for _, rs := range results {
		if rs.Err != nil {
			return nil, rs.Err
		}
		for i := 0; i < rs.ResultCount; i++ {
			hit := schema.SearchHit{Fields: make(map[string]any, len(output))}
			if i < len(rs.Scores) {
				hit.Score = float64(rs.Scores[i])
			}
			for _, name := range output {
				col := rs.Fields.GetColumn(name)
				if col == nil {
					continue
				}
				if v, err := col.Get(i); err == nil {
					hit.Fields[name] = v
				}
			}
			if rs.IDs != nil {
				if id, err := rs.IDs.GetAsString(i); err == nil {
					hit.ID = id
				}
			}
			if hit.ID == "" && index.IDField != "" {
				hit.ID = hit.String(index.IDField)
			}
			hits = append(hits, hit)
		}
	}
	return hits, nil
}

// Upload inserts documents as VarChar columns plus the vector column. Every
// document must carry the same field set.
func (b *MilvusBackend) Upload(ctx context.Context, index config.IndexConfig, docs []schema.Document) error {
	if len(docs) == 0 {
		return nil
	}
	names := make([]string, 0, len(docs[0].Fields))
	for k := range docs[0].Fields {
		if k != index.VectorField {
			names = append(names, k)
		}
	}
	cols := make([]entity.Column, 0, len(names)+1)
	for _, name := range names {
		vals := make([]string, len(docs))
		for i, d := range docs {
			v, ok := d.Fields[name]
			if !ok {
				return fmt.Errorf("document %d is missing field %q", i, name)
			}
			vals[i] = fmt.Sprint(v)
		}
		cols = append(cols, entity.NewColumnVarChar(name, vals))
	}
	vectors := make([][]float32, len(docs))
	dim := len(docs[0].Vector)
	for i, d := range docs {
		if len(d.Vector) != dim || dim == 0 {
			return fmt.Errorf("document %d has vector dimension %d, want %d", i, len(d.Vector), dim)
		}
		vectors[i] = d.Vector
	}
	cols = append(cols, entity.NewColumnFloatVector(index.VectorField, dim, vectors))
	// growing segments are searchable without an explicit flush
	_, err := b.client.Insert(ctx, index.Name, "", cols...)
	return err
}
