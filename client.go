// Package spamrag wires the spam ensemble and the assistant from configuration
// and exposes them as MCP tools.
package spamrag

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/spamguard/spamrag/api"
	"github.com/spamguard/spamrag/assistant"
	"github.com/spamguard/spamrag/common/httpx"
	"github.com/spamguard/spamrag/common/logger"
	"github.com/spamguard/spamrag/config"
	"github.com/spamguard/spamrag/embedding"
	"github.com/spamguard/spamrag/errdefs"
	"github.com/spamguard/spamrag/evaluation"
	"github.com/spamguard/spamrag/llm"
	"github.com/spamguard/spamrag/memory"
	"github.com/spamguard/spamrag/predictor"
	"github.com/spamguard/spamrag/search"
	"github.com/spamguard/spamrag/store"
)

// Client owns every provider built from one configuration.
type Client struct {
	config    *config.Config
	embedder  embedding.Provider
	llm       llm.Provider
	search    *search.Client
	ensemble  *predictor.Ensemble
	assistant *assistant.Assistant
	memory    memory.Store
	records   *store.Store
	closers   []io.Closer
}

// NewClient builds the providers in dependency order. The record store is
// optional; every other component is required.
func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	c := &Client{config: cfg}
	built := false
	defer func() {
		if !built {
			_ = c.Close()
		}
	}()

	embedder, err := embedding.NewEmbeddingProvider(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("create embedding provider failed, err: %w", err)
	}
	if cfg.Cache.Capacity > 0 {
		embedder = embedding.NewCached(embedder, cfg.Cache.Capacity, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	}
	c.embedder = embedder

	if c.llm, err = llm.NewLLMProvider(cfg.LLM); err != nil {
		return nil, fmt.Errorf("create llm provider failed, err: %w", err)
	}

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create search backend failed, err: %w", err)
	}
	if cl, ok := backend.(io.Closer); ok {
		c.closers = append(c.closers, cl)
	}
	c.search = search.NewClient(backend, c.embedder, cfg.Search.Indexes)

	if c.memory, err = memory.NewStore(cfg.Memory); err != nil {
		return nil, fmt.Errorf("create memory store failed, err: %w", err)
	}
	if cl, ok := c.memory.(io.Closer); ok {
		c.closers = append(c.closers, cl)
	}

	if cfg.Store.Driver != "" {
		if c.records, err = store.Open(cfg.Store); err != nil {
			return nil, fmt.Errorf("open record store failed, err: %w", err)
		}
		c.closers = append(c.closers, c.records)
	}

	if c.ensemble, err = predictor.Build(cfg.Ensemble, predictor.Deps{LLM: c.llm, Search: c.search, Embedder: c.embedder}); err != nil {
		return nil, fmt.Errorf("create ensemble failed, err: %w", err)
	}
	if c.assistant, err = assistant.New(cfg.RAG, c.llm, c.search, assistant.WithMemory(c.memory, cfg.Memory.LastNRounds)); err != nil {
		return nil, fmt.Errorf("create assistant failed, err: %w", err)
	}

	logger.Infof("spamrag client ready: llm=%s embedding=%s search=%s memory=%s store=%s",
		c.llm.GetProviderType(), c.embedder.GetProviderType(), backend.Name(), cfg.Memory.Store, cfg.Store.Driver)
	built = true
	return c, nil
}

func newBackend(ctx context.Context, cfg *config.Config) (search.Backend, error) {
	switch cfg.Search.Provider {
	case "", "azure":
		return search.NewAzureBackend(cfg.Search, httpx.NewFromConfig(&cfg.HTTP)), nil
	case "milvus":
		return search.NewMilvusBackend(ctx, cfg.Search.Milvus)
	default:
		return nil, errdefs.Configurationf("unsupported search provider %q", cfg.Search.Provider)
	}
}

// Services returns the collaborators shared by the HTTP and MCP boundaries.
func (c *Client) Services() Services {
	s := Services{
		Ensemble:      c.ensemble,
		Assistant:     c.assistant,
		Search:        c.search,
		Uploader:      c.search,
		TrainingIndex: trainingIndex(c.config),
		DefaultIndex:  c.config.RAG.Index,
	}
	// a nil *store.Store must not become a non-nil interface
	if c.records != nil {
		s.Records = c.records
	}
	return s
}

// HTTPServer builds the REST boundary.
func (c *Client) HTTPServer() *api.Server {
	s := c.Services()
	return api.NewServer(c.config.Server, api.Deps{
		Ensemble:      s.Ensemble,
		Assistant:     s.Assistant,
		Records:       s.Records,
		Uploader:      s.Uploader,
		TrainingIndex: s.TrainingIndex,
	})
}

// Evaluator builds the offline evaluation driver backed by the record store.
func (c *Client) Evaluator() *evaluation.Evaluator {
	if c.records == nil {
		return evaluation.New(c.config.Evaluation, nil)
	}
	return evaluation.New(c.config.Evaluation, c.records)
}

func (c *Client) Ensemble() *predictor.Ensemble { return c.ensemble }

func (c *Client) Assistant() *assistant.Assistant { return c.assistant }

// trainingIndex is the index the classifiers draw examples from.
func trainingIndex(cfg *config.Config) string {
	for _, mc := range cfg.Ensemble.Classifiers {
		if mc.Index != "" {
			return mc.Index
		}
	}
	return "messages"
}

func (c *Client) Close() error {
	var merr *multierror.Error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	c.closers = nil
	return merr.ErrorOrNil()
}
