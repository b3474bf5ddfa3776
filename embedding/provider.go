// Package embedding turns text into vectors for the search service.
package embedding

import (
	"context"
	"fmt"

	"github.com/spamguard/spamrag/config"
	"github.com/spamguard/spamrag/errdefs"
)

const PROVIDER_TYPE_OPENAI = "openai"

type Provider interface {
	GetProviderType() string
	GetEmbedding(ctx context.Context, text string) ([]float32, error)
	GetEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

func NewEmbeddingProvider(cfg config.EmbeddingConfig) (Provider, error) {
	switch cfg.Provider {
	case PROVIDER_TYPE_OPENAI, "":
		return NewOpenAIProvider(cfg)
	default:
		return nil, errdefs.Configuration("embedding.provider", fmt.Errorf("unsupported embedding provider: %s", cfg.Provider))
	}
}
