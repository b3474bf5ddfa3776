package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/spamguard/spamrag/config"
	"github.com/spamguard/spamrag/errdefs"
)

type OpenAIProvider struct {
	client     openai.Client
	model      string
	dimensions int
	timeout    time.Duration
}

func NewOpenAIProvider(cfg config.EmbeddingConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errdefs.Configurationf("embedding api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	return &OpenAIProvider{
		client:     openai.NewClient(opts...),
		model:      model,
		dimensions: cfg.Dimensions,
		timeout:    config.Millis(cfg.TimeoutMs, 30*time.Second),
	}, nil
}

func (p *OpenAIProvider) GetProviderType() string { return PROVIDER_TYPE_OPENAI }

func (p *OpenAIProvider) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)}, 1)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *OpenAIProvider) GetEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return p.embed(ctx, openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts}, len(texts))
}

func (p *OpenAIProvider) embed(ctx context.Context, input openai.EmbeddingNewParamsInputUnion, want int) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(p.model),
		Input: input,
	}
	if p.dimensions > 0 {
		params.Dimensions = openai.Int(int64(p.dimensions))
	}
	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, errdefs.Upstream("embedding", err)
	}
	if len(resp.Data) != want {
		return nil, errdefs.Upstream("embedding", fmt.Errorf("expected %d embeddings, got %d", want, len(resp.Data)))
	}
	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if int(d.Index) >= len(out) {
			return nil, errdefs.Upstream("embedding", fmt.Errorf("embedding index %d out of range", d.Index))
		}
		v := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			v[i] = float32(f)
		}
		out[d.Index] = v
	}
	return out, nil
}
