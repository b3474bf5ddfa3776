package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/azure"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/spamguard/spamrag/common/logger"
	"github.com/spamguard/spamrag/config"
	"github.com/spamguard/spamrag/errdefs"
	"github.com/spamguard/spamrag/schema"
)

type OpenAIProvider struct {
	client       openai.Client
	providerType string
	cfg          config.LLMConfig
}

func NewOpenAIProvider(cfg config.LLMConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errdefs.Configurationf("llm api key is required")
	}
	typ := cfg.Provider
	if typ == "" {
		typ = PROVIDER_TYPE_OPENAI
	}
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	switch typ {
	case PROVIDER_TYPE_AZURE:
		if cfg.BaseURL == "" {
			return nil, errdefs.Configurationf("azure llm requires base_url")
		}
		version := cfg.APIVersion
		if version == "" {
			version = "2024-04-01-preview"
		}
		opts = append(opts, azure.WithEndpoint(cfg.BaseURL, version), azure.WithAPIKey(cfg.APIKey))
	default:
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
	}
	return &OpenAIProvider{
		client:       openai.NewClient(opts...),
		providerType: typ,
		cfg:          cfg,
	}, nil
}

func (p *OpenAIProvider) GetProviderType() string { return p.providerType }

func (p *OpenAIProvider) params(req Request) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: toOpenAIMessages(req.Messages),
	}
	switch {
	case req.Temperature != nil:
		params.Temperature = openai.Float(*req.Temperature)
	case p.cfg.Temperature > 0:
		params.Temperature = openai.Float(p.cfg.Temperature)
	}
	switch {
	case req.Seed != nil:
		params.Seed = openai.Int(*req.Seed)
	case p.cfg.Seed != 0:
		params.Seed = openai.Int(p.cfg.Seed)
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.cfg.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}
	if req.Schema != nil {
		js := shared.ResponseFormatJSONSchemaJSONSchemaParam{
			Name:   req.Schema.Name,
			Schema: req.Schema.Definition,
			Strict: openai.Bool(true),
		}
		if req.Schema.Description != "" {
			js.Description = openai.String(req.Schema.Description)
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{JSONSchema: js},
		}
	}
	return params
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case schema.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case schema.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			if m.ImageBase64 == "" {
				out = append(out, openai.UserMessage(m.Content))
				continue
			}
			mime := m.ImageMIME
			if mime == "" {
				mime = "image/png"
			}
			parts := []openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(m.Content),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: fmt.Sprintf("data:%s;base64,%s", mime, m.ImageBase64),
				}),
			}
			out = append(out, openai.UserMessage(parts))
		}
	}
	return out
}

func (p *OpenAIProvider) timeout(req Request) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	return config.Millis(p.cfg.TimeoutMs, 60*time.Second)
}

// Complete runs a blocking chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout(req))
	defer cancel()

	resp, err := p.client.Chat.Completions.New(ctx, p.params(req))
	if err != nil {
		return nil, errdefs.Upstream("llm.complete", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errdefs.Upstream("llm.complete", errors.New("no choices in completion"))
	}
	logger.Debugf("llm: model=%s prompt_tokens=%d completion_tokens=%d", resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return &Response{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// Stream runs a streaming chat completion. The channel is closed after the
// terminal chunk.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, p.timeout(req))
	stream := p.client.Chat.Completions.NewStreaming(ctx, p.params(req))
	if err := stream.Err(); err != nil {
		cancel()
		return nil, errdefs.Upstream("llm.stream", err)
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer cancel()
		defer stream.Close()

		// Deliveries select on the caller's ctx so the terminal chunk survives
		// the request timeout firing.
		send := func(c Chunk) bool {
			select {
			case out <- c:
				return true
			case <-parent.Done():
				return false
			}
		}
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !send(Chunk{Content: chunk.Choices[0].Delta.Content}) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			send(Chunk{Err: errdefs.Upstream("llm.stream", err)})
			return
		}
		if err := ctx.Err(); err != nil {
			send(Chunk{Err: errdefs.Upstream("llm.stream", err)})
			return
		}
		send(Chunk{Done: true})
	}()
	return out, nil
}
