// Package llm wraps the hosted chat-completion service.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/spamguard/spamrag/config"
	"github.com/spamguard/spamrag/errdefs"
)

const (
	PROVIDER_TYPE_OPENAI = "openai"
	PROVIDER_TYPE_AZURE  = "azure"
)

// Message is one chat message. ImageBase64, when set, is sent as an inline
// image part after the text.
type Message struct {
	Role        string
	Content     string
	ImageBase64 string
	ImageMIME   string
}

// Schema asks the model for JSON conforming to Definition.
type Schema struct {
	Name        string
	Description string
	Definition  map[string]any
}

type Request struct {
	Model       string
	Messages    []Message
	Temperature *float64
	Seed        *int64
	MaxTokens   int
	Schema      *Schema
	// Timeout bounds the whole call, stream included.
	Timeout time.Duration
}

type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

type Response struct {
	Content string
	Model   string
	Usage   Usage
}

// Chunk is one streamed delta. The last chunk has Done set or carries Err.
type Chunk struct {
	Content string
	Done    bool
	Err     error
}

// Provider is implemented by every chat backend.
type Provider interface {
	GetProviderType() string
	Complete(ctx context.Context, req Request) (*Response, error)
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}

// NewLLMProvider builds the provider selected in cfg.
func NewLLMProvider(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case PROVIDER_TYPE_OPENAI, PROVIDER_TYPE_AZURE, "":
		return NewOpenAIProvider(cfg)
	default:
		return nil, errdefs.Configuration("llm.provider", fmt.Errorf("unsupported llm provider: %s", cfg.Provider))
	}
}

func Float(v float64) *float64 { return &v }

func Int(v int64) *int64 { return &v }
