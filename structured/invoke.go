// Package structured renders prompt templates, calls a chat model with a JSON
// schema response format and decodes the reply into a typed value.
package structured

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spamguard/spamrag/errdefs"
	"github.com/spamguard/spamrag/llm"
	"github.com/spamguard/spamrag/schema"
)

// DefaultSeed keeps sampling repeatable across calls.
const DefaultSeed int64 = 42

// Example is one few-shot pair: the user input and the structured output the
// model is expected to produce for it.
type Example struct {
	Input  string
	Output any
}

type Prompt struct {
	System   string
	Examples []Example
	History  schema.ChatHistory
	Human    string
	// ImageBase64 is attached to the human turn.
	ImageBase64 string
	ImageMIME   string
}

type Options struct {
	Model       string
	Temperature *float64
	Seed        int64
	Timeout     time.Duration
}

// Validator is implemented by outputs that check their own invariants after
// decoding.
type Validator interface {
	Validate() error
}

// Assemble renders p into chat messages: system, each example as a
// user/assistant pair, the history, then the human turn.
func Assemble(p Prompt) ([]llm.Message, error) {
	msgs := make([]llm.Message, 0, 2+2*len(p.Examples)+len(p.History))
	if p.System != "" {
		msgs = append(msgs, llm.Message{Role: schema.RoleSystem, Content: p.System})
	}
	for i, ex := range p.Examples {
		out, err := json.Marshal(ex.Output)
		if err != nil {
			return nil, fmt.Errorf("example %d: %w", i, err)
		}
		msgs = append(msgs,
			llm.Message{Role: schema.RoleUser, Content: ex.Input},
			llm.Message{Role: schema.RoleAssistant, Content: string(out)},
		)
	}
	for i, t := range p.History {
		switch t.Role {
		case schema.RoleUser, schema.RoleAssistant, schema.RoleSystem:
		default:
			return nil, errdefs.UnknownRole("assemble", &schema.UnknownRoleError{Index: i, Role: t.Role})
		}
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Content})
	}
	msgs = append(msgs, llm.Message{Role: schema.RoleUser, Content: p.Human, ImageBase64: p.ImageBase64, ImageMIME: p.ImageMIME})
	return msgs, nil
}

// Invoke asks the model for a T. Empty or undecodable replies are
// StructuredOutputParseError and are not retried.
func Invoke[T any](ctx context.Context, provider llm.Provider, name string, p Prompt, opts Options) (T, error) {
	var out T
	msgs, err := Assemble(p)
	if err != nil {
		return out, err
	}
	seed := opts.Seed
	if seed == 0 {
		seed = DefaultSeed
	}
	resp, err := provider.Complete(ctx, llm.Request{
		Model:       opts.Model,
		Messages:    msgs,
		Temperature: opts.Temperature,
		Seed:        llm.Int(seed),
		Timeout:     opts.Timeout,
		Schema:      &llm.Schema{Name: name, Definition: GenerateSchema[T]()},
	})
	if err != nil {
		return out, errdefs.Upstream(name, err)
	}
	return Decode[T](name, resp.Content)
}

// Decode parses a structured reply.
func Decode[T any](name, content string) (T, error) {
	var out T
	content = strings.TrimSpace(content)
	if content == "" {
		return out, errdefs.StructuredOutputParse(name, errors.New("empty model output"))
	}
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return out, errdefs.StructuredOutputParse(name, err)
	}
	if v, ok := any(&out).(Validator); ok {
		if err := v.Validate(); err != nil {
			return out, errdefs.StructuredOutputParse(name, err)
		}
	}
	return out, nil
}
