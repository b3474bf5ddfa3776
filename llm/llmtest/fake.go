// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/spamguard/spamrag/llm"
)

// Fake answers by schema name; free-text calls use the "" key. Handler, when
// set, takes precedence.
type Fake struct {
	mu        sync.Mutex
	Responses map[string]string
	Handler   func(req llm.Request) (string, error)
	// StreamErr is sent as the terminal chunk of Stream when set.
	StreamErr error
	// StreamTruncated closes the Stream channel without a terminal chunk.
	StreamTruncated bool
	requests  []llm.Request
}

func New(responses map[string]string) *Fake {
	return &Fake{Responses: responses}
}

func (f *Fake) GetProviderType() string { return "fake" }

func (f *Fake) answer(req llm.Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.Handler != nil {
		return f.Handler(req)
	}
	key := ""
	if req.Schema != nil {
		key = req.Schema.Name
	}
	out, ok := f.Responses[key]
	if !ok {
		return "", fmt.Errorf("llmtest: no response scripted for %q", key)
	}
	return out, nil
}

func (f *Fake) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := f.answer(req)
	if err != nil {
		return nil, err
	}
	return &llm.Response{Content: out, Model: req.Model}, nil
}

// Stream splits the scripted answer on spaces, one chunk per word.
func (f *Fake) Stream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	out, err := f.answer(req)
	if err != nil {
		return nil, err
	}
	words := strings.SplitAfter(out, " ")
	ch := make(chan llm.Chunk, len(words)+1)
	for _, w := range words {
		if w != "" {
			ch <- llm.Chunk{Content: w}
		}
	}
	switch {
	case f.StreamTruncated:
	case f.StreamErr != nil:
		ch <- llm.Chunk{Err: f.StreamErr}
	default:
		ch <- llm.Chunk{Done: true}
	}
	close(ch)
	return ch, nil
}

// Requests returns a copy of every request seen so far.
func (f *Fake) Requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.requests...)
}

// RequestsFor filters Requests by schema name.
func (f *Fake) RequestsFor(name string) []llm.Request {
	var out []llm.Request
	for _, r := range f.Requests() {
		if (r.Schema == nil && name == "") || (r.Schema != nil && r.Schema.Name == name) {
			out = append(out, r)
		}
	}
	return out
}
