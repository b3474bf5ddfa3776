// Package embeddingtest provides a deterministic embedding.Provider for tests.
package embeddingtest

import (
	"context"
	"hash/fnv"
	"sync"
)

// Fake maps text to a small vector derived from its hash and records calls.
type Fake struct {
	Dim int
	Err error

	mu    sync.Mutex
	texts []string
}

func (f *Fake) GetProviderType() string { return "fake" }

func (f *Fake) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	return vector(text, f.dim()), nil
}

func (f *Fake) GetEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.GetEmbedding(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Texts returns every text embedded so far.
func (f *Fake) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func (f *Fake) dim() int {
	if f.Dim <= 0 {
		return 4
	}
	return f.Dim
}

func vector(text string, dim int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	v := make([]float32, dim)
	for i := range v {
		seed = seed*6364136223846793005 + 1442695040888963407
		v[i] = float32(seed>>40) / float32(1<<24)
	}
	return v
}
