// Package encoder turns text into embedding vectors for the context store.
//
// Providers: an Ollama HTTP client guarded by a circuit breaker, langchaingo
// embedders for Ollama and OpenAI, and a local feature-hashing encoder that
// needs no model server. Every provider built by New is wrapped in Cached.
package encoder

import (
	"context"
	"errors"
)

var (
	// ErrEmptyEmbedding is returned when a provider answers with no vector.
	ErrEmptyEmbedding = errors.New("empty embedding")

	// ErrUnavailable is returned by Probe when the encoder never answered.
	ErrUnavailable = errors.New("encoder unavailable")
)

// Encoder produces an embedding for a piece of text.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Func adapts a plain function to Encoder. Handy in tests.
type Func func(ctx context.Context, text string) ([]float32, error)

// Encode calls f.
func (f Func) Encode(ctx context.Context, text string) ([]float32, error) { return f(ctx, text) }

// Model reports "func".
func (f Func) Model() string { return "func" }
