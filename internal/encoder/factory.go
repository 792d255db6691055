package encoder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/scrypster/vigil/internal/config"
)

// New builds the encoder selected by cfg.Provider, wrapped in Cached when
// cfg.CacheSize is positive.
func New(cfg config.EncoderConfig) (Encoder, error) {
	var enc Encoder
	switch cfg.Provider {
	case "ollama", "":
		enc = NewOllama(OllamaConfig{BaseURL: cfg.OllamaURL, Model: cfg.Model, Timeout: cfg.Timeout})
	case "langchain-ollama":
		lc, err := NewLangchainOllama(cfg.OllamaURL, cfg.Model)
		if err != nil {
			return nil, err
		}
		enc = lc
	case "langchain-openai":
		lc, err := NewLangchainOpenAI(cfg.OpenAIAPIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		enc = lc
	case "hashing":
		enc = NewHashing(cfg.Dimension)
	default:
		return nil, fmt.Errorf("unsupported encoder provider: %q", cfg.Provider)
	}

	if cfg.CacheSize <= 0 {
		return enc, nil
	}
	cached, err := NewCached(enc, cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return cached, nil
}

// Probe encodes a fixed string up to attempts times, sleeping delay between
// tries. It returns the embedding dimension, or ErrUnavailable wrapping the
// last error. Callers treat that as fatal at startup.
func Probe(ctx context.Context, enc Encoder, attempts int, delay time.Duration) (int, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		vec, err := enc.Encode(ctx, "vigil encoder probe")
		if err == nil && len(vec) > 0 {
			return len(vec), nil
		}
		if err == nil {
			err = ErrEmptyEmbedding
		}
		lastErr = err
		slog.Warn("encoder probe failed", "model", enc.Model(), "attempt", i, "of", attempts, "error", err)

		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		case <-time.After(delay):
		}
	}
	return 0, fmt.Errorf("%w: %s after %d attempts: %v", ErrUnavailable, enc.Model(), attempts, lastErr)
}
