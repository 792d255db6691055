package encoder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Langchain adapts a langchaingo embeddings.Embedder.
type Langchain struct {
	model     embeddings.Embedder
	modelName string
}

var _ Encoder = (*Langchain)(nil)

// NewLangchainOllama builds an embedder backed by langchaingo's Ollama client.
func NewLangchainOllama(serverURL, model string) (*Langchain, error) {
	llm, err := ollama.New(
		ollama.WithModel(model),
		ollama.WithServerURL(serverURL),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create ollama embedder: %w", err)
	}
	return &Langchain{model: emb, modelName: model}, nil
}

// NewLangchainOpenAI builds an embedder backed by the OpenAI API.
func NewLangchainOpenAI(apiKey, model string) (*Langchain, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key required")
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	llm, err := openai.New(
		openai.WithToken(apiKey),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create openai embedder: %w", err)
	}
	return &Langchain{model: emb, modelName: model}, nil
}

// Encode embeds text as a single-document batch.
func (l *Langchain) Encode(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vectors, err := l.model.EmbedDocuments(ctx, []string{text})
	if err != nil {
		slog.Warn("embedding failed", "model", l.modelName, "text_len", len(text),
			"duration_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("%s: %w", l.modelName, ErrEmptyEmbedding)
	}
	return vectors[0], nil
}

// Model returns the embedding model name.
func (l *Langchain) Model() string { return l.modelName }
