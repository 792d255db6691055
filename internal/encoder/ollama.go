package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaConfig configures the Ollama embedding client.
type OllamaConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	Breaker CircuitBreakerConfig
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Ollama calls the /api/embed endpoint of an Ollama server.
type Ollama struct {
	baseURL string
	model   string
	timeout time.Duration
	client  *http.Client
	breaker *CircuitBreaker
}

var _ Encoder = (*Ollama)(nil)

// NewOllama creates a client. Zero values fall back to localhost,
// nomic-embed-text and a 30 second timeout.
func NewOllama(config OllamaConfig) *Ollama {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "nomic-embed-text"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Breaker.MaxFailures == 0 {
		config.Breaker = DefaultCircuitBreakerConfig()
	}
	return &Ollama{
		baseURL: config.BaseURL,
		model:   config.Model,
		timeout: config.Timeout,
		client:  &http.Client{Timeout: config.Timeout},
		breaker: NewCircuitBreaker("ollama-embed", config.Breaker),
	}
}

// Encode returns the embedding for text.
func (o *Ollama) Encode(ctx context.Context, text string) ([]float32, error) {
	result, err := o.breaker.Execute(ctx, func() (interface{}, error) {
		return o.embed(ctx, text)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("ollama circuit breaker open: %w", err)
		}
		return nil, err
	}
	return result.([]float32), nil
}

func (o *Ollama) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	body, err := json.Marshal(embedRequest{Model: o.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(msg))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("ollama: %w", ErrEmptyEmbedding)
	}
	return out.Embeddings[0], nil
}

// Model returns the configured model name.
func (o *Ollama) Model() string { return o.model }

// BreakerState exposes the circuit breaker state for health reporting.
func (o *Ollama) BreakerState() string { return o.breaker.State() }
