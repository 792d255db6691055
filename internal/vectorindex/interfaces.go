// Package vectorindex provides the vector index capability used by the
// context store: embeddings plus metadata, upserted by id and queried by
// k-nearest-neighbour cosine distance.
//
// Backends live in sub-packages (sqlite, postgres, duckdb); the in-process
// Memory index in this package serves tests and the offline demo.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDimensionMismatch indicates an embedding whose length differs from
	// the dimension the index was created with.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Index stores embeddings with metadata and answers nearest-neighbour queries.
type Index interface {
	// Upsert creates or replaces the entry for id.
	Upsert(ctx context.Context, id string, embedding []float32, metadata map[string]any, document string) error

	// Query returns up to k entries ordered by ascending cosine distance.
	// An empty index returns an empty slice and no error.
	Query(ctx context.Context, embedding []float32, k int) ([]Result, error)

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)

	// Close releases any resources held by the index.
	Close() error
}

// Result is a single nearest-neighbour hit.
type Result struct {
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata"`
	Document string         `json:"document"`
	Distance float64        `json:"distance"`
}

// ValidateUpsert applies the input checks shared by every backend.
func ValidateUpsert(id string, embedding []float32) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	if len(embedding) == 0 {
		return fmt.Errorf("%w: embedding vector cannot be empty", ErrInvalidInput)
	}
	return nil
}
