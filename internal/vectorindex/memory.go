package vectorindex

import (
	"context"
	"fmt"
	"sync"

	"github.com/scrypster/vigil/pkg/types"
)

// Ensure *Memory implements Index at compile time.
var _ Index = (*Memory)(nil)

type memoryEntry struct {
	embedding []float32
	metadata  map[string]any
	document  string
}

// Memory is an in-process exact nearest-neighbour index. The dimension is
// fixed by the first upsert.
type Memory struct {
	mu        sync.RWMutex
	entries   map[string]memoryEntry
	dimension int
}

// NewMemory returns an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry)}
}

// Upsert creates or replaces the entry for id.
func (m *Memory) Upsert(ctx context.Context, id string, embedding []float32, metadata map[string]any, document string) error {
	if err := ValidateUpsert(id, embedding); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dimension == 0 {
		m.dimension = len(embedding)
	} else if len(embedding) != m.dimension {
		return fmt.Errorf("%w: got %d, index has %d", ErrDimensionMismatch, len(embedding), m.dimension)
	}

	m.entries[id] = memoryEntry{
		embedding: append([]float32(nil), embedding...),
		metadata:  types.CloneMap(metadata),
		document:  document,
	}
	return nil
}

// Query ranks every stored entry by cosine distance.
func (m *Memory) Query(ctx context.Context, embedding []float32, k int) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 || len(embedding) == 0 {
		return []Result{}, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.dimension != 0 && len(embedding) != m.dimension {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(embedding), m.dimension)
	}

	results := make([]Result, 0, len(m.entries))
	for id, e := range m.entries {
		results = append(results, Result{
			ID:       id,
			Metadata: types.CloneMap(e.metadata),
			Document: e.document,
			Distance: CosineDistance(embedding, e.embedding),
		})
	}
	return SortResults(results, k), nil
}

// Count returns the number of stored entries.
func (m *Memory) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
