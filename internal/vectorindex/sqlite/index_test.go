package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/vigil/internal/vectorindex"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := New(filepath.Join(t.TempDir(), "vectors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestIndexUpsertAndQuery(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "calendar_1", []float32{1, 0, 0}, map[string]any{"type": "meeting"}, "meeting: standup"))
	require.NoError(t, idx.Upsert(ctx, "calendar_2", []float32{0, 1, 0}, map[string]any{"type": "meeting"}, "meeting: review"))
	require.NoError(t, idx.Upsert(ctx, "calendar_3", []float32{0.9, 0.1, 0}, nil, "meeting: sync"))

	results, err := idx.Query(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "calendar_1", results[0].ID)
	assert.Equal(t, "calendar_3", results[1].ID)
	assert.InDelta(t, 0, results[0].Distance, 1e-6)
	assert.Equal(t, "meeting", results[0].Metadata["type"])
	assert.Equal(t, "meeting: standup", results[0].Document)
}

func TestIndexUpsertReplaces(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "a", []float32{1, 0}, nil, "first"))
	require.NoError(t, idx.Upsert(ctx, "a", []float32{0, 1}, nil, "second"))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	results, err := idx.Query(ctx, []float32{0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "second", results[0].Document)
}

func TestIndexEmptyQuery(t *testing.T) {
	idx := newTestIndex(t)
	results, err := idx.Query(context.Background(), []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIndexRejectsInvalidInput(t *testing.T) {
	idx := newTestIndex(t)
	err := idx.Upsert(context.Background(), "", []float32{1}, nil, "")
	assert.ErrorIs(t, err, vectorindex.ErrInvalidInput)
}

func TestDBPathFromDSN(t *testing.T) {
	assert.Equal(t, "", dbPathFromDSN(":memory:"))
	assert.Equal(t, "/tmp/x.db", dbPathFromDSN("/tmp/x.db"))
	assert.Equal(t, "/tmp/x.db", dbPathFromDSN("file:/tmp/x.db?_pragma=busy_timeout(5000)"))
	assert.Equal(t, "", dbPathFromDSN("file::memory:"))
}
