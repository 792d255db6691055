package contextstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/vigil/internal/encoder"
	"github.com/scrypster/vigil/internal/vectorindex"
	"github.com/scrypster/vigil/pkg/types"
)

var fixedNow = time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(encoder.NewHashing(128), vectorindex.NewMemory(), opts...)
}

func mockRecord(id, title string) RawRecord {
	return RawRecord{
		"id":         id,
		"title":      title,
		"start_time": "2025-03-10T14:00:00Z",
		"end_time":   "2025-03-10T15:00:00Z",
	}
}

// flakyIndex fails the first failures upserts for ids in failFor.
type flakyIndex struct {
	*vectorindex.Memory
	failFor  map[string]int
	attempts map[string]int
}

func (f *flakyIndex) Upsert(ctx context.Context, id string, vec []float32, meta map[string]any, doc string) error {
	f.attempts[id]++
	if f.attempts[id] <= f.failFor[id] {
		return errors.New("disk full")
	}
	return f.Memory.Upsert(ctx, id, vec, meta, doc)
}

func TestIngest_UpsertIsIdempotentByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Ingest(ctx, TagMock, []RawRecord{mockRecord("1", "First title")})
	require.NoError(t, err)
	_, err = s.Ingest(ctx, TagMock, []RawRecord{mockRecord("1", "Second title")})
	require.NoError(t, err)

	assert.Equal(t, 1, s.ActiveCount())
	assert.Equal(t, 2, s.HistoryLen(), "history grows once per ingestion")

	e, ok := s.Get("mock_1")
	require.True(t, ok)
	assert.Equal(t, "Second title", e.ContentString("title"))

	n, err := s.index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIngest_HistoryEvictsOldestButKeepsActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	records := make([]RawRecord, 1001)
	for i := range records {
		records[i] = RawRecord{"id": fmt.Sprintf("%04d", i), "type": "task", "title": "task"}
	}
	stored, err := s.Ingest(ctx, TagMock, records)
	require.NoError(t, err)
	require.Len(t, stored, 1001)

	assert.Equal(t, 1000, s.HistoryLen())
	assert.Equal(t, 1001, s.ActiveCount())

	history := s.History()
	assert.Equal(t, "mock_0001", history[0].ID, "oldest entry evicted first")
	assert.Equal(t, "mock_1000", history[len(history)-1].ID)

	_, ok := s.Get("mock_0000")
	assert.True(t, ok, "eviction trims history only")
}

func TestIngest_UnknownSourceIsNoop(t *testing.T) {
	s := newTestStore(t)
	stored, err := s.Ingest(context.Background(), "fax-machine", []RawRecord{mockRecord("1", "x")})
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Zero(t, s.ActiveCount())
}

func TestIngest_AliasRoutesSourceToTag(t *testing.T) {
	s := newTestStore(t)
	s.Registry().Alias("work-calendar", TagCalendar)

	stored, err := s.Ingest(context.Background(), "work-calendar", []RawRecord{{
		"id":      "abc",
		"summary": "Design sync",
		"start":   map[string]any{"dateTime": "2025-03-10T14:00:00Z"},
		"end":     map[string]any{"dateTime": "2025-03-10T14:30:00Z"},
	}})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "calendar_abc", stored[0].ID)
	assert.Equal(t, "work-calendar", stored[0].Source)
}

func TestIngest_MalformedRecordIsIsolated(t *testing.T) {
	s := newTestStore(t)
	stored, err := s.Ingest(context.Background(), TagMock, []RawRecord{
		mockRecord("1", "ok"),
		{"title": "no id"},
		{"id": "3", "start_time": "yesterday-ish"},
		mockRecord("4", "also ok"),
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIngestion)
	assert.Len(t, stored, 2)
	assert.Equal(t, 2, s.ActiveCount())
}

func TestIngest_PanickingExtractorIsIsolated(t *testing.T) {
	s := newTestStore(t)
	s.Registry().Register("explosive", ExtractorFunc(func(rec RawRecord, now time.Time) ([]types.ContextEntity, error) {
		if rec["boom"] == true {
			panic("bad record")
		}
		return []types.ContextEntity{{ID: "x_" + rec["id"].(string), Type: types.ContextTask, Content: rec}}, nil
	}))

	stored, err := s.Ingest(context.Background(), "explosive", []RawRecord{
		{"boom": true},
		{"id": "2"},
	})
	assert.ErrorIs(t, err, ErrIngestion)
	require.Len(t, stored, 1)
	assert.Equal(t, "x_2", stored[0].ID)
}

func TestIngest_EmbeddingFailureSkipsOnlyThatEntity(t *testing.T) {
	hashing := encoder.NewHashing(64)
	enc := encoder.Func(func(ctx context.Context, text string) ([]float32, error) {
		if strings.Contains(text, "poison") {
			return nil, errors.New("model crashed")
		}
		return hashing.Encode(ctx, text)
	})
	s := New(enc, vectorindex.NewMemory())

	stored, err := s.Ingest(context.Background(), TagMock, []RawRecord{
		mockRecord("1", "fine"),
		mockRecord("2", "poison pill"),
		mockRecord("3", "fine too"),
	})
	assert.ErrorIs(t, err, ErrEmbedding)
	assert.NotErrorIs(t, err, ErrIngestion)
	assert.Len(t, stored, 2)
	_, ok := s.Get("mock_2")
	assert.False(t, ok)
}

func TestIngest_IndexWriteRetriesOnceThenDrops(t *testing.T) {
	idx := &flakyIndex{
		Memory:   vectorindex.NewMemory(),
		failFor:  map[string]int{"mock_1": 1, "mock_2": 2},
		attempts: map[string]int{},
	}
	s := New(encoder.NewHashing(64), idx)

	stored, err := s.Ingest(context.Background(), TagMock, []RawRecord{
		mockRecord("1", "recovers on retry"),
		mockRecord("2", "fails twice"),
		mockRecord("3", "healthy"),
	})

	assert.ErrorIs(t, err, ErrIndexWrite)
	assert.Len(t, stored, 2)
	assert.Equal(t, 2, idx.attempts["mock_1"])
	assert.Equal(t, 2, idx.attempts["mock_2"])
	assert.Equal(t, 1, idx.attempts["mock_3"])

	_, ok := s.Get("mock_2")
	assert.False(t, ok, "dropped entity must not enter the active map")
	assert.Equal(t, 2, s.HistoryLen())
}

func TestRetrieve_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	titles := []string{"Quarterly budget review", "Dentist appointment", "Hiring sync", "Launch retrospective", "Gym session"}
	records := make([]RawRecord, len(titles))
	for i, title := range titles {
		records[i] = mockRecord(fmt.Sprint(i), title)
	}
	stored, err := s.Ingest(ctx, TagMock, records)
	require.NoError(t, err)

	target := stored[2]
	results := s.Retrieve(ctx, target.Text(), 5)
	require.NotEmpty(t, results)
	assert.Equal(t, target.ID, results[0].ID)

	maxDist := results[0].Distance
	for i, r := range results {
		if r.Distance > maxDist {
			maxDist = r.Distance
		}
		if i > 0 {
			assert.GreaterOrEqual(t, r.Distance, results[i-1].Distance, "nearest first")
		}
	}
	assert.Less(t, results[0].Distance, maxDist)
	assert.Equal(t, "meeting", results[0].Metadata["type"])
	assert.Equal(t, target.Text(), results[0].Document)
}

func TestRetrieve_EmptyIndexAndFailures(t *testing.T) {
	s := newTestStore(t)
	assert.Empty(t, s.Retrieve(context.Background(), "anything", 3))

	broken := New(encoder.Func(func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("down")
	}), vectorindex.NewMemory())
	assert.Empty(t, broken.Retrieve(context.Background(), "anything", 3))
}

func TestIngest_ConcurrentSources(t *testing.T) {
	s := newTestStore(t, WithHistoryCapacity(50))
	ctx := context.Background()

	var wg sync.WaitGroup
	var failures atomic.Int32
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			records := make([]RawRecord, 20)
			for i := range records {
				records[i] = mockRecord(fmt.Sprintf("%d-%d", w, i), "parallel")
			}
			if _, err := s.Ingest(ctx, TagMock, records); err != nil {
				failures.Add(1)
			}
		}(w)
	}
	wg.Wait()

	assert.Zero(t, failures.Load())
	assert.Equal(t, 160, s.ActiveCount())
	assert.Equal(t, 50, s.HistoryLen())
}

func TestEntities_FilterAndCopy(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Ingest(context.Background(), TagMock, []RawRecord{
		mockRecord("b", "meeting b"),
		mockRecord("a", "meeting a"),
		{"id": "t", "type": "task", "title": "write report"},
	})
	require.NoError(t, err)

	meetings := s.Entities(types.ContextMeeting)
	require.Len(t, meetings, 2)
	assert.Equal(t, "mock_a", meetings[0].ID)

	meetings[0].Content["title"] = "mutated"
	again, _ := s.Get("mock_a")
	assert.Equal(t, "meeting a", again.ContentString("title"))

	assert.Len(t, s.Entities(""), 3)
}
