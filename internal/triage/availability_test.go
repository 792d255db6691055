package triage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/vigil/internal/contextstore"
	"github.com/scrypster/vigil/internal/encoder"
	"github.com/scrypster/vigil/internal/vectorindex"
)

func TestMeetingAvailability(t *testing.T) {
	store := contextstore.New(encoder.NewHashing(32), vectorindex.NewMemory())
	_, err := store.Ingest(context.Background(), contextstore.TagMock, []contextstore.RawRecord{{
		"id":         "1",
		"title":      "Standup",
		"start_time": "2025-03-10T10:00:00Z",
		"end_time":   "2025-03-10T10:30:00Z",
	}})
	require.NoError(t, err)

	check := func(hour, minute int) bool {
		a := MeetingAvailability{Reader: store, Now: func() time.Time {
			return time.Date(2025, 3, 10, hour, minute, 0, 0, time.UTC)
		}}
		ok, err := a.Available(context.Background())
		require.NoError(t, err)
		return ok
	}

	assert.True(t, check(9, 59))
	assert.False(t, check(10, 0))
	assert.False(t, check(10, 29))
	assert.True(t, check(10, 30))
}

func TestMeetingAvailability_IgnoresAllDayEvents(t *testing.T) {
	store := contextstore.New(encoder.NewHashing(32), vectorindex.NewMemory())
	_, err := store.Ingest(context.Background(), contextstore.TagCalendar, []contextstore.RawRecord{{
		"id":      "ooo",
		"summary": "Out of office",
		"start":   map[string]any{"date": "2025-03-10"},
		"end":     map[string]any{"date": "2025-03-11"},
	}})
	require.NoError(t, err)
	require.Equal(t, 1, store.ActiveCount())

	a := MeetingAvailability{Reader: store, Now: func() time.Time {
		return time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC)
	}}
	ok, err := a.Available(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}
