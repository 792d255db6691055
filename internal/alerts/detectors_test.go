package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/vigil/internal/contextstore"
	"github.com/scrypster/vigil/internal/encoder"
	"github.com/scrypster/vigil/internal/vectorindex"
	"github.com/scrypster/vigil/pkg/types"
)

// fakeReader serves a fixed entity set.
type fakeReader struct {
	entities []types.ContextEntity
	hits     []vectorindex.Result
}

func (f *fakeReader) Retrieve(ctx context.Context, query string, k int) []vectorindex.Result {
	if len(f.hits) > k {
		return f.hits[:k]
	}
	return f.hits
}

func (f *fakeReader) Entities(kind types.ContextType) []types.ContextEntity {
	var out []types.ContextEntity
	for _, e := range f.entities {
		if kind == "" || e.Type == kind {
			out = append(out, e.Clone())
		}
	}
	return out
}

func (f *fakeReader) Get(id string) (types.ContextEntity, bool) {
	for _, e := range f.entities {
		if e.ID == id {
			return e.Clone(), true
		}
	}
	return types.ContextEntity{}, false
}

var _ contextstore.Reader = (*fakeReader)(nil)

var day = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time { return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute) }

func meetingEntity(id string, start, end time.Time, importance float64) types.ContextEntity {
	return types.ContextEntity{
		ID:   id,
		Type: types.ContextMeeting,
		Content: map[string]any{
			"title":      "Meeting " + id,
			"start_time": start.Format(time.RFC3339),
			"end_time":   end.Format(time.RFC3339),
		},
		Importance: importance,
	}
}

func TestScheduleConflict_Examples(t *testing.T) {
	tests := []struct {
		name      string
		second    [2]time.Time
		want      int
		overlap   bool
		confident float64
	}{
		{"overlap", [2]time.Time{at(14, 30), at(16, 0)}, 1, true, overlapConfidence},
		{"ten_minute_gap", [2]time.Time{at(15, 10), at(16, 0)}, 1, false, tightGapConfidence},
		{"twenty_minute_gap", [2]time.Time{at(15, 20), at(16, 0)}, 0, false, 0},
		{"exactly_buffer", [2]time.Time{at(15, 15), at(16, 0)}, 0, false, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := &fakeReader{entities: []types.ContextEntity{
				meetingEntity("a", at(14, 0), at(15, 0), 0.5),
				meetingEntity("b", tc.second[0], tc.second[1], 0.7),
			}}
			d := &ScheduleConflict{Buffer: 15 * time.Minute}
			alerts, err := d.Detect(context.Background(), r, at(9, 0))
			require.NoError(t, err)
			require.Len(t, alerts, tc.want)
			if tc.want == 0 {
				return
			}
			a := alerts[0]
			assert.Equal(t, types.AlertScheduleConflict, a.Type)
			assert.Equal(t, types.PriorityHigh, a.Priority)
			assert.Equal(t, tc.overlap, a.Context["overlap"])
			assert.InDelta(t, tc.confident, a.Confidence, 1e-9)
			assert.InDelta(t, 0.7, a.Context[KeyRelevance], 1e-9)
			assert.Equal(t, "schedule_conflict:a|b", a.Key)
		})
	}
}

func TestScheduleConflict_PairsAreUnorderedAndUnique(t *testing.T) {
	// Entities arrive in reverse order; three mutually overlapping meetings
	// give exactly three pairs.
	r := &fakeReader{entities: []types.ContextEntity{
		meetingEntity("c", at(14, 20), at(15, 0), 0.3),
		meetingEntity("b", at(14, 10), at(15, 0), 0.3),
		meetingEntity("a", at(14, 0), at(15, 0), 0.3),
	}}
	alerts, err := (&ScheduleConflict{Buffer: 15 * time.Minute}).Detect(context.Background(), r, at(8, 0))
	require.NoError(t, err)
	require.Len(t, alerts, 3)

	keys := map[string]bool{}
	for _, a := range alerts {
		keys[a.Key] = true
	}
	assert.Equal(t, map[string]bool{
		"schedule_conflict:a|b": true,
		"schedule_conflict:a|c": true,
		"schedule_conflict:b|c": true,
	}, keys)
}

func TestScheduleConflict_IgnoresUntimedMeetings(t *testing.T) {
	broken := meetingEntity("x", at(14, 0), at(15, 0), 0.3)
	delete(broken.Content, "end_time")
	inverted := meetingEntity("y", at(16, 0), at(14, 0), 0.3)
	r := &fakeReader{entities: []types.ContextEntity{broken, inverted, meetingEntity("z", at(14, 0), at(15, 0), 0.3)}}

	alerts, err := (&ScheduleConflict{Buffer: 15 * time.Minute}).Detect(context.Background(), r, at(8, 0))
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestDetectors_IgnoreAllDayEvents(t *testing.T) {
	store := contextstore.New(encoder.NewHashing(32), vectorindex.NewMemory())
	_, err := store.Ingest(context.Background(), contextstore.TagCalendar, []contextstore.RawRecord{
		{
			"id":      "holiday",
			"summary": "Public holiday",
			"start":   map[string]any{"date": "2025-03-10"},
			"end":     map[string]any{"date": "2025-03-11"},
		},
		{
			"id":      "standup",
			"summary": "Standup",
			"start":   map[string]any{"dateTime": "2025-03-10T09:00:00Z"},
			"end":     map[string]any{"dateTime": "2025-03-10T09:15:00Z"},
		},
		{
			"id":      "lunch",
			"summary": "Lunch",
			"start":   map[string]any{"dateTime": "2025-03-10T12:00:00Z"},
			"end":     map[string]any{"dateTime": "2025-03-10T13:00:00Z"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 3, store.ActiveCount())

	conflicts, err := (&ScheduleConflict{Buffer: 15 * time.Minute}).Detect(context.Background(), store, at(8, 0))
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	// Midnight is inside the look-ahead of the date-only start.
	prep, err := (&MeetingPrep{LookAhead: 2 * time.Hour}).Detect(context.Background(), store, at(-1, 0))
	require.NoError(t, err)
	assert.Empty(t, prep)
}

func TestMeetingPrep_WindowAndContext(t *testing.T) {
	r := &fakeReader{
		entities: []types.ContextEntity{
			meetingEntity("soon", at(10, 30), at(11, 0), 0.8),
			meetingEntity("later", at(13, 0), at(14, 0), 0.8),
			meetingEntity("past", at(9, 0), at(9, 30), 0.8),
		},
		hits: []vectorindex.Result{{ID: "soon"}, {ID: "mock_notes"}, {ID: "mock_email"}},
	}
	now := at(10, 0)
	alerts, err := (&MeetingPrep{LookAhead: 2 * time.Hour}).Detect(context.Background(), r, now)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	a := alerts[0]
	assert.Equal(t, types.AlertMeetingPrep, a.Type)
	assert.Equal(t, types.PriorityMedium, a.Priority)
	assert.InDelta(t, types.DefaultConfidence, a.Confidence, 1e-9)
	assert.Equal(t, "soon", a.Context["entity_id"])
	assert.Equal(t, 30, a.Context["minutes_until"])
	assert.Equal(t, []any{"mock_notes", "mock_email"}, a.Context["related"], "self is excluded from related context")
	assert.InDelta(t, 0.8, a.Context[KeyRelevance], 1e-9)
	assert.InDelta(t, 0.75, a.Context[KeyUrgency], 1e-9)
	assert.Len(t, a.SuggestedActions, 3)
	assert.Equal(t, now, a.Timestamp)
}

func TestFollowUp(t *testing.T) {
	done := meetingEntity("done", at(8, 0), at(9, 0), 0.4)
	done.Content["follow_up_sent"] = true
	r := &fakeReader{entities: []types.ContextEntity{
		meetingEntity("yesterday", at(-2, 0), at(-1, 0), 0.4),
		meetingEntity("morning", at(8, 0), at(9, 0), 0.4),
		meetingEntity("upcoming", at(15, 0), at(16, 0), 0.4),
		done,
	}}
	alerts, err := (&FollowUp{LookBack: 24 * time.Hour}).Detect(context.Background(), r, at(12, 0))
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	for _, a := range alerts {
		assert.Equal(t, types.AlertFollowUp, a.Type)
		assert.Equal(t, types.PriorityLow, a.Priority)
	}
	assert.Equal(t, "morning", alerts[0].Context["entity_id"])
	assert.Equal(t, "yesterday", alerts[1].Context["entity_id"])
}

type failingDetector struct{ panics bool }

func (f failingDetector) Name() string { return "broken" }

func (f failingDetector) Detect(ctx context.Context, r contextstore.Reader, now time.Time) ([]types.Alert, error) {
	if f.panics {
		var m map[string]int
		m["boom"]++
	}
	return nil, errors.New("rule exploded")
}

func TestGenerator_IsolatesDetectorFailures(t *testing.T) {
	r := &fakeReader{entities: []types.ContextEntity{
		meetingEntity("a", at(14, 0), at(15, 0), 0.5),
		meetingEntity("b", at(14, 30), at(16, 0), 0.5),
	}}
	g := NewGenerator(r, DefaultConfig(), WithClock(func() time.Time { return at(13, 0) }))
	g.detectors = append([]Detector{failingDetector{}, failingDetector{panics: true}}, g.detectors...)

	alerts := g.Generate(context.Background())

	var kinds []types.AlertType
	for _, a := range alerts {
		kinds = append(kinds, a.Type)
	}
	// Two meetings start within 2h, one overlapping pair.
	assert.Equal(t, []types.AlertType{types.AlertMeetingPrep, types.AlertMeetingPrep, types.AlertScheduleConflict}, kinds)
	assert.Equal(t, 3, g.History().Len())
}

func TestGenerator_AlertIDsUnique(t *testing.T) {
	r := &fakeReader{entities: []types.ContextEntity{
		meetingEntity("a", at(14, 0), at(15, 0), 0.5),
		meetingEntity("b", at(14, 30), at(16, 0), 0.5),
	}}
	g := NewGenerator(r, DefaultConfig(), WithClock(func() time.Time { return at(13, 0) }))

	ids := map[string]bool{}
	for i := 0; i < 3; i++ {
		for _, a := range g.Generate(context.Background()) {
			assert.False(t, ids[a.ID], "duplicate alert id %s", a.ID)
			ids[a.ID] = true
			assert.GreaterOrEqual(t, a.Confidence, 0.0)
			assert.LessOrEqual(t, a.Confidence, 1.0)
		}
	}
}

func TestGenerator_DefaultOrder(t *testing.T) {
	g := NewGenerator(&fakeReader{}, DefaultConfig())
	assert.Equal(t, []string{"meeting-prep", "schedule-conflict", "follow-up"}, g.Detectors())
	assert.Empty(t, g.Generate(context.Background()))
}

func TestHistory_Recent(t *testing.T) {
	h := NewHistory(3)
	now := at(12, 0)
	old := types.NewAlert(types.AlertFollowUp, "k1", types.PriorityLow, "old", "", nil, now.Add(-30*time.Hour))
	fresh := types.NewAlert(types.AlertFollowUp, "k2", types.PriorityLow, "fresh", "", nil, now.Add(-time.Hour))
	h.Add(old, fresh)

	recent := h.Recent(24*time.Hour, now)
	require.Len(t, recent, 1)
	assert.Equal(t, "fresh", recent[0].Title)

	h.Add(fresh, fresh, fresh)
	assert.Equal(t, 3, h.Len())
}
