package sources

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/scrypster/vigil/internal/contextstore"
)

// MockSource produces a small demo calendar anchored to the minute the
// source was created: an imminent standup, a client review that overlaps
// a design sync, a board prep slot ten minutes after the sync ends, an
// interview that ended two hours ago and an open task.
type MockSource struct {
	name   string
	anchor time.Time
	polled atomic.Bool
}

// NewMockSource returns a demo source. now is read once.
func NewMockSource(name string, now func() time.Time) *MockSource {
	if name == "" {
		name = "demo"
	}
	return &MockSource{name: name, anchor: now().UTC().Truncate(time.Minute)}
}

func (m *MockSource) Name() string { return m.name }
func (m *MockSource) Tag() string  { return contextstore.TagMock }

// GetUpdates returns the demo calendar on the first poll and nothing
// afterwards, since the data never changes.
func (m *MockSource) GetUpdates(ctx context.Context, since time.Time) ([]contextstore.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.polled.Swap(true) && !since.IsZero() {
		return nil, nil
	}
	return m.Records(), nil
}

// Records returns the demo records.
func (m *MockSource) Records() []contextstore.RawRecord {
	at := func(d time.Duration) string { return m.anchor.Add(d).Format(time.RFC3339) }
	return []contextstore.RawRecord{
		{
			"id":         "standup",
			"title":      "Team standup",
			"start_time": at(30 * time.Minute),
			"end_time":   at(45 * time.Minute),
			"attendees":  []any{"ana@example.com", "raj@example.com", "li@example.com"},
		},
		{
			"id":          "acme-review",
			"title":       "Client review with Acme Corp",
			"description": "Quarterly review, decision needed on renewal",
			"start_time":  at(60 * time.Minute),
			"end_time":    at(120 * time.Minute),
			"attendees":   []any{"ana@example.com", "cfo@acme.example"},
			"video_link":  "https://meet.google.com/abc-defg-hij",
		},
		{
			"id":         "design-sync",
			"title":      "Design sync",
			"start_time": at(90 * time.Minute),
			"end_time":   at(150 * time.Minute),
		},
		{
			"id":         "board-prep",
			"title":      "Board prep",
			"start_time": at(160 * time.Minute),
			"end_time":   at(190 * time.Minute),
		},
		{
			"id":         "interview",
			"title":      "Interview debrief",
			"start_time": at(-3 * time.Hour),
			"end_time":   at(-2 * time.Hour),
		},
		{
			"id":          "expenses",
			"type":        "task",
			"title":       "Submit expense report",
			"description": "Deadline Friday",
		},
	}
}
