package triage

import (
	"context"
	"time"

	"github.com/scrypster/vigil/internal/contextstore"
	"github.com/scrypster/vigil/pkg/types"
)

// Availability reports whether the user can be interrupted right now.
type Availability interface {
	Available(ctx context.Context) (bool, error)
}

// StaticAvailability always answers with its own value.
type StaticAvailability bool

// Available implements Availability.
func (s StaticAvailability) Available(context.Context) (bool, error) { return bool(s), nil }

// AvailabilityFunc adapts a function to Availability.
type AvailabilityFunc func(ctx context.Context) (bool, error)

// Available calls f.
func (f AvailabilityFunc) Available(ctx context.Context) (bool, error) { return f(ctx) }

// MeetingAvailability treats the user as busy while any timed meeting is in
// progress. All-day events do not count.
type MeetingAvailability struct {
	Reader contextstore.Reader
	Now    func() time.Time
}

// Available implements Availability.
func (m MeetingAvailability) Available(ctx context.Context) (bool, error) {
	now := time.Now()
	if m.Now != nil {
		now = m.Now()
	}
	for _, e := range m.Reader.Entities(types.ContextMeeting) {
		if e.AllDay() {
			continue
		}
		start, okStart := e.ContentTime("start_time")
		end, okEnd := e.ContentTime("end_time")
		if okStart && okEnd && !now.Before(start) && now.Before(end) {
			return false, nil
		}
	}
	return true, nil
}
