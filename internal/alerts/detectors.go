package alerts

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/scrypster/vigil/internal/contextstore"
	"github.com/scrypster/vigil/pkg/types"
)

// Confidence overrides for schedule conflicts.
const (
	overlapConfidence  = 0.95
	tightGapConfidence = 0.75
)

// relatedLimit bounds how many neighbours meeting-prep attaches.
const relatedLimit = 3

// meeting is a MEETING entity with a resolved time range.
type meeting struct {
	entity   types.ContextEntity
	start    time.Time
	end      time.Time
	hasStart bool
	hasEnd   bool
}

func loadMeetings(r contextstore.Reader) []meeting {
	entities := r.Entities(types.ContextMeeting)
	out := make([]meeting, 0, len(entities))
	for _, e := range entities {
		m := meeting{entity: e}
		// All-day events carry dates, not times, and never resolve.
		if !e.AllDay() {
			m.start, m.hasStart = e.ContentTime("start_time")
			m.end, m.hasEnd = e.ContentTime("end_time")
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].entity.ID < out[j].entity.ID })
	return out
}

func (m meeting) title() string {
	if t := m.entity.ContentString("title"); t != "" {
		return t
	}
	return m.entity.ID
}

// MeetingPrep alerts on meetings starting within LookAhead.
type MeetingPrep struct {
	LookAhead time.Duration
}

// Name implements Detector.
func (d *MeetingPrep) Name() string { return "meeting-prep" }

// Detect implements Detector.
func (d *MeetingPrep) Detect(ctx context.Context, r contextstore.Reader, now time.Time) ([]types.Alert, error) {
	if d.LookAhead <= 0 {
		return nil, fmt.Errorf("look-ahead must be positive, got %s", d.LookAhead)
	}
	horizon := now.Add(d.LookAhead)

	var out []types.Alert
	for _, m := range loadMeetings(r) {
		if !m.hasStart || m.start.Before(now) || m.start.After(horizon) {
			continue
		}
		until := m.start.Sub(now)
		title := m.title()

		related := make([]any, 0, relatedLimit)
		for _, hit := range r.Retrieve(ctx, title, relatedLimit+1) {
			if hit.ID != m.entity.ID && len(related) < relatedLimit {
				related = append(related, hit.ID)
			}
		}

		alertCtx := map[string]any{
			"entity_id":     m.entity.ID,
			"title":         title,
			"start_time":    m.start.Format(time.RFC3339),
			"minutes_until": int(until.Minutes()),
			"related":       related,
			KeyRelevance:    m.entity.Importance,
			KeyUrgency:      types.ClampUnit(1 - until.Seconds()/d.LookAhead.Seconds()),
		}
		if m.hasEnd {
			alertCtx["end_time"] = m.end.Format(time.RFC3339)
		}

		alert := types.NewAlert(
			types.AlertMeetingPrep,
			fmt.Sprintf("%s:%s:%s", types.AlertMeetingPrep, m.entity.ID, m.start.UTC().Format(time.RFC3339)),
			types.PriorityMedium,
			"Upcoming meeting: "+title,
			fmt.Sprintf("You have a meeting soon: %s starts in %s (%s)", title, humanDuration(until), m.start.Format("15:04")),
			alertCtx,
			now,
		).WithActions("Review meeting agenda", "Prepare documents", "Join meeting room")
		out = append(out, alert)
	}
	return out, nil
}

// ScheduleConflict alerts once per pair of meetings that overlap or sit
// closer together than Buffer.
type ScheduleConflict struct {
	Buffer time.Duration
}

// Name implements Detector.
func (d *ScheduleConflict) Name() string { return "schedule-conflict" }

// Detect implements Detector.
func (d *ScheduleConflict) Detect(ctx context.Context, r contextstore.Reader, now time.Time) ([]types.Alert, error) {
	var timed []meeting
	for _, m := range loadMeetings(r) {
		if m.hasStart && m.hasEnd && m.end.After(m.start) {
			timed = append(timed, m)
		}
	}
	sort.Slice(timed, func(i, j int) bool {
		if timed[i].start.Equal(timed[j].start) {
			return timed[i].entity.ID < timed[j].entity.ID
		}
		return timed[i].start.Before(timed[j].start)
	})

	seen := make(map[string]bool)
	var out []types.Alert
	for i := 0; i < len(timed); i++ {
		a := timed[i]
		for j := i + 1; j < len(timed); j++ {
			b := timed[j]
			// b starts no earlier than a, so a negative gap is an overlap.
			gap := b.start.Sub(a.end)
			if gap >= d.Buffer {
				break
			}
			key := pairKey(a.entity.ID, b.entity.ID)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, d.alert(a, b, gap, key, now))
		}
	}
	return out, nil
}

func (d *ScheduleConflict) alert(a, b meeting, gap time.Duration, key string, now time.Time) types.Alert {
	overlap := gap < 0
	alertCtx := map[string]any{
		"meeting_ids": []any{a.entity.ID, b.entity.ID},
		"titles":      []any{a.title(), b.title()},
		"time_range":  fmt.Sprintf("%s-%s", a.start.Format("15:04"), maxTime(a.end, b.end).Format("15:04")),
		"overlap":     overlap,
		"gap_minutes": int(math.Round(gap.Minutes())),
		KeyRelevance:  math.Max(a.entity.Importance, b.entity.Importance),
	}

	var title, message string
	confidence := tightGapConfidence
	if overlap {
		confidence = overlapConfidence
		alertCtx[KeyUrgency] = 1.0
		title = "Schedule conflict: " + a.title() + " overlaps " + b.title()
		message = fmt.Sprintf("%s (%s) overlaps %s (%s) by %s",
			a.title(), a.start.Format("15:04"), b.title(), b.start.Format("15:04"), humanDuration(-gap))
	} else {
		alertCtx[KeyUrgency] = 0.6
		title = "Potential schedule conflict"
		message = fmt.Sprintf("You have back-to-back meetings: %s ends at %s and %s starts %s later",
			a.title(), a.end.Format("15:04"), b.title(), humanDuration(gap))
	}

	return types.NewAlert(types.AlertScheduleConflict, string(types.AlertScheduleConflict)+":"+key,
		types.PriorityHigh, title, message, alertCtx, now).
		WithConfidence(confidence).
		WithActions("Consider adding buffer time", "Prepare quick transition", "Inform attendees if needed")
}

// pairKey identifies an unordered pair.
func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// FollowUp alerts on meetings that ended within LookBack and carry no
// recorded follow-up.
type FollowUp struct {
	LookBack time.Duration
}

// Name implements Detector.
func (d *FollowUp) Name() string { return "follow-up" }

// Detect implements Detector.
func (d *FollowUp) Detect(ctx context.Context, r contextstore.Reader, now time.Time) ([]types.Alert, error) {
	cutoff := now.Add(-d.LookBack)
	var out []types.Alert
	for _, m := range loadMeetings(r) {
		ended := m.end
		if !m.hasEnd {
			if !m.hasStart {
				continue
			}
			ended = m.start
		}
		if ended.After(now) || !ended.After(cutoff) || hasFollowUp(m.entity.Content) {
			continue
		}
		title := m.title()
		since := now.Sub(ended)
		alertCtx := map[string]any{
			"entity_id":   m.entity.ID,
			"meeting":     title,
			"ended_at":    ended.Format(time.RFC3339),
			"hours_since": math.Round(since.Hours()*10) / 10,
			KeyRelevance:  m.entity.Importance,
			KeyUrgency:    types.ClampUnit(since.Hours() / d.LookBack.Hours()),
		}
		alert := types.NewAlert(types.AlertFollowUp, string(types.AlertFollowUp)+":"+m.entity.ID,
			types.PriorityLow, "Follow-up reminder",
			fmt.Sprintf("Consider following up on %s (ended %s ago)", title, humanDuration(since)),
			alertCtx, now,
		).WithActions("Send summary email", "Schedule follow-up meeting", "Update project tracker")
		out = append(out, alert)
	}
	return out, nil
}

func hasFollowUp(content map[string]any) bool {
	for _, key := range []string{"follow_up", "follow_up_sent", "follow_up_done"} {
		switch v := content[key].(type) {
		case bool:
			if v {
				return true
			}
		case string:
			if v != "" && v != "false" {
				return true
			}
		}
	}
	return false
}

func humanDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if m == 0 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh%02dm", h, m)
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
