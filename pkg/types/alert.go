package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AlertType identifies the rule family that produced an alert.
type AlertType string

// Alert type constants
const (
	AlertMeetingReminder  AlertType = "meeting_reminder"
	AlertMeetingPrep      AlertType = "meeting_preparation"
	AlertScheduleConflict AlertType = "schedule_conflict"
	AlertFollowUp         AlertType = "follow_up"
	AlertHealth           AlertType = "health_advice"
)

// Priority is an ordered alert priority. The numeric value is the ordinal
// used as a triage feature (Low=0 .. Critical=3).
type Priority int

// Priority constants, lowest first.
const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

var priorityNames = [...]string{"low", "medium", "high", "critical"}

// String returns the lower-case priority name.
func (p Priority) String() string {
	if p < PriorityLow || p > PriorityCritical {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// Ordinal returns the priority as a float feature.
func (p Priority) Ordinal() float64 {
	return float64(p)
}

// ParsePriority parses a priority name (case-insensitive).
func ParsePriority(s string) (Priority, error) {
	for i, name := range priorityNames {
		if strings.EqualFold(s, name) {
			return Priority(i), nil
		}
	}
	return PriorityLow, fmt.Errorf("unknown priority %q", s)
}

// MarshalJSON encodes the priority as its name.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes a priority name.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// DefaultConfidence is the confidence assigned when a detector does not
// override it.
const DefaultConfidence = 0.8

// Alert is a candidate or delivered notification.
type Alert struct {
	ID               string         `json:"id"`                // Unique per generation (UUID)
	Key              string         `json:"key"`               // Deterministic identity used to suppress re-delivery
	Type             AlertType      `json:"type"`              // Rule family
	Priority         Priority       `json:"priority"`          // Ordered priority
	Title            string         `json:"title"`             // Short headline
	Message          string         `json:"message"`           // Human-readable body
	Context          map[string]any `json:"context"`           // Snapshot; never a live reference to store data
	Timestamp        time.Time      `json:"timestamp"`         // Generation time
	SuggestedActions []string       `json:"suggested_actions"` // Ordered suggestions
	Confidence       float64        `json:"confidence"`        // Detector confidence in [0.0, 1.0]
}

// NewAlert builds an alert with a fresh ID, the default confidence and a deep
// copy of ctx.
func NewAlert(kind AlertType, key string, priority Priority, title, message string, ctx map[string]any, now time.Time) Alert {
	return Alert{
		ID:               uuid.NewString(),
		Key:              key,
		Type:             kind,
		Priority:         priority,
		Title:            title,
		Message:          message,
		Context:          CloneMap(ctx),
		Timestamp:        now,
		SuggestedActions: []string{},
		Confidence:       DefaultConfidence,
	}
}

// WithConfidence returns a copy with the confidence clamped to [0,1].
func (a Alert) WithConfidence(c float64) Alert {
	a.Confidence = ClampUnit(c)
	return a
}

// WithActions returns a copy with the given suggested actions.
func (a Alert) WithActions(actions ...string) Alert {
	a.SuggestedActions = append([]string(nil), actions...)
	return a
}

// Clone returns a deep copy of the alert.
func (a Alert) Clone() Alert {
	out := a
	out.Context = CloneMap(a.Context)
	out.SuggestedActions = append([]string(nil), a.SuggestedActions...)
	return out
}

// ContextFloat returns Context[key] as a float64. Missing keys return
// (0, true); values that are present but not numeric return (0, false).
func (a Alert) ContextFloat(key string) (float64, bool) {
	v, ok := a.Context[key]
	if !ok || v == nil {
		return 0, true
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
