package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// ContextEntity is a normalized unit of contextual knowledge extracted from a
// source record. Re-ingesting the same source record yields the same ID, so
// the active entity map overwrites rather than duplicates.
type ContextEntity struct {
	ID            string         `json:"id"`                      // Stable identifier (format: <source>_<record id>)
	Type          ContextType    `json:"type"`                    // Entity classification
	Content       map[string]any `json:"content"`                 // Source-specific payload (title, times, participants...)
	Source        string         `json:"source,omitempty"`        // Capability tag that produced the entity
	Timestamp     time.Time      `json:"timestamp"`               // Observation time
	Importance    float64        `json:"importance"`              // Heuristic importance in [0.0, 1.0]
	Relationships []string       `json:"relationships,omitempty"` // IDs of related entities (references only)
}

// SerializedContent returns Content as JSON. encoding/json sorts map keys, so
// the output is stable for equal content.
func (e *ContextEntity) SerializedContent() string {
	if len(e.Content) == 0 {
		return "{}"
	}
	data, err := json.Marshal(e.Content)
	if err != nil {
		return fmt.Sprintf("%v", e.Content)
	}
	return string(data)
}

// Text returns the textual representation used for embedding:
// "{type}: {serialized content}".
func (e *ContextEntity) Text() string {
	return fmt.Sprintf("%s: %s", e.Type, e.SerializedContent())
}

// ContentString returns Content[key] when it is a non-empty string.
func (e *ContextEntity) ContentString(key string) string {
	if v, ok := e.Content[key].(string); ok {
		return v
	}
	return ""
}

// ContentTime parses Content[key] as an RFC 3339 timestamp. Date-only values
// ("2006-01-02") are accepted for all-day events.
func (e *ContextEntity) ContentTime(key string) (time.Time, bool) {
	raw := e.ContentString(key)
	if raw == "" {
		return time.Time{}, false
	}
	return ParseTime(raw)
}

// AllDay reports whether the entity is a date-only (all-day) event. Such
// events have no resolved start or end time of day.
func (e *ContextEntity) AllDay() bool {
	v, _ := e.Content["all_day"].(bool)
	return v
}

// Clone returns a deep copy of the entity so callers never share the
// Content map or Relationships slice with the store.
func (e ContextEntity) Clone() ContextEntity {
	out := e
	out.Content = CloneMap(e.Content)
	if e.Relationships != nil {
		out.Relationships = append([]string(nil), e.Relationships...)
	}
	return out
}

// ParseTime accepts RFC 3339 (with or without fractional seconds) and
// date-only layouts.
func ParseTime(raw string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// CloneMap deep-copies nested maps and slices of a JSON-like value tree.
func CloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		cp := make([]any, len(t))
		for i, item := range t {
			cp[i] = cloneValue(item)
		}
		return cp
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
