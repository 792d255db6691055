package contextstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/scrypster/vigil/pkg/types"
)

// extractCalendar understands Google Calendar shaped events:
// id, summary, description, start/end {dateTime|date}, attendees,
// hangoutLink, location, status, recurringEventId.
func extractCalendar(rec RawRecord, now time.Time) ([]types.ContextEntity, error) {
	id := scalarString(rec["id"])
	if id == "" {
		return nil, fmt.Errorf("calendar event has no id")
	}
	if strings.EqualFold(scalarString(rec["status"]), "cancelled") {
		return nil, fmt.Errorf("calendar event %s is cancelled", id)
	}

	title := firstNonEmpty(scalarString(rec["summary"]), scalarString(rec["title"]), "Unknown")
	content := map[string]any{
		"title":  title,
		"source": TagCalendar,
	}

	start, startAllDay, err := eventTime(rec["start"])
	if err != nil {
		return nil, fmt.Errorf("calendar event %s: start: %w", id, err)
	}
	end, _, err := eventTime(rec["end"])
	if err != nil {
		return nil, fmt.Errorf("calendar event %s: end: %w", id, err)
	}
	if start != "" {
		content["start_time"] = start
	}
	if end != "" {
		content["end_time"] = end
	}
	if startAllDay {
		content["all_day"] = true
	}

	if desc := scalarString(rec["description"]); desc != "" {
		content["description"] = desc
	}
	if loc := scalarString(rec["location"]); loc != "" {
		content["location"] = loc
	}
	if attendees := attendeeList(rec["attendees"]); len(attendees) > 0 {
		content["attendees"] = attendees
		content["attendee_count"] = len(attendees)
	}
	if link := scalarString(rec["hangoutLink"]); link != "" {
		content["video_link"] = link
	}

	entity := types.ContextEntity{
		ID:        "calendar_" + id,
		Type:      types.ContextMeeting,
		Content:   content,
		Timestamp: now,
	}
	if parent := scalarString(rec["recurringEventId"]); parent != "" {
		content["recurring_event_id"] = parent
		entity.Relationships = []string{"calendar_" + parent}
	}
	entity.Importance = Importance(entity.Type, content)
	return []types.ContextEntity{entity}, nil
}

// extractMock accepts the flat demo shape: id, type (default meeting),
// title, start_time, end_time and any extra keys, copied verbatim.
func extractMock(rec RawRecord, now time.Time) ([]types.ContextEntity, error) {
	id := scalarString(rec["id"])
	if id == "" {
		return nil, fmt.Errorf("mock record has no id")
	}
	kind := types.ContextMeeting
	if raw := scalarString(rec["type"]); raw != "" {
		kind = types.ContextType(strings.ToLower(raw))
		if !kind.IsValid() {
			return nil, fmt.Errorf("mock record %s: unknown type %q", id, raw)
		}
	}

	content := make(map[string]any, len(rec)+1)
	for k, v := range rec {
		if k == "id" || k == "type" {
			continue
		}
		content[k] = v
	}
	for _, key := range []string{"start_time", "end_time"} {
		if raw, ok := content[key]; ok {
			s, isString := raw.(string)
			if !isString {
				return nil, fmt.Errorf("mock record %s: %s must be a string", id, key)
			}
			if _, ok := types.ParseTime(s); !ok {
				return nil, fmt.Errorf("mock record %s: unparsable %s %q", id, key, s)
			}
		}
	}
	if _, ok := content["title"]; !ok {
		content["title"] = "Unknown"
	}
	content["source"] = TagMock

	entity := types.ContextEntity{
		ID:        "mock_" + id,
		Type:      kind,
		Content:   types.CloneMap(content),
		Timestamp: now,
	}
	entity.Importance = Importance(kind, entity.Content)
	return []types.ContextEntity{entity}, nil
}

// eventTime reads a Google Calendar time object ({dateTime} or {date}) or a
// bare string. Missing values yield "".
func eventTime(v any) (value string, allDay bool, err error) {
	switch t := v.(type) {
	case nil:
		return "", false, nil
	case string:
		if t == "" {
			return "", false, nil
		}
		if _, ok := types.ParseTime(t); !ok {
			return "", false, fmt.Errorf("unparsable time %q", t)
		}
		return t, len(t) == len("2006-01-02"), nil
	case map[string]any:
		if dt := scalarString(t["dateTime"]); dt != "" {
			if _, ok := types.ParseTime(dt); !ok {
				return "", false, fmt.Errorf("unparsable dateTime %q", dt)
			}
			return dt, false, nil
		}
		if d := scalarString(t["date"]); d != "" {
			if _, ok := types.ParseTime(d); !ok {
				return "", false, fmt.Errorf("unparsable date %q", d)
			}
			return d, true, nil
		}
		return "", false, nil
	default:
		return "", false, fmt.Errorf("unexpected time value of type %T", v)
	}
}

// attendeeList flattens attendee objects ({email, displayName}) or plain
// strings into a list of identifiers.
func attendeeList(v any) []any {
	items, ok := v.([]any)
	if !ok {
		if ss, isStrings := v.([]string); isStrings {
			items = make([]any, len(ss))
			for i, s := range ss {
				items[i] = s
			}
		}
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		switch a := item.(type) {
		case string:
			if a != "" {
				out = append(out, a)
			}
		case map[string]any:
			if name := firstNonEmpty(scalarString(a["email"]), scalarString(a["displayName"])); name != "" {
				out = append(out, name)
			}
		}
	}
	return out
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
