package contextstore

import (
	"strings"

	"github.com/scrypster/vigil/pkg/types"
)

// Importance increments. Each factor is bounded and the sum is clamped.
const (
	attendeeStep     = 0.05
	attendeeCap      = 0.3
	keywordBonus     = 0.2
	videoLinkBonus   = 0.1
	descriptionBonus = 0.05
	defaultBaseScore = 0.3
)

var baseImportance = map[types.ContextType]float64{
	types.ContextMeeting:       0.4,
	types.ContextProject:       0.4,
	types.ContextTask:          0.3,
	types.ContextCommunication: 0.2,
	types.ContextHealth:        0.3,
}

var importantKeywords = []string{
	"urgent", "important", "asap", "deadline", "critical",
	"review", "decision", "board", "client", "interview",
}

var videoHosts = []string{"meet.google.com", "zoom.us", "teams.microsoft.com", "webex.com"}

// Importance scores content in [0,1] from the entity type plus attendee
// count, keyword match, a video-conference link and a description.
func Importance(kind types.ContextType, content map[string]any) float64 {
	score, ok := baseImportance[kind]
	if !ok {
		score = defaultBaseScore
	}

	attendees := countAttendees(content)
	if attendees > 0 {
		bonus := float64(attendees) * attendeeStep
		if bonus > attendeeCap {
			bonus = attendeeCap
		}
		score += bonus
	}

	title, _ := content["title"].(string)
	desc, _ := content["description"].(string)
	text := strings.ToLower(title + " " + desc)
	for _, kw := range importantKeywords {
		if strings.Contains(text, kw) {
			score += keywordBonus
			break
		}
	}

	if link, _ := content["video_link"].(string); link != "" || containsAny(text, videoHosts) {
		score += videoLinkBonus
	}
	if strings.TrimSpace(desc) != "" {
		score += descriptionBonus
	}

	return types.ClampUnit(score)
}

func countAttendees(content map[string]any) int {
	switch v := content["attendees"].(type) {
	case []any:
		return len(v)
	case []string:
		return len(v)
	}
	switch n := content["attendee_count"].(type) {
	case int:
		if n > 0 {
			return n
		}
	case float64:
		if n > 0 && n < 1e6 {
			return int(n)
		}
	}
	return 0
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
