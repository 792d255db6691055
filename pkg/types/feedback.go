package types

import "time"

// FeedbackRecord links a delivered alert to its outcome. The alert snapshot is
// kept alongside the outcome because triage training needs the alert's
// features long after the alert itself has left the delivered log.
type FeedbackRecord struct {
	ID        string    `json:"id"`
	AlertID   string    `json:"alert_id"`
	Alert     Alert     `json:"alert"`
	WasUseful bool      `json:"was_useful"`
	Note      string    `json:"note,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Label returns the binary training label (1 if the alert was useful).
func (r FeedbackRecord) Label() int {
	if r.WasUseful {
		return 1
	}
	return 0
}
