package alerts

import (
	"sync"
	"time"

	"github.com/scrypster/vigil/internal/ring"
	"github.com/scrypster/vigil/pkg/types"
)

// History is a bounded log of generated alerts.
type History struct {
	mu  sync.RWMutex
	buf *ring.Buffer[types.Alert]
}

// NewHistory returns a history holding up to capacity alerts.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 500
	}
	return &History{buf: ring.New[types.Alert](capacity)}
}

// Add appends snapshots of alerts.
func (h *History) Add(alerts ...types.Alert) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, a := range alerts {
		h.buf.Append(a.Clone())
	}
}

// Recent returns alerts generated after now-window, oldest first.
func (h *History) Recent(window time.Duration, now time.Time) []types.Alert {
	cutoff := now.Add(-window)
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := []types.Alert{}
	for _, a := range h.buf.Items() {
		if a.Timestamp.After(cutoff) {
			out = append(out, a.Clone())
		}
	}
	return out
}

// Len returns the number of alerts held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.buf.Len()
}
