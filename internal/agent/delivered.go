package agent

import (
	"sync"
	"time"

	"github.com/scrypster/vigil/internal/ring"
	"github.com/scrypster/vigil/pkg/types"
)

// DeliveredLog is the bounded log of alerts that passed triage. Feedback
// resolves alert ids against it.
type DeliveredLog struct {
	mu   sync.RWMutex
	buf  *ring.Buffer[types.Alert]
	byID map[string]types.Alert
}

// NewDeliveredLog returns a log holding at most capacity alerts.
func NewDeliveredLog(capacity int) *DeliveredLog {
	return &DeliveredLog{
		buf:  ring.New[types.Alert](capacity),
		byID: make(map[string]types.Alert),
	}
}

// Add appends a copy of alert, evicting the oldest when full.
func (l *DeliveredLog) Add(alert types.Alert) {
	alert = alert.Clone()
	l.mu.Lock()
	defer l.mu.Unlock()
	if old, evicted := l.buf.Append(alert); evicted {
		delete(l.byID, old.ID)
	}
	l.byID[alert.ID] = alert
}

// Delivered returns the alert with id.
func (l *DeliveredLog) Delivered(id string) (types.Alert, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.byID[id]
	if !ok {
		return types.Alert{}, false
	}
	return a.Clone(), true
}

// Recent returns alerts delivered within window of now, newest first.
// A non-positive window returns nothing.
func (l *DeliveredLog) Recent(window time.Duration, now time.Time) []types.Alert {
	if window <= 0 {
		return []types.Alert{}
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	items := l.buf.Items()
	out := make([]types.Alert, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		if now.Sub(items[i].Timestamp) > window {
			continue
		}
		out = append(out, items[i].Clone())
	}
	return out
}

// Len returns the number of retained alerts.
func (l *DeliveredLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.buf.Len()
}
