// Package notify fans delivered alerts out of the process: a websocket Hub
// for live clients and event files for other processes. Watcher picks up
// files dropped into a directory, which is how the feedback inbox works.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/scrypster/vigil/pkg/types"
)

// EventAlertDelivered is the event type written for each delivered alert.
const EventAlertDelivered = "alert_delivered"

// Event is the payload written to an event file.
type Event struct {
	Type    string      `json:"type"`
	AlertID string      `json:"alert_id"`
	Alert   types.Alert `json:"alert"`
	Time    int64       `json:"time"`
}

// EventWriter writes one event file per delivered alert to a shared directory.
type EventWriter struct {
	dir string
	now func() time.Time
}

// NewEventWriter creates a writer that emits events to {dataPath}/events/.
func NewEventWriter(dataPath string) *EventWriter {
	return &EventWriter{dir: filepath.Join(dataPath, "events"), now: time.Now}
}

// Dir returns the directory events are written to.
func (w *EventWriter) Dir() string { return w.dir }

// Name implements agent.Deliverer.
func (w *EventWriter) Name() string { return "events" }

// Deliver writes an event file for alert. The file is written under a
// temporary name and renamed so watchers never see a partial file.
// Safe to call concurrently.
func (w *EventWriter) Deliver(ctx context.Context, alert types.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("notify: mkdir %s: %w", w.dir, err)
	}
	evt := Event{
		Type:    EventAlertDelivered,
		AlertID: alert.ID,
		Alert:   alert,
		Time:    w.now().UnixNano(),
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	name := fmt.Sprintf("%d-%s.event", evt.Time, sanitizeID(alert.ID))
	return WriteFileAtomic(filepath.Join(w.dir, name), data)
}

// WriteFileAtomic writes data to a hidden temporary file next to path and
// renames it into place.
func WriteFileAtomic(path string, data []byte) error {
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// sanitizeID replaces characters unsafe for filenames.
func sanitizeID(id string) string {
	out := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		switch id[i] {
		case '/', ':', '\\', '|':
			out[i] = '_'
		default:
			out[i] = id[i]
		}
	}
	return string(out)
}
