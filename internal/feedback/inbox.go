package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/scrypster/vigil/internal/notify"
	"github.com/scrypster/vigil/pkg/types"
)

// AlertLookup resolves delivered alerts by id.
type AlertLookup interface {
	Delivered(id string) (types.Alert, bool)
}

// Submission is the JSON body of a feedback file or API request.
type Submission struct {
	AlertID string `json:"alert_id"`
	Useful  bool   `json:"useful"`
	Note    string `json:"note,omitempty"`
}

// Submit resolves s.AlertID and records it.
func Submit(ctx context.Context, r *Recorder, lookup AlertLookup, s Submission) (types.FeedbackRecord, error) {
	if s.AlertID == "" {
		return types.FeedbackRecord{}, fmt.Errorf("%w: alert_id is required", ErrInvalidFeedback)
	}
	alert, ok := lookup.Delivered(s.AlertID)
	if !ok {
		return types.FeedbackRecord{}, fmt.Errorf("%w: %s", ErrUnknownAlert, s.AlertID)
	}
	return r.Record(ctx, alert, s.Useful, s.Note)
}

// Inbox records feedback dropped as *.json files into {dataPath}/feedback/,
// so other processes can rate alerts without the HTTP API.
type Inbox struct {
	recorder *Recorder
	lookup   AlertLookup
	logger   *slog.Logger
	watcher  *notify.Watcher
}

// NewInbox creates an inbox rooted at dataPath.
func NewInbox(dataPath string, recorder *Recorder, lookup AlertLookup, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	in := &Inbox{recorder: recorder, lookup: lookup, logger: logger}
	in.watcher = notify.NewWatcher(filepath.Join(dataPath, "feedback"), ".json", in.handle, logger)
	return in
}

// Dir returns the watched directory.
func (in *Inbox) Dir() string { return in.watcher.Dir() }

// Start begins consuming feedback files.
func (in *Inbox) Start() error { return in.watcher.Start() }

// Stop ends consumption.
func (in *Inbox) Stop() { in.watcher.Stop() }

func (in *Inbox) handle(path string, data []byte) {
	var s Submission
	if err := json.Unmarshal(data, &s); err != nil {
		in.logger.Warn("invalid feedback file", "file", filepath.Base(path), "error", err)
		return
	}
	_, err := Submit(context.Background(), in.recorder, in.lookup, s)
	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicateFeedback), errors.Is(err, ErrUnknownAlert):
		in.logger.Info("feedback file ignored", "file", filepath.Base(path), "reason", err)
	default:
		in.logger.Warn("feedback file rejected", "file", filepath.Base(path), "error", err)
	}
}
