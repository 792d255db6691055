// Package feedback records whether delivered alerts were useful. The
// Recorder is the only writer of the feedback log; every record triggers
// the triage training check.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/vigil/internal/ring"
	"github.com/scrypster/vigil/pkg/types"
)

var (
	// ErrDuplicateFeedback is returned when an alert already has feedback.
	ErrDuplicateFeedback = errors.New("feedback already recorded for alert")

	// ErrInvalidFeedback is returned for records without an alert id.
	ErrInvalidFeedback = errors.New("invalid feedback")

	// ErrUnknownAlert is returned when feedback names an alert that is not
	// in the delivered log.
	ErrUnknownAlert = errors.New("unknown alert")
)

// DefaultCapacity is the number of records kept in memory.
const DefaultCapacity = 10000

// Observer is told about the accumulated feedback after every record.
// *triage.Triage implements it.
type Observer interface {
	ObserveFeedback(records []types.FeedbackRecord, total int) error
}

// Store durably persists feedback records.
type Store interface {
	Save(ctx context.Context, rec types.FeedbackRecord) error
	LoadAll(ctx context.Context) ([]types.FeedbackRecord, error)
	Close() error
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithCapacity bounds the in-memory log.
func WithCapacity(n int) Option {
	return func(r *Recorder) { r.capacity = n }
}

// WithStore persists every record.
func WithStore(s Store) Option {
	return func(r *Recorder) { r.store = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithClock overrides time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// Recorder owns the bounded feedback log. The total count is monotonic
// and keeps growing after the oldest records are evicted.
type Recorder struct {
	observer Observer
	store    Store
	logger   *slog.Logger
	now      func() time.Time
	capacity int

	mu      sync.Mutex
	records *ring.Buffer[types.FeedbackRecord]
	alerts  map[string]struct{} // alert ids with a retained record
	total   int
}

// NewRecorder returns an empty recorder. observer may be nil.
func NewRecorder(observer Observer, opts ...Option) *Recorder {
	r := &Recorder{
		observer: observer,
		logger:   slog.Default(),
		now:      time.Now,
		capacity: DefaultCapacity,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.records = ring.New[types.FeedbackRecord](r.capacity)
	r.alerts = make(map[string]struct{})
	return r
}

// Record appends feedback for a delivered alert and runs the training
// check. Persistence and training failures are logged, not returned: the
// record is kept in memory either way.
func (r *Recorder) Record(ctx context.Context, alert types.Alert, useful bool, note string) (types.FeedbackRecord, error) {
	if alert.ID == "" {
		return types.FeedbackRecord{}, fmt.Errorf("%w: alert id is required", ErrInvalidFeedback)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.alerts[alert.ID]; dup {
		return types.FeedbackRecord{}, fmt.Errorf("%w: %s", ErrDuplicateFeedback, alert.ID)
	}

	rec := types.FeedbackRecord{
		ID:        uuid.NewString(),
		AlertID:   alert.ID,
		Alert:     alert.Clone(),
		WasUseful: useful,
		Note:      note,
		Timestamp: r.now(),
	}
	r.append(rec)

	if r.store != nil {
		if err := r.store.Save(ctx, rec); err != nil {
			r.logger.Error("failed to persist feedback", "kind", "feedback", "alert", alert.ID, "error", err)
		}
	}
	r.observe()

	r.logger.Info("feedback recorded", "alert", alert.ID, "useful", useful, "total", r.total)
	return rec, nil
}

// Load replaces the in-memory log with the persisted records and runs the
// training check once. It is meant for startup; calling it again reloads.
func (r *Recorder) Load(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	recs, err := r.store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load feedback: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// The persisted log replaces whatever is in memory.
	r.records.Reset()
	r.alerts = make(map[string]struct{}, len(recs))
	r.total = 0
	for _, rec := range recs {
		if _, dup := r.alerts[rec.AlertID]; dup {
			continue
		}
		r.append(rec)
	}
	if len(recs) > 0 {
		r.observe()
	}
	r.logger.Info("feedback log loaded", "records", len(recs), "total", r.total)
	return len(recs), nil
}

// append adds rec to the log. Caller holds r.mu.
func (r *Recorder) append(rec types.FeedbackRecord) {
	if old, evicted := r.records.Append(rec); evicted {
		delete(r.alerts, old.AlertID)
	}
	r.alerts[rec.AlertID] = struct{}{}
	r.total++
}

// observe runs the training check. Caller holds r.mu.
func (r *Recorder) observe() {
	if r.observer == nil {
		return
	}
	if err := r.observer.ObserveFeedback(r.records.Items(), r.total); err != nil {
		r.logger.Warn("training check failed", "kind", "triage", "total", r.total, "error", err)
	}
}

// Records returns the retained records, oldest first.
func (r *Recorder) Records() []types.FeedbackRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records.Items()
}

// Total returns the number of records ever recorded.
func (r *Recorder) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Has reports whether alertID has a retained feedback record.
func (r *Recorder) Has(alertID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.alerts[alertID]
	return ok
}
