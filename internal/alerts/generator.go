// Package alerts runs detector rules over the context store and produces
// candidate alerts for triage.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scrypster/vigil/internal/contextstore"
	"github.com/scrypster/vigil/pkg/types"
)

// ErrDetector wraps a failure (or panic) inside a single detector.
var ErrDetector = errors.New("detector error")

// Context keys set by the built-in detectors and read by triage.
const (
	KeyRelevance = "relevance"
	KeyUrgency   = "urgency"
)

// Detector is an independent rule. Detectors only read the store and never
// share mutable state with each other.
type Detector interface {
	Name() string
	Detect(ctx context.Context, r contextstore.Reader, now time.Time) ([]types.Alert, error)
}

// Config holds detector tuning.
type Config struct {
	LookAhead        time.Duration
	ConflictBuffer   time.Duration
	FollowUpLookBack time.Duration
	HistoryCapacity  int
}

// DefaultConfig returns the default detector tuning.
func DefaultConfig() Config {
	return Config{
		LookAhead:        2 * time.Hour,
		ConflictBuffer:   15 * time.Minute,
		FollowUpLookBack: 24 * time.Hour,
		HistoryCapacity:  500,
	}
}

// Option configures a Generator.
type Option func(*Generator)

// WithDetectors replaces the default detector list.
func WithDetectors(d ...Detector) Option {
	return func(g *Generator) { g.detectors = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// Generator runs its detectors in a fixed order.
type Generator struct {
	reader    contextstore.Reader
	detectors []Detector
	history   *History
	logger    *slog.Logger
	now       func() time.Time
}

// NewGenerator builds a generator with the meeting-prep, schedule-conflict
// and follow-up detectors, in that order.
func NewGenerator(reader contextstore.Reader, cfg Config, opts ...Option) *Generator {
	g := &Generator{
		reader: reader,
		detectors: []Detector{
			&MeetingPrep{LookAhead: cfg.LookAhead},
			&ScheduleConflict{Buffer: cfg.ConflictBuffer},
			&FollowUp{LookBack: cfg.FollowUpLookBack},
		},
		history: NewHistory(cfg.HistoryCapacity),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate runs every detector and concatenates their alerts. A failing
// detector contributes nothing and is logged.
func (g *Generator) Generate(ctx context.Context) []types.Alert {
	now := g.now()
	var out []types.Alert
	for _, d := range g.detectors {
		alerts, err := runDetector(ctx, d, g.reader, now)
		if err != nil {
			g.logger.Warn("detector failed", "kind", "detector", "detector", d.Name(), "error", err)
			continue
		}
		for i := range alerts {
			alerts[i].Confidence = types.ClampUnit(alerts[i].Confidence)
		}
		out = append(out, alerts...)
	}
	g.history.Add(out...)
	return out
}

// History returns the log of generated alerts.
func (g *Generator) History() *History { return g.history }

// Detectors lists detector names in run order.
func (g *Generator) Detectors() []string {
	names := make([]string, len(g.detectors))
	for i, d := range g.detectors {
		names[i] = d.Name()
	}
	return names
}

func runDetector(ctx context.Context, d Detector, r contextstore.Reader, now time.Time) (alerts []types.Alert, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			alerts = nil
			err = fmt.Errorf("%w: %s panicked: %v", ErrDetector, d.Name(), rec)
		}
	}()
	alerts, err = d.Detect(ctx, r, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDetector, d.Name(), err)
	}
	return alerts, nil
}
