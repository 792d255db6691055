// Package agent drives the pipeline: poll every source concurrently,
// ingest into the context store, then generate, triage and deliver alerts.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/scrypster/vigil/internal/contextstore"
	"github.com/scrypster/vigil/internal/sources"
	"github.com/scrypster/vigil/internal/triage"
	"github.com/scrypster/vigil/pkg/types"
)

// ErrLoop marks a cycle that failed outright. Run backs off and continues.
var ErrLoop = errors.New("agent loop error")

// Ingester is the write side of the context store.
type Ingester interface {
	Ingest(ctx context.Context, source string, records []contextstore.RawRecord) ([]types.ContextEntity, error)
}

// registryOwner is implemented by *contextstore.Store.
type registryOwner interface {
	Registry() *contextstore.Registry
}

// Generator produces candidate alerts.
type Generator interface {
	Generate(ctx context.Context) []types.Alert
}

// Evaluator gates candidate alerts.
type Evaluator interface {
	Evaluate(ctx context.Context, alert types.Alert) triage.Decision
}

// Config tunes the loop.
type Config struct {
	Interval          time.Duration
	Backoff           time.Duration
	MinPollInterval   time.Duration
	DedupeTTL         time.Duration
	DedupeSize        int
	DeliveredCapacity int
}

// DefaultConfig returns a 30s cycle, 60s backoff, 10s per-source
// throttle and one hour of re-delivery suppression.
func DefaultConfig() Config {
	return Config{
		Interval:          30 * time.Second,
		Backoff:           60 * time.Second,
		MinPollInterval:   10 * time.Second,
		DedupeTTL:         time.Hour,
		DedupeSize:        4096,
		DeliveredCapacity: 1000,
	}
}

// SourceOutcome is the result of polling one source in a cycle.
type SourceOutcome struct {
	Source    string `json:"source"`
	Throttled bool   `json:"throttled,omitempty"`
	Records   int    `json:"records"`
	Entities  int    `json:"entities"`
	Err       error  `json:"-"`
}

// Report summarises one cycle.
type Report struct {
	Started    time.Time       `json:"started"`
	Sources    []SourceOutcome `json:"sources"`
	Candidates int             `json:"candidates"`
	Duplicates int             `json:"duplicates"`
	Suppressed int             `json:"suppressed"`
	Delivered  []types.Alert   `json:"delivered"`
}

// SourceErrors joins the per-source failures of the cycle.
func (r Report) SourceErrors() error {
	var errs []error
	for _, o := range r.Sources {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}

// Status is a snapshot of the loop.
type Status struct {
	Running   bool      `json:"running"`
	Cycles    int       `json:"cycles"`
	Failures  int       `json:"failures"`
	LastCycle time.Time `json:"last_cycle,omitempty"`
	Delivered int       `json:"delivered"`
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// WithDeliverer replaces the default LogDeliverer.
func WithDeliverer(d Deliverer) Option {
	return func(a *Agent) { a.deliverer = d }
}

type polled struct {
	source  sources.Source
	limiter *rate.Limiter
	last    time.Time // start of the last successful poll
}

// Agent runs the pipeline. RunOnce calls are serialised.
type Agent struct {
	cfg       Config
	store     Ingester
	generator Generator
	evaluator Evaluator
	deliverer Deliverer
	logger    *slog.Logger
	now       func() time.Time

	sources   []*polled
	seen      *expirable.LRU[string, string]
	delivered *DeliveredLog

	cycleMu sync.Mutex

	mu       sync.Mutex
	cancel   context.CancelFunc
	running  bool
	cycles   int
	failures int
	last     time.Time
}

// New wires an agent.
func New(store Ingester, gen Generator, eval Evaluator, srcs []sources.Source, cfg Config, opts ...Option) *Agent {
	a := &Agent{
		cfg:       cfg,
		store:     store,
		generator: gen,
		evaluator: eval,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.deliverer == nil {
		a.deliverer = LogDeliverer{Logger: a.logger}
	}
	if a.cfg.DedupeSize <= 0 {
		a.cfg.DedupeSize = DefaultConfig().DedupeSize
	}

	a.seen = expirable.NewLRU[string, string](a.cfg.DedupeSize, nil, a.cfg.DedupeTTL)
	a.delivered = NewDeliveredLog(a.cfg.DeliveredCapacity)

	limit := rate.Inf
	if a.cfg.MinPollInterval > 0 {
		limit = rate.Every(a.cfg.MinPollInterval)
	}
	for _, s := range srcs {
		a.sources = append(a.sources, &polled{source: s, limiter: rate.NewLimiter(limit, 1)})
	}

	// Records are ingested under the source name; route each name to its tag.
	if owner, ok := store.(registryOwner); ok {
		tags := owner.Registry().Tags()
		for _, s := range srcs {
			if !slices.Contains(tags, s.Tag()) {
				a.logger.Warn("no extractor registered for source tag; its records will be ignored",
					"source", s.Name(), "tag", s.Tag(), "known", tags)
			}
			if s.Name() != s.Tag() {
				owner.Registry().Alias(s.Name(), s.Tag())
			}
		}
	}
	return a
}

// Delivered returns a delivered alert by id.
func (a *Agent) Delivered(id string) (types.Alert, bool) { return a.delivered.Delivered(id) }

// DeliveredLog exposes the delivered-alert log.
func (a *Agent) DeliveredLog() *DeliveredLog { return a.delivered }

// Status returns a snapshot of the loop.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		Running:   a.running,
		Cycles:    a.cycles,
		Failures:  a.failures,
		LastCycle: a.last,
		Delivered: a.delivered.Len(),
	}
}

// Run cycles until ctx is cancelled or Stop is called. A failed cycle is
// logged and followed by the backoff delay instead of the interval.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: already running", ErrLoop)
	}
	a.running, a.cancel = true, cancel
	a.mu.Unlock()

	defer func() {
		cancel()
		a.mu.Lock()
		a.running, a.cancel = false, nil
		a.mu.Unlock()
	}()

	a.logger.Info("agent started", "sources", len(a.sources), "interval", a.cfg.Interval)
	for {
		delay := a.cfg.Interval
		if _, err := a.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			a.logger.Error("cycle failed, backing off", "kind", "loop", "backoff", a.cfg.Backoff, "error", err)
			delay = a.cfg.Backoff
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("agent stopped")
			return nil
		case <-timer.C:
		}
	}
	a.logger.Info("agent stopped")
	return nil
}

// Stop ends a running Run.
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
}

// RunOnce executes one cycle. Source failures are isolated and reported;
// the error is non-nil only when the cycle itself failed (a panic or a
// cancelled context).
func (a *Agent) RunOnce(ctx context.Context) (report Report, err error) {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrLoop, r)
			a.logger.Error("cycle panicked", "kind", "loop", "panic", r, "stack", string(debug.Stack()))
		}
		a.mu.Lock()
		a.cycles++
		a.last = report.Started
		if err != nil {
			a.failures++
		}
		a.mu.Unlock()
	}()

	report.Started = a.now()
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("%w: %v", ErrLoop, err)
	}

	report.Sources = a.poll(ctx, report.Started)

	candidates := a.generator.Generate(ctx)
	report.Candidates = len(candidates)

	for _, alert := range candidates {
		if _, dup := a.seen.Get(alert.Key); dup {
			report.Duplicates++
			continue
		}
		decision := a.evaluator.Evaluate(ctx, alert)
		if !decision.Deliver {
			report.Suppressed++
			a.logger.Debug("alert suppressed", "key", alert.Key, "mode", decision.Mode, "reason", decision.Reason)
			continue
		}
		if err := a.deliverer.Deliver(ctx, alert); err != nil {
			// Not marked as seen, so the next cycle retries it.
			a.logger.Warn("delivery failed", "kind", "delivery", "alert", alert.ID, "error", err)
			continue
		}
		a.seen.Add(alert.Key, alert.ID)
		a.delivered.Add(alert)
		report.Delivered = append(report.Delivered, alert)
	}

	a.logger.Info("cycle complete",
		"candidates", report.Candidates,
		"delivered", len(report.Delivered),
		"suppressed", report.Suppressed,
		"duplicates", report.Duplicates,
	)
	return report, nil
}

// poll fans out one goroutine per source and gathers every outcome.
func (a *Agent) poll(ctx context.Context, started time.Time) []SourceOutcome {
	outcomes := make([]SourceOutcome, len(a.sources))
	var wg sync.WaitGroup
	for i, p := range a.sources {
		wg.Add(1)
		go func(i int, p *polled) {
			defer wg.Done()
			outcomes[i] = a.pollOne(ctx, p, started)
		}(i, p)
	}
	wg.Wait()
	return outcomes
}

func (a *Agent) pollOne(ctx context.Context, p *polled, started time.Time) (out SourceOutcome) {
	name := p.source.Name()
	out.Source = name
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("%w: %s panicked: %v", sources.ErrSource, name, r)
			a.logger.Error("source panicked", "kind", "source", "source", name, "panic", r)
		}
	}()

	if !p.limiter.Allow() {
		out.Throttled = true
		return out
	}

	records, err := p.source.GetUpdates(ctx, p.last)
	if err != nil {
		out.Err = err
		a.logger.Warn("source poll failed", "kind", "source", "source", name, "error", err)
		return out
	}
	p.last = started
	out.Records = len(records)
	if len(records) == 0 {
		return out
	}

	entities, err := a.store.Ingest(ctx, name, records)
	out.Entities = len(entities)
	if err != nil {
		// Per-record failures were already logged by the store.
		a.logger.Debug("ingest reported isolated failures", "source", name, "error", err)
	}
	return out
}
