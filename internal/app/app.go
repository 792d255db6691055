// Package app wires configuration into a running pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/scrypster/vigil/internal/agent"
	"github.com/scrypster/vigil/internal/alerts"
	"github.com/scrypster/vigil/internal/config"
	"github.com/scrypster/vigil/internal/contextstore"
	"github.com/scrypster/vigil/internal/encoder"
	"github.com/scrypster/vigil/internal/feedback"
	"github.com/scrypster/vigil/internal/notify"
	"github.com/scrypster/vigil/internal/server"
	"github.com/scrypster/vigil/internal/sources"
	"github.com/scrypster/vigil/internal/triage"
	"github.com/scrypster/vigil/internal/vectorindex"
	"github.com/scrypster/vigil/internal/vectorindex/duckdb"
	"github.com/scrypster/vigil/internal/vectorindex/postgres"
	"github.com/scrypster/vigil/internal/vectorindex/sqlite"
)

// ErrStartup marks a condition that prevents the pipeline from starting,
// such as an encoder that never answers.
var ErrStartup = errors.New("startup failed")

// Options adjust wiring for commands and tests.
type Options struct {
	// Sources replaces the configured sources when non-nil.
	Sources []sources.Source
	// Deliverers are added next to the log deliverer.
	Deliverers []agent.Deliverer
	// ProbeDelay is the wait between encoder probe attempts (default 2s).
	ProbeDelay time.Duration
	Now        func() time.Time
}

// App holds every wired component.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Encoder   encoder.Encoder
	Index     vectorindex.Index
	Store     *contextstore.Store
	Generator *alerts.Generator
	Triage    *triage.Triage
	Recorder  *feedback.Recorder
	Agent     *agent.Agent
	Hub       *notify.Hub
	Inbox     *feedback.Inbox
	Sources   []sources.Source

	feedbackStore feedback.Store
	hubRunning    bool
}

// New builds the pipeline described by cfg. The encoder is probed first;
// a permanently unavailable encoder is an ErrStartup.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ProbeDelay <= 0 {
		opts.ProbeDelay = 2 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	a := &App{Config: cfg, Logger: logger}

	enc, err := encoder.New(cfg.Encoder)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStartup, err)
	}
	dim, err := encoder.Probe(ctx, enc, cfg.Encoder.ProbeAttempts, opts.ProbeDelay)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStartup, err)
	}
	logger.Info("encoder ready", "model", enc.Model(), "dimension", dim)
	a.Encoder = enc

	if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", ErrStartup, err)
	}
	if a.Index, err = OpenIndex(cfg.Storage); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStartup, err)
	}

	a.Store = contextstore.New(enc, a.Index,
		contextstore.WithHistoryCapacity(cfg.Context.HistoryCapacity),
		contextstore.WithLogger(logger),
		contextstore.WithClock(opts.Now),
	)
	a.Generator = alerts.NewGenerator(a.Store, alerts.Config{
		LookAhead:        cfg.Alerts.LookAhead,
		ConflictBuffer:   cfg.Alerts.ConflictBuffer,
		FollowUpLookBack: cfg.Alerts.FollowUpLookBack,
		HistoryCapacity:  cfg.Alerts.HistoryCapacity,
	}, alerts.WithLogger(logger), alerts.WithClock(opts.Now))

	triageOpts := []triage.Option{triage.WithLogger(logger), triage.WithClock(opts.Now)}
	if cfg.Triage.Availability == "meetings" {
		triageOpts = append(triageOpts, triage.WithAvailability(triage.MeetingAvailability{Reader: a.Store, Now: opts.Now}))
	}
	a.Triage = triage.New(triage.Config{
		BusinessStartHour:  cfg.Triage.BusinessStartHour,
		BusinessEndHour:    cfg.Triage.BusinessEndHour,
		RelevanceThreshold: cfg.Triage.RelevanceThreshold,
		MinVotes:           cfg.Triage.MinVotes,
		TrainThreshold:     cfg.Triage.TrainThreshold,
		RetrainEvery:       cfg.Triage.RetrainEvery,
		Location:           time.Local,
	}, triageOpts...)

	recOpts := []feedback.Option{feedback.WithCapacity(cfg.Feedback.Capacity), feedback.WithLogger(logger)}
	if cfg.Storage.PersistFeedback {
		fs, err := feedback.NewSQLiteStore(filepath.Join(cfg.Storage.DataPath, "feedback.db"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("%w: %v", ErrStartup, err)
		}
		a.feedbackStore = fs
		recOpts = append(recOpts, feedback.WithStore(fs))
	}
	a.Recorder = feedback.NewRecorder(a.Triage, recOpts...)
	if _, err := a.Recorder.Load(ctx); err != nil {
		logger.Warn("feedback log not loaded", "error", err)
	}

	if opts.Sources != nil {
		a.Sources = opts.Sources
	} else {
		a.Sources, err = sources.FromConfigs(cfg.Sources, logger)
		if err != nil {
			logger.Warn("some sources were not configured", "error", err)
		}
	}

	a.Hub = notify.NewHub(logger, "localhost:*", "127.0.0.1:*")
	deliverers := agent.MultiDeliverer{agent.LogDeliverer{Logger: logger}, a.Hub}
	if cfg.Agent.EventFiles {
		deliverers = append(deliverers, notify.NewEventWriter(cfg.Storage.DataPath))
	}
	deliverers = append(deliverers, opts.Deliverers...)

	a.Agent = agent.New(a.Store, a.Generator, a.Triage, a.Sources, agent.Config{
		Interval:          cfg.Agent.Interval,
		Backoff:           cfg.Agent.Backoff,
		MinPollInterval:   cfg.Agent.MinPollInterval,
		DedupeTTL:         cfg.Agent.DedupeTTL,
		DedupeSize:        cfg.Agent.DedupeSize,
		DeliveredCapacity: cfg.Agent.DeliveredCapacity,
	}, agent.WithDeliverer(deliverers), agent.WithLogger(logger), agent.WithClock(opts.Now))

	if cfg.Feedback.Inbox {
		a.Inbox = feedback.NewInbox(cfg.Storage.DataPath, a.Recorder, a.Agent.DeliveredLog(), logger)
	}
	return a, nil
}

// OpenIndex opens the configured vector index backend.
func OpenIndex(cfg config.StorageConfig) (vectorindex.Index, error) {
	switch cfg.IndexBackend {
	case "memory":
		return vectorindex.NewMemory(), nil
	case "sqlite", "":
		return sqlite.New(filepath.Join(cfg.DataPath, "vectors.db"))
	case "postgres":
		return postgres.New(cfg.PostgresDSN)
	case "duckdb":
		return duckdb.New(filepath.Join(cfg.DataPath, "vectors.duckdb"))
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.IndexBackend)
	}
}

// Server builds the HTTP API over the wired components.
func (a *App) Server() *server.Server {
	return server.New(a.Config.Server, server.Deps{
		Context:  a.Store,
		Alerts:   a.Agent.DeliveredLog(),
		Recorder: a.Recorder,
		Triage:   a.Triage,
		Agent:    a.Agent,
		Hub:      a.Hub,
		Logger:   a.Logger,
	})
}

// Run starts the hub, the feedback inbox and the HTTP API, then runs the
// agent until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	go a.Hub.Run()
	a.hubRunning = true

	if a.Inbox != nil {
		if err := a.Inbox.Start(); err != nil {
			a.Logger.Warn("feedback inbox disabled", "error", err)
			a.Inbox = nil
		}
	}
	if a.Config.Server.Enabled {
		if _, err := a.Server().Start(ctx); err != nil {
			return err
		}
	}
	return a.Agent.Run(ctx)
}

// Close releases every resource. It is safe to call on a partially
// built App.
func (a *App) Close() error {
	var errs []error
	if a.Inbox != nil {
		a.Inbox.Stop()
	}
	if a.Hub != nil && a.hubRunning {
		a.Hub.Stop()
		a.hubRunning = false
	}
	for _, s := range a.Sources {
		if c, ok := s.(sources.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close source %s: %w", s.Name(), err))
			}
		}
	}
	if a.feedbackStore != nil {
		if err := a.feedbackStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close feedback store: %w", err))
		}
		a.feedbackStore = nil
	}
	if a.Index != nil {
		if err := a.Index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close index: %w", err))
		}
		a.Index = nil
	}
	return errors.Join(errs...)
}
