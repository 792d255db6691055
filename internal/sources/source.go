// Package sources adapts external systems to the polling interface the
// agent drives. Each Source names the extractor tag its records are
// meant for.
package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scrypster/vigil/internal/config"
	"github.com/scrypster/vigil/internal/contextstore"
)

// ErrSource wraps failures talking to a source.
var ErrSource = errors.New("source error")

// Source is a named, pollable producer of raw records.
type Source interface {
	Name() string
	// Tag selects the extractor for this source's records.
	Tag() string
	// GetUpdates returns records changed since the given time. A zero
	// since asks for everything the source has.
	GetUpdates(ctx context.Context, since time.Time) ([]contextstore.RawRecord, error)
}

// Closer is implemented by sources holding external resources.
type Closer interface {
	Close() error
}

// FromConfig builds the source described by cfg.
func FromConfig(cfg config.SourceConfig, logger *slog.Logger) (Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Type {
	case "mcp":
		return NewMCPSource(MCPConfig{
			Name:       cfg.Name,
			Tag:        orDefault(cfg.Tag, contextstore.TagCalendar),
			Command:    cfg.Command,
			Args:       cfg.Args,
			Env:        cfg.Env,
			Tool:       cfg.Tool,
			HoursAhead: cfg.HoursAhead,
		}, logger), nil
	case "mock":
		return NewMockSource(cfg.Name, time.Now), nil
	case "file":
		return NewFileSource(cfg.Name, orDefault(cfg.Tag, contextstore.TagMock), cfg.Path), nil
	default:
		return nil, fmt.Errorf("%w: unknown source type %q", ErrSource, cfg.Type)
	}
}

// FromConfigs builds every configured source. Sources that fail to build
// are joined into the returned error; the rest are still returned.
func FromConfigs(cfgs []config.SourceConfig, logger *slog.Logger) ([]Source, error) {
	var (
		out  []Source
		errs []error
	)
	for _, c := range cfgs {
		s, err := FromConfig(c, logger)
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", c.Name, err))
			continue
		}
		out = append(out, s)
	}
	return out, errors.Join(errs...)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
