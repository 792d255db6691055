package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/scrypster/vigil/pkg/types"
)

// Deliverer hands a delivered alert to the user. *notify.Hub and
// *notify.EventWriter implement it.
type Deliverer interface {
	Name() string
	Deliver(ctx context.Context, alert types.Alert) error
}

// LogDeliverer writes delivered alerts to a structured log.
type LogDeliverer struct {
	Logger *slog.Logger
}

// Name implements Deliverer.
func (LogDeliverer) Name() string { return "log" }

// Deliver implements Deliverer.
func (d LogDeliverer) Deliver(ctx context.Context, alert types.Alert) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "ALERT",
		"id", alert.ID,
		"type", alert.Type,
		"priority", alert.Priority.String(),
		"title", alert.Title,
		"message", alert.Message,
		"actions", alert.SuggestedActions,
	)
	return nil
}

// MultiDeliverer delivers to every member. A failing member does not stop
// the others; the failures are joined.
type MultiDeliverer []Deliverer

// Name implements Deliverer.
func (MultiDeliverer) Name() string { return "multi" }

// Deliver implements Deliverer.
func (m MultiDeliverer) Deliver(ctx context.Context, alert types.Alert) error {
	var errs []error
	for _, d := range m {
		if err := d.Deliver(ctx, alert); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
		}
	}
	return errors.Join(errs...)
}
