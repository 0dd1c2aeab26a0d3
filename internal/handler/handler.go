// File: internal/handler/handler.go
package handler

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/chain-event-indexer/internal/models"
	"github.com/smartdevs17/chain-event-indexer/pkg/utils"
)

// Handler applies the business effect of one indexed event. Implementations
// must be idempotent: the same event may be applied more than once across
// retries and restarts.
type Handler interface {
	// Name identifies the handler in logs and status output
	Name() string
	// Apply performs the business effect. A non-nil error marks the event
	// failed and eligible for the retry sweep.
	Apply(ctx context.Context, event *models.IndexedEvent) error
}

// Router dispatches events to the handler registered for their schema kind.
// Events with no registered handler, and events that decoded to Unknown,
// are accepted as successful no-ops: the durable event row is the product,
// business handling is optional on top.
type Router struct {
	handlers map[models.SchemaKind][]Handler
	logger   *logrus.Entry
}

// NewRouter creates an empty handler router
func NewRouter() *Router {
	return &Router{
		handlers: make(map[models.SchemaKind][]Handler),
		logger:   utils.ComponentLogger("handler"),
	}
}

// Register adds a handler for a schema kind. A schema can carry several
// handlers; each sees every event of that schema.
func (r *Router) Register(schema models.SchemaKind, h Handler) {
	r.handlers[schema] = append(r.handlers[schema], h)
	r.logger.WithFields(logrus.Fields{
		"schema":  schema,
		"handler": h.Name(),
	}).Debug("Handler registered")
}

// Dispatch routes one event through every handler registered for its schema.
// The first handler error marks the whole dispatch failed; a later retry
// re-applies all handlers, which is safe because handlers are idempotent.
func (r *Router) Dispatch(ctx context.Context, event *models.IndexedEvent) error {
	if event.Args.IsUnknown() {
		r.logger.WithFields(logrus.Fields{
			"event_id":   event.ID,
			"event_name": event.EventName,
		}).Debug("Skipping unknown event")
		return nil
	}

	for _, h := range r.handlers[event.Args.Schema] {
		if err := h.Apply(ctx, event); err != nil {
			return err
		}
	}

	return nil
}
