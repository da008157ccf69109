// Package relay forwards chat events to the backend and sends the rendered
// answer back to the chat the event came from.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"relaybot/internal/backend"
	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

const defaultMaxConcurrent = 5

// Backend is the subset of backend.Client the relay needs.
type Backend interface {
	Delete(ctx context.Context, userID string) error
	Converse(ctx context.Context, userID string, req domain.OutboundRequest) ([]string, error)
}

type Config struct {
	Backend       Backend
	Files         domain.FileResolver // optional
	Bus           domain.MessageBus
	Logger        *slog.Logger
	MaxConcurrent int // events handled at once by Run (default 5)
}

// Relay owns the per-event pipeline: build, call backend, render, dispatch.
type Relay struct {
	backend       Backend
	builder       *Builder
	dispatcher    *Dispatcher
	bus           domain.MessageBus
	logger        *slog.Logger
	maxConcurrent int
}

func New(cfg Config) *Relay {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Relay{
		backend:       cfg.Backend,
		builder:       NewBuilder(cfg.Files),
		dispatcher:    NewDispatcher(cfg.Bus),
		bus:           cfg.Bus,
		logger:        cfg.Logger,
		maxConcurrent: cfg.MaxConcurrent,
	}
}

// Handle relays one event and blocks until the reply has been dispatched.
func (r *Relay) Handle(ctx context.Context, ev domain.ChatEvent) {
	if ev.Done != nil {
		defer ev.Done()
	}
	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	logger := r.logger.With("event_id", ev.ID, "channel", ev.Channel, "user_id", ev.UserID)
	if ev.Content != nil {
		metrics.EventCounter(string(ev.Content.Kind())).Inc()
	}

	chunks := r.exchange(ctx, ev, logger)
	if !r.dispatcher.Dispatch(ev, chunks) {
		logger.Info("empty reply, nothing sent", "chunks", len(chunks))
		return
	}
	logger.Info("reply dispatched", "chunks", len(chunks))
}

// exchange runs the backend side of ev and returns the chunks to show the
// user. Failures are logged and become a single explanatory sentence.
func (r *Relay) exchange(ctx context.Context, ev domain.ChatEvent, logger *slog.Logger) []string {
	plan, err := r.builder.Build(ctx, ev)
	if err != nil {
		metrics.BackendFailures.Inc()
		logger.Error("could not build backend request", "err", err)
		return []string{backend.MsgRequestFailed}
	}

	start := time.Now()
	defer func() { metrics.BackendLatency.Observe(time.Since(start).Seconds()) }()

	if plan.Delete {
		metrics.BackendDeletes.Inc()
		if err := r.backend.Delete(ctx, plan.UserID); err != nil {
			metrics.BackendFailures.Inc()
			logBackendError(logger, "conversation delete failed", err)
			return []string{backend.MsgDeleteFailed}
		}
		logger.Info("conversation deleted")
		return []string{backend.MsgDeleted}
	}

	metrics.BackendConversations.Inc()
	logger.Debug("sending conversation turn",
		"message_id", plan.Request.MessageID,
		"image", plan.Request.Image,
		"query_len", len(plan.Request.Query),
	)
	chunks, err := r.backend.Converse(ctx, plan.UserID, plan.Request)
	if err != nil {
		metrics.BackendFailures.Inc()
		logBackendError(logger, "conversation failed", err)
		return []string{backend.MsgRequestFailed}
	}
	metrics.ResponseChunks.Add(int64(len(chunks)))
	return chunks
}

func logBackendError(logger *slog.Logger, msg string, err error) {
	var se *backend.StatusError
	if errors.As(err, &se) {
		logger.Error(msg, "status", se.StatusCode, "body", se.Body)
		return
	}
	logger.Error(msg, "err", err)
}
