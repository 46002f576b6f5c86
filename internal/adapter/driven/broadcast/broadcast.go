// Package broadcast implements the Broadcaster port: a structured-log sink,
// an outgoing JSON webhook and a fan-out over several sinks.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/streamlink/internal/domain/model"
	"github.com/ericfisherdev/streamlink/internal/domain/port/driven"
)

var (
	_ driven.Broadcaster = (*LogBroadcaster)(nil)
	_ driven.Broadcaster = Fanout(nil)
)

// Text renders the human-readable announcement for an event.
func Text(event model.EventType, p model.EventPayload) string {
	switch event {
	case model.EventWentLive:
		msg := p.ExternalUsername + " is now live"
		if p.Title != "" {
			msg += ": " + p.Title
		}
		if p.Category != "" {
			msg += " (" + p.Category + ")"
		}
		return msg
	case model.EventWentOffline:
		return p.ExternalUsername + " has ended their stream"
	default:
		if p.Message != "" {
			return p.Message
		}
		return string(event)
	}
}

// LogBroadcaster writes every announcement to a slog.Logger.
type LogBroadcaster struct {
	logger *slog.Logger
}

// NewLogBroadcaster creates a LogBroadcaster. A nil logger uses slog.Default().
func NewLogBroadcaster(logger *slog.Logger) *LogBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogBroadcaster{logger: logger}
}

// Broadcast logs the announcement at Info.
func (b *LogBroadcaster) Broadcast(ctx context.Context, event model.EventType, payload model.EventPayload) error {
	b.logger.InfoContext(ctx, "announcement",
		"event", event,
		"local_id", payload.LocalID,
		"text", Text(event, payload),
	)
	return nil
}

// Fanout delivers to every sink and joins their errors. One failing sink
// does not stop delivery to the rest.
type Fanout []driven.Broadcaster

// Broadcast delivers to each sink in order.
func (f Fanout) Broadcast(ctx context.Context, event model.EventType, payload model.EventPayload) error {
	var errs []error
	for i, sink := range f {
		if err := sink.Broadcast(ctx, event, payload); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
