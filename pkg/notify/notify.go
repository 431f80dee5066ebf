// Package notify delivers advisories from the token layer to people: the log,
// a webhook, or several sinks at once.
package notify

import (
	"context"
	"log/slog"

	"github.com/cecil-the-coder/auth-resilience-kit/pkg/types"
)

// LogSink writes advisories to a slog.Logger
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink; a nil logger uses slog.Default()
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "advisory")}
}

func (s *LogSink) Advise(advisory types.Advisory) {
	attrs := []any{"kind", advisory.Kind, "actions", advisory.Actions}
	if advisory.Remaining > 0 {
		attrs = append(attrs, "remaining_minutes", advisory.Remaining)
	}

	switch advisory.Kind {
	case types.AdvisoryBlocked, types.AdvisoryPurged:
		s.logger.Warn(advisory.Message, attrs...)
	default:
		s.logger.Info(advisory.Message, attrs...)
	}
}

// Multi fans an advisory out to every sink in order
type Multi []types.NotificationSink

func (m Multi) Advise(advisory types.Advisory) {
	for _, sink := range m {
		if sink != nil {
			sink.Advise(advisory)
		}
	}
}

// StaticConfirmer answers every consent request the same way
type StaticConfirmer bool

func (c StaticConfirmer) Confirm(ctx context.Context, advisory types.Advisory) bool {
	return bool(c)
}

// ConfirmerFunc adapts a function to types.Confirmer
type ConfirmerFunc func(ctx context.Context, advisory types.Advisory) bool

func (f ConfirmerFunc) Confirm(ctx context.Context, advisory types.Advisory) bool {
	return f(ctx, advisory)
}

var (
	_ types.NotificationSink = (*LogSink)(nil)
	_ types.NotificationSink = Multi(nil)
	_ types.Confirmer        = StaticConfirmer(false)
	_ types.Confirmer        = ConfirmerFunc(nil)
)
