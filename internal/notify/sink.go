// Package notify delivers operator-facing notifications. Delivery is best
// effort: a sink failure is logged and never propagated into the trading
// path.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/logger"
)

// Sink receives operator notifications.
type Sink interface {
	Notify(ctx context.Context, text string)
}

// LoggerSink writes notifications to the log. It is the fallback when no
// external channel is configured.
type LoggerSink struct {
	logger *logger.Logger
}

// NewLoggerSink creates a log-backed sink.
func NewLoggerSink(log *logger.Logger) *LoggerSink {
	return &LoggerSink{logger: log}
}

func (s *LoggerSink) Notify(_ context.Context, text string) {
	s.logger.Info("notification", zap.String("text", text))
}

// MultiSink fans one notification out to every child sink.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a fan-out sink.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (s *MultiSink) Notify(ctx context.Context, text string) {
	for _, sink := range s.sinks {
		sink.Notify(ctx, text)
	}
}
