package poslicense

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock sets the time source. Default: time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the structured logger. Default: slog.Default() tagged
// with component=license.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider used for engine
// and ledger counters. Default: the global provider.
func WithMeterProvider(mp metric.MeterProvider) EngineOption {
	return func(e *Engine) {
		e.meterProvider = mp
	}
}
