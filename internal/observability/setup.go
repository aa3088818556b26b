package observability

import (
	"context"
	"log/slog"

	"github.com/honeynil/MoneyMitra/internal/infrastructure/observability"
)

// Setup initialises logs, metrics and traces. The returned function flushes traces.
func Setup(ctx context.Context, serviceName, logLevel, otlpEndpoint string) func(context.Context) error {
	observability.InitLogger(logLevel)
	observability.InitMetrics()
	shutdown, err := observability.InitTracing(ctx, serviceName, otlpEndpoint)
	if err != nil {
		slog.Error("failed to initialise tracing, continuing without it", "error", err)
		return func(context.Context) error { return nil }
	}
	return shutdown
}
