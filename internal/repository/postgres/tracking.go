package repository

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/honeynil/MoneyMitra/internal/infrastructure/observability"
	pkgerrors "github.com/honeynil/MoneyMitra/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// startCall opens a span for a repository method. The returned func records the
// outcome in the span and in the repository metrics.
func startCall(ctx context.Context, method string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := otel.Tracer("ledger-repository").Start(ctx, method)
	span.SetAttributes(attrs...)
	start := time.Now()

	return ctx, func(err error) {
		status := "success"
		switch {
		case err == nil:
		case stderrors.Is(err, pkgerrors.ErrProfileNotFound):
			status = "not_found"
		case stderrors.Is(err, pkgerrors.ErrConflict):
			status = "conflict"
		default:
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues(method, status).Inc()
		observability.RepositoryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		span.End()
	}
}
