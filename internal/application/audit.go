package application

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/lct/internal/domain/models"
	"github.com/turtacn/lct/internal/domain/service"
	"github.com/turtacn/lct/pkg/constants"
	"github.com/turtacn/lct/pkg/logger"
)

const tracerName = "github.com/turtacn/lct/internal/application"

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// auditRecorder forwards lifecycle events to the configured sink. Sink
// failures are logged and never fail the operation that produced the event.
type auditRecorder struct {
	sink   service.AuditService
	logger logger.Logger
}

func (r *auditRecorder) record(ctx context.Context, event *models.AuditEvent) {
	if r == nil || r.sink == nil {
		return
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		event.WithTrace(sc.TraceID().String())
	}
	if actor, ok := ctx.Value(constants.ContextKeyActor).(string); ok && actor != "" {
		event.WithActor(actor)
	}
	if err := r.sink.LogEvent(ctx, event); err != nil {
		r.logger.Error(ctx, "Failed to record audit event", err,
			logger.String("event_type", string(event.EventType)),
			logger.String("entity_id", event.EntityID),
		)
	}
}
