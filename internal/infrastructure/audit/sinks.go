package audit

import (
	"context"

	"go.uber.org/multierr"

	"github.com/turtacn/lct/internal/domain/models"
	"github.com/turtacn/lct/internal/domain/service"
	"github.com/turtacn/lct/pkg/logger"
)

// LogSink writes audit events to the structured log.
type LogSink struct {
	logger logger.Logger
}

var _ service.AuditService = (*LogSink)(nil)

func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{logger: log.WithComponent("Audit")}
}

func (s *LogSink) LogEvent(ctx context.Context, event *models.AuditEvent) error {
	fields := []logger.Field{
		logger.String("event_id", event.EventID.String()),
		logger.String("event_type", string(event.EventType)),
		logger.String("entity_id", event.EntityID),
		logger.Bool("success", event.Success),
	}
	if event.ActorID != "" {
		fields = append(fields, logger.String("actor_id", event.ActorID))
	}
	if event.TraceID != "" {
		fields = append(fields, logger.String("trace_id", event.TraceID))
	}
	for k, v := range event.Metadata {
		fields = append(fields, logger.Any("meta."+k, v))
	}
	s.logger.Info(ctx, event.Message, fields...)
	return nil
}

// FanOut delivers every event to all sinks. A failing sink does not stop
// delivery to the others; the combined error is returned.
type FanOut struct {
	sinks []service.AuditService
}

var _ service.AuditService = (*FanOut)(nil)

func NewFanOut(sinks ...service.AuditService) *FanOut {
	kept := make([]service.AuditService, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &FanOut{sinks: kept}
}

// Len returns the number of attached sinks.
func (f *FanOut) Len() int {
	return len(f.sinks)
}

func (f *FanOut) LogEvent(ctx context.Context, event *models.AuditEvent) error {
	var err error
	for _, s := range f.sinks {
		err = multierr.Append(err, s.LogEvent(ctx, event))
	}
	return err
}
