package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/lct/internal/config"
	"github.com/turtacn/lct/internal/domain/models"
	"github.com/turtacn/lct/internal/domain/service"
	"github.com/turtacn/lct/pkg/errors"
	"github.com/turtacn/lct/pkg/logger"
)

// messageWriter is the part of *kafka.Writer the producer relies on.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer publishes audit events to a Kafka topic, keyed by entity id
// so the events of one entity stay ordered within a partition.
type KafkaProducer struct {
	writer messageWriter
	logger logger.Logger
}

var _ service.AuditService = (*KafkaProducer)(nil)

// NewKafkaProducer creates a producer for cfg.Topic on cfg.Brokers.
func NewKafkaProducer(cfg *config.KafkaConfig, log logger.Logger) (*KafkaProducer, error) {
	if cfg == nil || len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.ErrInvalidArgument("kafka.brokers and kafka.topic are required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 10 * time.Second,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafkaProducer(writer, log), nil
}

func newKafkaProducer(w messageWriter, log logger.Logger) *KafkaProducer {
	return &KafkaProducer{
		writer: w,
		logger: log.WithComponent("KafkaProducer"),
	}
}

// LogEvent sends an audit event to the topic.
func (p *KafkaProducer) LogEvent(ctx context.Context, event *models.AuditEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return errors.ErrInternal("encode audit event: " + err.Error())
	}

	msg := kafka.Message{
		Key:   []byte(event.EntityID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
		Time: event.Timestamp,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error(ctx, "Failed to write audit event to Kafka", err,
			logger.String("event_type", string(event.EventType)))
		return errors.ErrPersistence("publish audit event", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
