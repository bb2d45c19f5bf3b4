// Package audit provides the audit event sinks: database, Kafka and log,
// plus fan-out and HMAC signing decorators.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/turtacn/lct/internal/domain/models"
	"github.com/turtacn/lct/internal/domain/service"
	"github.com/turtacn/lct/pkg/constants"
	"github.com/turtacn/lct/pkg/errors"
)

type auditRow struct {
	EventID   string    `gorm:"primaryKey;size:36"`
	EventType string    `gorm:"size:64;index"`
	EntityID  string    `gorm:"size:64;index"`
	ActorID   string    `gorm:"size:128"`
	Success   bool      `gorm:"not null"`
	Message   string    `gorm:"type:text"`
	TraceID   string    `gorm:"size:32"`
	Metadata  string    `gorm:"type:text"`
	Signature string    `gorm:"size:64"`
	Timestamp time.Time `gorm:"column:occurred_at;index"`
}

func (auditRow) TableName() string {
	return "lct_audit_events"
}

// GormAuditService appends audit events to a relational table.
type GormAuditService struct {
	db *gorm.DB
}

var _ service.AuditService = (*GormAuditService)(nil)

// NewGormAuditService creates the sink and migrates its table.
func NewGormAuditService(ctx context.Context, db *gorm.DB) (*GormAuditService, error) {
	if err := db.WithContext(ctx).AutoMigrate(&auditRow{}); err != nil {
		return nil, errors.ErrPersistence("migrate audit table", err)
	}
	return &GormAuditService{db: db}, nil
}

// LogEvent inserts the event.
func (s *GormAuditService) LogEvent(ctx context.Context, event *models.AuditEvent) error {
	row := auditRow{
		EventID:   event.EventID.String(),
		EventType: string(event.EventType),
		EntityID:  event.EntityID,
		ActorID:   event.ActorID,
		Success:   event.Success,
		Message:   event.Message,
		TraceID:   event.TraceID,
		Metadata:  string(event.MetadataJSON()),
		Signature: event.Signature,
		Timestamp: event.Timestamp.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return errors.ErrPersistence("insert audit event", err)
	}
	return nil
}

// ListByEntity returns the most recent events of an entity, newest first.
func (s *GormAuditService) ListByEntity(ctx context.Context, entityID string, limit int) ([]*models.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []auditRow
	err := s.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errors.ErrPersistence("list audit events", err)
	}

	events := make([]*models.AuditEvent, 0, len(rows))
	for _, r := range rows {
		ev, err := r.toModel()
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (r auditRow) toModel() (*models.AuditEvent, error) {
	id, err := uuid.Parse(r.EventID)
	if err != nil {
		return nil, errors.ErrPersistence("decode audit event id", err)
	}
	ev := &models.AuditEvent{
		EventID:   id,
		EventType: constants.AuditEventType(r.EventType),
		EntityID:  r.EntityID,
		ActorID:   r.ActorID,
		Success:   r.Success,
		Message:   r.Message,
		TraceID:   r.TraceID,
		Signature: r.Signature,
		Timestamp: r.Timestamp.UTC(),
	}
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &ev.Metadata); err != nil {
			return nil, errors.ErrPersistence("decode audit metadata", err)
		}
	}
	return ev, nil
}
