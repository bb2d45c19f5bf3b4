package database

import (
	"context"
	stderrors "errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/turtacn/lct/internal/domain/models"
	"github.com/turtacn/lct/internal/domain/repository"
	"github.com/turtacn/lct/internal/domain/service"
	"github.com/turtacn/lct/pkg/errors"
	"github.com/turtacn/lct/pkg/logger"
)

// IdentityRepositoryImpl stores identities in lct_identities. Attestations and
// vouchers are kept as JSON columns; they are append-only and always read whole.
type IdentityRepositoryImpl struct {
	db      *gorm.DB
	metrics service.Metrics
	logger  logger.Logger
}

// NewIdentityRepository creates a gorm-backed identity repository.
func NewIdentityRepository(conn *Connection, metrics service.Metrics, log logger.Logger) repository.IdentityRepository {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	return &IdentityRepositoryImpl{db: conn.DB(), metrics: metrics, logger: log.WithComponent("IdentityRepository")}
}

// Save inserts the identity or replaces the stored copy.
func (r *IdentityRepositoryImpl) Save(ctx context.Context, identity *models.Identity) error {
	defer r.observe("identity_save", time.Now())

	row, err := toIdentityRow(identity)
	if err != nil {
		return errors.ErrPersistence("encode identity", err)
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "entity_id"}}, UpdateAll: true}).
		Create(row).Error
	if err != nil {
		r.logger.Error(ctx, "Failed to save identity", err, logger.String("entity_id", identity.EntityID))
		return errors.ErrPersistence("save identity", err)
	}
	return nil
}

// FindByID loads one identity.
func (r *IdentityRepositoryImpl) FindByID(ctx context.Context, entityID string) (*models.Identity, error) {
	defer r.observe("identity_find", time.Now())

	var row identityRow
	err := r.db.WithContext(ctx).Where("entity_id = ?", entityID).First(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrEntityNotFound(entityID)
	}
	if err != nil {
		return nil, errors.ErrPersistence("find identity", err)
	}
	identity, err := row.toModel()
	if err != nil {
		return nil, errors.ErrPersistence("decode identity", err)
	}
	return identity, nil
}

// List returns every stored identity ordered by id.
func (r *IdentityRepositoryImpl) List(ctx context.Context) ([]*models.Identity, error) {
	defer r.observe("identity_list", time.Now())

	var rows []identityRow
	if err := r.db.WithContext(ctx).Order("entity_id").Find(&rows).Error; err != nil {
		return nil, errors.ErrPersistence("list identities", err)
	}
	out := make([]*models.Identity, 0, len(rows))
	for i := range rows {
		identity, err := rows[i].toModel()
		if err != nil {
			return nil, errors.ErrPersistence("decode identity", err).WithMetadata("entity_id", rows[i].EntityID)
		}
		out = append(out, identity)
	}
	return out, nil
}

func (r *IdentityRepositoryImpl) observe(op string, start time.Time) {
	r.metrics.RecordDBQuery(op, time.Since(start))
}
