package database

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/turtacn/lct/internal/domain/models"
	"github.com/turtacn/lct/internal/domain/repository"
	"github.com/turtacn/lct/internal/domain/service"
	"github.com/turtacn/lct/pkg/errors"
	"github.com/turtacn/lct/pkg/logger"
)

// WitnessRepositoryImpl stores the witness registry snapshot in lct_witnesses.
type WitnessRepositoryImpl struct {
	db      *gorm.DB
	metrics service.Metrics
	logger  logger.Logger
}

// NewWitnessRepository creates a gorm-backed witness repository.
func NewWitnessRepository(conn *Connection, metrics service.Metrics, log logger.Logger) repository.WitnessRepository {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	return &WitnessRepositoryImpl{db: conn.DB(), metrics: metrics, logger: log.WithComponent("WitnessRepository")}
}

// SaveAll upserts every record. Witnesses missing from records are kept; the
// registry never forgets a witness.
func (r *WitnessRepositoryImpl) SaveAll(ctx context.Context, records []*models.WitnessRecord) error {
	defer r.observe("witness_save_all", time.Now())
	if len(records) == 0 {
		return nil
	}

	rows := make([]witnessRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, witnessRow{
			WitnessID:  rec.WitnessID,
			TrustScore: rec.TrustScore,
			History:    encodeHistory(rec.History),
			UpdatedAt:  rec.UpdatedAt.UTC(),
		})
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "witness_id"}}, UpdateAll: true}).
		CreateInBatches(rows, 200).Error
	if err != nil {
		r.logger.Error(ctx, "Failed to save witness registry", err, logger.Int("count", len(rows)))
		return errors.ErrPersistence("save witnesses", err)
	}
	return nil
}

// FindAll returns every stored witness ordered by id.
func (r *WitnessRepositoryImpl) FindAll(ctx context.Context) ([]*models.WitnessRecord, error) {
	defer r.observe("witness_find_all", time.Now())

	var rows []witnessRow
	if err := r.db.WithContext(ctx).Order("witness_id").Find(&rows).Error; err != nil {
		return nil, errors.ErrPersistence("list witnesses", err)
	}
	out := make([]*models.WitnessRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, &models.WitnessRecord{
			WitnessID:  row.WitnessID,
			TrustScore: row.TrustScore,
			History:    decodeHistory(row.History),
			UpdatedAt:  row.UpdatedAt.UTC(),
		})
	}
	return out, nil
}

func (r *WitnessRepositoryImpl) observe(op string, start time.Time) {
	r.metrics.RecordDBQuery(op, time.Since(start))
}
