package database

import (
	"context"
	stderrors "errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/turtacn/lct/internal/domain/repository"
	"github.com/turtacn/lct/internal/domain/service"
	"github.com/turtacn/lct/pkg/errors"
	"github.com/turtacn/lct/pkg/logger"
)

// KeyRepositoryImpl stores key chains as a head row (lct_key_chains) plus one
// row per version (lct_key_versions). Private keys never reach this table;
// only the provider reference is stored.
type KeyRepositoryImpl struct {
	db      *gorm.DB
	metrics service.Metrics
	logger  logger.Logger
}

// NewKeyRepository creates a gorm-backed key chain repository.
func NewKeyRepository(conn *Connection, metrics service.Metrics, log logger.Logger) repository.KeyRepository {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	return &KeyRepositoryImpl{db: conn.DB(), metrics: metrics, logger: log.WithComponent("KeyRepository")}
}

// SaveChain replaces the stored chain inside one transaction.
func (r *KeyRepositoryImpl) SaveChain(ctx context.Context, chain *repository.KeyChain) error {
	defer r.observe("key_chain_save", time.Now())

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		head := keyChainRow{EntityID: chain.EntityID, LatestVersion: chain.LatestVersion, UpdatedAt: time.Now().UTC()}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entity_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"latest_version", "updated_at"}),
		}).Create(&head).Error; err != nil {
			return err
		}

		keep := make([]int, 0, len(chain.Versions))
		rows := make([]keyVersionRow, 0, len(chain.Versions))
		for _, v := range chain.Versions {
			keep = append(keep, v.Version)
			rows = append(rows, toKeyVersionRow(v))
		}

		stale := tx.Where("entity_id = ?", chain.EntityID)
		if len(keep) > 0 {
			stale = stale.Where("version NOT IN ?", keep)
		}
		if err := stale.Delete(&keyVersionRow{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entity_id"}, {Name: "version"}},
			UpdateAll: true,
		}).Create(&rows).Error
	})
	if err != nil {
		r.logger.Error(ctx, "Failed to save key chain", err, logger.String("entity_id", chain.EntityID))
		return errors.ErrPersistence("save key chain", err)
	}
	return nil
}

// FindChain loads one chain with its versions in ascending order.
func (r *KeyRepositoryImpl) FindChain(ctx context.Context, entityID string) (*repository.KeyChain, error) {
	defer r.observe("key_chain_find", time.Now())

	var head keyChainRow
	err := r.db.WithContext(ctx).Where("entity_id = ?", entityID).First(&head).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrEntityNotRegistered(entityID)
	}
	if err != nil {
		return nil, errors.ErrPersistence("find key chain", err)
	}

	var versions []keyVersionRow
	if err := r.db.WithContext(ctx).Where("entity_id = ?", entityID).Order("version").Find(&versions).Error; err != nil {
		return nil, errors.ErrPersistence("find key versions", err)
	}
	return chainFromRows(head, versions), nil
}

// ListChains loads every chain. Versions are fetched in one query and grouped.
func (r *KeyRepositoryImpl) ListChains(ctx context.Context) ([]*repository.KeyChain, error) {
	defer r.observe("key_chain_list", time.Now())

	var heads []keyChainRow
	if err := r.db.WithContext(ctx).Order("entity_id").Find(&heads).Error; err != nil {
		return nil, errors.ErrPersistence("list key chains", err)
	}
	var versions []keyVersionRow
	if err := r.db.WithContext(ctx).Order("entity_id").Order("version").Find(&versions).Error; err != nil {
		return nil, errors.ErrPersistence("list key versions", err)
	}

	byEntity := make(map[string][]keyVersionRow, len(heads))
	for _, v := range versions {
		byEntity[v.EntityID] = append(byEntity[v.EntityID], v)
	}
	chains := make([]*repository.KeyChain, 0, len(heads))
	for _, head := range heads {
		chains = append(chains, chainFromRows(head, byEntity[head.EntityID]))
	}
	return chains, nil
}

func (r *KeyRepositoryImpl) observe(op string, start time.Time) {
	r.metrics.RecordDBQuery(op, time.Since(start))
}
