package repository

import (
	"context"

	"github.com/turtacn/lct/internal/domain/models"
)

// WitnessRepository defines the interface for witness registry persistence.
type WitnessRepository interface {
	SaveAll(ctx context.Context, records []*models.WitnessRecord) error
	FindAll(ctx context.Context) ([]*models.WitnessRecord, error)
}
