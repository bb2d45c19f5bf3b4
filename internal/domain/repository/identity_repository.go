package repository

import (
	"context"

	"github.com/turtacn/lct/internal/domain/models"
)

// IdentityRepository defines the interface for identity persistence.
type IdentityRepository interface {
	// Save inserts or replaces the identity.
	Save(ctx context.Context, identity *models.Identity) error
	// FindByID returns ErrEntityNotFound when the identity does not exist.
	FindByID(ctx context.Context, entityID string) (*models.Identity, error)
	List(ctx context.Context) ([]*models.Identity, error)
}

// IdentityRecordStore persists the portable JSON identity record.
type IdentityRecordStore interface {
	Save(ctx context.Context, record *models.IdentityRecord) error
	Load(ctx context.Context, entityID string) (*models.IdentityRecord, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, entityID string) error
}
