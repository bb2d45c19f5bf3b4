package repository

import (
	"context"

	"github.com/turtacn/lct/internal/domain/models"
)

// KeyChain is the persisted key history of one entity. LatestVersion survives
// cleanup so version numbers are never reused.
type KeyChain struct {
	EntityID      string
	LatestVersion int
	Versions      []*models.KeyVersion
}

// KeyRepository defines the interface for key chain persistence.
type KeyRepository interface {
	// SaveChain replaces the stored chain with chain; versions absent from chain are deleted.
	SaveChain(ctx context.Context, chain *KeyChain) error
	// FindChain returns ErrEntityNotRegistered when no chain exists.
	FindChain(ctx context.Context, entityID string) (*KeyChain, error)
	ListChains(ctx context.Context) ([]*KeyChain, error)
}
