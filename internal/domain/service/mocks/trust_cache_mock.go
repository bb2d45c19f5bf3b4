package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/turtacn/lct/internal/domain/models"
)

type MockTrustSnapshotCache struct {
	mock.Mock
}

func (m *MockTrustSnapshotCache) Put(ctx context.Context, snapshot *models.TrustSnapshot) error {
	args := m.Called(ctx, snapshot)
	return args.Error(0)
}

func (m *MockTrustSnapshotCache) Get(ctx context.Context, entityID string) (*models.TrustSnapshot, error) {
	args := m.Called(ctx, entityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TrustSnapshot), args.Error(1)
}

func (m *MockTrustSnapshotCache) Invalidate(ctx context.Context, entityID string) error {
	args := m.Called(ctx, entityID)
	return args.Error(0)
}
