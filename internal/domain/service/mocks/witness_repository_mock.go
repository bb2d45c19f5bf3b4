package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/turtacn/lct/internal/domain/models"
)

type MockWitnessRepository struct {
	mock.Mock
}

func (m *MockWitnessRepository) SaveAll(ctx context.Context, records []*models.WitnessRecord) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}

func (m *MockWitnessRepository) FindAll(ctx context.Context) ([]*models.WitnessRecord, error) {
	args := m.Called(ctx)
	records, _ := args.Get(0).([]*models.WitnessRecord)
	return records, args.Error(1)
}
