package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/turtacn/lct/internal/domain/repository"
)

type MockKeyRepository struct {
	mock.Mock
}

func (m *MockKeyRepository) SaveChain(ctx context.Context, chain *repository.KeyChain) error {
	args := m.Called(ctx, chain)
	return args.Error(0)
}

func (m *MockKeyRepository) FindChain(ctx context.Context, entityID string) (*repository.KeyChain, error) {
	args := m.Called(ctx, entityID)
	chain, _ := args.Get(0).(*repository.KeyChain)
	return chain, args.Error(1)
}

func (m *MockKeyRepository) ListChains(ctx context.Context) ([]*repository.KeyChain, error) {
	args := m.Called(ctx)
	chains, _ := args.Get(0).([]*repository.KeyChain)
	return chains, args.Error(1)
}
