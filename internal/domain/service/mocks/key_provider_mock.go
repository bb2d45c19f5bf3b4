package mocks

import (
	"context"
	"crypto/ed25519"

	"github.com/stretchr/testify/mock"
)

type MockKeyProvider struct {
	mock.Mock
}

func (m *MockKeyProvider) Name() string {
	return "mock"
}

func (m *MockKeyProvider) GenerateKey(ctx context.Context) (string, ed25519.PublicKey, error) {
	args := m.Called(ctx)
	pub, _ := args.Get(1).(ed25519.PublicKey)
	return args.String(0), pub, args.Error(2)
}

func (m *MockKeyProvider) ImportKey(ctx context.Context, privateKey ed25519.PrivateKey) (string, ed25519.PublicKey, error) {
	args := m.Called(ctx, privateKey)
	pub, _ := args.Get(1).(ed25519.PublicKey)
	return args.String(0), pub, args.Error(2)
}

func (m *MockKeyProvider) Sign(ctx context.Context, keyRef string, data []byte) ([]byte, error) {
	args := m.Called(ctx, keyRef, data)
	sig, _ := args.Get(0).([]byte)
	return sig, args.Error(1)
}

func (m *MockKeyProvider) PublicKey(ctx context.Context, keyRef string) (ed25519.PublicKey, error) {
	args := m.Called(ctx, keyRef)
	pub, _ := args.Get(0).(ed25519.PublicKey)
	return pub, args.Error(1)
}

func (m *MockKeyProvider) ExportKey(ctx context.Context, keyRef string) (ed25519.PrivateKey, error) {
	args := m.Called(ctx, keyRef)
	priv, _ := args.Get(0).(ed25519.PrivateKey)
	return priv, args.Error(1)
}

func (m *MockKeyProvider) DestroyKey(ctx context.Context, keyRef string) error {
	args := m.Called(ctx, keyRef)
	return args.Error(0)
}
