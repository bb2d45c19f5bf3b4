package application_test

import (
	"context"
	"crypto/ed25519"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/lct/internal/application"
	"github.com/turtacn/lct/internal/domain/service/mocks"
	"github.com/turtacn/lct/pkg/constants"
	"github.com/turtacn/lct/pkg/errors"
	"github.com/turtacn/lct/pkg/logger"
)

func TestKeyRotationManager_ProviderFailures(t *testing.T) {
	ctx := context.Background()
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	provider := &mocks.MockKeyProvider{}
	provider.On("GenerateKey", mock.Anything).Return("", nil, stderrors.New("hsm offline")).Once()
	provider.On("GenerateKey", mock.Anything).Return("mock:1", pub, nil).Once()
	provider.On("Sign", mock.Anything, "mock:1", []byte("data")).Return(nil, stderrors.New("sign refused"))

	m := application.NewKeyRotationManager(provider, nil, nil, nil, nil, logger.NewNoopLogger())

	_, err = m.RegisterInitialKey(ctx, "agent-p", "")
	assert.True(t, errors.IsCode(err, constants.ErrCodeKeyProviderFailure))
	assert.False(t, m.Registered("agent-p"))

	v, err := m.RegisterInitialKey(ctx, "agent-p", "")
	require.NoError(t, err)
	assert.Equal(t, "mock:1", v.KeyRef)

	_, _, err = m.SignData(ctx, "agent-p", []byte("data"))
	assert.True(t, errors.IsCode(err, constants.ErrCodeKeyProviderFailure))
	provider.AssertExpectations(t)
}
