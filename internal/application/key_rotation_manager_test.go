package application_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/lct/internal/application"
	"github.com/turtacn/lct/internal/domain/models"
	"github.com/turtacn/lct/internal/domain/repository"
	"github.com/turtacn/lct/internal/domain/service"
	"github.com/turtacn/lct/internal/domain/service/mocks"
	"github.com/turtacn/lct/internal/infrastructure/crypto"
	"github.com/turtacn/lct/pkg/constants"
	"github.com/turtacn/lct/pkg/errors"
	"github.com/turtacn/lct/pkg/logger"
)

func newManager(t *testing.T, opts ...func(*managerDeps)) (*application.KeyRotationManager, *crypto.MemoryProvider, *fakeClock) {
	t.Helper()
	deps := &managerDeps{provider: crypto.NewMemoryProvider()}
	for _, opt := range opts {
		opt(deps)
	}
	clock := newFakeClock()
	m := application.NewKeyRotationManager(deps.provider, deps.repo, deps.audit, nil, nil, logger.NewNoopLogger(), application.WithClock(clock.Now))
	return m, deps.provider, clock
}

type managerDeps struct {
	provider *crypto.MemoryProvider
	repo     repository.KeyRepository
	audit    service.AuditService
}

func TestKeyRotationManager_RegisterAndSign(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t)

	v, err := m.RegisterInitialKey(ctx, "agent-1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, v.Version)
	assert.Equal(t, constants.KeyStatusActive, v.Status)
	assert.Equal(t, constants.RotationReasonInitial, v.RotationReason)
	assert.Nil(t, v.ExpiresAt)

	sig, version, err := m.SignData(ctx, "agent-1", []byte("delegation"))
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	ok, reason := m.VerifySignature(ctx, "agent-1", []byte("delegation"), sig, time.Time{})
	assert.True(t, ok)
	assert.Equal(t, "Valid signature (key v1)", reason)

	ok, reason = m.VerifySignature(ctx, "agent-1", []byte("tampered"), sig, time.Time{})
	assert.False(t, ok)
	assert.Equal(t, "Invalid signature with key v1", reason)
}

func TestKeyRotationManager_RegisterTwiceFails(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t)

	_, err := m.RegisterInitialKey(ctx, "agent-1", "")
	require.NoError(t, err)
	_, err = m.RegisterInitialKey(ctx, "agent-1", "")
	assert.True(t, errors.IsCode(err, constants.ErrCodeEntityAlreadyRegistered))
}

func TestKeyRotationManager_RegisterWithProviderKey(t *testing.T) {
	ctx := context.Background()
	m, provider, _ := newManager(t)

	ref, pub, err := provider.GenerateKey(ctx)
	require.NoError(t, err)

	v, err := m.RegisterInitialKey(ctx, crypto.DeriveEntityID(pub), ref)
	require.NoError(t, err)
	assert.Equal(t, pub, v.PublicKey)
	assert.Equal(t, ref, v.KeyRef)
}

func TestKeyRotationManager_UnknownEntity(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t)

	_, err := m.RotateKey(ctx, "ghost")
	assert.True(t, errors.IsCode(err, constants.ErrCodeEntityNotRegistered))

	_, _, err = m.SignData(ctx, "ghost", []byte("x"))
	assert.True(t, errors.IsCode(err, constants.ErrCodeEntityNotRegistered))

	ok, reason := m.VerifySignature(ctx, "ghost", []byte("x"), make([]byte, 64), time.Time{})
	assert.False(t, ok)
	assert.Equal(t, "Entity not registered: ghost", reason)

	assert.Nil(t, m.GetKeyAtTimestamp("ghost", time.Now()))
	_, err = m.GetKeyHistory("ghost")
	assert.True(t, errors.IsCode(err, constants.ErrCodeEntityNotRegistered))
}

func TestKeyRotationManager_RotationOverlap(t *testing.T) {
	ctx := context.Background()
	m, provider, clock := newManager(t)
	data := []byte("delegation-hash")

	_, err := m.RegisterInitialKey(ctx, "agent-1", "")
	require.NoError(t, err)
	signedAt := clock.Now()
	oldSig, _, err := m.SignData(ctx, "agent-1", data)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	v2, err := m.RotateKey(ctx, "agent-1", application.WithOverlapDays(30), application.WithRotationReason(constants.RotationReasonScheduled))
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, constants.RotationReasonScheduled, v2.RotationReason)
	assert.Equal(t, 1, provider.Len(), "superseded private key must be destroyed")

	// Signing only ever uses the new version.
	newSig, version, err := m.SignData(ctx, "agent-1", data)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	ok, reason := m.VerifySignature(ctx, "agent-1", data, oldSig, clock.Now())
	assert.True(t, ok)
	assert.Equal(t, "Valid signature (key v1)", reason)

	ok, reason = m.VerifySignature(ctx, "agent-1", data, newSig, clock.Now())
	assert.True(t, ok)
	assert.Equal(t, "Valid signature (key v2)", reason)

	history, err := m.GetKeyHistory("agent-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, constants.KeyStatusOverlapping, history[0].Status)
	assert.Equal(t, 2, history[0].SupersededBy)
	require.NotNil(t, history[0].ExpiresAt)
	assert.Equal(t, clock.Now().Add(30*day), *history[0].ExpiresAt)

	// After the overlap window the old key no longer verifies current signatures.
	clock.Advance(31 * day)
	ok, reason = m.VerifySignature(ctx, "agent-1", data, oldSig, clock.Now())
	assert.False(t, ok)
	assert.Equal(t, "Invalid signature with key v2", reason)

	n, err := m.ExpireOverlapping(ctx, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Signatures made inside the old interval still verify against history.
	ok, _ = m.VerifySignature(ctx, "agent-1", data, oldSig, signedAt)
	assert.True(t, ok)
	assert.Equal(t, 1, m.GetKeyAtTimestamp("agent-1", signedAt).Version)
	assert.Equal(t, constants.KeyStatusExpired, m.GetKeyAtTimestamp("agent-1", signedAt).Status)
}

func TestKeyRotationManager_RevocationIsRetroactive(t *testing.T) {
	ctx := context.Background()
	m, _, clock := newManager(t)
	data := []byte("claim")

	_, err := m.RegisterInitialKey(ctx, "agent-1", "")
	require.NoError(t, err)
	signedAt := clock.Now()
	sig, _, err := m.SignData(ctx, "agent-1", data)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = m.RotateKey(ctx, "agent-1")
	require.NoError(t, err)

	require.NoError(t, m.RevokeKey(ctx, "agent-1", 1, "compromised"))

	ok, reason := m.VerifySignature(ctx, "agent-1", data, sig, signedAt)
	assert.False(t, ok)
	assert.True(t, strings.HasPrefix(reason, "No valid key at timestamp"), reason)
	assert.Nil(t, m.GetKeyAtTimestamp("agent-1", signedAt))

	// Revoking again is a no-op.
	require.NoError(t, m.RevokeKey(ctx, "agent-1", 1, "again"))
	history, err := m.GetKeyHistory("agent-1")
	require.NoError(t, err)
	assert.Equal(t, "compromised", history[0].RevocationReason)

	err = m.RevokeKey(ctx, "agent-1", 9, "missing")
	assert.True(t, errors.IsCode(err, constants.ErrCodeKeyVersionNotFound))
}

func TestKeyRotationManager_RevokeActiveBlocksSigning(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t)

	_, err := m.RegisterInitialKey(ctx, "agent-1", "")
	require.NoError(t, err)
	require.NoError(t, m.RevokeKey(ctx, "agent-1", 1, "compromise"))

	_, _, err = m.SignData(ctx, "agent-1", []byte("x"))
	assert.True(t, errors.IsCode(err, constants.ErrCodeNoActiveKey))
	_, err = m.CurrentKey("agent-1")
	assert.True(t, errors.IsCode(err, constants.ErrCodeNoActiveKey))

	v, err := m.RotateKey(ctx, "agent-1", application.WithRotationReason(constants.RotationReasonCompromise))
	require.NoError(t, err)
	assert.Equal(t, 2, v.Version)

	_, version, err := m.SignData(ctx, "agent-1", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestKeyRotationManager_CleanupKeepsNumbering(t *testing.T) {
	ctx := context.Background()
	m, _, clock := newManager(t)

	_, err := m.RegisterInitialKey(ctx, "agent-1", "")
	require.NoError(t, err)
	_, err = m.RotateKey(ctx, "agent-1", application.WithOverlapDays(0))
	require.NoError(t, err)

	clock.Advance(10 * day)
	n, err := m.CleanupExpiredKeys(ctx, 90)
	require.NoError(t, err)
	assert.Zero(t, n, "inside the grace period")

	clock.Advance(90 * day)
	n, err = m.CleanupExpiredKeys(ctx, 90)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	v, err := m.RotateKey(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 3, v.Version)

	history, err := m.GetKeyHistory("agent-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[0].Version)
	assert.Equal(t, 3, history[1].Version)

	_, err = m.CleanupExpiredKeys(ctx, -1)
	assert.True(t, errors.IsCode(err, constants.ErrCodeInvalidArgument))
}

func TestKeyRotationManager_VerifySignatureWithVersion(t *testing.T) {
	ctx := context.Background()
	m, _, clock := newManager(t)
	data := []byte("assertion")

	_, err := m.RegisterInitialKey(ctx, "agent-1", "")
	require.NoError(t, err)
	sig, version, err := m.SignData(ctx, "agent-1", data)
	require.NoError(t, err)

	ok, _ := m.VerifySignatureWithVersion(ctx, "agent-1", version, data, sig, clock.Now())
	assert.True(t, ok)

	ok, reason := m.VerifySignatureWithVersion(ctx, "agent-1", 7, data, sig, clock.Now())
	assert.False(t, ok)
	assert.Equal(t, "Unknown key version v7", reason)

	ok, _ = m.VerifySignatureWithVersion(ctx, "agent-1", version, data, sig, clock.Now().Add(-time.Minute))
	assert.False(t, ok, "before activation")
}

func TestKeyRotationManager_ConcurrentRotations(t *testing.T) {
	ctx := context.Background()
	m, provider, _ := newManager(t)

	_, err := m.RegisterInitialKey(ctx, "agent-1", "")
	require.NoError(t, err)

	const rotations = 20
	var wg sync.WaitGroup
	for i := 0; i < rotations; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.RotateKey(ctx, "agent-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history, err := m.GetKeyHistory("agent-1")
	require.NoError(t, err)
	require.Len(t, history, rotations+1)

	active := 0
	for i, h := range history {
		assert.Equal(t, i+1, h.Version)
		if h.Status == constants.KeyStatusActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
	assert.Equal(t, 1, provider.Len())
}

func TestKeyRotationManager_PersistenceFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	repo := new(mocks.MockKeyRepository)
	repo.On("SaveChain", mock.Anything, mock.Anything).Return(nil).Once()
	repo.On("SaveChain", mock.Anything, mock.Anything).Return(stderrors.New("db down"))

	m, provider, _ := newManager(t, func(d *managerDeps) { d.repo = repo })

	_, err := m.RegisterInitialKey(ctx, "agent-1", "")
	require.NoError(t, err)

	_, err = m.RotateKey(ctx, "agent-1")
	assert.True(t, errors.IsCode(err, constants.ErrCodePersistenceFailure))

	current, err := m.CurrentKey("agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, current.Version)
	assert.Equal(t, 1, provider.Len(), "generated key is destroyed on failure")
	repo.AssertExpectations(t)
}

func TestKeyRotationManager_LoadAndRestore(t *testing.T) {
	ctx := context.Background()
	source, _, _ := newManager(t)
	_, err := source.RegisterInitialKey(ctx, "agent-1", "")
	require.NoError(t, err)
	_, err = source.RotateKey(ctx, "agent-1")
	require.NoError(t, err)
	chain := source.Chain("agent-1")

	repo := new(mocks.MockKeyRepository)
	repo.On("ListChains", mock.Anything).Return([]*repository.KeyChain{chain}, nil)

	m, _, _ := newManager(t, func(d *managerDeps) { d.repo = repo })
	n, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, m.Registered("agent-1"))
	assert.Equal(t, []string{"agent-1"}, m.Entities())

	other, _, _ := newManager(t)
	require.NoError(t, other.RestoreChain(ctx, chain))
	err = other.RestoreChain(ctx, chain)
	assert.True(t, errors.IsCode(err, constants.ErrCodeEntityAlreadyRegistered))

	broken := source.Chain("agent-1")
	broken.Versions[0].Status = constants.KeyStatusActive
	assert.Error(t, other.RestoreChain(ctx, &repository.KeyChain{EntityID: "x", LatestVersion: 2, Versions: broken.Versions}))
}

func TestKeyRotationManager_AuditTrail(t *testing.T) {
	ctx := context.Background()
	audit := new(mocks.MockAuditService)
	audit.On("LogEvent", mock.Anything, mock.MatchedBy(func(e *models.AuditEvent) bool {
		return e.EventType == constants.AuditEventKeyRegistered
	})).Return(nil).Once()
	audit.On("LogEvent", mock.Anything, mock.MatchedBy(func(e *models.AuditEvent) bool {
		return e.EventType == constants.AuditEventKeyRotated && e.Metadata["superseded_version"] == 1
	})).Return(fmt.Errorf("sink unavailable")).Once()

	m, _, _ := newManager(t, func(d *managerDeps) { d.audit = audit })

	_, err := m.RegisterInitialKey(ctx, "agent-1", "")
	require.NoError(t, err)
	_, err = m.RotateKey(ctx, "agent-1")
	require.NoError(t, err, "audit failures never fail the operation")
	audit.AssertExpectations(t)
}

func TestKeyRotationManager_NegativeOverlapRejected(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t)
	_, err := m.RegisterInitialKey(ctx, "agent-1", "")
	require.NoError(t, err)

	_, err = m.RotateKey(ctx, "agent-1", application.WithOverlapDays(-1))
	assert.True(t, errors.IsCode(err, constants.ErrCodeInvalidArgument))
}

func TestKeyRotationManager_RotateRejectsRetainedKey(t *testing.T) {
	ctx := context.Background()
	m, provider, _ := newManager(t)

	v1, err := m.RegisterInitialKey(ctx, "agent-1", "")
	require.NoError(t, err)

	_, err = m.RotateKey(ctx, "agent-1", application.WithKeyRef(v1.KeyRef))
	assert.True(t, errors.IsCode(err, constants.ErrCodeInvalidArgument))

	current, err := m.CurrentKey("agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, current.Version)
	assert.Equal(t, constants.KeyStatusActive, current.Status)
	assert.Equal(t, 1, provider.Len())

	sig, version, err := m.SignData(ctx, "agent-1", []byte("still signs"))
	require.NoError(t, err)
	assert.Equal(t, 1, version)
	assert.True(t, crypto.Verify(v1.PublicKey, []byte("still signs"), sig))

	// A second reference to the same key material is rejected too.
	priv, err := provider.ExportKey(ctx, v1.KeyRef)
	require.NoError(t, err)
	dup, _, err := provider.ImportKey(ctx, priv)
	require.NoError(t, err)
	_, err = m.RotateKey(ctx, "agent-1", application.WithKeyRef(dup))
	assert.True(t, errors.IsCode(err, constants.ErrCodeInvalidArgument))

	v2, err := m.RotateKey(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
}

func TestKeyRotationManager_SignDuringRotation(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t)
	_, err := m.RegisterInitialKey(ctx, "agent-1", "")
	require.NoError(t, err)

	data := []byte("payload")
	done := make(chan struct{})
	var wg sync.WaitGroup
	var mu sync.Mutex
	var bad []int
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				sig, version, err := m.SignData(ctx, "agent-1", data)
				if err != nil {
					continue
				}
				key, err := m.KeyVersion("agent-1", version)
				if err != nil || !crypto.Verify(key.PublicKey, data, sig) {
					mu.Lock()
					bad = append(bad, version)
					mu.Unlock()
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		_, err := m.RotateKey(ctx, "agent-1", application.WithOverlapDays(1))
		require.NoError(t, err)
	}
	close(done)
	wg.Wait()
	assert.Empty(t, bad, "every returned signature verifies under its reported version")
}
