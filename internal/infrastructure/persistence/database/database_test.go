package database_test

import (
	"context"
	"crypto/ed25519"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/lct/internal/config"
	"github.com/turtacn/lct/internal/domain/models"
	"github.com/turtacn/lct/internal/domain/repository"
	"github.com/turtacn/lct/internal/infrastructure/crypto"
	"github.com/turtacn/lct/internal/infrastructure/persistence/database"
	"github.com/turtacn/lct/pkg/constants"
	"github.com/turtacn/lct/pkg/errors"
	"github.com/turtacn/lct/pkg/logger"
)

func openSQLite(t *testing.T) *database.Connection {
	t.Helper()
	ctx := context.Background()
	cfg := &config.DatabaseConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "lct.db")}
	conn, err := database.Open(ctx, cfg, logger.NewNoopLogger())
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	require.NoError(t, conn.Migrate(ctx))
	return conn
}

func sampleIdentity(t *testing.T) *models.Identity {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	issued := created.Add(time.Hour)
	return &models.Identity{
		EntityID:               crypto.DeriveEntityID(pub),
		PublicKey:              pub,
		Interactions:           5,
		SuccessfulInteractions: 4,
		FailedInteractions:     1,
		CreatedAt:              created,
		LastActive:             created.Add(2 * time.Hour),
		DeviceFingerprint:      "0123456789abcdef",
		Attestations: []models.Attestation{
			{AttestorID: "a1", Claim: "kyc", Weight: 0.7, TrustLevel: 0.9, IssuedAt: &issued},
		},
		Vouchers: []string{"v1", "v2"},
	}
}

func TestOpen_Validation(t *testing.T) {
	ctx := context.Background()
	log := logger.NewNoopLogger()

	_, err := database.Open(ctx, nil, log)
	assert.True(t, errors.IsCode(err, constants.ErrCodeInvalidArgument))

	_, err = database.Open(ctx, &config.DatabaseConfig{Driver: "sqlite"}, log)
	assert.True(t, errors.IsCode(err, constants.ErrCodeInvalidArgument))

	_, err = database.Open(ctx, &config.DatabaseConfig{Driver: "oracle"}, log)
	assert.True(t, errors.IsCode(err, constants.ErrCodeInvalidArgument))
}

func TestIdentityRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	conn := openSQLite(t)
	repo := database.NewIdentityRepository(conn, nil, logger.NewNoopLogger())

	identity := sampleIdentity(t)
	require.NoError(t, repo.Save(ctx, identity))

	got, err := repo.FindByID(ctx, identity.EntityID)
	require.NoError(t, err)
	assert.Equal(t, identity.EntityID, got.EntityID)
	assert.Equal(t, identity.PublicKey, got.PublicKey)
	assert.Equal(t, uint64(4), got.SuccessfulInteractions)
	assert.True(t, identity.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, identity.Vouchers, got.Vouchers)
	require.Len(t, got.Attestations, 1)
	assert.Equal(t, 0.7, got.Attestations[0].Weight)
	assert.True(t, got.Attestations[0].IssuedAt.Equal(*identity.Attestations[0].IssuedAt))

	// Save replaces the stored copy.
	identity.Interactions = 6
	identity.SuccessfulInteractions = 5
	identity.Vouchers = append(identity.Vouchers, "v3")
	require.NoError(t, repo.Save(ctx, identity))
	got, err = repo.FindByID(ctx, identity.EntityID)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), got.Interactions)
	assert.Len(t, got.Vouchers, 3)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = repo.FindByID(ctx, "missing")
	assert.True(t, errors.IsCode(err, constants.ErrCodeEntityNotFound))
}

func TestKeyRepository_SaveChainReplacesVersions(t *testing.T) {
	ctx := context.Background()
	conn := openSQLite(t)
	repo := database.NewKeyRepository(conn, nil, logger.NewNoopLogger())

	pub1, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	pub2, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	expires := t0.Add(30 * 24 * time.Hour)

	chain := &repository.KeyChain{
		EntityID:      "agent-1",
		LatestVersion: 2,
		Versions: []*models.KeyVersion{
			{
				EntityID: "agent-1", Version: 1, PublicKey: pub1, KeyRef: "mem-1",
				Status: constants.KeyStatusOverlapping, CreatedAt: t0, ActivatedAt: t0, ExpiresAt: &expires,
				RotationReason: constants.RotationReasonInitial, SupersededBy: 2,
			},
			{
				EntityID: "agent-1", Version: 2, PublicKey: pub2, KeyRef: "mem-2",
				Status: constants.KeyStatusActive, CreatedAt: t0, ActivatedAt: t0,
				RotationReason: constants.RotationReasonNormal,
			},
		},
	}
	require.NoError(t, repo.SaveChain(ctx, chain))

	got, err := repo.FindChain(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.LatestVersion)
	require.Len(t, got.Versions, 2)
	assert.Equal(t, constants.KeyStatusOverlapping, got.Versions[0].Status)
	assert.True(t, expires.Equal(*got.Versions[0].ExpiresAt))
	assert.Nil(t, got.Versions[1].ExpiresAt)
	assert.Equal(t, pub2, got.Versions[1].PublicKey)
	assert.Equal(t, 2, got.Versions[0].SupersededBy)

	// Dropping version 1 from the chain deletes its row; LatestVersion stays.
	chain.Versions = chain.Versions[1:]
	require.NoError(t, repo.SaveChain(ctx, chain))
	got, err = repo.FindChain(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.LatestVersion)
	require.Len(t, got.Versions, 1)
	assert.Equal(t, 2, got.Versions[0].Version)

	chains, err := repo.ListChains(ctx)
	require.NoError(t, err)
	require.Len(t, chains, 1)
	assert.Len(t, chains[0].Versions, 1)

	_, err = repo.FindChain(ctx, "nobody")
	assert.True(t, errors.IsCode(err, constants.ErrCodeEntityNotRegistered))
}

func TestWitnessRepository_SaveAndFind(t *testing.T) {
	ctx := context.Background()
	conn := openSQLite(t)
	repo := database.NewWitnessRepository(conn, nil, logger.NewNoopLogger())

	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SaveAll(ctx, nil))
	require.NoError(t, repo.SaveAll(ctx, []*models.WitnessRecord{
		{WitnessID: "w2", TrustScore: 0.4, History: []bool{false}, UpdatedAt: now},
		{WitnessID: "w1", TrustScore: 0.9, History: []bool{true, false, true}, UpdatedAt: now},
	}))
	require.NoError(t, repo.SaveAll(ctx, []*models.WitnessRecord{
		{WitnessID: "w2", TrustScore: 0.5, History: []bool{false, true}, UpdatedAt: now},
	}))

	records, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "w1", records[0].WitnessID)
	assert.Equal(t, []bool{true, false, true}, records[0].History)
	assert.Equal(t, 0.5, records[1].TrustScore)
	assert.Equal(t, []bool{false, true}, records[1].History)
}
