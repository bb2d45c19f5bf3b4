//go:build integration

package database_test

import (
	"context"
	"crypto/ed25519"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/turtacn/lct/internal/domain/models"
	"github.com/turtacn/lct/internal/domain/repository"
	"github.com/turtacn/lct/internal/infrastructure/persistence/database"
	"github.com/turtacn/lct/pkg/constants"
	"github.com/turtacn/lct/pkg/logger"
)

func TestPostgresRepositories(t *testing.T) {
	if os.Getenv("SKIP_DOCKER_TESTS") == "true" {
		t.Skip("Skipping Docker-dependent tests")
	}

	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("lct"),
		postgres.WithUsername("lct"),
		postgres.WithPassword("lct"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := gorm.Open(gormpostgres.Open(connStr), &gorm.Config{})
	require.NoError(t, err)

	log := logger.NewNoopLogger()
	conn := database.FromGorm(db, log)
	require.NoError(t, conn.Migrate(ctx))

	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	now := time.Now().UTC().Truncate(time.Microsecond)

	keys := database.NewKeyRepository(conn, nil, log)
	chain := &repository.KeyChain{
		EntityID:      "agent-pg",
		LatestVersion: 1,
		Versions: []*models.KeyVersion{{
			EntityID: "agent-pg", Version: 1, PublicKey: pub, KeyRef: "mem-1",
			Status: constants.KeyStatusActive, CreatedAt: now, ActivatedAt: now,
			RotationReason: constants.RotationReasonInitial,
		}},
	}
	require.NoError(t, keys.SaveChain(ctx, chain))
	require.NoError(t, keys.SaveChain(ctx, chain), "saving twice upserts")

	got, err := keys.FindChain(ctx, "agent-pg")
	require.NoError(t, err)
	require.Len(t, got.Versions, 1)
	assert.Equal(t, pub, got.Versions[0].PublicKey)
	assert.True(t, now.Equal(got.Versions[0].ActivatedAt))

	witnesses := database.NewWitnessRepository(conn, nil, log)
	require.NoError(t, witnesses.SaveAll(ctx, []*models.WitnessRecord{
		{WitnessID: "w1", TrustScore: 0.6, History: []bool{true}, UpdatedAt: now},
	}))
	records, err := witnesses.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []bool{true}, records[0].History)
}
