package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/lct/internal/config"
	"github.com/turtacn/lct/internal/infrastructure/audit"
	"github.com/turtacn/lct/pkg/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	dir := t.TempDir()
	cfg.Metrics.Enabled = false
	cfg.Database.Driver = "sqlite"
	cfg.Database.SQLitePath = filepath.Join(dir, "lct.db")
	cfg.Identity.RecordDir = filepath.Join(dir, "records")
	cfg.Audit.Sinks = []string{"log", "database"}
	cfg.Audit.HMACSecret = "audit-secret"
	return cfg
}

func TestApp_RestartRestoresState(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	first, err := newApp(ctx, cfg, logger.NewNoopLogger())
	require.NoError(t, err)
	require.NoError(t, first.restore(ctx))

	identity, err := first.identities.Generate(ctx)
	require.NoError(t, err)
	require.NoError(t, first.identities.RecordInteraction(ctx, identity.EntityID, true))
	_, _, err = first.assertions.Issue(ctx, identity.EntityID)
	require.NoError(t, err)
	first.persist(ctx)
	first.close()

	second, err := newApp(ctx, cfg, logger.NewNoopLogger())
	require.NoError(t, err)
	defer second.close()
	require.NoError(t, second.restore(ctx))

	got, err := second.identities.Get(identity.EntityID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Interactions)
	assert.True(t, second.keys.Registered(identity.EntityID))

	report := second.maintenance.RunOnce(ctx)
	assert.Zero(t, report.Expired)
}

func TestApp_AuditSinkSelection(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Database.Driver = ""
	cfg.Audit.Sinks = []string{"database"}
	cfg.Audit.HMACSecret = ""

	a := &app{cfg: cfg, logger: logger.NewNoopLogger()}
	sink, err := a.auditSink(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, sink, "no usable sink disables auditing")

	cfg.Audit.Sinks = []string{"log"}
	sink, err = a.auditSink(ctx, nil)
	require.NoError(t, err)
	assert.IsType(t, &audit.FanOut{}, sink)

	cfg.Audit.HMACSecret = "k"
	sink, err = a.auditSink(ctx, nil)
	require.NoError(t, err)
	assert.IsType(t, &audit.SigningSink{}, sink)
}

func TestApp_Reload(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Database.Driver = ""
	cfg.Identity.RecordDir = ""

	a, err := newApp(ctx, cfg, logger.NewNoopLogger())
	require.NoError(t, err)
	defer a.close()

	next := *cfg
	next.Trust.Base = 0.2
	next.Witness.MinWitnesses = 5
	a.reload(&next)

	assert.Equal(t, 0.2, a.scorer.Weights().Base)
	assert.Equal(t, 5, a.witness.DefaultRequirement().MinWitnesses)
}
