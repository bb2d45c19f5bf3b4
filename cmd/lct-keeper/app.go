package main

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/turtacn/lct/internal/application"
	"github.com/turtacn/lct/internal/config"
	"github.com/turtacn/lct/internal/domain/repository"
	"github.com/turtacn/lct/internal/domain/service"
	"github.com/turtacn/lct/internal/infrastructure/audit"
	"github.com/turtacn/lct/internal/infrastructure/crypto"
	"github.com/turtacn/lct/internal/infrastructure/kms"
	"github.com/turtacn/lct/internal/infrastructure/monitoring"
	"github.com/turtacn/lct/internal/infrastructure/persistence/database"
	"github.com/turtacn/lct/internal/infrastructure/persistence/file"
	"github.com/turtacn/lct/internal/infrastructure/persistence/redis"
	"github.com/turtacn/lct/pkg/constants"
	"github.com/turtacn/lct/pkg/logger"
)

// app holds the wired services and the resources that must be released on exit.
type app struct {
	cfg    *config.Config
	logger logger.Logger

	provider    service.KeyProvider
	scorer      *service.TrustScorer
	keys        *application.KeyRotationManager
	identities  *application.IdentityService
	witness     *application.WitnessEnforcer
	assertions  *application.TrustAssertionService
	maintenance *application.MaintenanceScheduler

	tracing       *monitoring.TracingManager
	metricsServer *http.Server
	closers       []func()
}

func newApp(ctx context.Context, cfg *config.Config, log logger.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: log}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.tracing, err = monitoring.NewTracingManager(&cfg.Tracing, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.tracing.Shutdown(shutdownCtx)
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(reg)
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		a.metricsServer = &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	switch cfg.KeyProvider.Type {
	case "vault":
		a.provider, err = kms.NewVaultProvider(&cfg.Vault, metrics, log)
		if err != nil {
			return nil, err
		}
	default:
		a.provider = crypto.NewMemoryProvider()
	}

	var (
		conn         *database.Connection
		identityRepo repository.IdentityRepository
		keyRepo      repository.KeyRepository
		witnessRepo  repository.WitnessRepository
		records      repository.IdentityRecordStore
	)
	if cfg.Database.Driver != "" {
		conn, err = database.Open(ctx, &cfg.Database, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, conn.Close)
		if err = conn.Migrate(ctx); err != nil {
			return nil, err
		}
		identityRepo = database.NewIdentityRepository(conn, metrics, log)
		keyRepo = database.NewKeyRepository(conn, metrics, log)
		witnessRepo = database.NewWitnessRepository(conn, metrics, log)
	}
	if cfg.Identity.RecordDir != "" {
		store, err := file.NewRecordStore(cfg.Identity.RecordDir, log)
		if err != nil {
			return nil, err
		}
		records = store
	}

	var redisClient goredis.UniversalClient
	if cfg.Redis.Enabled {
		client, err := redis.NewClient(ctx, &cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		redisClient = client
	}
	trustCache := redis.NewTrustCache(redisClient, constants.TrustSnapshotCacheTTL, metrics, log)

	sink, err := a.auditSink(ctx, conn)
	if err != nil {
		return nil, err
	}

	a.scorer = service.NewTrustScorer(trustWeights(&cfg.Trust))
	a.keys = application.NewKeyRotationManager(a.provider, keyRepo, sink, metrics, &cfg.Rotation, log)
	a.identities = application.NewIdentityService(a.keys, a.provider, a.scorer, identityRepo, records, trustCache, sink, metrics, log)
	a.witness = application.NewWitnessEnforcer(&cfg.Witness, witnessRepo, sink, metrics, log)
	a.assertions = application.NewTrustAssertionService(a.identities, a.keys, &cfg.Assertion, log)
	a.maintenance = application.NewMaintenanceScheduler(a.keys, a.witness, &cfg.Rotation, log)
	return a, nil
}

// auditSink assembles the configured sinks behind an optional HMAC signer.
func (a *app) auditSink(ctx context.Context, conn *database.Connection) (service.AuditService, error) {
	var sinks []service.AuditService
	for _, name := range a.cfg.Audit.Sinks {
		switch name {
		case "log":
			sinks = append(sinks, audit.NewLogSink(a.logger))
		case "database":
			if conn == nil {
				continue
			}
			s, err := audit.NewGormAuditService(ctx, conn.DB())
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, s)
		case "kafka":
			p, err := audit.NewKafkaProducer(&a.cfg.Kafka, a.logger)
			if err != nil {
				return nil, err
			}
			a.closers = append(a.closers, func() { _ = p.Close() })
			sinks = append(sinks, p)
		}
	}
	fan := audit.NewFanOut(sinks...)
	if fan.Len() == 0 {
		return nil, nil
	}
	if a.cfg.Audit.HMACSecret == "" {
		return fan, nil
	}
	signer, err := audit.NewSigner(a.cfg.Audit.HMACSecret)
	if err != nil {
		return nil, err
	}
	return audit.NewSigningSink(signer, fan), nil
}

// restore reloads key chains first so identities and records can bind to them.
func (a *app) restore(ctx context.Context) error {
	if _, err := a.keys.Load(ctx); err != nil {
		return err
	}
	if _, err := a.identities.Load(ctx); err != nil {
		return err
	}
	imported, err := a.identities.LoadRecords(ctx)
	if err != nil {
		return err
	}
	if imported > 0 {
		a.logger.Info(ctx, "Identity records imported", logger.Int("count", imported))
	}
	_, err = a.witness.Load(ctx)
	return err
}

// reload applies the hot-reloadable parts of a new configuration.
func (a *app) reload(cfg *config.Config) {
	a.scorer.SetWeights(trustWeights(&cfg.Trust))
	a.witness.SetConfig(&cfg.Witness)
	a.logger.SetLevel(constants.LogLevel(cfg.Log.Level))
}

// persist writes what only lives in memory: witness reputation and, when a
// record store is configured, one record per identity.
func (a *app) persist(ctx context.Context) {
	if err := a.witness.Flush(ctx); err != nil {
		a.logger.Error(ctx, "Failed to flush witness registry", err)
	}
	if a.cfg.Identity.RecordDir == "" {
		return
	}
	for _, id := range a.identities.List() {
		if err := a.identities.SaveRecord(ctx, id); err != nil {
			a.logger.Error(ctx, "Failed to save identity record", err, logger.String("entity_id", id))
		}
	}
}

func (a *app) serveMetrics(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info(ctx, "Serving metrics", logger.String("addr", a.metricsServer.Addr))
		errCh <- a.metricsServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.metricsServer.Shutdown(shutdownCtx)
	}
}

// close releases resources in reverse acquisition order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func trustWeights(c *config.TrustConfig) service.TrustWeights {
	return service.TrustWeights{
		Base:             c.Base,
		InteractionCap:   c.InteractionCap,
		InteractionScale: c.InteractionScale,
		AttestationCap:   c.AttestationCap,
		AttestationScale: c.AttestationScale,
		AgeCap:           c.AgeCap,
		AgeScaleDays:     c.AgeScaleDays,
	}
}
