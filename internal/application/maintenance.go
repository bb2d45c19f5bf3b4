package application

import (
	"context"
	"time"

	"github.com/turtacn/lct/internal/config"
	"github.com/turtacn/lct/pkg/constants"
	"github.com/turtacn/lct/pkg/logger"
)

// MaintenanceReport summarises one maintenance pass.
type MaintenanceReport struct {
	Expired int
	Cleaned int
	Flushed bool
}

// MaintenanceScheduler runs the periodic key expiry sweep, expired-key cleanup
// and witness registry flush.
// MaintenanceScheduler 周期性执行密钥过期扫描、过期密钥清理与见证人注册表刷新。
type MaintenanceScheduler struct {
	keys     *KeyRotationManager
	witness  *WitnessEnforcer
	interval time.Duration
	grace    float64
	logger   logger.Logger
	clock    func() time.Time
}

// NewMaintenanceScheduler creates a scheduler. witness may be nil.
func NewMaintenanceScheduler(keys *KeyRotationManager, witness *WitnessEnforcer, cfg *config.RotationConfig, log logger.Logger, opts ...Option) *MaintenanceScheduler {
	interval, grace := constants.DefaultMaintenanceInterval, float64(constants.DefaultCleanupGraceDays)
	if cfg != nil {
		if cfg.MaintenanceInterval > 0 {
			interval = cfg.MaintenanceInterval
		}
		if cfg.CleanupGraceDays >= 0 {
			grace = cfg.CleanupGraceDays
		}
	}
	o := buildOptions(opts)
	return &MaintenanceScheduler{
		keys:     keys,
		witness:  witness,
		interval: interval,
		grace:    grace,
		logger:   log.WithComponent("MaintenanceScheduler"),
		clock:    o.clock,
	}
}

// Run blocks until ctx is cancelled, running a pass on every tick.
func (s *MaintenanceScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info(ctx, "Maintenance scheduler started", logger.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(context.Background(), "Maintenance scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass. Failures of one step are logged and do not
// skip the others.
func (s *MaintenanceScheduler) RunOnce(ctx context.Context) MaintenanceReport {
	var report MaintenanceReport

	expired, err := s.keys.ExpireOverlapping(ctx, s.clock())
	if err != nil {
		s.logger.Error(ctx, "Expiry sweep failed", err)
	}
	report.Expired = expired

	cleaned, err := s.keys.CleanupExpiredKeys(ctx, s.grace)
	if err != nil {
		s.logger.Error(ctx, "Expired key cleanup failed", err)
	}
	report.Cleaned = cleaned

	if s.witness != nil {
		dirty := s.witness.Dirty()
		if err := s.witness.Flush(ctx); err != nil {
			s.logger.Error(ctx, "Witness registry flush failed", err)
		} else {
			report.Flushed = dirty
		}
	}

	if report.Expired > 0 || report.Cleaned > 0 {
		s.logger.Info(ctx, "Maintenance pass completed",
			logger.Int("expired", report.Expired),
			logger.Int("cleaned", report.Cleaned),
		)
	}
	return report
}
