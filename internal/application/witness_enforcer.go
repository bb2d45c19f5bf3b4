package application

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/lct/internal/config"
	"github.com/turtacn/lct/internal/domain/models"
	"github.com/turtacn/lct/internal/domain/repository"
	"github.com/turtacn/lct/internal/domain/service"
	"github.com/turtacn/lct/pkg/constants"
	"github.com/turtacn/lct/pkg/errors"
	"github.com/turtacn/lct/pkg/logger"
	"github.com/turtacn/lct/pkg/utils"
)

// WitnessEnforcer verifies witness signatures over a delegation hash, evaluates
// a quorum policy over the valid ones and maintains each witness's adaptive trust.
// WitnessEnforcer 验证见证人对委托哈希的签名，对有效签名评估法定人数策略，并维护每个见证人的自适应信任。
type WitnessEnforcer struct {
	cfg     atomic.Pointer[config.WitnessConfig]
	repo    repository.WitnessRepository
	audit   *auditRecorder
	metrics service.Metrics
	logger  logger.Logger
	clock   func() time.Time

	mu       sync.RWMutex
	registry map[string]*witnessEntry
	dirty    atomic.Bool
}

type witnessEntry struct {
	mu        sync.Mutex
	trust     float64
	history   []bool
	updatedAt time.Time
}

// WitnessVerification is the detailed outcome of a quorum evaluation.
type WitnessVerification struct {
	Satisfied bool
	Reason    string
	// Valid holds the verified signatures with refreshed trust scores, in input order.
	Valid []models.WitnessSignature
	// Invalid holds the ids of witnesses whose signatures failed verification.
	Invalid []string
}

// NewWitnessEnforcer creates a new WitnessEnforcer. repo and auditSvc may be nil.
// NewWitnessEnforcer 创建新的 WitnessEnforcer；repo 和 auditSvc 可以为 nil。
func NewWitnessEnforcer(
	cfg *config.WitnessConfig,
	repo repository.WitnessRepository,
	auditSvc service.AuditService,
	metrics service.Metrics,
	log logger.Logger,
	opts ...Option,
) *WitnessEnforcer {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	o := buildOptions(opts)
	log = log.WithComponent("WitnessEnforcer")
	e := &WitnessEnforcer{
		repo:     repo,
		audit:    &auditRecorder{sink: auditSvc, logger: log},
		metrics:  metrics,
		logger:   log,
		clock:    o.clock,
		registry: make(map[string]*witnessEntry),
	}
	e.SetConfig(cfg)
	return e
}

// SetConfig swaps the quorum defaults and adaptive trust parameters.
func (e *WitnessEnforcer) SetConfig(cfg *config.WitnessConfig) {
	if cfg == nil {
		cfg = &config.WitnessConfig{
			MinWitnesses:      constants.DefaultMinWitnesses,
			MinTrustScore:     constants.DefaultMinWitnessTrust,
			MinAggregateTrust: constants.DefaultMinAggregateTrust,
			DefaultTrust:      constants.DefaultWitnessTrust,
			TrustRetention:    constants.WitnessTrustRetention,
			RecentWeight:      constants.WitnessTrustRecentWeight,
			RecentWindow:      constants.WitnessRecentWindow,
			HistoryLimit:      constants.WitnessHistoryLimit,
			VerifyConcurrency: constants.DefaultWitnessVerifyConcurrency,
		}
	}
	c := *cfg
	e.cfg.Store(&c)
}

// DefaultRequirement builds the quorum policy from configuration.
func (e *WitnessEnforcer) DefaultRequirement() models.WitnessRequirement {
	cfg := e.cfg.Load()
	req := models.NewWitnessRequirement(cfg.MinWitnesses, cfg.MinTrustScore, cfg.MinAggregateTrust)
	for _, r := range cfg.RequiredRoles {
		role, err := models.ParseWitnessRole(r)
		if err != nil {
			e.logger.Warn(context.Background(), "Ignoring unknown required witness role", logger.String("role", r))
			continue
		}
		req = req.WithRequiredRoles(role)
	}
	return req.WithRequiredWitnesses(cfg.RequiredWitnesses...)
}

// ================================================================================
// Verification
// ================================================================================

// VerifyWitnesses evaluates signatures over delegationHash against req, or the
// default requirement when req is nil, and updates witness reputations.
// VerifyWitnesses 根据 req（为 nil 时使用默认要求）评估对 delegationHash 的签名，并更新见证人声誉。
func (e *WitnessEnforcer) VerifyWitnesses(ctx context.Context, delegationHash []byte, signatures []models.WitnessSignature, req *models.WitnessRequirement) (bool, string) {
	result := e.VerifyWitnessesDetailed(ctx, delegationHash, signatures, req)
	return result.Satisfied, result.Reason
}

// VerifyWitnessesDetailed is VerifyWitnesses returning the partition as well.
// An empty signature list fails before the requirement is consulted.
func (e *WitnessEnforcer) VerifyWitnessesDetailed(ctx context.Context, delegationHash []byte, signatures []models.WitnessSignature, req *models.WitnessRequirement) *WitnessVerification {
	start := time.Now()
	ctx, span := tracer().Start(ctx, "WitnessEnforcer.VerifyWitnesses")
	defer span.End()

	if len(signatures) == 0 {
		e.metrics.RecordWitnessVerification(false, time.Since(start))
		return &WitnessVerification{Reason: "No witnesses provided"}
	}
	requirement := e.DefaultRequirement()
	if req != nil {
		requirement = *req
	}

	verified, err := e.verifyAll(ctx, delegationHash, signatures)
	if err != nil {
		e.metrics.RecordWitnessVerification(false, time.Since(start))
		return &WitnessVerification{Reason: fmt.Sprintf("Verification aborted: %v", err)}
	}

	result := &WitnessVerification{}
	for i, sig := range signatures {
		if !verified[i] {
			result.Invalid = append(result.Invalid, sig.WitnessID)
			continue
		}
		sig.TrustScore = e.refreshedTrust(sig)
		result.Valid = append(result.Valid, sig)
	}
	result.Satisfied, result.Reason = requirement.IsSatisfied(result.Valid)

	// Invalid signatures are always penalized; valid ones are credited only when
	// they contributed to a satisfied quorum.
	for _, id := range result.Invalid {
		e.mark(id, false)
	}
	if result.Satisfied {
		for _, sig := range result.Valid {
			e.mark(sig.WitnessID, true)
		}
	}

	elapsed := time.Since(start)
	e.metrics.RecordWitnessVerification(result.Satisfied, elapsed)
	e.logger.Debug(ctx, "Witness verification evaluated",
		logger.Bool("satisfied", result.Satisfied),
		logger.String("reason", result.Reason),
		logger.Int("valid", len(result.Valid)),
		logger.Int("invalid", len(result.Invalid)),
		logger.Duration("elapsed", elapsed),
	)
	e.audit.record(ctx, models.NewAuditEvent(constants.AuditEventWitnessVerification, "", result.Satisfied, result.Reason).
		WithMetadata("delegation_hash", hex.EncodeToString(delegationHash)).
		WithMetadata("valid", len(result.Valid)).
		WithMetadata("invalid", result.Invalid))
	return result
}

// verifyAll checks every signature concurrently; results are indexed like signatures.
func (e *WitnessEnforcer) verifyAll(ctx context.Context, hash []byte, signatures []models.WitnessSignature) ([]bool, error) {
	results := make([]bool, len(signatures))
	g, gctx := errgroup.WithContext(ctx)
	limit := e.cfg.Load().VerifyConcurrency
	if limit <= 0 {
		limit = constants.DefaultWitnessVerifyConcurrency
	}
	g.SetLimit(limit)
	for i := range signatures {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = signatures[i].Verify(hash)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// refreshedTrust returns the registry trust for registered witnesses; otherwise the
// supplied score, clamped to [0, 1].
func (e *WitnessEnforcer) refreshedTrust(sig models.WitnessSignature) float64 {
	if entry := e.lookup(sig.WitnessID); entry != nil {
		entry.mu.Lock()
		defer entry.mu.Unlock()
		return entry.trust
	}
	return utils.Clamp(sig.TrustScore, 0, 1)
}

// CreateWitnessSignature signs delegationHash with privateKey and stamps the
// witness's current registry trust.
// CreateWitnessSignature 使用 privateKey 对 delegationHash 签名，并附上见证人当前的注册表信任值。
func (e *WitnessEnforcer) CreateWitnessSignature(delegationHash []byte, witnessID string, privateKey ed25519.PrivateKey, role constants.WitnessRole) (*models.WitnessSignature, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, errors.ErrInvalidArgument(fmt.Sprintf("private key must be %d bytes", ed25519.PrivateKeySize))
	}
	if _, err := models.ParseWitnessRole(string(role)); err != nil {
		return nil, errors.ErrInvalidArgument(err.Error())
	}
	pub := privateKey.Public().(ed25519.PublicKey)
	return &models.WitnessSignature{
		WitnessID:        witnessID,
		WitnessPublicKey: append([]byte(nil), pub...),
		Signature:        ed25519.Sign(privateKey, delegationHash),
		Role:             role,
		Timestamp:        e.clock(),
		TrustScore:       e.WitnessTrust(witnessID),
	}, nil
}

// ================================================================================
// Registry
// ================================================================================

// RegisterWitness adds or resets a witness with the given trust, clamped to [0, 1].
// RegisterWitness 以给定信任值（限制在 [0, 1]）添加或重置见证人。
func (e *WitnessEnforcer) RegisterWitness(ctx context.Context, witnessID string, initialTrust float64) error {
	if witnessID == "" {
		return errors.ErrInvalidArgument("witness id is required")
	}
	trust := utils.Clamp(initialTrust, 0, 1)
	e.mu.Lock()
	e.registry[witnessID] = &witnessEntry{trust: trust, updatedAt: e.clock()}
	e.mu.Unlock()
	e.dirty.Store(true)

	e.logger.Info(ctx, "Witness registered",
		logger.String("witness_id", witnessID),
		logger.Float64("trust_score", trust),
	)
	e.audit.record(ctx, models.NewAuditEvent(constants.AuditEventWitnessRegistered, witnessID, true, "witness registered").
		WithMetadata("trust_score", trust))
	return nil
}

// UpdateWitnessTrust overrides a witness's trust, clamped to [0, 1], keeping its history.
func (e *WitnessEnforcer) UpdateWitnessTrust(witnessID string, trust float64) {
	entry := e.entry(witnessID)
	entry.mu.Lock()
	entry.trust = utils.Clamp(trust, 0, 1)
	entry.updatedAt = e.clock()
	entry.mu.Unlock()
	e.dirty.Store(true)
}

// WitnessTrust returns the registry trust, or the configured default for unknown witnesses.
func (e *WitnessEnforcer) WitnessTrust(witnessID string) float64 {
	entry := e.lookup(witnessID)
	if entry == nil {
		return e.cfg.Load().DefaultTrust
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.trust
}

// WitnessReputation returns the success rate over the stored history with the
// success and total counts. A witness with no history reports (0.5, 0, 0).
// WitnessReputation 返回历史记录中的成功率及成功数和总数；没有历史的见证人返回 (0.5, 0, 0)。
func (e *WitnessEnforcer) WitnessReputation(witnessID string) (float64, int, int) {
	entry := e.lookup(witnessID)
	if entry == nil {
		return 0.5, 0, 0
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if len(entry.history) == 0 {
		return 0.5, 0, 0
	}
	successful := countTrue(entry.history)
	return float64(successful) / float64(len(entry.history)), successful, len(entry.history)
}

// GetTrustedWitnesses returns witnesses whose trust is at least minTrust and whose history
// holds at least minVerifications marks, most trusted first.
// GetTrustedWitnesses 返回信任值不低于 minTrust 且历史标记数不少于 minVerifications 的见证人，按信任值降序排列。
func (e *WitnessEnforcer) GetTrustedWitnesses(minTrust float64, minVerifications int) []string {
	type candidate struct {
		id    string
		trust float64
	}
	var candidates []candidate
	e.mu.RLock()
	for id, entry := range e.registry {
		entry.mu.Lock()
		if entry.trust >= minTrust && len(entry.history) >= minVerifications {
			candidates = append(candidates, candidate{id: id, trust: entry.trust})
		}
		entry.mu.Unlock()
	}
	e.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].trust != candidates[j].trust {
			return candidates[i].trust > candidates[j].trust
		}
		return candidates[i].id < candidates[j].id
	})
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	return ids
}

// mark appends an outcome and applies trust = trust*retention + recentRate*recentWeight.
func (e *WitnessEnforcer) mark(witnessID string, success bool) {
	cfg := e.cfg.Load()
	entry := e.entry(witnessID)

	entry.mu.Lock()
	entry.history = append(entry.history, success)
	if over := len(entry.history) - cfg.HistoryLimit; over > 0 {
		entry.history = append([]bool(nil), entry.history[over:]...)
	}
	recent := entry.history
	if len(recent) > cfg.RecentWindow {
		recent = recent[len(recent)-cfg.RecentWindow:]
	}
	rate := float64(countTrue(recent)) / float64(len(recent))
	entry.trust = utils.Clamp(entry.trust*cfg.TrustRetention+rate*cfg.RecentWeight, 0, 1)
	entry.updatedAt = e.clock()
	entry.mu.Unlock()

	e.dirty.Store(true)
	e.metrics.RecordWitnessMark(success)
}

func (e *WitnessEnforcer) lookup(witnessID string) *witnessEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry[witnessID]
}

// entry returns the registry entry, creating it with the default trust when absent.
func (e *WitnessEnforcer) entry(witnessID string) *witnessEntry {
	if entry := e.lookup(witnessID); entry != nil {
		return entry
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.registry[witnessID]; ok {
		return entry
	}
	entry := &witnessEntry{trust: e.cfg.Load().DefaultTrust, updatedAt: e.clock()}
	e.registry[witnessID] = entry
	return entry
}

// ================================================================================
// Snapshot and Persistence
// ================================================================================

// Snapshot copies the registry, sorted by witness id.
func (e *WitnessEnforcer) Snapshot() []*models.WitnessRecord {
	e.mu.RLock()
	records := make([]*models.WitnessRecord, 0, len(e.registry))
	for id, entry := range e.registry {
		entry.mu.Lock()
		records = append(records, &models.WitnessRecord{
			WitnessID:  id,
			TrustScore: entry.trust,
			History:    append([]bool{}, entry.history...),
			UpdatedAt:  entry.updatedAt,
		})
		entry.mu.Unlock()
	}
	e.mu.RUnlock()
	sort.Slice(records, func(i, j int) bool { return records[i].WitnessID < records[j].WitnessID })
	return records
}

// Restore replaces the registry with records. Trust is clamped and history truncated
// to the configured limit.
func (e *WitnessEnforcer) Restore(records []*models.WitnessRecord) {
	limit := e.cfg.Load().HistoryLimit
	registry := make(map[string]*witnessEntry, len(records))
	for _, r := range records {
		history := r.History
		if len(history) > limit {
			history = history[len(history)-limit:]
		}
		registry[r.WitnessID] = &witnessEntry{
			trust:     utils.Clamp(r.TrustScore, 0, 1),
			history:   append([]bool(nil), history...),
			updatedAt: r.UpdatedAt,
		}
	}
	e.mu.Lock()
	e.registry = registry
	e.mu.Unlock()
}

// Save writes the registry to the repository.
func (e *WitnessEnforcer) Save(ctx context.Context) error {
	if e.repo == nil {
		return nil
	}
	e.dirty.Store(false)
	records := e.Snapshot()
	if err := e.repo.SaveAll(ctx, records); err != nil {
		e.dirty.Store(true)
		return errors.ErrPersistence("save witness registry", err)
	}
	e.logger.Debug(ctx, "Witness registry saved", logger.Int("count", len(records)))
	return nil
}

// Dirty reports whether the registry changed since the last save.
func (e *WitnessEnforcer) Dirty() bool {
	return e.dirty.Load()
}

// Flush saves the registry only if it changed since the last save.
func (e *WitnessEnforcer) Flush(ctx context.Context) error {
	if !e.dirty.Load() {
		return nil
	}
	return e.Save(ctx)
}

// Load restores the registry from the repository.
func (e *WitnessEnforcer) Load(ctx context.Context) (int, error) {
	if e.repo == nil {
		return 0, nil
	}
	records, err := e.repo.FindAll(ctx)
	if err != nil {
		return 0, errors.ErrPersistence("load witness registry", err)
	}
	e.Restore(records)
	e.dirty.Store(false)
	e.logger.Info(ctx, "Witness registry loaded", logger.Int("count", len(records)))
	return len(records), nil
}

func countTrue(values []bool) int {
	n := 0
	for _, v := range values {
		if v {
			n++
		}
	}
	return n
}
