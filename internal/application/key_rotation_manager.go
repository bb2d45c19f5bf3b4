// Package application provides the application layer services.
package application

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/lct/internal/config"
	"github.com/turtacn/lct/internal/domain/models"
	"github.com/turtacn/lct/internal/domain/repository"
	"github.com/turtacn/lct/internal/domain/service"
	"github.com/turtacn/lct/internal/infrastructure/crypto"
	"github.com/turtacn/lct/pkg/constants"
	"github.com/turtacn/lct/pkg/errors"
	"github.com/turtacn/lct/pkg/logger"
	"github.com/turtacn/lct/pkg/utils"
)

// KeyRotationManager owns the version history of every entity's signing keys.
// Private key material stays inside the key provider; the manager only keeps
// references. Each entity's chain is published as an immutable snapshot so
// verification never takes a lock.
// KeyRotationManager 负责每个实体签名密钥的版本历史。
// 私钥材料保留在密钥提供者内部，管理器只保存引用。每个实体的密钥链以不可变快照发布，验证无需加锁。
type KeyRotationManager struct {
	provider service.KeyProvider
	repo     repository.KeyRepository
	audit    *auditRecorder
	metrics  service.Metrics
	logger   logger.Logger
	cfg      *config.RotationConfig
	clock    func() time.Time

	locks  *lockTable
	chains sync.Map // entity id -> *chainSlot
}

type chainSlot struct {
	chain atomic.Pointer[repository.KeyChain]
}

// NewKeyRotationManager creates a new KeyRotationManager.
// repo and auditSvc may be nil, in which case chains live in memory only and no audit trail is kept.
// NewKeyRotationManager 创建新的 KeyRotationManager。
// repo 和 auditSvc 可以为 nil，此时密钥链仅保存在内存中且不记录审计。
func NewKeyRotationManager(
	provider service.KeyProvider,
	repo repository.KeyRepository,
	auditSvc service.AuditService,
	metrics service.Metrics,
	cfg *config.RotationConfig,
	log logger.Logger,
	opts ...Option,
) *KeyRotationManager {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	if cfg == nil {
		cfg = &config.RotationConfig{
			DefaultOverlapDays:  constants.DefaultOverlapDays,
			CleanupGraceDays:    constants.DefaultCleanupGraceDays,
			MaintenanceInterval: constants.DefaultMaintenanceInterval,
		}
	}
	o := buildOptions(opts)
	log = log.WithComponent("KeyRotationManager")
	return &KeyRotationManager{
		provider: provider,
		repo:     repo,
		audit:    &auditRecorder{sink: auditSvc, logger: log},
		metrics:  metrics,
		logger:   log,
		cfg:      cfg,
		clock:    o.clock,
		locks:    newLockTable(),
	}
}

// ================================================================================
// Rotation Options
// ================================================================================

type rotateRequest struct {
	overlap    time.Duration
	overlapSet bool
	reason     constants.RotationReason
	keyRef     string
}

// RotateOption customizes a single rotation.
type RotateOption func(*rotateRequest)

// WithOverlapDays sets how long the superseded version stays valid. Zero retires it immediately.
func WithOverlapDays(days float64) RotateOption {
	return func(r *rotateRequest) {
		r.overlap = utils.DaysToDuration(days)
		r.overlapSet = true
	}
}

// WithRotationReason records why the rotation happened.
func WithRotationReason(reason constants.RotationReason) RotateOption {
	return func(r *rotateRequest) {
		r.reason = reason
	}
}

// WithKeyRef rotates to a key already held by the provider instead of generating one.
func WithKeyRef(keyRef string) RotateOption {
	return func(r *rotateRequest) {
		r.keyRef = keyRef
	}
}

// ================================================================================
// Lifecycle
// ================================================================================

// RegisterInitialKey creates version 1 for an entity. An empty keyRef makes the provider generate a key.
// It fails with ErrEntityAlreadyRegistered if the entity already has a chain.
// RegisterInitialKey 为实体创建版本 1；keyRef 为空时由提供者生成密钥。
func (m *KeyRotationManager) RegisterInitialKey(ctx context.Context, entityID, keyRef string) (*models.KeyVersion, error) {
	ctx, span := m.startSpan(ctx, "KeyRotationManager.RegisterInitialKey", entityID)
	defer span.End()

	if entityID == "" {
		return nil, m.fail(span, errors.ErrInvalidArgument("entity id is required"))
	}

	unlock := m.locks.lock(entityID)
	defer unlock()

	slot := m.slot(entityID, true)
	if slot.chain.Load() != nil {
		return nil, m.fail(span, errors.ErrEntityAlreadyRegistered(entityID))
	}

	ref, pub, generated, err := m.resolveKey(ctx, keyRef)
	if err != nil {
		return nil, m.fail(span, err)
	}

	now := m.clock()
	version := &models.KeyVersion{
		EntityID:       entityID,
		Version:        1,
		PublicKey:      pub,
		KeyRef:         ref,
		Status:         constants.KeyStatusActive,
		CreatedAt:      now,
		ActivatedAt:    now,
		RotationReason: constants.RotationReasonInitial,
	}
	chain := &repository.KeyChain{EntityID: entityID, LatestVersion: 1, Versions: []*models.KeyVersion{version}}

	if err := m.persist(ctx, chain); err != nil {
		if generated {
			m.destroy(ctx, entityID, ref)
		}
		return nil, m.fail(span, err)
	}
	slot.chain.Store(chain)

	m.logger.Info(ctx, "Initial key registered",
		logger.String("entity_id", entityID),
		logger.String("key_id", version.KeyID()),
	)
	m.audit.record(ctx, models.NewAuditEvent(constants.AuditEventKeyRegistered, entityID, true, "initial key registered").
		WithMetadata("version", 1))
	return version.Clone(), nil
}

// RotateKey creates version N+1 as the only ACTIVE version. The previous ACTIVE version
// becomes OVERLAPPING until now+overlap and its private key is destroyed, so it can
// still verify but never sign again.
// RotateKey 创建版本 N+1 作为唯一的 ACTIVE 版本。原 ACTIVE 版本进入 OVERLAPPING 状态直到 now+overlap，
// 其私钥被销毁，只能用于验证而不能再签名。
func (m *KeyRotationManager) RotateKey(ctx context.Context, entityID string, opts ...RotateOption) (*models.KeyVersion, error) {
	ctx, span := m.startSpan(ctx, "KeyRotationManager.RotateKey", entityID)
	defer span.End()

	req := rotateRequest{reason: constants.RotationReasonNormal}
	for _, opt := range opts {
		opt(&req)
	}
	if !req.overlapSet {
		req.overlap = utils.DaysToDuration(m.cfg.DefaultOverlapDays)
	}
	if req.overlap < 0 {
		return nil, m.fail(span, errors.ErrInvalidArgument("overlap must not be negative"))
	}

	unlock := m.locks.lock(entityID)
	defer unlock()

	slot := m.slot(entityID, false)
	if slot == nil || slot.chain.Load() == nil {
		return nil, m.fail(span, errors.ErrEntityNotRegistered(entityID))
	}

	ref, pub, generated, err := m.resolveKey(ctx, req.keyRef)
	if err != nil {
		return nil, m.fail(span, err)
	}

	// Reusing a retained key would let the destroy of the superseded version take the new one with it.
	for _, v := range slot.chain.Load().Versions {
		if v.KeyRef == ref || bytes.Equal(v.PublicKey, pub) {
			if generated {
				m.destroy(ctx, entityID, ref)
			}
			return nil, m.fail(span, errors.ErrInvalidArgument(
				fmt.Sprintf("rotation must not reuse the key of version %d", v.Version)))
		}
	}

	now := m.clock()
	chain := cloneChain(slot.chain.Load())
	next := chain.LatestVersion + 1

	var superseded *models.KeyVersion
	for _, v := range chain.Versions {
		if v.Status == constants.KeyStatusActive {
			expires := now.Add(req.overlap)
			v.Status = constants.KeyStatusOverlapping
			v.ExpiresAt = &expires
			v.SupersededBy = next
			superseded = v
		}
	}

	version := &models.KeyVersion{
		EntityID:       entityID,
		Version:        next,
		PublicKey:      pub,
		KeyRef:         ref,
		Status:         constants.KeyStatusActive,
		CreatedAt:      now,
		ActivatedAt:    now,
		RotationReason: req.reason,
	}
	chain.Versions = append(chain.Versions, version)
	chain.LatestVersion = next

	if err := m.persist(ctx, chain); err != nil {
		if generated {
			m.destroy(ctx, entityID, ref)
		}
		return nil, m.fail(span, err)
	}
	slot.chain.Store(chain)

	if superseded != nil {
		m.destroy(ctx, entityID, superseded.KeyRef)
	}

	m.metrics.RecordKeyRotation(string(req.reason))
	m.logger.Info(ctx, "Key rotated",
		logger.String("entity_id", entityID),
		logger.Int("version", next),
		logger.String("reason", string(req.reason)),
		logger.Duration("overlap", req.overlap),
	)
	event := models.NewAuditEvent(constants.AuditEventKeyRotated, entityID, true, "key rotated").
		WithMetadata("version", next).
		WithMetadata("reason", string(req.reason))
	if superseded != nil {
		event.WithMetadata("superseded_version", superseded.Version).
			WithMetadata("overlap_expires_at", utils.TimeToISO8601(*superseded.ExpiresAt))
	}
	m.audit.record(ctx, event)
	return version.Clone(), nil
}

// RevokeKey marks a version REVOKED. Revocation is retroactive: the version never
// verifies again, whatever the signing time. Revoking the ACTIVE version leaves the
// entity unable to sign until the next rotation. Revoking twice is a no-op.
// RevokeKey 将版本标记为 REVOKED。撤销具有追溯性：无论签名时间如何，该版本都不再通过验证。
func (m *KeyRotationManager) RevokeKey(ctx context.Context, entityID string, version int, reason string) error {
	ctx, span := m.startSpan(ctx, "KeyRotationManager.RevokeKey", entityID)
	defer span.End()
	span.SetAttributes(attribute.Int("key.version", version))

	unlock := m.locks.lock(entityID)
	defer unlock()

	slot := m.slot(entityID, false)
	if slot == nil || slot.chain.Load() == nil {
		return m.fail(span, errors.ErrEntityNotRegistered(entityID))
	}

	chain := cloneChain(slot.chain.Load())
	target := findVersion(chain, version)
	if target == nil {
		return m.fail(span, errors.ErrKeyVersionNotFound(entityID, version))
	}
	if target.Status == constants.KeyStatusRevoked {
		return nil
	}

	wasActive := target.Status == constants.KeyStatusActive
	now := m.clock()
	target.Status = constants.KeyStatusRevoked
	target.RevokedAt = &now
	target.RevocationReason = reason

	if err := m.persist(ctx, chain); err != nil {
		return m.fail(span, err)
	}
	slot.chain.Store(chain)
	m.destroy(ctx, entityID, target.KeyRef)

	m.metrics.RecordKeyRevocation(reason)
	m.logger.Warn(ctx, "Key revoked",
		logger.String("entity_id", entityID),
		logger.Int("version", version),
		logger.String("reason", reason),
	)
	if wasActive {
		m.logger.Warn(ctx, "Entity has no active key until the next rotation", logger.String("entity_id", entityID))
	}
	m.audit.record(ctx, models.NewAuditEvent(constants.AuditEventKeyRevoked, entityID, true, "key revoked").
		WithMetadata("version", version).
		WithMetadata("reason", reason).
		WithMetadata("was_active", wasActive))
	return nil
}

// ExpireOverlapping moves every OVERLAPPING version whose expiry is at or before now
// to EXPIRED and returns how many versions changed.
// ExpireOverlapping 将所有已到期的 OVERLAPPING 版本转为 EXPIRED，并返回变更数量。
func (m *KeyRotationManager) ExpireOverlapping(ctx context.Context, now time.Time) (int, error) {
	expired := 0
	for _, entityID := range m.Entities() {
		slot := m.slot(entityID, false)
		if slot == nil || !hasDueOverlap(slot.chain.Load(), now) {
			continue
		}

		n, err := m.expireEntity(ctx, slot, entityID, now)
		if err != nil {
			return expired, err
		}
		expired += n
	}
	if expired > 0 {
		m.metrics.RecordKeysExpired(expired)
		m.logger.Info(ctx, "Overlapping keys expired", logger.Int("count", expired))
	}
	return expired, nil
}

func (m *KeyRotationManager) expireEntity(ctx context.Context, slot *chainSlot, entityID string, now time.Time) (int, error) {
	unlock := m.locks.lock(entityID)
	defer unlock()

	current := slot.chain.Load()
	if !hasDueOverlap(current, now) {
		return 0, nil
	}
	chain := cloneChain(current)
	var versions []int
	for _, v := range chain.Versions {
		if v.Status == constants.KeyStatusOverlapping && v.ExpiresAt != nil && !v.ExpiresAt.After(now) {
			v.Status = constants.KeyStatusExpired
			versions = append(versions, v.Version)
		}
	}
	if err := m.persist(ctx, chain); err != nil {
		return 0, err
	}
	slot.chain.Store(chain)

	m.audit.record(ctx, models.NewAuditEvent(constants.AuditEventKeyExpired, entityID, true, "overlap window closed").
		WithMetadata("versions", versions))
	return len(versions), nil
}

// CleanupExpiredKeys runs the expiry sweep, then drops EXPIRED versions whose expiry is
// older than graceDays. Version numbering is unaffected.
// CleanupExpiredKeys 先执行到期扫描，然后删除过期时间早于宽限期的 EXPIRED 版本；版本号不受影响。
func (m *KeyRotationManager) CleanupExpiredKeys(ctx context.Context, graceDays float64) (int, error) {
	if graceDays < 0 {
		return 0, errors.ErrInvalidArgument("grace period must not be negative")
	}
	now := m.clock()
	if _, err := m.ExpireOverlapping(ctx, now); err != nil {
		return 0, err
	}
	threshold := now.Add(-utils.DaysToDuration(graceDays))

	removed := 0
	for _, entityID := range m.Entities() {
		slot := m.slot(entityID, false)
		if slot == nil || !hasCleanable(slot.chain.Load(), threshold) {
			continue
		}
		n, err := m.cleanupEntity(ctx, slot, entityID, threshold)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	if removed > 0 {
		m.metrics.RecordKeysCleaned(removed)
		m.logger.Info(ctx, "Expired keys cleaned up",
			logger.Int("count", removed),
			logger.Float64("grace_days", graceDays),
		)
	}
	return removed, nil
}

func (m *KeyRotationManager) cleanupEntity(ctx context.Context, slot *chainSlot, entityID string, threshold time.Time) (int, error) {
	unlock := m.locks.lock(entityID)
	defer unlock()

	current := slot.chain.Load()
	if !hasCleanable(current, threshold) {
		return 0, nil
	}
	chain := cloneChain(current)
	kept := chain.Versions[:0]
	var dropped []*models.KeyVersion
	for _, v := range chain.Versions {
		if isCleanable(v, threshold) {
			dropped = append(dropped, v)
			continue
		}
		kept = append(kept, v)
	}
	chain.Versions = kept

	if err := m.persist(ctx, chain); err != nil {
		return 0, err
	}
	slot.chain.Store(chain)

	versions := make([]int, 0, len(dropped))
	for _, v := range dropped {
		m.destroy(ctx, entityID, v.KeyRef)
		versions = append(versions, v.Version)
	}
	m.audit.record(ctx, models.NewAuditEvent(constants.AuditEventKeyCleaned, entityID, true, "expired keys removed").
		WithMetadata("versions", versions))
	return len(dropped), nil
}

// ================================================================================
// Signing and Verification
// ================================================================================

// SignData signs data with the entity's ACTIVE version and returns the signature with
// the version number. It fails with ErrNoActiveKey when every version is retired.
// SignData 使用实体的 ACTIVE 版本签名，返回签名和版本号；没有活动密钥时返回 ErrNoActiveKey。
func (m *KeyRotationManager) SignData(ctx context.Context, entityID string, data []byte) ([]byte, int, error) {
	// A rotation between the lookup and the provider call destroys the looked-up
	// key, so retry once against the fresh snapshot.
	for attempt := 0; ; attempt++ {
		active, err := m.activeVersion(entityID)
		if err != nil {
			m.metrics.RecordSignature("sign", false)
			return nil, 0, err
		}

		sig, err := m.provider.Sign(ctx, active.KeyRef, data)
		if err == nil {
			m.metrics.RecordSignature("sign", true)
			return sig, active.Version, nil
		}
		if attempt == 0 {
			if latest, lerr := m.activeVersion(entityID); lerr == nil && latest.Version != active.Version {
				continue
			}
		}
		m.metrics.RecordSignature("sign", false)
		m.logger.Error(ctx, "Failed to sign data", err,
			logger.String("entity_id", entityID),
			logger.Int("version", active.Version),
		)
		return nil, 0, errors.ErrKeyProvider("sign", err)
	}
}

// VerifySignature checks sig against every version valid at ts, newest first, so a
// signature made with an overlapping key still verifies after rotation. A zero ts
// means now.
// VerifySignature 按从新到旧的顺序，用在 ts 时刻有效的每个版本检查签名；ts 为零值表示当前时间。
func (m *KeyRotationManager) VerifySignature(ctx context.Context, entityID string, data, sig []byte, ts time.Time) (bool, string) {
	if ts.IsZero() {
		ts = m.clock()
	}
	chain := m.snapshot(entityID)
	if chain == nil {
		m.metrics.RecordSignature("verify", false)
		return false, fmt.Sprintf("Entity not registered: %s", entityID)
	}

	candidates := validAt(chain, ts)
	if len(candidates) == 0 {
		m.metrics.RecordSignature("verify", false)
		return false, fmt.Sprintf("No valid key at timestamp %s", utils.TimeToISO8601(ts))
	}
	for _, v := range candidates {
		if crypto.Verify(v.PublicKey, data, sig) {
			m.metrics.RecordSignature("verify", true)
			return true, fmt.Sprintf("Valid signature (key v%d)", v.Version)
		}
	}
	m.metrics.RecordSignature("verify", false)
	m.logger.Debug(ctx, "Signature did not verify", logger.String("entity_id", entityID), logger.Int("candidates", len(candidates)))
	return false, fmt.Sprintf("Invalid signature with key v%d", candidates[0].Version)
}

// VerifySignatureWithVersion checks sig against one named version, which must be valid at ts.
func (m *KeyRotationManager) VerifySignatureWithVersion(ctx context.Context, entityID string, version int, data, sig []byte, ts time.Time) (bool, string) {
	if ts.IsZero() {
		ts = m.clock()
	}
	chain := m.snapshot(entityID)
	if chain == nil {
		m.metrics.RecordSignature("verify", false)
		return false, fmt.Sprintf("Entity not registered: %s", entityID)
	}
	v := findVersion(chain, version)
	if v == nil {
		m.metrics.RecordSignature("verify", false)
		return false, fmt.Sprintf("Unknown key version v%d", version)
	}
	if !v.ValidAt(ts) {
		m.metrics.RecordSignature("verify", false)
		return false, fmt.Sprintf("Key v%d not valid at timestamp %s (%s)", version, utils.TimeToISO8601(ts), v.Status)
	}
	if !crypto.Verify(v.PublicKey, data, sig) {
		m.metrics.RecordSignature("verify", false)
		return false, fmt.Sprintf("Invalid signature with key v%d", version)
	}
	m.metrics.RecordSignature("verify", true)
	return true, fmt.Sprintf("Valid signature (key v%d)", version)
}

// KeyValidAt reports whether publicKey belongs to a version of the entity valid at ts.
func (m *KeyRotationManager) KeyValidAt(entityID string, publicKey ed25519.PublicKey, ts time.Time) (*models.KeyVersion, bool) {
	chain := m.snapshot(entityID)
	if chain == nil {
		return nil, false
	}
	for _, v := range validAt(chain, ts) {
		if v.PublicKey.Equal(publicKey) {
			return v.Clone(), true
		}
	}
	return nil, false
}

// ================================================================================
// Queries
// ================================================================================

// GetKeyAtTimestamp returns the newest non-revoked version whose interval contains ts, or nil.
// GetKeyAtTimestamp 返回区间包含 ts 的最新未撤销版本，没有则返回 nil。
func (m *KeyRotationManager) GetKeyAtTimestamp(entityID string, ts time.Time) *models.KeyVersion {
	chain := m.snapshot(entityID)
	if chain == nil {
		return nil
	}
	candidates := validAt(chain, ts)
	if len(candidates) == 0 {
		return nil
	}
	return candidates[0].Clone()
}

// CurrentKey returns the ACTIVE version.
func (m *KeyRotationManager) CurrentKey(entityID string) (*models.KeyVersion, error) {
	v, err := m.activeVersion(entityID)
	if err != nil {
		return nil, err
	}
	return v.Clone(), nil
}

// KeyVersion returns one retained version.
func (m *KeyRotationManager) KeyVersion(entityID string, version int) (*models.KeyVersion, error) {
	chain := m.snapshot(entityID)
	if chain == nil {
		return nil, errors.ErrEntityNotRegistered(entityID)
	}
	v := findVersion(chain, version)
	if v == nil {
		return nil, errors.ErrKeyVersionNotFound(entityID, version)
	}
	return v.Clone(), nil
}

// GetKeyHistory returns the audit view of every retained version in version order.
func (m *KeyRotationManager) GetKeyHistory(entityID string) ([]models.KeyHistoryEntry, error) {
	chain := m.snapshot(entityID)
	if chain == nil {
		return nil, errors.ErrEntityNotRegistered(entityID)
	}
	history := make([]models.KeyHistoryEntry, 0, len(chain.Versions))
	for _, v := range chain.Versions {
		history = append(history, v.HistoryEntry())
	}
	return history, nil
}

// Chain returns a deep copy of the entity's chain, or nil when unregistered.
func (m *KeyRotationManager) Chain(entityID string) *repository.KeyChain {
	chain := m.snapshot(entityID)
	if chain == nil {
		return nil
	}
	return cloneChain(chain)
}

// Registered reports whether the entity has a key chain.
func (m *KeyRotationManager) Registered(entityID string) bool {
	return m.snapshot(entityID) != nil
}

// Entities lists every registered entity id in sorted order.
func (m *KeyRotationManager) Entities() []string {
	var ids []string
	m.chains.Range(func(key, value any) bool {
		if value.(*chainSlot).chain.Load() != nil {
			ids = append(ids, key.(string))
		}
		return true
	})
	sort.Strings(ids)
	return ids
}

// ================================================================================
// Persistence
// ================================================================================

// Load publishes every chain held by the repository and returns how many were loaded.
// Load 发布存储库中的所有密钥链并返回加载数量。
func (m *KeyRotationManager) Load(ctx context.Context) (int, error) {
	if m.repo == nil {
		return 0, nil
	}
	chains, err := m.repo.ListChains(ctx)
	if err != nil {
		return 0, errors.ErrPersistence("list key chains", err)
	}
	for _, chain := range chains {
		if err := validateChain(chain); err != nil {
			return 0, err
		}
		unlock := m.locks.lock(chain.EntityID)
		m.slot(chain.EntityID, true).chain.Store(cloneChain(chain))
		unlock()
	}
	m.logger.Info(ctx, "Key chains loaded", logger.Int("count", len(chains)))
	return len(chains), nil
}

// RestoreChain installs a chain recovered from an identity record. The entity must not
// already be registered.
func (m *KeyRotationManager) RestoreChain(ctx context.Context, chain *repository.KeyChain) error {
	if err := validateChain(chain); err != nil {
		return err
	}

	unlock := m.locks.lock(chain.EntityID)
	defer unlock()

	slot := m.slot(chain.EntityID, true)
	if slot.chain.Load() != nil {
		return errors.ErrEntityAlreadyRegistered(chain.EntityID)
	}
	restored := cloneChain(chain)
	if err := m.persist(ctx, restored); err != nil {
		return err
	}
	slot.chain.Store(restored)
	m.logger.Info(ctx, "Key chain restored",
		logger.String("entity_id", chain.EntityID),
		logger.Int("latest_version", chain.LatestVersion),
	)
	return nil
}

// ================================================================================
// Helpers
// ================================================================================

func (m *KeyRotationManager) slot(entityID string, create bool) *chainSlot {
	if v, ok := m.chains.Load(entityID); ok {
		return v.(*chainSlot)
	}
	if !create {
		return nil
	}
	v, _ := m.chains.LoadOrStore(entityID, &chainSlot{})
	return v.(*chainSlot)
}

func (m *KeyRotationManager) snapshot(entityID string) *repository.KeyChain {
	slot := m.slot(entityID, false)
	if slot == nil {
		return nil
	}
	return slot.chain.Load()
}

func (m *KeyRotationManager) activeVersion(entityID string) (*models.KeyVersion, error) {
	chain := m.snapshot(entityID)
	if chain == nil {
		return nil, errors.ErrEntityNotRegistered(entityID)
	}
	for i := len(chain.Versions) - 1; i >= 0; i-- {
		if chain.Versions[i].CanSign() {
			return chain.Versions[i], nil
		}
	}
	return nil, errors.ErrNoActiveKey(entityID)
}

// resolveKey returns the reference and public key of keyRef, generating a key when keyRef is empty.
func (m *KeyRotationManager) resolveKey(ctx context.Context, keyRef string) (string, ed25519.PublicKey, bool, error) {
	if keyRef == "" {
		ref, pub, err := m.provider.GenerateKey(ctx)
		if err != nil {
			m.logger.Error(ctx, "Failed to generate key", err, logger.String("provider", m.provider.Name()))
			return "", nil, false, errors.ErrKeyProvider("generate key", err)
		}
		return ref, pub, true, nil
	}
	pub, err := m.provider.PublicKey(ctx, keyRef)
	if err != nil {
		return "", nil, false, errors.ErrKeyProvider("resolve public key", err)
	}
	return keyRef, pub, false, nil
}

func (m *KeyRotationManager) persist(ctx context.Context, chain *repository.KeyChain) error {
	if m.repo == nil {
		return nil
	}
	if err := m.repo.SaveChain(ctx, chain); err != nil {
		m.logger.Error(ctx, "Failed to persist key chain", err, logger.String("entity_id", chain.EntityID))
		return errors.ErrPersistence("save key chain", err)
	}
	return nil
}

func (m *KeyRotationManager) destroy(ctx context.Context, entityID, keyRef string) {
	if keyRef == "" {
		return
	}
	if err := m.provider.DestroyKey(ctx, keyRef); err != nil {
		m.logger.Error(ctx, "Failed to destroy retired private key", err, logger.String("entity_id", entityID))
	}
}

func (m *KeyRotationManager) startSpan(ctx context.Context, name, entityID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, name, trace.WithAttributes(attribute.String("entity.id", entityID)))
}

func (m *KeyRotationManager) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func cloneChain(chain *repository.KeyChain) *repository.KeyChain {
	c := &repository.KeyChain{
		EntityID:      chain.EntityID,
		LatestVersion: chain.LatestVersion,
		Versions:      make([]*models.KeyVersion, 0, len(chain.Versions)+1),
	}
	for _, v := range chain.Versions {
		c.Versions = append(c.Versions, v.Clone())
	}
	return c
}

func findVersion(chain *repository.KeyChain, version int) *models.KeyVersion {
	for _, v := range chain.Versions {
		if v.Version == version {
			return v
		}
	}
	return nil
}

// validAt returns the versions valid at ts, newest first.
func validAt(chain *repository.KeyChain, ts time.Time) []*models.KeyVersion {
	var out []*models.KeyVersion
	for i := len(chain.Versions) - 1; i >= 0; i-- {
		if chain.Versions[i].ValidAt(ts) {
			out = append(out, chain.Versions[i])
		}
	}
	return out
}

func hasDueOverlap(chain *repository.KeyChain, now time.Time) bool {
	if chain == nil {
		return false
	}
	for _, v := range chain.Versions {
		if v.Status == constants.KeyStatusOverlapping && v.ExpiresAt != nil && !v.ExpiresAt.After(now) {
			return true
		}
	}
	return false
}

func isCleanable(v *models.KeyVersion, threshold time.Time) bool {
	return v.Status == constants.KeyStatusExpired && v.ExpiresAt != nil && v.ExpiresAt.Before(threshold)
}

func hasCleanable(chain *repository.KeyChain, threshold time.Time) bool {
	if chain == nil {
		return false
	}
	for _, v := range chain.Versions {
		if isCleanable(v, threshold) {
			return true
		}
	}
	return false
}

// validateChain checks the numbering and single-ACTIVE invariants of an externally sourced chain.
func validateChain(chain *repository.KeyChain) error {
	if chain == nil || chain.EntityID == "" {
		return errors.ErrInvalidArgument("key chain requires an entity id")
	}
	active := 0
	prev := 0
	for _, v := range chain.Versions {
		if v.EntityID != chain.EntityID {
			return errors.ErrInvalidArgument(fmt.Sprintf("key version %d belongs to %q", v.Version, v.EntityID))
		}
		if v.Version <= prev {
			return errors.ErrInvalidArgument(fmt.Sprintf("key versions out of order at %d", v.Version))
		}
		if len(v.PublicKey) != ed25519.PublicKeySize {
			return errors.ErrInvalidArgument(fmt.Sprintf("key version %d has a malformed public key", v.Version))
		}
		if v.Status == constants.KeyStatusActive {
			active++
		}
		prev = v.Version
	}
	if active > 1 {
		return errors.ErrInvalidArgument("key chain has more than one active version")
	}
	if chain.LatestVersion < prev {
		return errors.ErrInvalidArgument("latest version is behind the stored versions")
	}
	return nil
}
