package application

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/turtacn/lct/internal/domain/models"
	"github.com/turtacn/lct/internal/domain/repository"
	"github.com/turtacn/lct/internal/domain/service"
	"github.com/turtacn/lct/internal/infrastructure/crypto"
	"github.com/turtacn/lct/pkg/canonical"
	"github.com/turtacn/lct/pkg/constants"
	"github.com/turtacn/lct/pkg/errors"
	"github.com/turtacn/lct/pkg/logger"
	"github.com/turtacn/lct/pkg/utils"
)

// IdentityService manages LCT identities: creation, interaction history,
// attestations, vouchers and signing. Signing always goes through the key
// rotation manager so the current key is used.
// IdentityService 管理 LCT 身份：创建、交互历史、证明、担保和签名。
// 签名始终通过密钥轮换管理器完成，以确保使用当前密钥。
type IdentityService struct {
	keys     *KeyRotationManager
	provider service.KeyProvider
	scorer   *service.TrustScorer
	repo     repository.IdentityRepository
	records  repository.IdentityRecordStore
	cache    service.TrustSnapshotCache
	audit    *auditRecorder
	metrics  service.Metrics
	logger   logger.Logger
	clock    func() time.Time

	mu         sync.RWMutex
	identities map[string]*identityEntry
}

type identityEntry struct {
	mu       sync.RWMutex
	identity *models.Identity
}

// NewIdentityService creates a new IdentityService.
// repo, records, cache and auditSvc are optional.
// NewIdentityService 创建新的 IdentityService；repo、records、cache 和 auditSvc 均为可选。
func NewIdentityService(
	keys *KeyRotationManager,
	provider service.KeyProvider,
	scorer *service.TrustScorer,
	repo repository.IdentityRepository,
	records repository.IdentityRecordStore,
	cache service.TrustSnapshotCache,
	auditSvc service.AuditService,
	metrics service.Metrics,
	log logger.Logger,
	opts ...Option,
) *IdentityService {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	if scorer == nil {
		scorer = service.NewTrustScorer(service.DefaultTrustWeights())
	}
	o := buildOptions(opts)
	log = log.WithComponent("IdentityService")
	return &IdentityService{
		keys:       keys,
		provider:   provider,
		scorer:     scorer,
		repo:       repo,
		records:    records,
		cache:      cache,
		audit:      &auditRecorder{sink: auditSvc, logger: log},
		metrics:    metrics,
		logger:     log,
		clock:      o.clock,
		identities: make(map[string]*identityEntry),
	}
}

// ================================================================================
// Creation
// ================================================================================

// Generate creates a fresh identity: a new key pair in the provider, an entity id
// derived from its public key, zeroed counters and version 1 of its key chain.
// Generate 创建新身份：在提供者中生成密钥对，由公钥派生实体 ID，计数器归零，并注册密钥链版本 1。
func (s *IdentityService) Generate(ctx context.Context) (*models.Identity, error) {
	ref, pub, err := s.provider.GenerateKey(ctx)
	if err != nil {
		return nil, errors.ErrKeyProvider("generate key", err)
	}
	return s.create(ctx, ref, pub)
}

// FromPrivateKey creates an identity around existing key material.
func (s *IdentityService) FromPrivateKey(ctx context.Context, privateKey ed25519.PrivateKey) (*models.Identity, error) {
	ref, pub, err := s.provider.ImportKey(ctx, privateKey)
	if err != nil {
		return nil, errors.ErrKeyProvider("import key", err)
	}
	return s.create(ctx, ref, pub)
}

func (s *IdentityService) create(ctx context.Context, keyRef string, pub ed25519.PublicKey) (*models.Identity, error) {
	entityID := crypto.DeriveEntityID(pub)
	now := s.clock()
	identity := &models.Identity{
		EntityID:          entityID,
		PublicKey:         pub,
		CreatedAt:         now,
		LastActive:        now,
		DeviceFingerprint: crypto.DeviceFingerprint(),
		Attestations:      []models.Attestation{},
		Vouchers:          []string{},
	}

	if _, err := s.keys.RegisterInitialKey(ctx, entityID, keyRef); err != nil {
		_ = s.provider.DestroyKey(ctx, keyRef)
		return nil, err
	}
	if err := s.install(ctx, identity); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "Identity created", logger.String("entity_id", entityID))
	s.audit.record(ctx, models.NewAuditEvent(constants.AuditEventIdentityCreated, entityID, true, "identity created").
		WithMetadata("device_fingerprint", identity.DeviceFingerprint))
	s.publish(ctx, identity)
	return identity.Clone(), nil
}

func (s *IdentityService) install(ctx context.Context, identity *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.identities[identity.EntityID]; ok {
		return errors.ErrEntityAlreadyRegistered(identity.EntityID)
	}
	if err := s.save(ctx, identity); err != nil {
		return err
	}
	s.identities[identity.EntityID] = &identityEntry{identity: identity}
	return nil
}

// ================================================================================
// Queries
// ================================================================================

// Get returns a copy of the identity.
func (s *IdentityService) Get(entityID string) (*models.Identity, error) {
	entry, err := s.entry(entityID)
	if err != nil {
		return nil, err
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return entry.identity.Clone(), nil
}

// List returns every known entity id in sorted order.
func (s *IdentityService) List() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.identities))
	for id := range s.identities {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// TrustScore computes the identity's trust score now.
func (s *IdentityService) TrustScore(entityID string) (float64, error) {
	identity, err := s.Get(entityID)
	if err != nil {
		return 0, err
	}
	return s.scorer.TrustScore(identity, s.clock()), nil
}

// Reputation computes the identity's reputation.
func (s *IdentityService) Reputation(entityID string) (float64, error) {
	identity, err := s.Get(entityID)
	if err != nil {
		return 0, err
	}
	return s.scorer.Reputation(identity), nil
}

// Snapshot returns the read-only trust view consumed by the economic layer.
func (s *IdentityService) Snapshot(entityID string) (*models.TrustSnapshot, error) {
	identity, err := s.Get(entityID)
	if err != nil {
		return nil, err
	}
	return s.scorer.Snapshot(identity, s.clock()), nil
}

// ================================================================================
// Mutations
// ================================================================================

// RecordInteraction counts one interaction outcome and refreshes last_active.
// RecordInteraction 记录一次交互结果并刷新 last_active。
func (s *IdentityService) RecordInteraction(ctx context.Context, entityID string, success bool) error {
	updated, err := s.mutate(ctx, entityID, func(id *models.Identity) (bool, error) {
		id.Interactions++
		if success {
			id.SuccessfulInteractions++
		} else {
			id.FailedInteractions++
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	s.metrics.RecordInteraction(success)
	s.publish(ctx, updated)
	return nil
}

// AddAttestation appends a third-party claim. A nil IssuedAt is stamped with the current time.
// AddAttestation 追加第三方声明；IssuedAt 为空时使用当前时间。
func (s *IdentityService) AddAttestation(ctx context.Context, entityID string, attestation models.Attestation) error {
	if invalidWeight(attestation.Weight) || invalidWeight(attestation.TrustLevel) {
		return errors.ErrInvalidArgument("attestation weight and trust level must be finite and non-negative")
	}
	if attestation.IssuedAt == nil {
		now := s.clock()
		attestation.IssuedAt = &now
	}
	updated, err := s.mutate(ctx, entityID, func(id *models.Identity) (bool, error) {
		id.Attestations = append(id.Attestations, attestation)
		return true, nil
	})
	if err != nil {
		return err
	}
	s.audit.record(ctx, models.NewAuditEvent(constants.AuditEventAttestationAdded, entityID, true, "attestation added").
		WithMetadata("attestor_id", attestation.AttestorID).
		WithMetadata("weight", attestation.Weight).
		WithMetadata("trust_level", attestation.TrustLevel))
	s.publish(ctx, updated)
	return nil
}

// AddVoucher records that voucherID vouches for the identity. Adding an existing
// voucher is a no-op and reports false.
// AddVoucher 记录 voucherID 为该身份担保；重复添加不做任何操作并返回 false。
func (s *IdentityService) AddVoucher(ctx context.Context, entityID, voucherID string) (bool, error) {
	if voucherID == "" {
		return false, errors.ErrInvalidArgument("voucher id is required")
	}
	updated, err := s.mutate(ctx, entityID, func(id *models.Identity) (bool, error) {
		if id.HasVoucher(voucherID) {
			return false, nil
		}
		id.Vouchers = append(id.Vouchers, voucherID)
		return true, nil
	})
	if err != nil {
		return false, err
	}
	if updated == nil {
		return false, nil
	}
	s.audit.record(ctx, models.NewAuditEvent(constants.AuditEventVoucherAdded, entityID, true, "voucher added").
		WithMetadata("voucher_id", voucherID))
	s.publish(ctx, updated)
	return true, nil
}

// mutate applies fn to a copy of the identity under its lock, persists the copy and
// swaps it in. It returns the new copy, or nil when fn reported no change.
func (s *IdentityService) mutate(ctx context.Context, entityID string, fn func(*models.Identity) (bool, error)) (*models.Identity, error) {
	entry, err := s.entry(entityID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	next := entry.identity.Clone()
	changed, err := fn(next)
	if err != nil || !changed {
		return nil, err
	}
	next.LastActive = s.clock()
	if err := s.save(ctx, next); err != nil {
		return nil, err
	}
	entry.identity = next
	return next.Clone(), nil
}

// ================================================================================
// Signing
// ================================================================================

// Sign canonically encodes payload, signs it with the entity's current key and
// attaches the signature block.
// Sign 对载荷进行规范编码，使用实体的当前密钥签名并附加签名块。
func (s *IdentityService) Sign(ctx context.Context, entityID string, payload canonical.Payload) (*models.SignedPayload, error) {
	if _, err := s.entry(entityID); err != nil {
		return nil, err
	}
	payload = payload.Normalize()
	data, err := canonical.Encode(payload)
	if err != nil {
		return nil, errors.ErrInvalidArgument(err.Error())
	}

	sig, version, err := s.keys.SignData(ctx, entityID, data)
	if err != nil {
		return nil, err
	}
	key, err := s.keys.KeyVersion(entityID, version)
	if err != nil {
		return nil, err
	}

	return &models.SignedPayload{
		Payload: payload,
		Signature: &models.SignatureBlock{
			AgentID:   entityID,
			PublicKey: crypto.EncodePublicKey(key.PublicKey),
			Signature: utils.Base64Encode(sig),
			SignedAt:  utils.TimeToISO8601(s.clock()),
		},
	}, nil
}

// VerifySignedPayload checks the embedded signature against the canonical encoding of
// the payload fields. It returns the claimed agent id on success. It never errors:
// a missing block, bad base64 or a wrong-length key all yield false.
// VerifySignedPayload 根据载荷字段的规范编码检查嵌入的签名，成功时返回声明的代理 ID，任何解码错误都返回 false。
func VerifySignedPayload(signed *models.SignedPayload) (bool, string) {
	block, pub, sig, ok := decodeBlock(signed)
	if !ok {
		return false, ""
	}
	data, err := canonical.Encode(signed.Payload)
	if err != nil {
		return false, ""
	}
	if !crypto.Verify(pub, data, sig) {
		return false, ""
	}
	return true, block.AgentID
}

// VerifySignedJSON parses a signed payload document and verifies it.
func VerifySignedJSON(raw []byte) (bool, string) {
	var signed models.SignedPayload
	if err := json.Unmarshal(raw, &signed); err != nil {
		return false, ""
	}
	return VerifySignedPayload(&signed)
}

// VerifyAttributedSignature verifies the signature and additionally checks that the
// embedded key belonged to the claimed entity's key chain at signed_at, so keys
// that were revoked or never registered fail.
// VerifyAttributedSignature 验证签名，并检查嵌入的公钥在 signed_at 时刻属于所声明实体的密钥链。
func (s *IdentityService) VerifyAttributedSignature(ctx context.Context, signed *models.SignedPayload) (bool, string) {
	ok, agentID := VerifySignedPayload(signed)
	if !ok {
		return false, "Invalid signature"
	}
	signedAt, err := utils.ISO8601ToTime(signed.Signature.SignedAt)
	if err != nil {
		return false, fmt.Sprintf("Malformed signed_at: %s", signed.Signature.SignedAt)
	}
	pub, err := crypto.DecodePublicKey(signed.Signature.PublicKey)
	if err != nil {
		return false, "Invalid signature"
	}
	if !s.keys.Registered(agentID) {
		return false, fmt.Sprintf("Entity not registered: %s", agentID)
	}
	version, valid := s.keys.KeyValidAt(agentID, pub, signedAt)
	if !valid {
		s.logger.Warn(ctx, "Signature key not valid for claimed entity",
			logger.String("entity_id", agentID),
			logger.String("signed_at", signed.Signature.SignedAt),
		)
		return false, fmt.Sprintf("Key not valid for %s at %s", agentID, signed.Signature.SignedAt)
	}
	return true, fmt.Sprintf("Valid signature (key v%d)", version.Version)
}

// WitnessStatement signs a delegation hash with the entity's current key, producing
// evidence a witness enforcer can consume. The statement carries the identity's
// current trust score.
// WitnessStatement 使用实体当前密钥对委托哈希签名，生成可供见证执行器使用的证据。
func (s *IdentityService) WitnessStatement(ctx context.Context, entityID string, delegationHash []byte, role constants.WitnessRole) (*models.WitnessSignature, error) {
	if _, err := models.ParseWitnessRole(string(role)); err != nil {
		return nil, errors.ErrInvalidArgument(err.Error())
	}
	identity, err := s.Get(entityID)
	if err != nil {
		return nil, err
	}
	sig, version, err := s.keys.SignData(ctx, entityID, delegationHash)
	if err != nil {
		return nil, err
	}
	key, err := s.keys.KeyVersion(entityID, version)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	return &models.WitnessSignature{
		WitnessID:        entityID,
		WitnessPublicKey: append([]byte(nil), key.PublicKey...),
		Signature:        sig,
		Role:             role,
		Timestamp:        now,
		TrustScore:       s.scorer.TrustScore(identity, now),
	}, nil
}

func decodeBlock(signed *models.SignedPayload) (*models.SignatureBlock, ed25519.PublicKey, []byte, bool) {
	if signed == nil || signed.Signature == nil {
		return nil, nil, nil, false
	}
	block := signed.Signature
	pub, err := crypto.DecodePublicKey(block.PublicKey)
	if err != nil {
		return nil, nil, nil, false
	}
	sig, err := utils.Base64Decode(block.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return nil, nil, nil, false
	}
	return block, pub, sig, true
}

// ================================================================================
// Records
// ================================================================================

// Export builds the durable record of an identity. private_key holds the seed of the
// current key when the provider releases key material and is omitted otherwise.
// Export 构建身份的持久化记录；当提供者允许导出时 private_key 包含当前密钥种子，否则省略。
func (s *IdentityService) Export(ctx context.Context, entityID string) (*models.IdentityRecord, error) {
	identity, err := s.Get(entityID)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	record := &models.IdentityRecord{
		PublicKey:              crypto.EncodePublicKey(identity.PublicKey),
		EntityID:               identity.EntityID,
		TrustScore:             s.scorer.TrustScore(identity, now),
		Reputation:             s.scorer.Reputation(identity),
		Interactions:           identity.Interactions,
		SuccessfulInteractions: identity.SuccessfulInteractions,
		FailedInteractions:     identity.FailedInteractions,
		CreatedTimestamp:       utils.TimeToISO8601(identity.CreatedAt),
		LastActive:             utils.TimeToISO8601(identity.LastActive),
		DeviceFingerprint:      identity.DeviceFingerprint,
		Attestations:           identity.Attestations,
		Vouchers:               identity.Vouchers,
	}

	if chain := s.keys.Chain(entityID); chain != nil {
		for _, v := range chain.Versions {
			record.KeyVersions = append(record.KeyVersions, *v)
		}
	}
	if current, err := s.keys.CurrentKey(entityID); err == nil {
		if priv, err := s.provider.ExportKey(ctx, current.KeyRef); err == nil {
			record.PrivateKey = crypto.EncodePrivateKey(priv)
		} else {
			s.logger.Debug(ctx, "Key provider does not export key material",
				logger.String("entity_id", entityID),
				logger.String("provider", s.provider.Name()),
			)
		}
	}
	return record, nil
}

// Import installs an identity from its durable record. The public key must derive to the
// recorded id. Records without key_versions get a fresh chain around the recorded key.
// Import 从持久化记录安装身份；公钥必须能派生出记录中的 ID。没有 key_versions 的记录会围绕记录的密钥新建密钥链。
func (s *IdentityService) Import(ctx context.Context, record *models.IdentityRecord) (*models.Identity, error) {
	identity, err := identityFromRecord(record)
	if err != nil {
		return nil, err
	}
	entityID := identity.EntityID

	var keyRef string
	var keyPub ed25519.PublicKey
	if record.PrivateKey != "" {
		priv, err := crypto.DecodePrivateKey(record.PrivateKey)
		if err != nil {
			return nil, errors.ErrInvalidArgument(fmt.Sprintf("record private_key: %v", err))
		}
		keyRef, keyPub, err = s.provider.ImportKey(ctx, priv)
		if err != nil {
			return nil, errors.ErrKeyProvider("import key", err)
		}
	}

	if len(record.KeyVersions) > 0 {
		chain, err := chainFromRecord(entityID, record.KeyVersions, keyRef, keyPub)
		if err != nil {
			s.discard(ctx, keyRef)
			return nil, err
		}
		if err := s.keys.RestoreChain(ctx, chain); err != nil {
			s.discard(ctx, keyRef)
			return nil, err
		}
	} else {
		if keyRef == "" {
			return nil, errors.ErrInvalidArgument("record has neither private_key nor key_versions")
		}
		if !keyPub.Equal(identity.PublicKey) {
			s.discard(ctx, keyRef)
			return nil, errors.ErrInvalidArgument("record private_key does not match public_key")
		}
		if _, err := s.keys.RegisterInitialKey(ctx, entityID, keyRef); err != nil {
			s.discard(ctx, keyRef)
			return nil, err
		}
	}

	if err := s.install(ctx, identity); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "Identity imported", logger.String("entity_id", entityID))
	s.audit.record(ctx, models.NewAuditEvent(constants.AuditEventIdentityImported, entityID, true, "identity imported"))
	s.publish(ctx, identity)
	return identity.Clone(), nil
}

// SaveRecord exports the identity to the record store.
func (s *IdentityService) SaveRecord(ctx context.Context, entityID string) error {
	if s.records == nil {
		return errors.ErrInvalidArgument("no identity record store configured")
	}
	record, err := s.Export(ctx, entityID)
	if err != nil {
		return err
	}
	if err := s.records.Save(ctx, record); err != nil {
		return errors.ErrPersistence("save identity record", err)
	}
	return nil
}

// LoadRecords imports every record from the record store, skipping identities that are
// already known. It returns the number imported.
func (s *IdentityService) LoadRecords(ctx context.Context) (int, error) {
	if s.records == nil {
		return 0, nil
	}
	ids, err := s.records.List(ctx)
	if err != nil {
		return 0, errors.ErrPersistence("list identity records", err)
	}
	imported := 0
	for _, id := range ids {
		if _, err := s.entry(id); err == nil {
			continue
		}
		record, err := s.records.Load(ctx, id)
		if err != nil {
			return imported, errors.ErrPersistence("load identity record", err)
		}
		if _, err := s.Import(ctx, record); err != nil {
			s.logger.Error(ctx, "Failed to import identity record", err, logger.String("entity_id", id))
			continue
		}
		imported++
	}
	return imported, nil
}

// Load reinstates identities from the identity repository. Key chains are loaded by
// the key rotation manager.
func (s *IdentityService) Load(ctx context.Context) (int, error) {
	if s.repo == nil {
		return 0, nil
	}
	identities, err := s.repo.List(ctx)
	if err != nil {
		return 0, errors.ErrPersistence("list identities", err)
	}
	s.mu.Lock()
	for _, identity := range identities {
		s.identities[identity.EntityID] = &identityEntry{identity: identity.Clone()}
	}
	s.mu.Unlock()
	s.logger.Info(ctx, "Identities loaded", logger.Int("count", len(identities)))
	return len(identities), nil
}

// ================================================================================
// Helpers
// ================================================================================

func (s *IdentityService) entry(entityID string) (*identityEntry, error) {
	s.mu.RLock()
	entry, ok := s.identities[entityID]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.ErrEntityNotFound(entityID)
	}
	return entry, nil
}

func (s *IdentityService) save(ctx context.Context, identity *models.Identity) error {
	if s.repo == nil {
		return nil
	}
	if err := s.repo.Save(ctx, identity); err != nil {
		s.logger.Error(ctx, "Failed to persist identity", err, logger.String("entity_id", identity.EntityID))
		return errors.ErrPersistence("save identity", err)
	}
	return nil
}

// publish pushes the identity's trust snapshot to the cache. Called without any lock held.
func (s *IdentityService) publish(ctx context.Context, identity *models.Identity) {
	snapshot := s.scorer.Snapshot(identity, s.clock())
	s.metrics.ObserveTrustScore(snapshot.TrustScore)
	if s.cache == nil {
		return
	}
	if err := s.cache.Put(ctx, snapshot); err != nil {
		s.logger.Warn(ctx, "Failed to publish trust snapshot",
			logger.String("entity_id", identity.EntityID),
			logger.Err(err),
		)
	}
}

func (s *IdentityService) discard(ctx context.Context, keyRef string) {
	if keyRef != "" {
		_ = s.provider.DestroyKey(ctx, keyRef)
	}
}

func invalidWeight(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0) || v < 0
}

func identityFromRecord(record *models.IdentityRecord) (*models.Identity, error) {
	if record == nil {
		return nil, errors.ErrInvalidArgument("record is required")
	}
	entityID := record.ID()
	pub, err := crypto.DecodePublicKey(record.PublicKey)
	if err != nil {
		return nil, errors.ErrInvalidArgument(fmt.Sprintf("record public_key: %v", err))
	}
	if derived := crypto.DeriveEntityID(pub); entityID == "" || derived != entityID {
		return nil, errors.ErrInvalidArgument(fmt.Sprintf("entity id %q does not match public key (%s)", entityID, derived))
	}
	createdAt, err := utils.ISO8601ToTime(record.CreatedTimestamp)
	if err != nil {
		return nil, errors.ErrInvalidArgument(fmt.Sprintf("record created_timestamp: %v", err))
	}
	lastActive := createdAt
	if record.LastActive != "" {
		if lastActive, err = utils.ISO8601ToTime(record.LastActive); err != nil {
			return nil, errors.ErrInvalidArgument(fmt.Sprintf("record last_active: %v", err))
		}
	}
	if record.SuccessfulInteractions+record.FailedInteractions > record.Interactions {
		return nil, errors.ErrInvalidArgument("record interaction counters are inconsistent")
	}

	identity := &models.Identity{
		EntityID:               entityID,
		PublicKey:              pub,
		Interactions:           record.Interactions,
		SuccessfulInteractions: record.SuccessfulInteractions,
		FailedInteractions:     record.FailedInteractions,
		CreatedAt:              createdAt,
		LastActive:             lastActive,
		DeviceFingerprint:      record.DeviceFingerprint,
		Attestations:           append([]models.Attestation{}, record.Attestations...),
		Vouchers:               []string{},
	}
	for _, v := range record.Vouchers {
		if !identity.HasVoucher(v) {
			identity.Vouchers = append(identity.Vouchers, v)
		}
	}
	return identity, nil
}

// chainFromRecord rebuilds a key chain from recorded versions. Imported key material
// must belong to the ACTIVE version, which is pointed at the new reference.
func chainFromRecord(entityID string, versions []models.KeyVersion, keyRef string, keyPub ed25519.PublicKey) (*repository.KeyChain, error) {
	chain := &repository.KeyChain{EntityID: entityID}
	matched := false
	for i := range versions {
		v := versions[i].Clone()
		v.EntityID = entityID
		if keyRef != "" && v.PublicKey.Equal(keyPub) {
			if v.Status != constants.KeyStatusActive {
				return nil, errors.ErrInvalidArgument(fmt.Sprintf("record private_key belongs to %s version %d", v.Status, v.Version))
			}
			v.KeyRef = keyRef
			matched = true
		}
		if v.Version > chain.LatestVersion {
			chain.LatestVersion = v.Version
		}
		chain.Versions = append(chain.Versions, v)
	}
	if keyRef != "" && !matched {
		return nil, errors.ErrInvalidArgument("record private_key matches no key version")
	}
	sort.Slice(chain.Versions, func(i, j int) bool { return chain.Versions[i].Version < chain.Versions[j].Version })
	return chain, nil
}
