package database

import (
	"crypto/ed25519"
	"encoding/json"
	"strings"
	"time"

	"github.com/turtacn/lct/internal/domain/models"
	"github.com/turtacn/lct/internal/domain/repository"
	"github.com/turtacn/lct/pkg/constants"
)

type identityRow struct {
	EntityID               string    `gorm:"column:entity_id;primaryKey;size:64"`
	PublicKey              []byte    `gorm:"column:public_key;not null"`
	Interactions           int64     `gorm:"column:interactions;not null"`
	SuccessfulInteractions int64     `gorm:"column:successful_interactions;not null"`
	FailedInteractions     int64     `gorm:"column:failed_interactions;not null"`
	CreatedAt              time.Time `gorm:"column:created_at;not null"`
	LastActive             time.Time `gorm:"column:last_active;not null"`
	DeviceFingerprint      string    `gorm:"column:device_fingerprint;size:64"`
	Attestations           string    `gorm:"column:attestations;type:text"`
	Vouchers               string    `gorm:"column:vouchers;type:text"`
}

func (identityRow) TableName() string { return "lct_identities" }

type keyChainRow struct {
	EntityID      string    `gorm:"column:entity_id;primaryKey;size:64"`
	LatestVersion int       `gorm:"column:latest_version;not null"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (keyChainRow) TableName() string { return "lct_key_chains" }

type keyVersionRow struct {
	EntityID         string     `gorm:"column:entity_id;primaryKey;size:64"`
	Version          int        `gorm:"column:version;primaryKey;autoIncrement:false"`
	PublicKey        []byte     `gorm:"column:public_key;not null"`
	KeyRef           string     `gorm:"column:key_ref;size:255"`
	Status           string     `gorm:"column:status;size:16;not null;index"`
	CreatedAt        time.Time  `gorm:"column:created_at;not null"`
	ActivatedAt      time.Time  `gorm:"column:activated_at;not null"`
	ExpiresAt        *time.Time `gorm:"column:expires_at"`
	RevokedAt        *time.Time `gorm:"column:revoked_at"`
	RotationReason   string     `gorm:"column:rotation_reason;size:32"`
	RevocationReason string     `gorm:"column:revocation_reason;type:text"`
	SupersededBy     int        `gorm:"column:superseded_by"`
}

func (keyVersionRow) TableName() string { return "lct_key_versions" }

type witnessRow struct {
	WitnessID  string    `gorm:"column:witness_id;primaryKey;size:128"`
	TrustScore float64   `gorm:"column:trust_score;not null"`
	History    string    `gorm:"column:history;type:text"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (witnessRow) TableName() string { return "lct_witnesses" }

func toIdentityRow(identity *models.Identity) (*identityRow, error) {
	attestations, err := json.Marshal(identity.Attestations)
	if err != nil {
		return nil, err
	}
	vouchers, err := json.Marshal(identity.Vouchers)
	if err != nil {
		return nil, err
	}
	return &identityRow{
		EntityID:               identity.EntityID,
		PublicKey:              []byte(identity.PublicKey),
		Interactions:           int64(identity.Interactions),
		SuccessfulInteractions: int64(identity.SuccessfulInteractions),
		FailedInteractions:     int64(identity.FailedInteractions),
		CreatedAt:              identity.CreatedAt.UTC(),
		LastActive:             identity.LastActive.UTC(),
		DeviceFingerprint:      identity.DeviceFingerprint,
		Attestations:           string(attestations),
		Vouchers:               string(vouchers),
	}, nil
}

func (r *identityRow) toModel() (*models.Identity, error) {
	identity := &models.Identity{
		EntityID:               r.EntityID,
		PublicKey:              ed25519.PublicKey(r.PublicKey),
		Interactions:           uint64(r.Interactions),
		SuccessfulInteractions: uint64(r.SuccessfulInteractions),
		FailedInteractions:     uint64(r.FailedInteractions),
		CreatedAt:              r.CreatedAt.UTC(),
		LastActive:             r.LastActive.UTC(),
		DeviceFingerprint:      r.DeviceFingerprint,
	}
	if r.Attestations != "" {
		if err := json.Unmarshal([]byte(r.Attestations), &identity.Attestations); err != nil {
			return nil, err
		}
	}
	if r.Vouchers != "" {
		if err := json.Unmarshal([]byte(r.Vouchers), &identity.Vouchers); err != nil {
			return nil, err
		}
	}
	return identity, nil
}

func toKeyVersionRow(v *models.KeyVersion) keyVersionRow {
	return keyVersionRow{
		EntityID:         v.EntityID,
		Version:          v.Version,
		PublicKey:        []byte(v.PublicKey),
		KeyRef:           v.KeyRef,
		Status:           string(v.Status),
		CreatedAt:        v.CreatedAt.UTC(),
		ActivatedAt:      v.ActivatedAt.UTC(),
		ExpiresAt:        utcPtr(v.ExpiresAt),
		RevokedAt:        utcPtr(v.RevokedAt),
		RotationReason:   string(v.RotationReason),
		RevocationReason: v.RevocationReason,
		SupersededBy:     v.SupersededBy,
	}
}

func (r *keyVersionRow) toModel() *models.KeyVersion {
	return &models.KeyVersion{
		EntityID:         r.EntityID,
		Version:          r.Version,
		PublicKey:        ed25519.PublicKey(r.PublicKey),
		KeyRef:           r.KeyRef,
		Status:           constants.KeyStatus(r.Status),
		CreatedAt:        r.CreatedAt.UTC(),
		ActivatedAt:      r.ActivatedAt.UTC(),
		ExpiresAt:        utcPtr(r.ExpiresAt),
		RevokedAt:        utcPtr(r.RevokedAt),
		RotationReason:   constants.RotationReason(r.RotationReason),
		RevocationReason: r.RevocationReason,
		SupersededBy:     r.SupersededBy,
	}
}

func chainFromRows(head keyChainRow, versions []keyVersionRow) *repository.KeyChain {
	chain := &repository.KeyChain{EntityID: head.EntityID, LatestVersion: head.LatestVersion}
	for i := range versions {
		chain.Versions = append(chain.Versions, versions[i].toModel())
	}
	return chain
}

// History is stored as a compact string of '1' (success) and '0' (failure).
func encodeHistory(history []bool) string {
	var b strings.Builder
	b.Grow(len(history))
	for _, ok := range history {
		if ok {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

func decodeHistory(s string) []bool {
	history := make([]bool, len(s))
	for i := 0; i < len(s); i++ {
		history[i] = s[i] == '1'
	}
	return history
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
