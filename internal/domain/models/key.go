package models

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/turtacn/lct/pkg/constants"
)

// KeyVersion is one entry of an entity's signing key chain.
// Only the key rotation manager changes its status.
// KeyVersion 是实体签名密钥链中的一个条目。
// 只有密钥轮换管理器可以更改其状态。
type KeyVersion struct {
	// EntityID is the owner of the key chain.
	// EntityID 是密钥链的所有者。
	EntityID string `json:"entity_id"`
	// Version starts at 1 and increases by one per rotation.
	// Version 从 1 开始，每次轮换加一。
	Version int `json:"version"`
	// PublicKey is the raw Ed25519 public key.
	// PublicKey 是原始 Ed25519 公钥。
	PublicKey ed25519.PublicKey `json:"public_key"`
	// KeyRef locates the private key inside the key provider. It is not secret material.
	// KeyRef 指向密钥提供程序中的私钥位置，本身不是秘密材料。
	KeyRef string `json:"key_ref"`
	// Status is the lifecycle status.
	// Status 是生命周期状态。
	Status constants.KeyStatus `json:"status"`
	// CreatedAt is when the version was generated.
	// CreatedAt 是该版本的生成时间。
	CreatedAt time.Time `json:"created_at"`
	// ActivatedAt starts the validity interval.
	// ActivatedAt 是有效区间的起点。
	ActivatedAt time.Time `json:"activated_at"`
	// ExpiresAt ends the validity interval (exclusive); nil means open-ended.
	// ExpiresAt 是有效区间的终点（不含）；nil 表示无限期。
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	// RevokedAt is set when the version is revoked.
	// RevokedAt 在版本被撤销时设置。
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	// RotationReason records why this version was created.
	// RotationReason 记录创建此版本的原因。
	RotationReason constants.RotationReason `json:"rotation_reason"`
	// RevocationReason records why this version was revoked.
	// RevocationReason 记录撤销此版本的原因。
	RevocationReason string `json:"revocation_reason,omitempty"`
	// SupersededBy is the version that replaced this one, 0 if none.
	// SupersededBy 是替代此版本的版本号，没有则为 0。
	SupersededBy int `json:"superseded_by,omitempty"`
}

// KeyID returns the "entity#version" identifier used as a JWT kid.
func (k *KeyVersion) KeyID() string {
	return fmt.Sprintf("%s#%d", k.EntityID, k.Version)
}

// ValidAt reports whether the version may verify a signature made at ts.
// Revoked versions are never valid, regardless of ts.
func (k *KeyVersion) ValidAt(ts time.Time) bool {
	switch k.Status {
	case constants.KeyStatusRevoked:
		return false
	case constants.KeyStatusActive, constants.KeyStatusOverlapping, constants.KeyStatusExpired:
		if ts.Before(k.ActivatedAt) {
			return false
		}
		return k.ExpiresAt == nil || ts.Before(*k.ExpiresAt)
	default:
		return false
	}
}

// CanSign reports whether the version may produce new signatures.
func (k *KeyVersion) CanSign() bool {
	switch k.Status {
	case constants.KeyStatusActive:
		return true
	case constants.KeyStatusOverlapping, constants.KeyStatusExpired, constants.KeyStatusRevoked:
		return false
	default:
		return false
	}
}

// Clone returns a deep copy.
func (k *KeyVersion) Clone() *KeyVersion {
	c := *k
	c.PublicKey = append(ed25519.PublicKey(nil), k.PublicKey...)
	if k.ExpiresAt != nil {
		t := *k.ExpiresAt
		c.ExpiresAt = &t
	}
	if k.RevokedAt != nil {
		t := *k.RevokedAt
		c.RevokedAt = &t
	}
	return &c
}

// KeyHistoryEntry is the audit view of a key version; it omits key material.
type KeyHistoryEntry struct {
	Version          int                      `json:"version"`
	Status           constants.KeyStatus      `json:"status"`
	CreatedAt        time.Time                `json:"created_at"`
	ActivatedAt      time.Time                `json:"activated_at"`
	ExpiresAt        *time.Time               `json:"expires_at,omitempty"`
	RevokedAt        *time.Time               `json:"revoked_at,omitempty"`
	RotationReason   constants.RotationReason `json:"rotation_reason"`
	RevocationReason string                   `json:"revocation_reason,omitempty"`
	SupersededBy     int                      `json:"superseded_by,omitempty"`
}

// HistoryEntry projects the version into its audit view.
func (k *KeyVersion) HistoryEntry() KeyHistoryEntry {
	c := k.Clone()
	return KeyHistoryEntry{
		Version:          c.Version,
		Status:           c.Status,
		CreatedAt:        c.CreatedAt,
		ActivatedAt:      c.ActivatedAt,
		ExpiresAt:        c.ExpiresAt,
		RevokedAt:        c.RevokedAt,
		RotationReason:   c.RotationReason,
		RevocationReason: c.RevocationReason,
		SupersededBy:     c.SupersededBy,
	}
}
