package models

import (
	"crypto/ed25519"
	"encoding/json"
	"time"

	"github.com/turtacn/lct/pkg/constants"
	"github.com/turtacn/lct/pkg/utils"
)

// Identity is an LCT: a cryptographically bound entity that accumulates trust.
// Trust score and reputation are never stored here; they are derived from the
// counters, attestations and age by the trust scorer.
// Identity 是一个 LCT：一个通过密码学绑定、随时间积累信任的实体。
// 信任分数和声誉不在此存储，而是由信任评分器根据计数器、证明和年龄推导得出。
type Identity struct {
	// EntityID is derived once from the initial public key and never changes.
	// EntityID 由初始公钥派生一次，之后永不改变。
	EntityID string
	// PublicKey is the initial public key the identifier was derived from.
	// PublicKey 是用于派生标识符的初始公钥。
	PublicKey ed25519.PublicKey
	// Interactions is the total number of recorded interactions.
	// Interactions 是已记录交互的总数。
	Interactions uint64
	// SuccessfulInteractions counts interactions recorded as successful.
	// SuccessfulInteractions 统计成功的交互次数。
	SuccessfulInteractions uint64
	// FailedInteractions counts interactions recorded as failed.
	// FailedInteractions 统计失败的交互次数。
	FailedInteractions uint64
	// CreatedAt is the creation time; age is derived from it.
	// CreatedAt 是创建时间；年龄由此推导。
	CreatedAt time.Time
	// LastActive is the time of the most recent mutation.
	// LastActive 是最近一次变更的时间。
	LastActive time.Time
	// DeviceFingerprint identifies the host that generated the identity.
	// DeviceFingerprint 标识生成该身份的主机。
	DeviceFingerprint string
	// Attestations is the append-only list of third-party trust claims.
	// Attestations 是仅追加的第三方信任声明列表。
	Attestations []Attestation
	// Vouchers is the append-only set of vouching entity ids, in insertion order.
	// Vouchers 是仅追加的担保实体 ID 集合，按插入顺序排列。
	Vouchers []string
}

// Clone returns a deep copy safe to hand to readers.
func (i *Identity) Clone() *Identity {
	c := *i
	c.PublicKey = append(ed25519.PublicKey(nil), i.PublicKey...)
	c.Attestations = append([]Attestation(nil), i.Attestations...)
	c.Vouchers = append([]string(nil), i.Vouchers...)
	return &c
}

// AgeDays returns the number of whole days between creation and now.
func (i *Identity) AgeDays(now time.Time) int {
	return utils.WholeDaysBetween(i.CreatedAt, now)
}

// HasVoucher reports whether id already vouches for this identity.
func (i *Identity) HasVoucher(id string) bool {
	for _, v := range i.Vouchers {
		if v == id {
			return true
		}
	}
	return false
}

// Attestation is a third-party trust claim about an identity.
// Attestation 是关于某个身份的第三方信任声明。
type Attestation struct {
	AttestorID string     `json:"attestor_id,omitempty"`
	Claim      string     `json:"claim,omitempty"`
	Weight     float64    `json:"weight"`
	TrustLevel float64    `json:"trust_level"`
	IssuedAt   *time.Time `json:"issued_at,omitempty"`
}

// UnmarshalJSON applies the default weight and trust level when either is absent.
func (a *Attestation) UnmarshalJSON(data []byte) error {
	type plain Attestation
	aux := struct {
		*plain
		Weight     *float64 `json:"weight"`
		TrustLevel *float64 `json:"trust_level"`
	}{plain: (*plain)(a)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	a.Weight = constants.DefaultAttestationWeight
	if aux.Weight != nil {
		a.Weight = *aux.Weight
	}
	a.TrustLevel = constants.DefaultAttestationTrustLevel
	if aux.TrustLevel != nil {
		a.TrustLevel = *aux.TrustLevel
	}
	return nil
}
