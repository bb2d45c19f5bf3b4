package models

import (
	"crypto/ed25519"
	"fmt"
	"strings"
	"time"

	"github.com/turtacn/lct/pkg/constants"
	"github.com/turtacn/lct/pkg/utils"
)

// ParseWitnessRole converts a textual role, rejecting anything outside the closed set.
func ParseWitnessRole(s string) (constants.WitnessRole, error) {
	switch r := constants.WitnessRole(strings.ToLower(s)); r {
	case constants.WitnessRoleAuthority, constants.WitnessRolePeer, constants.WitnessRoleObserver:
		return r, nil
	default:
		return "", fmt.Errorf("unknown witness role %q", s)
	}
}

// WitnessSignature is a witness's statement over a delegation hash.
// It is constructed per verification request and not persisted.
// WitnessSignature 是见证人对委托哈希的签名声明，按请求构造，不持久化。
type WitnessSignature struct {
	WitnessID        string                `json:"witness_id"`
	WitnessPublicKey []byte                `json:"witness_public_key"`
	Signature        []byte                `json:"signature"`
	Role             constants.WitnessRole `json:"role"`
	Timestamp        time.Time             `json:"timestamp"`
	// TrustScore is a snapshot; registered witnesses get it refreshed at verification time.
	// TrustScore 是快照值；已注册的见证人会在验证时刷新。
	TrustScore float64 `json:"trust_score"`
}

// Verify checks the signature over delegationHash with the embedded public key.
// Malformed keys or signatures yield false.
func (w *WitnessSignature) Verify(delegationHash []byte) bool {
	if len(w.WitnessPublicKey) != ed25519.PublicKeySize || len(w.Signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(w.WitnessPublicKey), delegationHash, w.Signature)
}

// WitnessRequirement is the quorum policy a set of witness signatures must meet.
// WitnessRequirement 是一组见证签名必须满足的法定人数策略。
type WitnessRequirement struct {
	MinWitnesses      int
	MinTrustScore     float64
	MinAggregateTrust float64
	RequiredRoles     map[constants.WitnessRole]struct{}
	RequiredWitnesses map[string]struct{}
}

// NewWitnessRequirement builds a requirement with no role or witness constraints.
func NewWitnessRequirement(minWitnesses int, minTrust, minAggregate float64) WitnessRequirement {
	return WitnessRequirement{
		MinWitnesses:      minWitnesses,
		MinTrustScore:     minTrust,
		MinAggregateTrust: minAggregate,
		RequiredRoles:     map[constants.WitnessRole]struct{}{},
		RequiredWitnesses: map[string]struct{}{},
	}
}

// WithRequiredRoles returns a copy that also requires the given roles.
func (r WitnessRequirement) WithRequiredRoles(roles ...constants.WitnessRole) WitnessRequirement {
	set := make(map[constants.WitnessRole]struct{}, len(r.RequiredRoles)+len(roles))
	for role := range r.RequiredRoles {
		set[role] = struct{}{}
	}
	for _, role := range roles {
		set[role] = struct{}{}
	}
	r.RequiredRoles = set
	return r
}

// WithRequiredWitnesses returns a copy that also requires the given witness ids.
func (r WitnessRequirement) WithRequiredWitnesses(ids ...string) WitnessRequirement {
	set := make(map[string]struct{}, len(r.RequiredWitnesses)+len(ids))
	for id := range r.RequiredWitnesses {
		set[id] = struct{}{}
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
	r.RequiredWitnesses = set
	return r
}

// IsSatisfied evaluates count, per-witness trust, aggregate trust, roles and
// ids in that order and reports the first failing check. Each witness counts
// once; only its first signature is considered.
func (r WitnessRequirement) IsSatisfied(signatures []WitnessSignature) (bool, string) {
	signatures = distinctWitnesses(signatures)
	if len(signatures) < r.MinWitnesses {
		return false, fmt.Sprintf("Insufficient witnesses: %d (min: %d)", len(signatures), r.MinWitnesses)
	}

	for _, s := range signatures {
		if s.TrustScore < r.MinTrustScore {
			return false, fmt.Sprintf("Witness trust too low: %s (%.2f < %v)", s.WitnessID, s.TrustScore, r.MinTrustScore)
		}
	}

	var total float64
	for _, s := range signatures {
		total += s.TrustScore
	}
	if total < r.MinAggregateTrust {
		return false, fmt.Sprintf("Aggregate trust too low: %.2f (min: %v)", total, r.MinAggregateTrust)
	}

	presentRoles := make(map[constants.WitnessRole]struct{}, len(signatures))
	presentIDs := make(map[string]struct{}, len(signatures))
	for _, s := range signatures {
		presentRoles[s.Role] = struct{}{}
		presentIDs[s.WitnessID] = struct{}{}
	}

	missingRoles := make(map[constants.WitnessRole]struct{})
	for role := range r.RequiredRoles {
		if _, ok := presentRoles[role]; !ok {
			missingRoles[role] = struct{}{}
		}
	}
	if len(missingRoles) > 0 {
		return false, fmt.Sprintf("Missing required roles: %v", utils.SortedKeys(missingRoles))
	}

	missingIDs := make(map[string]struct{})
	for id := range r.RequiredWitnesses {
		if _, ok := presentIDs[id]; !ok {
			missingIDs[id] = struct{}{}
		}
	}
	if len(missingIDs) > 0 {
		return false, fmt.Sprintf("Missing required witnesses: %v", utils.SortedKeys(missingIDs))
	}

	return true, "Witness requirements satisfied"
}

// WitnessRecord is the persisted registry entry of one witness.
// WitnessRecord 是单个见证人在注册表中的持久化条目。
type WitnessRecord struct {
	WitnessID  string    `json:"witness_id"`
	TrustScore float64   `json:"trust_score"`
	History    []bool    `json:"history"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func distinctWitnesses(signatures []WitnessSignature) []WitnessSignature {
	seen := make(map[string]struct{}, len(signatures))
	out := make([]WitnessSignature, 0, len(signatures))
	for _, s := range signatures {
		if _, dup := seen[s.WitnessID]; dup {
			continue
		}
		seen[s.WitnessID] = struct{}{}
		out = append(out, s)
	}
	return out
}
