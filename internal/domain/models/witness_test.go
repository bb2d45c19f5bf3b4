package models

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/lct/pkg/constants"
)

func sig(id string, trust float64, role constants.WitnessRole) WitnessSignature {
	return WitnessSignature{WitnessID: id, TrustScore: trust, Role: role}
}

func TestWitnessRequirement_IsSatisfied(t *testing.T) {
	req := NewWitnessRequirement(2, 0.6, 1.4)

	tests := []struct {
		name       string
		signatures []WitnessSignature
		want       bool
		reason     string
	}{
		{
			name:       "two trusted witnesses",
			signatures: []WitnessSignature{sig("w1", 0.8, constants.WitnessRolePeer), sig("w2", 0.7, constants.WitnessRolePeer)},
			want:       true,
			reason:     "Witness requirements satisfied",
		},
		{
			name:       "one witness omitted",
			signatures: []WitnessSignature{sig("w1", 0.8, constants.WitnessRolePeer)},
			reason:     "Insufficient witnesses: 1 (min: 2)",
		},
		{
			name:       "witness below individual minimum",
			signatures: []WitnessSignature{sig("w1", 0.9, constants.WitnessRolePeer), sig("w2", 0.5, constants.WitnessRolePeer)},
			reason:     "Witness trust too low: w2 (0.50 < 0.6)",
		},
		{
			name:       "aggregate below minimum",
			signatures: []WitnessSignature{sig("w1", 0.65, constants.WitnessRolePeer), sig("w2", 0.65, constants.WitnessRolePeer)},
			reason:     "Aggregate trust too low: 1.30 (min: 1.4)",
		},
		{
			name:       "same witness signing twice counts once",
			signatures: []WitnessSignature{sig("w1", 0.8, constants.WitnessRolePeer), sig("w1", 0.8, constants.WitnessRolePeer)},
			reason:     "Insufficient witnesses: 1 (min: 2)",
		},
		{
			name: "duplicate does not inflate aggregate",
			signatures: []WitnessSignature{
				sig("w1", 0.7, constants.WitnessRolePeer), sig("w2", 0.65, constants.WitnessRolePeer), sig("w2", 0.65, constants.WitnessRolePeer),
			},
			reason: "Aggregate trust too low: 1.35 (min: 1.4)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := req.IsSatisfied(tt.signatures)
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestWitnessRequirement_RolesAndWitnesses(t *testing.T) {
	req := NewWitnessRequirement(1, 0, 0).
		WithRequiredRoles(constants.WitnessRoleAuthority, constants.WitnessRoleObserver).
		WithRequiredWitnesses("root")

	ok, reason := req.IsSatisfied([]WitnessSignature{sig("root", 0.9, constants.WitnessRolePeer)})
	assert.False(t, ok)
	assert.Equal(t, "Missing required roles: [authority observer]", reason)

	ok, reason = req.IsSatisfied([]WitnessSignature{
		sig("a", 0.9, constants.WitnessRoleAuthority),
		sig("o", 0.9, constants.WitnessRoleObserver),
	})
	assert.False(t, ok)
	assert.Equal(t, "Missing required witnesses: [root]", reason)

	ok, _ = req.IsSatisfied([]WitnessSignature{
		sig("root", 0.9, constants.WitnessRoleAuthority),
		sig("o", 0.9, constants.WitnessRoleObserver),
	})
	assert.True(t, ok)
}

func TestWitnessRequirement_FirstFailureWins(t *testing.T) {
	req := NewWitnessRequirement(3, 0.9, 10).WithRequiredRoles(constants.WitnessRoleAuthority)

	_, reason := req.IsSatisfied([]WitnessSignature{sig("w1", 0.1, constants.WitnessRolePeer)})
	assert.Contains(t, reason, "Insufficient witnesses")
}

func TestWitnessRequirement_BuildersDoNotAlias(t *testing.T) {
	base := NewWitnessRequirement(1, 0, 0)
	_ = base.WithRequiredRoles(constants.WitnessRoleAuthority)
	assert.Empty(t, base.RequiredRoles)
}

func TestWitnessSignature_Verify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hash := []byte("delegation-hash")

	s := WitnessSignature{WitnessID: "w", WitnessPublicKey: pub, Signature: ed25519.Sign(priv, hash)}
	assert.True(t, s.Verify(hash))
	assert.False(t, s.Verify([]byte("other-hash")))

	short := s
	short.WitnessPublicKey = pub[:10]
	assert.False(t, short.Verify(hash))

	truncated := s
	truncated.Signature = s.Signature[:32]
	assert.False(t, truncated.Verify(hash))
}

func TestParseWitnessRole(t *testing.T) {
	r, err := ParseWitnessRole("AUTHORITY")
	require.NoError(t, err)
	assert.Equal(t, constants.WitnessRoleAuthority, r)

	_, err = ParseWitnessRole("judge")
	assert.Error(t, err)
}
