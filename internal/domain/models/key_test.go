package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/turtacn/lct/pkg/constants"
)

func TestKeyVersion_ValidAt(t *testing.T) {
	activated := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	expires := activated.Add(48 * time.Hour)

	open := &KeyVersion{Status: constants.KeyStatusActive, ActivatedAt: activated}
	assert.False(t, open.ValidAt(activated.Add(-time.Second)))
	assert.True(t, open.ValidAt(activated))
	assert.True(t, open.ValidAt(activated.AddDate(10, 0, 0)))

	overlapping := &KeyVersion{Status: constants.KeyStatusOverlapping, ActivatedAt: activated, ExpiresAt: &expires}
	assert.True(t, overlapping.ValidAt(expires.Add(-time.Nanosecond)))
	assert.False(t, overlapping.ValidAt(expires))

	expired := &KeyVersion{Status: constants.KeyStatusExpired, ActivatedAt: activated, ExpiresAt: &expires}
	assert.True(t, expired.ValidAt(activated.Add(time.Hour)))

	revoked := &KeyVersion{Status: constants.KeyStatusRevoked, ActivatedAt: activated}
	assert.False(t, revoked.ValidAt(activated.Add(time.Hour)))

	unknown := &KeyVersion{Status: constants.KeyStatus("suspended"), ActivatedAt: activated}
	assert.False(t, unknown.ValidAt(activated.Add(time.Hour)))
	assert.False(t, unknown.CanSign())
}

func TestKeyVersion_CloneIsDeep(t *testing.T) {
	expires := time.Now()
	k := &KeyVersion{EntityID: "e", Version: 2, PublicKey: []byte{1, 2, 3}, ExpiresAt: &expires}
	c := k.Clone()
	c.PublicKey[0] = 9
	*c.ExpiresAt = expires.Add(time.Hour)

	assert.Equal(t, byte(1), k.PublicKey[0])
	assert.True(t, k.ExpiresAt.Equal(expires))
	assert.Equal(t, "e#2", k.KeyID())
}
