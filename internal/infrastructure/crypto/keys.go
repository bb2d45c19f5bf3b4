// Package crypto provides Ed25519 key helpers, identifier derivation and an
// in-process key provider.
package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"runtime"

	"github.com/turtacn/lct/pkg/canonical"
	"github.com/turtacn/lct/pkg/constants"
	"github.com/turtacn/lct/pkg/utils"
)

// DeriveEntityID returns the first 16 hex characters of SHA-256(publicKey).
func DeriveEntityID(publicKey ed25519.PublicKey) string {
	sum := sha256.Sum256(publicKey)
	return hex.EncodeToString(sum[:])[:constants.EntityIDLength]
}

// EncodePublicKey returns the standard base64 form used in records and signature blocks.
func EncodePublicKey(publicKey ed25519.PublicKey) string {
	return utils.Base64Encode(publicKey)
}

// DecodePublicKey parses a base64 Ed25519 public key, checking its length.
func DecodePublicKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := utils.Base64Decode(encoded)
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// DecodePrivateKey parses a base64 Ed25519 private key. Both the 32-byte seed
// and the 64-byte expanded form are accepted.
func DecodePrivateKey(encoded string) (ed25519.PrivateKey, error) {
	raw, err := utils.Base64Decode(encoded)
	if err != nil {
		return nil, err
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("private key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}

// EncodePrivateKey returns the base64 32-byte seed of privateKey.
func EncodePrivateKey(privateKey ed25519.PrivateKey) string {
	return utils.Base64Encode(privateKey.Seed())
}

// Verify checks sig over data, returning false for malformed keys or signatures.
func Verify(publicKey ed25519.PublicKey, data, sig []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, data, sig)
}

// DeviceFingerprint hashes the host name and platform of the current machine.
func DeviceFingerprint() string {
	hostname, _ := os.Hostname()
	fp := map[string]string{
		"hostname":  hostname,
		"platform":  runtime.GOOS + "-" + runtime.GOARCH,
		"processor": runtime.GOARCH,
	}
	b, err := canonical.EncodeValue(fp)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:constants.EntityIDLength]
}
