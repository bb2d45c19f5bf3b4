package crypto

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/turtacn/lct/pkg/errors"
)

// MemoryProvider keeps private keys in process memory. Destroyed keys are
// zeroed before being dropped.
type MemoryProvider struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PrivateKey
}

// NewMemoryProvider creates an empty in-memory key provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{keys: make(map[string]ed25519.PrivateKey)}
}

func (p *MemoryProvider) Name() string {
	return "memory"
}

func (p *MemoryProvider) GenerateKey(ctx context.Context) (string, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", nil, errors.ErrKeyProvider("generate", err)
	}
	return p.store(priv), pub, nil
}

func (p *MemoryProvider) ImportKey(ctx context.Context, privateKey ed25519.PrivateKey) (string, ed25519.PublicKey, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return "", nil, errors.ErrInvalidArgument(fmt.Sprintf("private key must be %d bytes", ed25519.PrivateKeySize))
	}
	priv := append(ed25519.PrivateKey(nil), privateKey...)
	return p.store(priv), priv.Public().(ed25519.PublicKey), nil
}

// Sign holds the read lock while signing so DestroyKey cannot zero the key mid-signature.
func (p *MemoryProvider) Sign(ctx context.Context, keyRef string, data []byte) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	priv, ok := p.keys[keyRef]
	if !ok {
		return nil, unknownRef(keyRef)
	}
	return ed25519.Sign(priv, data), nil
}

func (p *MemoryProvider) PublicKey(ctx context.Context, keyRef string) (ed25519.PublicKey, error) {
	priv, err := p.get(keyRef)
	if err != nil {
		return nil, err
	}
	return append(ed25519.PublicKey(nil), priv[ed25519.SeedSize:]...), nil
}

func (p *MemoryProvider) ExportKey(ctx context.Context, keyRef string) (ed25519.PrivateKey, error) {
	return p.get(keyRef)
}

func (p *MemoryProvider) DestroyKey(ctx context.Context, keyRef string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if priv, ok := p.keys[keyRef]; ok {
		for i := range priv {
			priv[i] = 0
		}
		delete(p.keys, keyRef)
	}
	return nil
}

// Len returns the number of keys currently held.
func (p *MemoryProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.keys)
}

func (p *MemoryProvider) store(priv ed25519.PrivateKey) string {
	ref := "mem:" + uuid.NewString()
	p.mu.Lock()
	p.keys[ref] = priv
	p.mu.Unlock()
	return ref
}

// get returns a copy of the key taken under the read lock.
func (p *MemoryProvider) get(keyRef string) (ed25519.PrivateKey, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	priv, ok := p.keys[keyRef]
	if !ok {
		return nil, unknownRef(keyRef)
	}
	return append(ed25519.PrivateKey(nil), priv...), nil
}

func unknownRef(keyRef string) error {
	return errors.ErrKeyProvider("lookup", fmt.Errorf("unknown key reference %q", keyRef))
}
