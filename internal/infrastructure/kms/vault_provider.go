// Package kms implements the KeyProvider interface on HashiCorp Vault.
package kms

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	vault "github.com/hashicorp/vault/api"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/lct/internal/config"
	"github.com/turtacn/lct/internal/domain/service"
	"github.com/turtacn/lct/pkg/errors"
	"github.com/turtacn/lct/pkg/logger"
)

const (
	refPrefix        = "vault:"
	defaultMountPath = "secret"
	keyPath          = "lct/keys"
)

// VaultProvider keeps Ed25519 private keys in a Vault KV v2 mount as PKCS#8 PEM.
// Key material never leaves the provider: ExportKey always fails. Public keys
// are cached in process; private keys are read per signature.
type VaultProvider struct {
	client  *vault.Client
	mount   string
	pubs    *cache.Cache
	sf      singleflight.Group
	metrics service.Metrics
	logger  logger.Logger
}

var _ service.KeyProvider = (*VaultProvider)(nil)

// NewVaultProvider creates a provider connected to cfg.Address.
func NewVaultProvider(cfg *config.VaultConfig, metrics service.Metrics, log logger.Logger) (*VaultProvider, error) {
	if cfg == nil || cfg.Address == "" {
		return nil, errors.ErrInvalidArgument("vault.address is required")
	}
	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address
	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, errors.ErrKeyProvider("connect", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	mount := strings.Trim(cfg.MountPath, "/")
	if mount == "" {
		mount = defaultMountPath
	}
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	return &VaultProvider{
		client:  client,
		mount:   mount,
		pubs:    cache.New(30*time.Minute, time.Hour),
		metrics: metrics,
		logger:  log.WithComponent("VaultProvider"),
	}, nil
}

func (p *VaultProvider) Name() string {
	return "vault"
}

// GenerateKey creates a key pair locally and stores the private half in Vault.
func (p *VaultProvider) GenerateKey(ctx context.Context) (string, ed25519.PublicKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", nil, errors.ErrKeyProvider("generate", err)
	}
	return p.put(ctx, priv)
}

func (p *VaultProvider) ImportKey(ctx context.Context, privateKey ed25519.PrivateKey) (string, ed25519.PublicKey, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return "", nil, errors.ErrInvalidArgument(fmt.Sprintf("private key must be %d bytes", ed25519.PrivateKeySize))
	}
	return p.put(ctx, privateKey)
}

func (p *VaultProvider) Sign(ctx context.Context, keyRef string, data []byte) ([]byte, error) {
	priv, err := p.privateKey(ctx, keyRef)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(priv, data), nil
}

func (p *VaultProvider) PublicKey(ctx context.Context, keyRef string) (ed25519.PublicKey, error) {
	if v, ok := p.pubs.Get(keyRef); ok {
		return v.(ed25519.PublicKey), nil
	}
	priv, err := p.privateKey(ctx, keyRef)
	if err != nil {
		return nil, err
	}
	pub := priv.Public().(ed25519.PublicKey)
	p.pubs.SetDefault(keyRef, pub)
	return pub, nil
}

// ExportKey is refused; Vault-held keys are not released.
func (p *VaultProvider) ExportKey(ctx context.Context, keyRef string) (ed25519.PrivateKey, error) {
	return nil, errors.ErrKeyProvider("export", fmt.Errorf("vault keys are not exportable"))
}

// DestroyKey deletes every version of the secret through the metadata endpoint.
func (p *VaultProvider) DestroyKey(ctx context.Context, keyRef string) error {
	id, err := parseRef(keyRef)
	if err != nil {
		return err
	}
	start := time.Now()
	_, err = p.client.Logical().DeleteWithContext(ctx, p.metadataPath(id))
	p.metrics.RecordVaultAPI("delete", time.Since(start), err)
	if err != nil {
		p.logger.Error(ctx, "Failed to destroy key in Vault", err, logger.String("key_ref", keyRef))
		return errors.ErrKeyProvider("destroy", err)
	}
	p.pubs.Delete(keyRef)
	return nil
}

func (p *VaultProvider) put(ctx context.Context, priv ed25519.PrivateKey) (string, ed25519.PublicKey, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", nil, errors.ErrKeyProvider("encode", err)
	}
	pemData := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	id := uuid.NewString()
	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"private_key": string(pemData),
		},
	}
	start := time.Now()
	_, err = p.client.Logical().WriteWithContext(ctx, p.dataPath(id), secretData)
	p.metrics.RecordVaultAPI("write", time.Since(start), err)
	if err != nil {
		p.logger.Error(ctx, "Failed to write key to Vault", err)
		return "", nil, errors.ErrKeyProvider("store", err)
	}

	ref := refPrefix + id
	pub := priv.Public().(ed25519.PublicKey)
	p.pubs.SetDefault(ref, pub)
	return ref, pub, nil
}

// privateKey collapses concurrent reads of the same reference into one call.
func (p *VaultProvider) privateKey(ctx context.Context, keyRef string) (ed25519.PrivateKey, error) {
	id, err := parseRef(keyRef)
	if err != nil {
		return nil, err
	}
	v, err, _ := p.sf.Do(keyRef, func() (interface{}, error) {
		return p.readPrivateKey(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(ed25519.PrivateKey), nil
}

func (p *VaultProvider) readPrivateKey(ctx context.Context, id string) (ed25519.PrivateKey, error) {
	start := time.Now()
	secret, err := p.client.Logical().ReadWithContext(ctx, p.dataPath(id))
	p.metrics.RecordVaultAPI("read", time.Since(start), err)
	if err != nil {
		p.logger.Error(ctx, "Failed to read key from Vault", err, logger.String("key_id", id))
		return nil, errors.ErrKeyProvider("read", err)
	}
	if secret == nil || secret.Data["data"] == nil {
		return nil, errors.ErrKeyProvider("read", fmt.Errorf("key %s not found in vault", id))
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, errors.ErrKeyProvider("read", fmt.Errorf("invalid secret format in vault"))
	}
	pemData, ok := data["private_key"].(string)
	if !ok {
		return nil, errors.ErrKeyProvider("read", fmt.Errorf("private_key not found or not a string in vault secret"))
	}

	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.ErrKeyProvider("decode", fmt.Errorf("failed to decode PEM block containing private key"))
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.ErrKeyProvider("decode", err)
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.ErrKeyProvider("decode", fmt.Errorf("key %s is not an Ed25519 key", id))
	}
	return priv, nil
}

func (p *VaultProvider) dataPath(id string) string {
	return fmt.Sprintf("%s/data/%s/%s", p.mount, keyPath, id)
}

func (p *VaultProvider) metadataPath(id string) string {
	return fmt.Sprintf("%s/metadata/%s/%s", p.mount, keyPath, id)
}

func parseRef(keyRef string) (string, error) {
	id, ok := strings.CutPrefix(keyRef, refPrefix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", errors.ErrKeyProvider("lookup", fmt.Errorf("unknown key reference %q", keyRef))
	}
	return id, nil
}
