package service

import (
	"context"
	"crypto/ed25519"

	"github.com/turtacn/lct/internal/domain/models"
)

// KeyProvider holds private key material and performs signing on behalf of the
// key rotation manager. Callers only ever see opaque key references.
// KeyProvider 持有私钥材料并代表密钥轮换管理器执行签名，调用方只能看到不透明的密钥引用。
type KeyProvider interface {
	// Name identifies the provider in logs and metrics.
	// Name 在日志和指标中标识提供者。
	Name() string

	// GenerateKey creates a fresh Ed25519 key pair and returns its reference and public key.
	// GenerateKey 创建新的 Ed25519 密钥对，返回其引用和公钥。
	GenerateKey(ctx context.Context) (keyRef string, publicKey ed25519.PublicKey, err error)

	// ImportKey stores existing private key material, e.g. from a persisted identity record.
	// ImportKey 存储已有的私钥材料，例如来自持久化的身份记录。
	ImportKey(ctx context.Context, privateKey ed25519.PrivateKey) (keyRef string, publicKey ed25519.PublicKey, err error)

	// Sign signs data with the private key identified by keyRef.
	// Sign 使用 keyRef 标识的私钥对数据签名。
	Sign(ctx context.Context, keyRef string, data []byte) ([]byte, error)

	// PublicKey returns the public half of keyRef.
	// PublicKey 返回 keyRef 对应的公钥。
	PublicKey(ctx context.Context, keyRef string) (ed25519.PublicKey, error)

	// ExportKey returns the private key for durable local storage. Providers
	// that never release key material return an error.
	// ExportKey 返回私钥以便本地持久化；不允许导出密钥材料的提供者返回错误。
	ExportKey(ctx context.Context, keyRef string) (ed25519.PrivateKey, error)

	// DestroyKey permanently deletes the private key. Destroying an unknown reference is not an error.
	// DestroyKey 永久删除私钥；删除未知引用不视为错误。
	DestroyKey(ctx context.Context, keyRef string) error
}

// AuditService defines the interface for logging security-sensitive audit events.
// AuditService 定义了用于记录安全敏感审计事件的接口。
type AuditService interface {
	// LogEvent records an audit event.
	// LogEvent 记录审计事件。
	LogEvent(ctx context.Context, event *models.AuditEvent) error
}

// TrustSnapshotCache publishes read-only trust snapshots for downstream consumers.
// TrustSnapshotCache 为下游消费者发布只读信任快照。
type TrustSnapshotCache interface {
	// Put stores the latest snapshot of an entity.
	// Put 存储实体的最新快照。
	Put(ctx context.Context, snapshot *models.TrustSnapshot) error

	// Get returns the cached snapshot, or nil without error on a miss.
	// Get 返回缓存的快照；未命中时返回 nil 且不报错。
	Get(ctx context.Context, entityID string) (*models.TrustSnapshot, error)

	// Invalidate drops the cached snapshot of an entity.
	// Invalidate 删除实体的缓存快照。
	Invalidate(ctx context.Context, entityID string) error
}
