package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/turtacn/lct/pkg/constants"
	"github.com/turtacn/lct/pkg/errors"
)

// Config holds the application's configuration.
type Config struct {
	Trust       TrustConfig       `mapstructure:"trust"`
	Rotation    RotationConfig    `mapstructure:"rotation"`
	Witness     WitnessConfig     `mapstructure:"witness"`
	Identity    IdentityConfig    `mapstructure:"identity"`
	KeyProvider KeyProviderConfig `mapstructure:"key_provider"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Vault       VaultConfig       `mapstructure:"vault"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Assertion   AssertionConfig   `mapstructure:"assertion"`
	Log         LogConfig         `mapstructure:"log"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
}

// TrustConfig carries the trust-score weighting. The defaults are empirical.
type TrustConfig struct {
	Base                     float64 `mapstructure:"base"`
	InteractionCap           float64 `mapstructure:"interaction_cap"`
	InteractionScale         float64 `mapstructure:"interaction_scale"`
	AttestationCap           float64 `mapstructure:"attestation_cap"`
	AttestationScale         float64 `mapstructure:"attestation_scale"`
	AgeCap                   float64 `mapstructure:"age_cap"`
	AgeScaleDays             float64 `mapstructure:"age_scale_days"`
	DefaultAttestationWeight float64 `mapstructure:"default_attestation_weight"`
	DefaultAttestationTrust  float64 `mapstructure:"default_attestation_trust"`
}

type RotationConfig struct {
	DefaultOverlapDays  float64       `mapstructure:"default_overlap_days"`
	CleanupGraceDays    float64       `mapstructure:"cleanup_grace_days"`
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval"`
}

// WitnessConfig carries the default quorum and the adaptive trust parameters
type WitnessConfig struct {
	MinWitnesses      int      `mapstructure:"min_witnesses"`
	MinTrustScore     float64  `mapstructure:"min_trust_score"`
	MinAggregateTrust float64  `mapstructure:"min_aggregate_trust"`
	RequiredRoles     []string `mapstructure:"required_roles"`
	RequiredWitnesses []string `mapstructure:"required_witnesses"`
	DefaultTrust      float64  `mapstructure:"default_trust"`
	TrustRetention    float64  `mapstructure:"trust_retention"`
	RecentWeight      float64  `mapstructure:"recent_weight"`
	RecentWindow      int      `mapstructure:"recent_window"`
	HistoryLimit      int      `mapstructure:"history_limit"`
	VerifyConcurrency int      `mapstructure:"verify_concurrency"`
}

type IdentityConfig struct {
	// RecordDir holds one JSON record per identity; empty disables the file store
	RecordDir string `mapstructure:"record_dir"`
}

type KeyProviderConfig struct {
	// Type is "memory" or "vault"
	Type string `mapstructure:"type"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres"; empty disables relational persistence
	Driver          string `mapstructure:"driver"`
	SQLitePath      string `mapstructure:"sqlite_path"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime"`  // in minutes
	MaxConnIdleTime int    `mapstructure:"max_conn_idle_time"` // in minutes
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Address      string `mapstructure:"address"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type VaultConfig struct {
	Address   string `mapstructure:"address"`
	Token     string `mapstructure:"token"`
	MountPath string `mapstructure:"mount_path"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type AuditConfig struct {
	// Sinks lists enabled audit sinks: "database", "kafka", "log"
	Sinks      []string `mapstructure:"sinks"`
	HMACSecret string   `mapstructure:"hmac_secret"`
}

type AssertionConfig struct {
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	Path    string `mapstructure:"path"`
}

type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	SampleRate     float64 `mapstructure:"sample_rate"`
}

// ================================================================================
// Validation
// ================================================================================

// Validate checks the configuration for out-of-range or unknown values
func (c *Config) Validate() error {
	if err := c.Trust.Validate(); err != nil {
		return err
	}
	if err := c.Witness.Validate(); err != nil {
		return err
	}
	if c.Rotation.DefaultOverlapDays < 0 {
		return errors.ErrInvalidArgument("rotation.default_overlap_days must not be negative")
	}
	if c.Rotation.CleanupGraceDays < 0 {
		return errors.ErrInvalidArgument("rotation.cleanup_grace_days must not be negative")
	}
	if c.Rotation.MaintenanceInterval <= 0 {
		return errors.ErrInvalidArgument("rotation.maintenance_interval must be positive")
	}
	switch c.KeyProvider.Type {
	case "memory":
	case "vault":
		if c.Vault.Address == "" {
			return errors.ErrInvalidArgument("vault.address is required for the vault key provider")
		}
	default:
		return errors.ErrInvalidArgument(fmt.Sprintf("unknown key_provider.type %q", c.KeyProvider.Type))
	}
	switch c.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		return errors.ErrInvalidArgument(fmt.Sprintf("unknown database.driver %q", c.Database.Driver))
	}
	for _, sink := range c.Audit.Sinks {
		switch sink {
		case "log":
		case "database":
			if c.Database.Driver == "" {
				return errors.ErrInvalidArgument("audit sink database requires database.driver")
			}
		case "kafka":
			if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
				return errors.ErrInvalidArgument("audit sink kafka requires kafka.brokers and kafka.topic")
			}
		default:
			return errors.ErrInvalidArgument(fmt.Sprintf("unknown audit sink %q", sink))
		}
	}
	return nil
}

func (c *TrustConfig) Validate() error {
	for name, v := range map[string]float64{
		"trust.base":                       c.Base,
		"trust.interaction_cap":            c.InteractionCap,
		"trust.attestation_cap":            c.AttestationCap,
		"trust.age_cap":                    c.AgeCap,
		"trust.default_attestation_weight": c.DefaultAttestationWeight,
		"trust.default_attestation_trust":  c.DefaultAttestationTrust,
	} {
		if v < 0 || v > 1 {
			return errors.ErrInvalidArgument(fmt.Sprintf("%s must be within [0, 1], got %v", name, v))
		}
	}
	if c.InteractionScale <= 0 || c.AttestationScale <= 0 || c.AgeScaleDays <= 0 {
		return errors.ErrInvalidArgument("trust scales must be positive")
	}
	return nil
}

func (c *WitnessConfig) Validate() error {
	if c.MinWitnesses < 0 {
		return errors.ErrInvalidArgument("witness.min_witnesses must not be negative")
	}
	if c.DefaultTrust < 0 || c.DefaultTrust > 1 {
		return errors.ErrInvalidArgument("witness.default_trust must be within [0, 1]")
	}
	if c.TrustRetention < 0 || c.RecentWeight < 0 || math.Abs(c.TrustRetention+c.RecentWeight-1) > 1e-9 {
		return errors.ErrInvalidArgument("witness.trust_retention and witness.recent_weight must be non-negative and sum to 1")
	}
	if c.RecentWindow <= 0 || c.HistoryLimit <= 0 || c.RecentWindow > c.HistoryLimit {
		return errors.ErrInvalidArgument("witness.recent_window must be positive and not exceed witness.history_limit")
	}
	if c.VerifyConcurrency <= 0 {
		return errors.ErrInvalidArgument("witness.verify_concurrency must be positive")
	}
	for _, role := range c.RequiredRoles {
		switch constants.WitnessRole(strings.ToLower(role)) {
		case constants.WitnessRoleAuthority, constants.WitnessRolePeer, constants.WitnessRoleObserver:
		default:
			return errors.ErrInvalidArgument(fmt.Sprintf("witness.required_roles: unknown role %q", role))
		}
	}
	return nil
}
