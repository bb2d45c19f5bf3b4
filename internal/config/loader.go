package config

import (
	"context"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/turtacn/lct/pkg/constants"
	"github.com/turtacn/lct/pkg/errors"
	"github.com/turtacn/lct/pkg/logger"
)

// Loader reads configuration from defaults, an optional YAML file and LCT_* environment variables.
type Loader struct {
	v   *viper.Viper
	log logger.Logger
}

// NewLoader creates a loader. An empty path searches lct.yaml in . and /etc/lct/.
func NewLoader(path string, log logger.Logger) *Loader {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("lct")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/lct/")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("LCT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, log: log.WithComponent("ConfigLoader")}
}

// LoadConfig loads and validates configuration in one call.
func LoadConfig(path string) (*Config, error) {
	return NewLoader(path, logger.NewNoopLogger()).Load()
}

// Load reads and validates the configuration. A missing config file is not an error.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.ErrInvalidArgument("failed to read config file").WithCause(err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, errors.ErrInvalidArgument("failed to unmarshal config").WithCause(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch reloads the configuration whenever the backing file changes. Invalid
// revisions are logged and skipped so the last good configuration stays in force.
func (l *Loader) Watch(onChange func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		ctx := context.Background()
		cfg, err := l.decode()
		if err != nil {
			l.log.Error(ctx, "Rejected configuration change", err, logger.String("file", e.Name))
			return
		}
		l.log.Info(ctx, "Configuration reloaded", logger.String("file", e.Name), logger.String("op", e.Op.String()))
		onChange(cfg)
	})
	l.v.WatchConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trust.base", constants.TrustBase)
	v.SetDefault("trust.interaction_cap", constants.TrustInteractionCap)
	v.SetDefault("trust.interaction_scale", constants.TrustInteractionScale)
	v.SetDefault("trust.attestation_cap", constants.TrustAttestationCap)
	v.SetDefault("trust.attestation_scale", constants.TrustAttestationScale)
	v.SetDefault("trust.age_cap", constants.TrustAgeCap)
	v.SetDefault("trust.age_scale_days", constants.TrustAgeScaleDays)
	v.SetDefault("trust.default_attestation_weight", constants.DefaultAttestationWeight)
	v.SetDefault("trust.default_attestation_trust", constants.DefaultAttestationTrustLevel)

	v.SetDefault("rotation.default_overlap_days", constants.DefaultOverlapDays)
	v.SetDefault("rotation.cleanup_grace_days", constants.DefaultCleanupGraceDays)
	v.SetDefault("rotation.maintenance_interval", constants.DefaultMaintenanceInterval)

	v.SetDefault("witness.min_witnesses", constants.DefaultMinWitnesses)
	v.SetDefault("witness.min_trust_score", constants.DefaultMinWitnessTrust)
	v.SetDefault("witness.min_aggregate_trust", constants.DefaultMinAggregateTrust)
	v.SetDefault("witness.required_roles", []string{})
	v.SetDefault("witness.required_witnesses", []string{})
	v.SetDefault("witness.default_trust", constants.DefaultWitnessTrust)
	v.SetDefault("witness.trust_retention", constants.WitnessTrustRetention)
	v.SetDefault("witness.recent_weight", constants.WitnessTrustRecentWeight)
	v.SetDefault("witness.recent_window", constants.WitnessRecentWindow)
	v.SetDefault("witness.history_limit", constants.WitnessHistoryLimit)
	v.SetDefault("witness.verify_concurrency", constants.DefaultWitnessVerifyConcurrency)

	v.SetDefault("identity.record_dir", "")
	v.SetDefault("key_provider.type", "memory")

	v.SetDefault("database.driver", "")
	v.SetDefault("database.sqlite_path", "lct.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", 60)
	v.SetDefault("database.max_conn_idle_time", 10)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("vault.mount_path", "secret")

	v.SetDefault("kafka.topic", "lct-audit")

	v.SetDefault("audit.sinks", []string{"log"})

	v.SetDefault("assertion.issuer", constants.TrustAssertionIssuer)
	v.SetDefault("assertion.ttl", constants.DefaultTrustAssertionTTL)

	v.SetDefault("log.level", string(constants.LogLevelInfo))
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.address", ":9090")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", constants.ServiceName)
	v.SetDefault("tracing.sample_rate", 1.0)
}
