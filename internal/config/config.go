// Package config loads the process configuration: scoped API keys, quota
// parameters, cache TTLs and the upstream endpoint. Values come from a yaml
// file with environment-variable overrides and are validated before use.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/raiden-shogun/pwapi/internal/domain"
)

// Config holds the application configuration.
type Config struct {
	Upstream UpstreamConfig      `mapstructure:"upstream"`
	Keys     map[string][]string `mapstructure:"keys" validate:"required,min=1"`
	Quota    QuotaConfig         `mapstructure:"quota"`
	Health   HealthConfig        `mapstructure:"health"`
	Cache    CacheConfig         `mapstructure:"cache"`
	Metrics  MetricsConfig       `mapstructure:"metrics"`

	// AllianceID is the home alliance whose aggregate snapshot is cached.
	AllianceID int `mapstructure:"alliance_id" validate:"required,gt=0"`
}

// UpstreamConfig points at the game API.
type UpstreamConfig struct {
	BaseURL     string        `mapstructure:"base_url"     validate:"required,url"`
	CallTimeout time.Duration `mapstructure:"call_timeout" validate:"required"`
}

// QuotaConfig bounds per-key usage and inter-call pacing.
type QuotaConfig struct {
	LimitPerWindow int           `mapstructure:"limit_per_window" validate:"required,gt=0"`
	Window         time.Duration `mapstructure:"window"           validate:"required"`
	Pace           time.Duration `mapstructure:"pace"             validate:"gte=0"`
}

// HealthConfig controls how long an unhealthy key stays out of rotation.
type HealthConfig struct {
	RecoveryPeriod time.Duration `mapstructure:"recovery_period" validate:"required"`
}

// CacheConfig carries the tier TTLs and the warm-start snapshot location.
type CacheConfig struct {
	BulkTTL     time.Duration `mapstructure:"bulk_ttl"     validate:"required"`
	NationTTL   time.Duration `mapstructure:"nation_ttl"   validate:"required"`
	AllianceTTL time.Duration `mapstructure:"alliance_ttl" validate:"required"`
	SnapshotDir string        `mapstructure:"snapshot_dir"`
}

// MetricsConfig configures the scrape endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads the configuration from a file and environment variables.
func Load(path string) (*Config, error) {
	vip := viper.New()
	if path != "" {
		vip.SetConfigFile(path)
	} else {
		vip.SetConfigName("config")
		vip.AddConfigPath("./configs")
		vip.AddConfigPath(".")
	}

	vip.SetConfigType("yaml")
	vip.SetEnvPrefix("PWAPI")
	vip.AutomaticEnv()
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	vip.SetDefault("upstream.base_url", "https://api.politicsandwar.com")
	vip.SetDefault("upstream.call_timeout", "30s")
	vip.SetDefault("quota.limit_per_window", 1000)
	vip.SetDefault("quota.window", "1h")
	vip.SetDefault("quota.pace", "500ms")
	vip.SetDefault("health.recovery_period", "5m")
	vip.SetDefault("cache.bulk_ttl", "5m")
	vip.SetDefault("cache.nation_ttl", "5m")
	vip.SetDefault("cache.alliance_ttl", "30m")
	vip.SetDefault("cache.snapshot_dir", "data/cache")
	vip.SetDefault("metrics.addr", ":9109")

	if err := vip.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := vip.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if _, err := cfg.Credentials(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Credentials expands the configured key lists into credential records. IDs
// are synthetic and stable (scope plus position); secrets never appear in
// logs or stats, only IDs do.
func (c *Config) Credentials() ([]domain.Credential, error) {
	var out []domain.Credential
	for name, secrets := range c.Keys {
		scope, err := domain.ParseScope(name)
		if err != nil {
			return nil, fmt.Errorf("keys: %w", err)
		}
		for i, secret := range secrets {
			if secret == "" {
				return nil, fmt.Errorf("keys: empty secret at %s[%d]", name, i)
			}
			out = append(out, domain.Credential{
				ID:     fmt.Sprintf("%s-%d", name, i+1),
				Scope:  scope,
				Secret: secret,
			})
		}
	}
	return out, nil
}

// Getenv returns an environment variable or a default value.
func Getenv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
