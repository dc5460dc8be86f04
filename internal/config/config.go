// Package config loads the gateway's immutable configuration once at
// startup, mirroring the teacher's defaults-then-env-override pattern built
// on viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete, immutable configuration for one gateway process.
// Nothing downstream of Load mutates it; handlers receive a pointer and
// only read from it.
type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	Auth       AuthConfig       `mapstructure:"auth"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	KV         KVConfig         `mapstructure:"kv"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Lifecycle  LifecycleConfig  `mapstructure:"lifecycle"`
}

// ServiceConfig carries process-level settings.
type ServiceConfig struct {
	Port        int    `mapstructure:"port"`
	LogLevel    string `mapstructure:"log_level"`
	PromptMaxBytes int `mapstructure:"prompt_max_bytes"`
}

// AuthConfig configures the credential header and role mapping of §4.1.
type AuthConfig struct {
	CredentialHeaderName string   `mapstructure:"credential_header_name"`
	AdminCredentials     []string `mapstructure:"admin_credentials"`
	UserCredentials      []string `mapstructure:"user_credentials"`
	MetricsRequireAuth   bool     `mapstructure:"metrics_require_auth"`
}

// RateLimitConfig configures the token bucket of §4.2.
type RateLimitConfig struct {
	Capacity        int     `mapstructure:"capacity"`
	WindowSeconds   float64 `mapstructure:"window_seconds"`
	RefillPerSecond float64 `mapstructure:"refill_per_second"`
}

// KVConfig configures the remote key/value backend.
type KVConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	Password   string `mapstructure:"password"`
	Database   int    `mapstructure:"database"`
	KeyPrefix  string `mapstructure:"key_prefix"`
	LockPrefix string `mapstructure:"lock_prefix"`
	RLPrefix   string `mapstructure:"rl_prefix"`
}

// EmbeddingConfig configures the embedding producer client of §4.4.
type EmbeddingConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	Dim            int           `mapstructure:"dim"`
	TimeoutSeconds time.Duration `mapstructure:"timeout_seconds"`
}

// LLMConfig configures the LLM producer client of §4.3.
type LLMConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	ModelDefault    string        `mapstructure:"model_default"`
	TimeoutSeconds  time.Duration `mapstructure:"timeout_seconds"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InputUnitCost   float64       `mapstructure:"input_unit_cost"`
	OutputUnitCost  float64       `mapstructure:"output_unit_cost"`
}

// BreakerConfig configures the circuit breaker of §4.3.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	CooldownSeconds  time.Duration `mapstructure:"cooldown_seconds"`
}

// CacheConfig configures cache-layer behavior of §4.5 and §9.
type CacheConfig struct {
	ResponseTTLSeconds      time.Duration `mapstructure:"response_ttl_seconds"`
	LockTTLSeconds          time.Duration `mapstructure:"lock_ttl_seconds"`
	LockWaitDeadlineSeconds time.Duration `mapstructure:"lock_wait_deadline_seconds"`
	SimilarityThreshold     float64       `mapstructure:"similarity_threshold_default"`
	ScanWarnThreshold       int           `mapstructure:"scan_warn_threshold"`
}

// LifecycleConfig configures startup probing and shutdown drain of §4.6.
type LifecycleConfig struct {
	ShutdownDrainSeconds time.Duration `mapstructure:"shutdown_drain_seconds"`
	StartupMaxAttempts   int           `mapstructure:"startup_max_attempts"`
}

// Load reads configuration from environment variables (with the
// GATEWAY_ prefix) and an optional YAML file, applying defaults first so a
// zero-config deployment still runs.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("gateway")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/semantic-cache-gateway")

	setDefaults(v)

	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.RateLimit.RefillPerSecond <= 0 && cfg.RateLimit.WindowSeconds > 0 {
		cfg.RateLimit.RefillPerSecond = float64(cfg.RateLimit.Capacity) / cfg.RateLimit.WindowSeconds
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.port", 8080)
	v.SetDefault("service.log_level", "info")
	v.SetDefault("service.prompt_max_bytes", 2048)

	v.SetDefault("auth.credential_header_name", "X-API-Key")
	v.SetDefault("auth.metrics_require_auth", false)

	v.SetDefault("rate_limit.capacity", 100)
	v.SetDefault("rate_limit.window_seconds", 60.0)

	v.SetDefault("kv.endpoint", "localhost:6379")
	v.SetDefault("kv.database", 0)
	v.SetDefault("kv.key_prefix", "scg")
	v.SetDefault("kv.lock_prefix", "scg-lock")
	v.SetDefault("kv.rl_prefix", "scg-rl")

	v.SetDefault("embedding.dim", 384)
	v.SetDefault("embedding.timeout_seconds", "5s")

	v.SetDefault("llm.model_default", "gpt-default")
	v.SetDefault("llm.timeout_seconds", "30s")
	v.SetDefault("llm.max_attempts", 3)
	v.SetDefault("llm.input_unit_cost", 0.0)
	v.SetDefault("llm.output_unit_cost", 0.0)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.cooldown_seconds", "60s")

	v.SetDefault("cache.response_ttl_seconds", "3600s")
	v.SetDefault("cache.lock_ttl_seconds", "30s")
	v.SetDefault("cache.lock_wait_deadline_seconds", "30s")
	v.SetDefault("cache.similarity_threshold_default", 0.75)
	v.SetDefault("cache.scan_warn_threshold", 5000)

	v.SetDefault("lifecycle.shutdown_drain_seconds", "10s")
	v.SetDefault("lifecycle.startup_max_attempts", 3)
}

func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("kv.endpoint", "GATEWAY_KV_ENDPOINT")
	_ = v.BindEnv("kv.password", "GATEWAY_KV_PASSWORD")
	_ = v.BindEnv("embedding.endpoint", "GATEWAY_EMBEDDING_ENDPOINT")
	_ = v.BindEnv("llm.endpoint", "GATEWAY_LLM_ENDPOINT")
	_ = v.BindEnv("auth.admin_credentials", "GATEWAY_ADMIN_CREDENTIALS")
	_ = v.BindEnv("auth.user_credentials", "GATEWAY_USER_CREDENTIALS")
}

func validate(cfg *Config) error {
	if cfg.Service.Port <= 0 || cfg.Service.Port > 65535 {
		return fmt.Errorf("invalid service port: %d", cfg.Service.Port)
	}
	if cfg.Auth.CredentialHeaderName == "" {
		return fmt.Errorf("auth.credential_header_name is required")
	}
	if len(cfg.Auth.AdminCredentials) == 0 && len(cfg.Auth.UserCredentials) == 0 {
		return fmt.Errorf("at least one admin or user credential must be configured")
	}
	if cfg.Embedding.Dim <= 0 {
		return fmt.Errorf("embedding.dim must be positive")
	}
	if cfg.RateLimit.Capacity < 0 {
		return fmt.Errorf("rate_limit.capacity must be >= 0")
	}
	return nil
}
