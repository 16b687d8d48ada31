// Package config loads and validates admission service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/crawl-admission/internal/admission"
	"github.com/JakeFAU/crawl-admission/internal/blocklist"
)

// Backend names accepted by the pluggable sections.
const (
	BackendMemory    = "memory"
	BackendPostgres  = "postgres"
	BackendRedis     = "redis"
	BackendLocal     = "local"
	BackendUnlimited = "unlimited"
	BackendKafka     = "kafka"
	BackendPubSub    = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Billing     BillingConfig     `mapstructure:"billing"`
	Blocklist   BlocklistConfig   `mapstructure:"blocklist"`
	Enqueue     EnqueueConfig     `mapstructure:"enqueue"`
	DB          DBConfig          `mapstructure:"db"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int   `mapstructure:"port"`
	TrustProxyHeaders      bool  `mapstructure:"trust_proxy_headers"`
	RequestTimeoutSeconds  int   `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int   `mapstructure:"shutdown_timeout_seconds"`
	MaxBodyBytes           int64 `mapstructure:"max_body_bytes"`
}

// RequestTimeout returns the deadline applied to admission collaborators.
func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// AuthConfig configures credential resolution and rate limits.
type AuthConfig struct {
	APIKeys      []APIKey        `mapstructure:"api_keys"`
	JWT          JWTConfig       `mapstructure:"jwt"`
	AllowPreview bool            `mapstructure:"allow_preview"`
	RateLimits   RateLimitConfig `mapstructure:"rate_limits"`
}

// APIKey maps a static bearer token to a tenant. Viper lowercases map keys,
// so tokens are listed rather than keyed.
type APIKey struct {
	Token    string `mapstructure:"token"`
	TenantID string `mapstructure:"tenant_id"`
}

// Tokens returns the static keys as a token to tenant map.
func (c AuthConfig) Tokens() map[string]string {
	out := make(map[string]string, len(c.APIKeys))
	for _, k := range c.APIKeys {
		out[k.Token] = k.TenantID
	}
	return out
}

// JWTConfig enables HS256 bearer tokens when Secret is set.
type JWTConfig struct {
	Secret   string `mapstructure:"secret"`
	Issuer   string `mapstructure:"issuer"`
	Audience string `mapstructure:"audience"`
}

// RateLimitConfig sets per-mode requests-per-minute budgets. Zero disables limiting.
type RateLimitConfig struct {
	Backend   string         `mapstructure:"backend"`
	Default   int            `mapstructure:"default"`
	Modes     map[string]int `mapstructure:"modes"`
	KeyPrefix string         `mapstructure:"key_prefix"`
}

// ModeRPM resolves Modes against the known admission modes. Viper lowercases
// map keys, so names are matched case-insensitively.
func (c RateLimitConfig) ModeRPM() map[admission.Mode]int {
	known := []admission.Mode{
		admission.ModeCrawl, admission.ModeCrawlStatus, admission.ModeScrape,
		admission.ModeSearch, admission.ModePreview,
	}
	out := make(map[admission.Mode]int, len(c.Modes))
	for name, rpm := range c.Modes {
		for _, mode := range known {
			if strings.EqualFold(name, string(mode)) {
				out[mode] = rpm
			}
		}
	}
	return out
}

// IdempotencyConfig selects the key store.
type IdempotencyConfig struct {
	Backend     string `mapstructure:"backend"`
	RequireUUID bool   `mapstructure:"require_uuid"`
	TTLHours    int    `mapstructure:"ttl_hours"`
	Table       string `mapstructure:"table"`
	RedisPrefix string `mapstructure:"redis_prefix"`
}

// TTL returns the Redis record lifetime.
func (c IdempotencyConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// BillingConfig selects the credit ledger.
type BillingConfig struct {
	Backend        string          `mapstructure:"backend"`
	DefaultCredits int             `mapstructure:"default_credits"`
	Balances       []TenantCredits `mapstructure:"balances"`
	BalancesTable  string          `mapstructure:"balances_table"`
	HoldsTable     string          `mapstructure:"holds_table"`
}

// TenantCredits seeds a tenant balance.
type TenantCredits struct {
	TenantID string `mapstructure:"tenant_id"`
	Credits  int    `mapstructure:"credits"`
}

// BalanceMap returns the seeded balances keyed by tenant.
func (c BillingConfig) BalanceMap() map[string]int {
	out := make(map[string]int, len(c.Balances))
	for _, b := range c.Balances {
		out[b.TenantID] = b.Credits
	}
	return out
}

// BlocklistConfig defines disallowed target domains.
type BlocklistConfig struct {
	Domains       []string `mapstructure:"domains"`
	AllowKeywords []string `mapstructure:"allow_keywords"`
	Message       string   `mapstructure:"message"`
}

// EnqueueConfig controls the hand-off of accepted jobs.
type EnqueueConfig struct {
	Backend     string `mapstructure:"backend"`
	Topic       string `mapstructure:"topic"`
	QueueDepth  int    `mapstructure:"queue_depth"`
	Workers     int    `mapstructure:"workers"`
	MaxAttempts int    `mapstructure:"max_attempts"`
	BackoffMs   int    `mapstructure:"backoff_ms"`
}

// Backoff returns the base delay between publish attempts.
func (c EnqueueConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffMs) * time.Millisecond
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	EnsureSchema           bool   `mapstructure:"ensure_schema"`
}

// RedisConfig controls access to Redis.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig lists the brokers used by the kafka enqueue backend.
type KafkaConfig struct {
	Brokers             []string `mapstructure:"brokers"`
	WriteTimeoutSeconds int      `mapstructure:"write_timeout_seconds"`
}

// PubSubConfig holds the project for the pubsub enqueue backend.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// AuditConfig controls the admission decision trail.
type AuditConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Log            bool   `mapstructure:"log"`
	Postgres       bool   `mapstructure:"postgres"`
	Table          string `mapstructure:"table"`
	BufferSize     int    `mapstructure:"buffer_size"`
	MaxBatchEvents int    `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int    `mapstructure:"max_batch_wait_ms"`
}

// MaxBatchWait converts MaxBatchWaitMs to a duration.
func (c AuditConfig) MaxBatchWait() time.Duration {
	return time.Duration(c.MaxBatchWaitMs) * time.Millisecond
}

// TracingConfig controls OpenTelemetry span creation. Spans leave the
// process only when OTLPEndpoint names a collector.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	Version      string  `mapstructure:"version"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
}

// Load builds a Config from disk/environment and validates it.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read builds a Config from disk/environment without validating it, for
// tools that only need some sections.
func Read(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ADMISSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3002)
	v.SetDefault("server.trust_proxy_headers", false)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("logging.development", true)
	v.SetDefault("auth.allow_preview", false)
	v.SetDefault("auth.rate_limits.backend", BackendLocal)
	v.SetDefault("auth.rate_limits.default", 20)
	v.SetDefault("auth.rate_limits.modes", map[string]int{
		"crawl":       3,
		"crawlStatus": 20,
		"scrape":      20,
		"search":      20,
		"preview":     5,
	})
	v.SetDefault("auth.rate_limits.key_prefix", "admission:ratelimit:")
	v.SetDefault("idempotency.backend", BackendMemory)
	v.SetDefault("idempotency.require_uuid", true)
	v.SetDefault("idempotency.ttl_hours", 24)
	v.SetDefault("idempotency.redis_prefix", "admission:idempotency:")
	v.SetDefault("billing.backend", BackendUnlimited)
	v.SetDefault("billing.default_credits", 500)
	v.SetDefault("blocklist.domains", blocklist.SocialMedia)
	v.SetDefault("enqueue.backend", BackendMemory)
	v.SetDefault("enqueue.topic", "crawl-jobs")
	v.SetDefault("enqueue.queue_depth", 256)
	v.SetDefault("enqueue.workers", 2)
	v.SetDefault("enqueue.max_attempts", 3)
	v.SetDefault("enqueue.backoff_ms", 200)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("db.ensure_schema", true)
	v.SetDefault("kafka.write_timeout_seconds", 10)
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.log", true)
	v.SetDefault("audit.postgres", false)
	v.SetDefault("audit.buffer_size", 1024)
	v.SetDefault("audit.max_batch_events", 200)
	v.SetDefault("audit.max_batch_wait_ms", 1000)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.otlp_insecure", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if err := oneOf("auth.rate_limits.backend", c.Auth.RateLimits.Backend, BackendLocal, BackendRedis); err != nil {
		return err
	}
	if err := oneOf("idempotency.backend", c.Idempotency.Backend,
		BackendMemory, BackendPostgres, BackendRedis); err != nil {
		return err
	}
	if err := oneOf("billing.backend", c.Billing.Backend,
		BackendUnlimited, BackendMemory, BackendPostgres); err != nil {
		return err
	}
	if err := oneOf("enqueue.backend", c.Enqueue.Backend, BackendMemory, BackendKafka, BackendPubSub); err != nil {
		return err
	}
	if len(c.Auth.APIKeys) == 0 && c.Auth.JWT.Secret == "" && !c.Auth.AllowPreview {
		return fmt.Errorf("auth.api_keys, auth.jwt.secret or auth.allow_preview must be set")
	}
	if c.usesPostgres() && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when a postgres backend is selected")
	}
	if c.usesRedis() && c.Redis.Address == "" {
		return fmt.Errorf("redis.address must be set when a redis backend is selected")
	}
	if c.Idempotency.Backend == BackendRedis && c.Idempotency.TTLHours <= 0 {
		return fmt.Errorf("idempotency.ttl_hours must be > 0")
	}
	if c.Enqueue.QueueDepth <= 0 {
		return fmt.Errorf("enqueue.queue_depth must be > 0")
	}
	if c.Enqueue.Workers <= 0 {
		return fmt.Errorf("enqueue.workers must be > 0")
	}
	if c.Enqueue.Topic == "" {
		return fmt.Errorf("enqueue.topic must be set")
	}
	if c.Tracing.Enabled && (c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1) {
		return fmt.Errorf("tracing.sample_ratio must be within [0,1]")
	}
	switch c.Enqueue.Backend {
	case BackendKafka:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers must be set when enqueue.backend is kafka")
		}
	case BackendPubSub:
		if c.PubSub.ProjectID == "" {
			return fmt.Errorf("pubsub.project_id must be set when enqueue.backend is pubsub")
		}
	}
	return nil
}

func (c Config) usesPostgres() bool {
	return c.Idempotency.Backend == BackendPostgres || c.Billing.Backend == BackendPostgres ||
		(c.Audit.Enabled && c.Audit.Postgres)
}

func (c Config) usesRedis() bool {
	return c.Idempotency.Backend == BackendRedis || c.Auth.RateLimits.Backend == BackendRedis
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", field, strings.Join(allowed, ", "), value)
}
