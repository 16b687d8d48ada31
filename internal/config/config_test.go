package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/crawl-admission/internal/admission"
	"github.com/JakeFAU/crawl-admission/internal/blocklist"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  trust_proxy_headers: true
  request_timeout_seconds: 5
auth:
  api_keys:
    - token: fc-AbC123
      tenant_id: Team-A
  jwt:
    secret: s3cret
    issuer: admission
  rate_limits:
    backend: redis
    default: 50
    modes:
      crawl: 7
      crawlStatus: 100
idempotency:
  backend: postgres
  require_uuid: false
  table: keys
billing:
  backend: postgres
  default_credits: 10
  balances:
    - tenant_id: Team-A
      credits: 99
blocklist:
  domains: ["example.org"]
  allow_keywords: ["privacy"]
enqueue:
  backend: kafka
  topic: jobs
  workers: 4
  backoff_ms: 50
db:
  dsn: postgres://localhost/admission
redis:
  address: localhost:6379
kafka:
  brokers: ["localhost:9092"]
logging:
  development: false
tracing:
  enabled: true
  sample_ratio: 0.25
  otlp_endpoint: collector:4317
  otlp_insecure: true
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || !cfg.Server.TrustProxyHeaders {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if got := cfg.Server.RequestTimeout(); got != 5*time.Second {
		t.Fatalf("expected request timeout 5s, got %v", got)
	}
	if got := cfg.Auth.Tokens(); got["fc-AbC123"] != "Team-A" {
		t.Fatalf("expected token case to survive, got %+v", got)
	}
	modes := cfg.Auth.RateLimits.ModeRPM()
	if modes[admission.ModeCrawl] != 7 || modes[admission.ModeCrawlStatus] != 100 {
		t.Fatalf("expected mode budgets, got %+v", modes)
	}
	if cfg.Idempotency.RequireUUID || cfg.Idempotency.Table != "keys" {
		t.Fatalf("expected idempotency overrides, got %+v", cfg.Idempotency)
	}
	if got := cfg.Billing.BalanceMap(); got["Team-A"] != 99 {
		t.Fatalf("expected seeded balance, got %+v", got)
	}
	if len(cfg.Blocklist.Domains) != 1 || cfg.Blocklist.Domains[0] != "example.org" {
		t.Fatalf("expected blocklist override, got %+v", cfg.Blocklist.Domains)
	}
	if cfg.Enqueue.Topic != "jobs" || cfg.Enqueue.Workers != 4 || cfg.Enqueue.Backoff() != 50*time.Millisecond {
		t.Fatalf("expected enqueue overrides, got %+v", cfg.Enqueue)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected development logging disabled")
	}
	if !cfg.Tracing.Enabled || cfg.Tracing.SampleRatio != 0.25 ||
		cfg.Tracing.OTLPEndpoint != "collector:4317" || !cfg.Tracing.OTLPInsecure {
		t.Fatalf("expected tracing overrides, got %+v", cfg.Tracing)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ADMISSION_AUTH_ALLOW_PREVIEW", "true")
	t.Setenv("ADMISSION_SERVER_PORT", "4000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Fatalf("expected env port 4000, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.AllowPreview {
		t.Fatalf("expected env to enable preview")
	}
	if cfg.Idempotency.Backend != BackendMemory || !cfg.Idempotency.RequireUUID {
		t.Fatalf("unexpected idempotency defaults: %+v", cfg.Idempotency)
	}
	if cfg.Idempotency.TTL() != 24*time.Hour {
		t.Fatalf("expected 24h ttl, got %v", cfg.Idempotency.TTL())
	}
	if cfg.Billing.Backend != BackendUnlimited || cfg.Enqueue.Backend != BackendMemory {
		t.Fatalf("unexpected backend defaults: %+v %+v", cfg.Billing, cfg.Enqueue)
	}
	if len(cfg.Blocklist.Domains) != len(blocklist.SocialMedia) {
		t.Fatalf("expected social media defaults, got %v", cfg.Blocklist.Domains)
	}
	if !cfg.Audit.Enabled || !cfg.Audit.Log || cfg.Audit.MaxBatchWait() != time.Second {
		t.Fatalf("unexpected audit defaults: %+v", cfg.Audit)
	}
	if cfg.Tracing.Enabled || cfg.Tracing.OTLPEndpoint != "" {
		t.Fatalf("expected tracing off with no exporter, got %+v", cfg.Tracing)
	}
	if rpm := cfg.Auth.RateLimits.ModeRPM()[admission.ModeCrawl]; rpm != 3 {
		t.Fatalf("expected default crawl budget 3, got %d", rpm)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("expected read config error, got %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:      ServerConfig{Port: 8080, RequestTimeoutSeconds: 30},
		Auth:        AuthConfig{AllowPreview: true, RateLimits: RateLimitConfig{Backend: BackendLocal}},
		Idempotency: IdempotencyConfig{Backend: BackendMemory, TTLHours: 24},
		Billing:     BillingConfig{Backend: BackendUnlimited},
		Enqueue:     EnqueueConfig{Backend: BackendMemory, Topic: "jobs", QueueDepth: 8, Workers: 1},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"invalid timeout", func(c *Config) { c.Server.RequestTimeoutSeconds = 0 }, "server.request_timeout_seconds"},
		{"no credentials", func(c *Config) { c.Auth.AllowPreview = false }, "auth.api_keys"},
		{"unknown limiter", func(c *Config) { c.Auth.RateLimits.Backend = "memcached" }, "auth.rate_limits.backend"},
		{"unknown idempotency", func(c *Config) { c.Idempotency.Backend = "sqlite" }, "idempotency.backend"},
		{"unknown billing", func(c *Config) { c.Billing.Backend = "stripe" }, "billing.backend"},
		{"unknown enqueue", func(c *Config) { c.Enqueue.Backend = "sqs" }, "enqueue.backend"},
		{"postgres without dsn", func(c *Config) { c.Billing.Backend = BackendPostgres }, "db.dsn"},
		{"audit postgres without dsn", func(c *Config) {
			c.Audit = AuditConfig{Enabled: true, Postgres: true}
		}, "db.dsn"},
		{"redis without address", func(c *Config) { c.Idempotency.Backend = BackendRedis }, "redis.address"},
		{"tracing ratio", func(c *Config) { c.Tracing = TracingConfig{Enabled: true, SampleRatio: 1.5} }, "tracing.sample_ratio"},
		{"queue depth", func(c *Config) { c.Enqueue.QueueDepth = 0 }, "enqueue.queue_depth"},
		{"workers", func(c *Config) { c.Enqueue.Workers = 0 }, "enqueue.workers"},
		{"topic", func(c *Config) { c.Enqueue.Topic = "" }, "enqueue.topic"},
		{"kafka without brokers", func(c *Config) { c.Enqueue.Backend = BackendKafka }, "kafka.brokers"},
		{"pubsub without project", func(c *Config) { c.Enqueue.Backend = BackendPubSub }, "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
