package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/crawl-admission/internal/config"
	memorypublisher "github.com/JakeFAU/crawl-admission/internal/publisher/memory"
)

func memoryConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 0, RequestTimeoutSeconds: 5, ShutdownTimeoutSeconds: 5},
		Auth: config.AuthConfig{
			APIKeys:    []config.APIKey{{Token: "fc-team-a", TenantID: "team-a"}},
			RateLimits: config.RateLimitConfig{Backend: config.BackendLocal, Default: 100},
		},
		Idempotency: config.IdempotencyConfig{Backend: config.BackendMemory, RequireUUID: true},
		Billing: config.BillingConfig{
			Backend:  config.BackendMemory,
			Balances: []config.TenantCredits{{TenantID: "team-a", Credits: 1}},
		},
		Blocklist: config.BlocklistConfig{Domains: []string{"twitter.com"}},
		Enqueue: config.EnqueueConfig{
			Backend:     config.BackendMemory,
			Topic:       "crawl-jobs",
			QueueDepth:  8,
			Workers:     1,
			MaxAttempts: 1,
			BackoffMs:   1,
		},
	}
}

func post(t *testing.T, app *App, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/crawl", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer fc-team-a")
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	return rec
}

func TestBuildMemoryStackAdmitsAndForwards(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig()
	cfg.Enqueue.MaxAttempts = 2
	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	pub, ok := app.publisher.(*memorypublisher.Publisher)
	require.True(t, ok)
	pub.FailNext(1, errors.New("transient broker error"))

	rec := post(t, app, `{"url":"https://twitter.com/golang"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = post(t, app, `{"url":"example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"success":true`)

	rec = post(t, app, `{"url":"https://example.org"}`)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "crawl-jobs", msgs[0].Topic)
	require.Equal(t, "http://example.com/", msgs[0].Payload.URL)
	require.Equal(t, "team-a", msgs[0].Payload.TenantID)
}

func TestBuildUnlimitedBillingByDefault(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig()
	cfg.Billing = config.BillingConfig{Backend: config.BackendUnlimited}
	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	for i := 0; i < 3; i++ {
		rec := post(t, app, `{"url":"https://example.com"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestBuildFailsOnBadConnections(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig()
	cfg.DB.DSN = "postgres://%zz"
	_, err := Build(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "database init failed")

	cfg = memoryConfig()
	cfg.Redis.Address = "127.0.0.1:1"
	_, err = Build(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "redis init failed")
}

func TestBuildRequiresConnectionForBackend(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig()
	cfg.Idempotency.Backend = config.BackendPostgres
	_, err := Build(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "requires db.dsn")

	cfg = memoryConfig()
	cfg.Auth.RateLimits.Backend = config.BackendRedis
	_, err = Build(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "requires redis.address")
}

func TestBuildAuditTrailLogsDecisions(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	cfg := memoryConfig()
	cfg.Audit = config.AuditConfig{Enabled: true, Log: true, MaxBatchEvents: 10, MaxBatchWaitMs: 1000}
	app, err := Build(context.Background(), cfg, zap.New(core))
	require.NoError(t, err)

	require.Equal(t, http.StatusForbidden, post(t, app, `{"url":"https://twitter.com/golang"}`).Code)
	require.Equal(t, http.StatusOK, post(t, app, `{"url":"https://example.com"}`).Code)
	app.Close()

	entries := logs.FilterMessage("admission decision").All()
	require.Len(t, entries, 2)
	require.Equal(t, "blocked_url", entries[0].ContextMap()["reason"])
	require.Equal(t, "accepted", entries[1].ContextMap()["outcome"])
	require.Equal(t, "team-a", entries[1].ContextMap()["tenant_id"])
}

func TestBuildAuditPostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig()
	cfg.Audit = config.AuditConfig{Enabled: true, Postgres: true}
	_, err := Build(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "postgres audit sink requires db.dsn")
}
