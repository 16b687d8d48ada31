// Package server builds the admission service from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-admission/internal/admission"
	"github.com/JakeFAU/crawl-admission/internal/api"
	"github.com/JakeFAU/crawl-admission/internal/audit"
	auditsinks "github.com/JakeFAU/crawl-admission/internal/audit/sinks"
	"github.com/JakeFAU/crawl-admission/internal/auth"
	"github.com/JakeFAU/crawl-admission/internal/auth/ratelimit"
	"github.com/JakeFAU/crawl-admission/internal/billing"
	memoryledger "github.com/JakeFAU/crawl-admission/internal/billing/memory"
	pgledger "github.com/JakeFAU/crawl-admission/internal/billing/postgres"
	"github.com/JakeFAU/crawl-admission/internal/blocklist"
	"github.com/JakeFAU/crawl-admission/internal/clock/system"
	"github.com/JakeFAU/crawl-admission/internal/config"
	"github.com/JakeFAU/crawl-admission/internal/database"
	"github.com/JakeFAU/crawl-admission/internal/dispatcher"
	"github.com/JakeFAU/crawl-admission/internal/forwarder"
	"github.com/JakeFAU/crawl-admission/internal/hash/sha256"
	"github.com/JakeFAU/crawl-admission/internal/id/uuid"
	"github.com/JakeFAU/crawl-admission/internal/idempotency"
	memoryidem "github.com/JakeFAU/crawl-admission/internal/idempotency/memory"
	pgidem "github.com/JakeFAU/crawl-admission/internal/idempotency/postgres"
	redisidem "github.com/JakeFAU/crawl-admission/internal/idempotency/redis"
	"github.com/JakeFAU/crawl-admission/internal/logging"
	"github.com/JakeFAU/crawl-admission/internal/metrics"
	kafkapublisher "github.com/JakeFAU/crawl-admission/internal/publisher/kafka"
	memorypublisher "github.com/JakeFAU/crawl-admission/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/crawl-admission/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/crawl-admission/internal/queue/memory"
	"github.com/JakeFAU/crawl-admission/internal/redisconn"
	"github.com/JakeFAU/crawl-admission/internal/telemetry"
	"github.com/JakeFAU/crawl-admission/internal/urlcheck"
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	apiServer *api.Server
	pipeline  *admission.Pipeline
	dispatch  *dispatcher.Dispatcher
	queue     *queueMemory.Queue
	publisher forwarder.Publisher
	audit     *audit.Hub
	pool      *pgxpool.Pool
	redis     *goredis.Client
	closers   []func() error
}

// Build creates the application's dependencies. A nil logger builds one from
// cfg.Logging.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Options{
			Development: cfg.Logging.Development,
			Level:       cfg.Logging.Level,
			Service:     "crawl-admission",
		})
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("idempotency_backend", cfg.Idempotency.Backend),
		zap.String("billing_backend", cfg.Billing.Backend),
		zap.String("enqueue_backend", cfg.Enqueue.Backend),
		zap.String("rate_limit_backend", cfg.Auth.RateLimits.Backend),
	)
	if err := app.build(ctx); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	if err := a.setupTracing(ctx); err != nil {
		return err
	}
	if err := a.setupConnections(ctx); err != nil {
		return err
	}
	clock := system.New()
	ids := uuid.New()

	authn, err := a.setupAuth()
	if err != nil {
		return err
	}
	guard, err := a.setupIdempotency(ctx, clock)
	if err != nil {
		return err
	}
	quota, err := a.setupBilling(ctx, ids, clock)
	if err != nil {
		return err
	}
	if err := a.setupDispatcher(ctx); err != nil {
		return err
	}
	if err := a.setupAudit(ctx); err != nil {
		return err
	}

	deps := admission.Dependencies{
		Authenticator: authn,
		Guard:         guard,
		Quota:         quota,
		Blocklist:     blocklist.New(a.cfg.Blocklist.Domains, a.cfg.Blocklist.AllowKeywords),
		Normalizer:    urlcheck.New(),
		IDs:           ids,
		Clock:         clock,
	}
	if a.audit != nil {
		deps.Recorder = a.audit
	}
	a.pipeline, err = admission.New(deps,
		admission.Config{BlockedMessage: a.cfg.Blocklist.Message},
		a.logger.Named("admission"),
	)
	if err != nil {
		return fmt.Errorf("pipeline init failed: %w", err)
	}

	a.apiServer = api.NewServer(a.pipeline, a.dispatch, a.cfg.Server, a.readinessChecks(), a.logger.Named("api"))
	return nil
}

func (a *App) setupTracing(ctx context.Context) error {
	if !a.cfg.Tracing.Enabled {
		return nil
	}
	exporters, err := telemetry.Exporters(ctx, telemetry.OTLPOptions{
		Endpoint: a.cfg.Tracing.OTLPEndpoint,
		Insecure: a.cfg.Tracing.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("tracing exporter init failed: %w", err)
	}
	tp, err := telemetry.Init(ctx, telemetry.Options{
		Service:     "crawl-admission",
		Version:     a.cfg.Tracing.Version,
		SampleRatio: a.cfg.Tracing.SampleRatio,
		Exporters:   exporters,
	})
	if err != nil {
		return fmt.Errorf("tracing init failed: %w", err)
	}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	})
	a.logger.Info("tracing enabled",
		zap.Float64("sample_ratio", a.cfg.Tracing.SampleRatio),
		zap.String("otlp_endpoint", a.cfg.Tracing.OTLPEndpoint),
	)
	return nil
}

func (a *App) setupConnections(ctx context.Context) error {
	if a.cfg.DB.DSN != "" {
		pool, err := database.Open(ctx, database.Config{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("database init failed: %w", err)
		}
		a.pool = pool
		a.logger.Info("postgres pool initialized")
	}
	if a.cfg.Redis.Address != "" {
		client, err := redisconn.NewClient(ctx, redisconn.Config{
			Address:  a.cfg.Redis.Address,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("redis init failed: %w", err)
		}
		a.redis = client
		a.logger.Info("redis client initialized", zap.String("address", a.cfg.Redis.Address))
	}
	return nil
}

func (a *App) setupAuth() (*auth.Authenticator, error) {
	var resolvers []auth.TokenResolver
	if keys := a.cfg.Auth.Tokens(); len(keys) > 0 {
		resolvers = append(resolvers, auth.StaticKeys(keys))
		a.logger.Debug("static api keys loaded", zap.Int("count", len(keys)))
	}
	if a.cfg.Auth.JWT.Secret != "" {
		verifier, err := auth.NewJWTVerifier(auth.JWTConfig{
			Secret:   a.cfg.Auth.JWT.Secret,
			Issuer:   a.cfg.Auth.JWT.Issuer,
			Audience: a.cfg.Auth.JWT.Audience,
		})
		if err != nil {
			return nil, fmt.Errorf("jwt verifier init failed: %w", err)
		}
		resolvers = append(resolvers, verifier)
		a.logger.Info("jwt bearer tokens enabled", zap.String("issuer", a.cfg.Auth.JWT.Issuer))
	}

	limits := ratelimit.Config{
		DefaultRPM: a.cfg.Auth.RateLimits.Default,
		ModeRPM:    a.cfg.Auth.RateLimits.ModeRPM(),
	}
	var limiter auth.Limiter
	switch a.cfg.Auth.RateLimits.Backend {
	case config.BackendRedis:
		if a.redis == nil {
			return nil, errors.New("redis rate limiter requires redis.address")
		}
		rl, err := ratelimit.NewRedis(a.redis, limits, a.cfg.Auth.RateLimits.KeyPrefix)
		if err != nil {
			return nil, fmt.Errorf("redis rate limiter init failed: %w", err)
		}
		limiter = rl
	default:
		limiter = ratelimit.NewLocal(limits)
	}
	a.logger.Info("rate limiter configured",
		zap.String("backend", a.cfg.Auth.RateLimits.Backend),
		zap.Int("default_rpm", limits.DefaultRPM),
	)

	return auth.New(resolvers, limiter, auth.Options{AllowPreview: a.cfg.Auth.AllowPreview}, a.logger.Named("auth")), nil
}

func (a *App) setupIdempotency(ctx context.Context, clock admission.Clock) (*idempotency.Guard, error) {
	var store idempotency.Store
	switch a.cfg.Idempotency.Backend {
	case config.BackendPostgres:
		if a.pool == nil {
			return nil, errors.New("postgres idempotency store requires db.dsn")
		}
		pgStore, err := pgidem.NewStoreWithPool(a.pool, a.cfg.Idempotency.Table)
		if err != nil {
			return nil, fmt.Errorf("idempotency store init failed: %w", err)
		}
		if a.cfg.DB.EnsureSchema {
			if err := pgStore.EnsureSchema(ctx); err != nil {
				return nil, err
			}
		}
		store = pgStore
	case config.BackendRedis:
		if a.redis == nil {
			return nil, errors.New("redis idempotency store requires redis.address")
		}
		redisStore, err := redisidem.NewStore(a.redis, a.cfg.Idempotency.RedisPrefix, a.cfg.Idempotency.TTL())
		if err != nil {
			return nil, fmt.Errorf("idempotency store init failed: %w", err)
		}
		store = redisStore
	default:
		store = memoryidem.NewStore()
	}
	a.logger.Info("idempotency store configured",
		zap.String("backend", a.cfg.Idempotency.Backend),
		zap.Bool("require_uuid", a.cfg.Idempotency.RequireUUID),
	)
	return idempotency.NewGuard(store, sha256.New(), clock,
		idempotency.GuardConfig{RequireUUID: a.cfg.Idempotency.RequireUUID},
		a.logger.Named("idempotency"),
	), nil
}

func (a *App) setupBilling(
	ctx context.Context,
	ids admission.IDGenerator,
	clock admission.Clock,
) (*billing.Enforcer, error) {
	var ledger billing.Ledger
	switch a.cfg.Billing.Backend {
	case config.BackendPostgres:
		if a.pool == nil {
			return nil, errors.New("postgres ledger requires db.dsn")
		}
		pgLedger, err := pgledger.NewLedger(a.pool, pgledger.Tables{
			Balances: a.cfg.Billing.BalancesTable,
			Holds:    a.cfg.Billing.HoldsTable,
		}, ids, clock)
		if err != nil {
			return nil, fmt.Errorf("ledger init failed: %w", err)
		}
		if a.cfg.DB.EnsureSchema {
			if err := pgLedger.EnsureSchema(ctx); err != nil {
				return nil, err
			}
		}
		ledger = pgLedger
	case config.BackendMemory:
		ledger = memoryledger.NewLedger(a.cfg.Billing.BalanceMap(), a.cfg.Billing.DefaultCredits, ids)
	default:
		ledger = billing.Unlimited{}
	}
	a.logger.Info("credit ledger configured", zap.String("backend", a.cfg.Billing.Backend))
	return billing.NewEnforcer(ledger, a.logger.Named("billing")), nil
}

func (a *App) setupDispatcher(ctx context.Context) error {
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	a.publisher = publisher
	a.queue = queueMemory.NewQueue(a.cfg.Enqueue.QueueDepth)

	fwdCfg := forwarder.Config{
		Topic:       a.cfg.Enqueue.Topic,
		Backend:     a.cfg.Enqueue.Backend,
		MaxAttempts: a.cfg.Enqueue.MaxAttempts,
		Backoff:     a.cfg.Enqueue.Backoff(),
	}
	forwarders := make([]*forwarder.Forwarder, 0, a.cfg.Enqueue.Workers)
	for i := 0; i < a.cfg.Enqueue.Workers; i++ {
		forwarders = append(forwarders, forwarder.New(a.queue, publisher, fwdCfg,
			a.logger.Named("forwarder").With(zap.Int("index", i))))
	}
	a.dispatch = dispatcher.New(a.queue, forwarders, a.logger.Named("dispatcher"))
	a.logger.Info("dispatcher configured",
		zap.String("topic", fwdCfg.Topic),
		zap.Int("workers", len(forwarders)),
		zap.Int("queue_depth", a.cfg.Enqueue.QueueDepth),
	)
	return nil
}

func (a *App) setupPublisher(ctx context.Context) (forwarder.Publisher, error) {
	switch a.cfg.Enqueue.Backend {
	case config.BackendKafka:
		pub, err := kafkapublisher.New(kafkapublisher.Config{
			Brokers:      a.cfg.Kafka.Brokers,
			WriteTimeout: time.Duration(a.cfg.Kafka.WriteTimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("kafka publisher init failed: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		a.logger.Info("kafka publisher initialized", zap.Strings("brokers", a.cfg.Kafka.Brokers))
		return pub, nil
	case config.BackendPubSub:
		client, err := gcppublisher.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		pub := gcppublisher.New(client)
		a.closers = append(a.closers, pub.Close)
		a.logger.Info("Pub/Sub publisher initialized", zap.String("project", a.cfg.PubSub.ProjectID))
		return pub, nil
	default:
		a.logger.Warn("no external job queue configured, using in-memory publisher")
		pub := memorypublisher.New(a.logger.Named("publisher"))
		a.closers = append(a.closers, pub.Close)
		return pub, nil
	}
}

func (a *App) setupAudit(ctx context.Context) error {
	if !a.cfg.Audit.Enabled {
		return nil
	}
	var sinks []audit.Sink
	if a.cfg.Audit.Log {
		sinks = append(sinks, auditsinks.NewLogSink(a.logger.Named("audit")))
	}
	if a.cfg.Audit.Postgres {
		if a.pool == nil {
			return errors.New("postgres audit sink requires db.dsn")
		}
		pgSink, err := auditsinks.NewPostgresSink(a.pool, a.cfg.Audit.Table)
		if err != nil {
			return fmt.Errorf("audit sink init failed: %w", err)
		}
		if a.cfg.DB.EnsureSchema {
			if err := pgSink.EnsureSchema(ctx); err != nil {
				return err
			}
		}
		sinks = append(sinks, pgSink)
	}
	if len(sinks) == 0 {
		a.logger.Warn("audit enabled without sinks, decisions will not be recorded")
		return nil
	}
	a.audit = audit.NewHub(audit.Config{
		BufferSize:     a.cfg.Audit.BufferSize,
		MaxBatchEvents: a.cfg.Audit.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Audit.MaxBatchWait(),
		Logger:         a.logger.Named("audit"),
	}, sinks...)
	a.logger.Info("audit trail configured", zap.Int("sinks", len(sinks)))
	return nil
}

func (a *App) readinessChecks() map[string]api.ReadinessCheck {
	checks := map[string]api.ReadinessCheck{}
	if a.pool != nil {
		checks["postgres"] = func(ctx context.Context) error { return a.pool.Ping(ctx) }
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	return checks
}

// Handler returns the HTTP handler, for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the HTTP server and the dispatcher and blocks until ctx is
// canceled or a termination signal arrives. Accepted jobs still held in the
// hand-off queue are forwarded before Run returns, within the shutdown budget.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchCtx, cancelDispatch := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelDispatch()
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started")
		a.dispatch.Run(dispatchCtx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	a.queue.Close()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("dispatcher drain timed out", zap.Int("pending", a.queue.Len()))
		cancelDispatch()
		<-dispatchDone
	}

	a.Close()
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close flushes the audit trail and releases connections and publishers.
func (a *App) Close() {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.audit != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.audit.Close(ctx); err != nil {
			a.logger.Warn("audit hub close failed", zap.Error(err))
		}
		cancel()
		a.audit = nil
	}
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
		a.redis = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}
