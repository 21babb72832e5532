package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/checkout"
	"storefront/internal/checkout/saga"
	"storefront/internal/config"
	checkoutdb "storefront/internal/db/checkout"
	"storefront/internal/events"
	"storefront/internal/logging"
	"storefront/internal/observability"
	"storefront/internal/payment"
	"storefront/internal/realtime"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var openDB = func(driver, dsn string) (*sql.DB, error) {
	return sql.Open(driver, dsn)
}

// App holds the wired checkout service and the resources it owns.
type App struct {
	Service *checkout.Service
	Metrics *observability.Metrics
	Hub     *realtime.Hub
	// Memory is set when no DATABASE_URL is configured.
	Memory *checkout.MemoryStore
	// Sandbox is set when no provider base URL is configured.
	Sandbox *payment.Sandbox

	closers []func() error
}

// Close releases every resource in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Build wires the checkout service from cfg. Postgres, Redis and Kafka are
// optional; without them the service runs on memory and the WebSocket feed only.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Metrics: observability.NewMetrics(),
		Hub:     realtime.NewHub(cfg.Observability.WSBuffer),
	}

	var (
		store   checkout.Store
		carts   checkout.CartReader
		journal saga.Journal
	)
	if cfg.Postgres.URL == "" {
		logging.Warn(ctx, logger, "DATABASE_URL not set, using in-memory store")
		a.Memory = checkout.NewMemoryStore()
		store, carts, journal = a.Memory, a.Memory, &saga.MemoryJournal{}
	} else {
		db, err := OpenPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		a.onClose(db.Close)
		pg, err := checkoutdb.NewStoreWithSchema(ctx, db)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		j, err := checkoutdb.NewJournalWithSchema(ctx, db)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		logging.Info(ctx, logger, "postgres store enabled")
		store, carts, journal = pg, pg, j
	}

	provider, sandbox, err := BuildProvider(cfg.Payment, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Sandbox = sandbox

	publisher, err := a.buildPublisher(ctx, cfg, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Service = checkout.NewService(store, carts, provider, ServiceConfig(cfg.Payment),
		checkout.WithJournal(journal),
		checkout.WithPublisher(publisher),
		checkout.WithRecorder(a.Metrics),
		checkout.WithLogger(logger),
	)
	return a, nil
}

// OpenPostgres opens and pings the pgx-backed database.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	db, err := openDB("pgx", cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// ServiceConfig derives the saga settings. The session timeout leaves room for
// every retry attempt the provider policy allows.
func ServiceConfig(cfg config.PaymentConfig) checkout.Config {
	return checkout.Config{
		Secret:         []byte(cfg.SigningSecret),
		Currency:       cfg.Currency,
		SessionTimeout: cfg.SessionBudget(),
	}
}

// BuildProvider returns the HTTP provider behind retries and a breaker, or the
// sandbox when no base URL is configured.
func BuildProvider(cfg config.PaymentConfig, logger *zap.Logger) (checkout.PaymentProvider, *payment.Sandbox, error) {
	if cfg.BaseURL == "" {
		sandbox := payment.NewSandbox([]byte(cfg.SigningSecret))
		return sandbox, sandbox, nil
	}
	client, err := payment.NewClient(payment.Config{
		BaseURL:   cfg.BaseURL,
		KeyID:     cfg.KeyID,
		KeySecret: cfg.KeySecret,
		Timeout:   cfg.AttemptTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	breaker := payment.NewBreaker("payment-provider", payment.BreakerConfig{
		MaxFailures:  cfg.BreakerFails,
		ResetTimeout: cfg.BreakerReset,
	}, logger)
	return payment.NewReliableProvider(client, breaker, payment.RetryPolicy{
		MaxAttempts: cfg.RetryAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	}), nil, nil
}

func (a *App) buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (checkout.Publisher, error) {
	publishers := []checkout.Publisher{events.NewBroadcastPublisher(a.Hub)}

	if cfg.Redis.URL != "" {
		client, err := NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.onClose(client.Close)
		publishers = append(publishers,
			events.NewRedisStreamPublisher(client, cfg.Redis.Stream, cfg.Redis.OrderTTL, cfg.Redis.StreamMaxLen))
		logging.Info(ctx, logger, "redis order stream enabled", zap.String("stream", cfg.Redis.Stream))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPub := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		a.onClose(kafkaPub.Close)
		publishers = append(publishers, kafkaPub)
		logging.Info(ctx, logger, "kafka order events enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	return events.NewFanout(publishers...), nil
}

// NewRedisClient builds an instrumented client and checks it with a ping.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	tlsConfig, err := cfg.TLSConfig()
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		opts.TLSConfig = tlsConfig
	}

	client := redis.NewClient(opts)
	if cfg.EnableOTel {
		if err := redisotel.InstrumentTracing(client); err != nil {
			_ = client.Close()
			return nil, err
		}
		if err := redisotel.InstrumentMetrics(client); err != nil {
			_ = client.Close()
			return nil, err
		}
	}

	pingCtx := ctx
	if cfg.HealthcheckTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.HealthcheckTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
