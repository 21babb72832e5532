package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config is the full server configuration, read from the environment.
type Config struct {
	Env      string `env:"APP_ENV" env-default:"development"`
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`

	GRPC          GRPCConfig
	Observability ObservabilityConfig
	Postgres      PostgresConfig
	Payment       PaymentConfig
	Saga          SagaConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	OTel          OTelConfig
}

// GRPCConfig holds the listen address and ingress rate limiting settings.
type GRPCConfig struct {
	Addr              string        `env:"GRPC_ADDR" env-default:":50051"`
	RateLimitInterval time.Duration `env:"GRPC_RATE_LIMIT_INTERVAL" env-default:"5ms"`
	RateLimitBurst    int           `env:"GRPC_RATE_LIMIT_BURST" env-default:"100"`
}

// ObservabilityConfig holds the HTTP address for metrics, health and the WebSocket feed.
type ObservabilityConfig struct {
	Addr     string `env:"OBS_ADDR" env-default:":9090"`
	WSBuffer int    `env:"WS_BUFFER" env-default:"256"`
}

// PostgresConfig selects the order store. An empty URL runs on the in-memory store.
type PostgresConfig struct {
	URL          string `env:"DATABASE_URL"`
	MaxOpenConns int    `env:"DB_MAX_OPEN_CONNS" env-default:"20"`
}

const defaultAttemptTimeout = 5 * time.Second

// PaymentConfig configures the provider client. An empty BaseURL selects the sandbox.
// AttemptTimeout bounds one HTTP call; SessionTimeout bounds the whole retried call.
type PaymentConfig struct {
	BaseURL        string        `env:"PAYMENT_BASE_URL"`
	KeyID          string        `env:"PAYMENT_KEY_ID"`
	KeySecret      string        `env:"PAYMENT_KEY_SECRET"`
	SigningSecret  string        `env:"PAYMENT_SIGNING_SECRET" env-required:"true"`
	Currency       string        `env:"PAYMENT_CURRENCY" env-default:"INR"`
	AttemptTimeout time.Duration `env:"PAYMENT_ATTEMPT_TIMEOUT" env-default:"5s"`
	SessionTimeout time.Duration `env:"PAYMENT_SESSION_TIMEOUT"`
	RetryAttempts  int           `env:"PAYMENT_RETRY_ATTEMPTS" env-default:"3"`
	RetryBaseDelay time.Duration `env:"PAYMENT_RETRY_BASE_DELAY" env-default:"100ms"`
	RetryMaxDelay  time.Duration `env:"PAYMENT_RETRY_MAX_DELAY" env-default:"2s"`
	BreakerFails   int           `env:"PAYMENT_BREAKER_MAX_FAILURES" env-default:"5"`
	BreakerReset   time.Duration `env:"PAYMENT_BREAKER_RESET" env-default:"30s"`
}

// SagaConfig holds the reconciler policy.
type SagaConfig struct {
	Grace         time.Duration `env:"SAGA_GRACE" env-default:"30m"`
	SweepInterval time.Duration `env:"SAGA_SWEEP_INTERVAL" env-default:"1m"`
	ReconcilerOn  bool          `env:"SAGA_RECONCILER" env-default:"true"`
}

// RedisConfig holds Redis connection and behavior settings. An empty URL disables the stream publisher.
type RedisConfig struct {
	URL                string        `env:"REDIS_URL"`
	Stream             string        `env:"REDIS_STREAM" env-default:"order_events"`
	DialTimeout        time.Duration `env:"REDIS_DIAL_TIMEOUT"`
	ReadTimeout        time.Duration `env:"REDIS_READ_TIMEOUT"`
	WriteTimeout       time.Duration `env:"REDIS_WRITE_TIMEOUT"`
	PoolSize           int           `env:"REDIS_POOL_SIZE"`
	MinIdleConns       int           `env:"REDIS_MIN_IDLE_CONNS"`
	MaxRetries         int           `env:"REDIS_MAX_RETRIES"`
	HealthcheckTimeout time.Duration `env:"REDIS_HEALTHCHECK_TIMEOUT" env-default:"2s"`
	OrderTTL           time.Duration `env:"REDIS_ORDER_TTL" env-default:"24h"`
	StreamMaxLen       int64         `env:"REDIS_STREAM_MAXLEN" env-default:"10000"`
	EnableOTel         bool          `env:"REDIS_OTEL"`

	TLSCAFile             string `env:"REDIS_TLS_CA_FILE"`
	TLSCertFile           string `env:"REDIS_TLS_CERT_FILE"`
	TLSKeyFile            string `env:"REDIS_TLS_KEY_FILE"`
	TLSServerName         string `env:"REDIS_TLS_SERVER_NAME"`
	TLSInsecureSkipVerify bool   `env:"REDIS_TLS_INSECURE_SKIP_VERIFY"`
}

// KafkaConfig selects the order event topic. No brokers disables the Kafka publisher.
type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS" env-separator:","`
	Topic   string   `env:"KAFKA_TOPIC" env-default:"order-events"`
}

// OTelConfig selects the trace collector. An empty endpoint keeps tracing local.
type OTelConfig struct {
	ServiceName string        `env:"OTEL_SERVICE_NAME" env-default:"storefront"`
	Endpoint    string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	URLPath     string        `env:"OTEL_EXPORTER_OTLP_TRACES_PATH"`
	AuthHeader  string        `env:"OTEL_EXPORTER_OTLP_AUTH"`
	Insecure    bool          `env:"OTEL_EXPORTER_OTLP_INSECURE"`
	Timeout     time.Duration `env:"OTEL_EXPORTER_OTLP_TIMEOUT" env-default:"5s"`
}

// Load reads an optional .env file and then the environment. Variables
// already set in the environment win over the file.
func Load(dotenv ...string) (Config, error) {
	if len(dotenv) == 0 {
		dotenv = []string{".env"}
	}
	for _, path := range dotenv {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Payment.SigningSecret) == "" {
		return errors.New("PAYMENT_SIGNING_SECRET is required")
	}
	if c.GRPC.RateLimitInterval < 0 || c.GRPC.RateLimitBurst < 0 {
		return errors.New("GRPC_RATE_LIMIT_INTERVAL and GRPC_RATE_LIMIT_BURST must be >= 0")
	}
	if c.Payment.BaseURL != "" && (c.Payment.KeyID == "" || c.Payment.KeySecret == "") {
		return errors.New("PAYMENT_KEY_ID and PAYMENT_KEY_SECRET are required with PAYMENT_BASE_URL")
	}
	if c.Payment.AttemptTimeout < 0 || c.Payment.RetryAttempts < 0 || c.Payment.RetryMaxDelay < 0 {
		return errors.New("PAYMENT_ATTEMPT_TIMEOUT, PAYMENT_RETRY_ATTEMPTS and PAYMENT_RETRY_MAX_DELAY must be >= 0")
	}
	if floor := c.Payment.retryBudget(); c.Payment.SessionTimeout > 0 && c.Payment.SessionTimeout < floor {
		return fmt.Errorf("PAYMENT_SESSION_TIMEOUT %s is shorter than the retry budget %s", c.Payment.SessionTimeout, floor)
	}
	if c.Saga.Grace < 0 || c.Saga.SweepInterval < 0 {
		return errors.New("SAGA_GRACE and SAGA_SWEEP_INTERVAL must be >= 0")
	}
	if c.Redis.StreamMaxLen < 0 {
		return errors.New("REDIS_STREAM_MAXLEN must be >= 0")
	}
	if (c.Redis.TLSCertFile == "") != (c.Redis.TLSKeyFile == "") {
		return errors.New("REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set together")
	}
	return nil
}

// SessionBudget is the total time one session creation may take across all
// retries. An unset PAYMENT_SESSION_TIMEOUT falls back to the retry budget.
func (p PaymentConfig) SessionBudget() time.Duration {
	return max(p.SessionTimeout, p.retryBudget())
}

// retryBudget covers every attempt running to its timeout plus the longest
// backoff after each one.
func (p PaymentConfig) retryBudget() time.Duration {
	attempts := max(p.RetryAttempts, 1)
	attempt := p.AttemptTimeout
	if attempt <= 0 {
		attempt = defaultAttemptTimeout
	}
	backoff := p.RetryMaxDelay
	if backoff <= 0 {
		backoff = p.RetryBaseDelay << (attempts - 1)
	}
	return time.Duration(attempts) * (attempt + backoff)
}

// Production reports whether APP_ENV is production.
func (c Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

// TLSConfig builds the Redis client TLS settings, or nil when none are set.
func (r RedisConfig) TLSConfig() (*tls.Config, error) {
	if r.TLSCAFile == "" && r.TLSCertFile == "" && r.TLSKeyFile == "" && r.TLSServerName == "" && !r.TLSInsecureSkipVerify {
		return nil, nil
	}
	if (r.TLSCertFile == "") != (r.TLSKeyFile == "") {
		return nil, errors.New("REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set together")
	}

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         r.TLSServerName,
		InsecureSkipVerify: r.TLSInsecureSkipVerify,
	}

	if r.TLSCAFile != "" {
		pemData, err := os.ReadFile(r.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("read REDIS_TLS_CA_FILE: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, errors.New("REDIS_TLS_CA_FILE contains no valid certificates")
		}
		tlsConfig.RootCAs = pool
	}

	if r.TLSCertFile != "" {
		cert, err := tls.LoadX509KeyPair(r.TLSCertFile, r.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis TLS keypair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
