package config

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func noDotenv(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PAYMENT_SIGNING_SECRET", "whsec_test")

	cfg, err := Load(noDotenv(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GRPC.Addr != ":50051" || cfg.GRPC.RateLimitBurst != 100 {
		t.Fatalf("unexpected grpc cfg: %+v", cfg.GRPC)
	}
	if cfg.Observability.Addr != ":9090" {
		t.Fatalf("unexpected observability addr: %+v", cfg.Observability)
	}
	if cfg.Payment.Currency != "INR" || cfg.Payment.AttemptTimeout != 5*time.Second || cfg.Payment.SessionTimeout != 0 {
		t.Fatalf("unexpected payment cfg: %+v", cfg.Payment)
	}
	if got := cfg.Payment.SessionBudget(); got != 21*time.Second {
		t.Fatalf("unexpected session budget: %v", got)
	}
	if cfg.Saga.Grace != 30*time.Minute || cfg.Saga.SweepInterval != time.Minute || !cfg.Saga.ReconcilerOn {
		t.Fatalf("unexpected saga cfg: %+v", cfg.Saga)
	}
	if cfg.Redis.Stream != "order_events" || cfg.Redis.StreamMaxLen != 10000 {
		t.Fatalf("unexpected redis cfg: %+v", cfg.Redis)
	}
	if cfg.Production() {
		t.Fatalf("expected development env by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("PAYMENT_SIGNING_SECRET", "whsec_test")
	t.Setenv("GRPC_RATE_LIMIT_INTERVAL", "5ms")
	t.Setenv("GRPC_RATE_LIMIT_BURST", "10")
	t.Setenv("SAGA_GRACE", "45m")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("REDIS_DIAL_TIMEOUT", "3s")
	t.Setenv("REDIS_POOL_SIZE", "9")
	t.Setenv("REDIS_OTEL", "true")

	cfg, err := Load(noDotenv(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Production() {
		t.Fatalf("expected production env")
	}
	if cfg.GRPC.RateLimitInterval != 5*time.Millisecond || cfg.GRPC.RateLimitBurst != 10 {
		t.Fatalf("unexpected grpc cfg: %+v", cfg.GRPC)
	}
	if cfg.Saga.Grace != 45*time.Minute {
		t.Fatalf("unexpected grace: %v", cfg.Saga.Grace)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.Kafka.Brokers)
	}
	if cfg.Redis.DialTimeout != 3*time.Second || cfg.Redis.PoolSize != 9 || !cfg.Redis.EnableOTel {
		t.Fatalf("unexpected redis cfg: %+v", cfg.Redis)
	}
}

func TestSessionBudgetCoversEveryAttempt(t *testing.T) {
	cases := []struct {
		name string
		cfg  PaymentConfig
		want time.Duration
	}{
		{name: "derived", cfg: PaymentConfig{AttemptTimeout: 5 * time.Second, RetryAttempts: 3, RetryMaxDelay: 2 * time.Second}, want: 21 * time.Second},
		{name: "explicit above floor", cfg: PaymentConfig{AttemptTimeout: time.Second, RetryAttempts: 2, RetryMaxDelay: time.Second, SessionTimeout: time.Minute}, want: time.Minute},
		{name: "single attempt", cfg: PaymentConfig{AttemptTimeout: 2 * time.Second, RetryMaxDelay: time.Second}, want: 3 * time.Second},
		{name: "uncapped backoff", cfg: PaymentConfig{AttemptTimeout: time.Second, RetryAttempts: 3, RetryBaseDelay: 100 * time.Millisecond}, want: 3 * (time.Second + 400*time.Millisecond)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.cfg.SessionBudget()
			if got != tc.want {
				t.Fatalf("budget = %v, want %v", got, tc.want)
			}
			attempts := time.Duration(max(tc.cfg.RetryAttempts, 1))
			if got < attempts*tc.cfg.AttemptTimeout {
				t.Fatalf("budget %v cannot fit %d attempts of %v", got, attempts, tc.cfg.AttemptTimeout)
			}
		})
	}
}

func TestLoadRejectsSessionTimeoutBelowRetryBudget(t *testing.T) {
	t.Setenv("PAYMENT_SIGNING_SECRET", "whsec_test")
	t.Setenv("PAYMENT_ATTEMPT_TIMEOUT", "5s")
	t.Setenv("PAYMENT_SESSION_TIMEOUT", "10s")

	if _, err := Load(noDotenv(t)); err == nil {
		t.Fatalf("expected error for a session timeout shorter than the retry budget")
	}
}

func TestLoadRequiresSigningSecret(t *testing.T) {
	t.Setenv("PAYMENT_SIGNING_SECRET", "")
	os.Unsetenv("PAYMENT_SIGNING_SECRET")
	if _, err := Load(noDotenv(t)); err == nil {
		t.Fatalf("expected error for missing signing secret")
	}
}

func TestLoadReadsDotenvWithoutOverridingEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("PAYMENT_SIGNING_SECRET=from_file\nSAGA_GRACE=10m\n"), 0o600); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}
	t.Setenv("PAYMENT_SIGNING_SECRET", "from_env")
	t.Setenv("SAGA_GRACE", "")
	os.Unsetenv("SAGA_GRACE")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Payment.SigningSecret != "from_env" {
		t.Fatalf("expected env to win, got %q", cfg.Payment.SigningSecret)
	}
	if cfg.Saga.Grace != 10*time.Minute {
		t.Fatalf("expected grace from file, got %v", cfg.Saga.Grace)
	}
}

func TestLoadProviderNeedsKeys(t *testing.T) {
	t.Setenv("PAYMENT_SIGNING_SECRET", "whsec_test")
	t.Setenv("PAYMENT_BASE_URL", "https://api.example.test")
	if _, err := Load(noDotenv(t)); err == nil {
		t.Fatalf("expected error when provider keys are missing")
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	t.Setenv("PAYMENT_SIGNING_SECRET", "whsec_test")
	t.Setenv("REDIS_DIAL_TIMEOUT", "bad")
	if _, err := Load(noDotenv(t)); err == nil {
		t.Fatalf("expected invalid duration error")
	}
}

func TestRedisTLS_NoSettingsReturnsNil(t *testing.T) {
	if cfg, err := (RedisConfig{}).TLSConfig(); err != nil || cfg != nil {
		t.Fatalf("expected nil tls config, got %#v err %v", cfg, err)
	}
}

func TestRedisTLS_MismatchedKeyPair(t *testing.T) {
	if _, err := (RedisConfig{TLSCertFile: "cert"}).TLSConfig(); err == nil {
		t.Fatalf("expected cert/key mismatch error")
	}
}

func TestRedisTLS_ReadCAError(t *testing.T) {
	if _, err := (RedisConfig{TLSCAFile: "/no/such/file"}).TLSConfig(); err == nil {
		t.Fatalf("expected read error for missing CA file")
	}
}

func TestRedisTLS_LoadsFiles(t *testing.T) {
	certFile, keyFile, caFile := writeTempTLSFiles(t)

	cfg, err := RedisConfig{
		TLSCertFile:           certFile,
		TLSKeyFile:            keyFile,
		TLSCAFile:             caFile,
		TLSInsecureSkipVerify: true,
	}.TLSConfig()
	if err != nil {
		t.Fatalf("load tls config: %v", err)
	}
	if cfg == nil || len(cfg.Certificates) == 0 {
		t.Fatalf("expected certificates to be loaded")
	}
	if cfg.RootCAs == nil {
		t.Fatalf("expected root CAs to be loaded")
	}
	if !cfg.InsecureSkipVerify {
		t.Fatalf("expected insecure skip verify to be set")
	}
}

func writeTempTLSFiles(t *testing.T) (string, string, string) {
	t.Helper()

	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privKey.PublicKey, privKey)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}

	dir := t.TempDir()
	certFile := filepath.Join(dir, "redis_cert.pem")
	keyFile := filepath.Join(dir, "redis_key.pem")
	caFile := filepath.Join(dir, "redis_ca.pem")

	writePEMFile(t, certFile, "CERTIFICATE", certDER)
	writePEMFile(t, caFile, "CERTIFICATE", certDER)
	writePEMFile(t, keyFile, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(privKey))

	return certFile, keyFile, caFile
}

func writePEMFile(t *testing.T, path, blockType string, der []byte) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write pem: %v", err)
	}
}
