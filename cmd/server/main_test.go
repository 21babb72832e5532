package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"storefront/internal/app"
	"storefront/internal/config"

	"go.uber.org/zap"
)

func TestRunFailsWithoutSigningSecret(t *testing.T) {
	t.Setenv("PAYMENT_SIGNING_SECRET", "")
	os.Unsetenv("PAYMENT_SIGNING_SECRET")
	t.Chdir(t.TempDir())

	if err := run(context.Background()); err == nil {
		t.Fatalf("expected config error when PAYMENT_SIGNING_SECRET is unset")
	}
}

func TestObservabilityMux(t *testing.T) {
	deps, err := app.Build(context.Background(), config.Config{
		Payment: config.PaymentConfig{SigningSecret: "whsec_test", AttemptTimeout: time.Second},
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = deps.Close() })

	var draining atomic.Bool
	srv := httptest.NewServer(observabilityMux(deps, func() bool { return !draining.Load() }))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected metrics status: %d", resp.StatusCode)
	}

	draining.Store(true)
	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while draining, got %d", resp.StatusCode)
	}
}
