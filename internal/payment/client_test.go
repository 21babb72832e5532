package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"storefront/internal/checkout"
)

func TestClient_CreateSession(t *testing.T) {
	var got createOrderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/orders" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "rzp_test_key" || pass != "rzp_test_secret" {
			t.Errorf("unexpected basic auth %q/%q", user, pass)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"order_Nx1","status":"created"}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL + "/", KeyID: "rzp_test_key", KeySecret: "rzp_test_secret", Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	id, err := client.CreateSession(context.Background(), checkout.SessionRequest{Amount: 50000, Currency: "INR", Receipt: "rcpt_1"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if id != "order_Nx1" {
		t.Fatalf("session id = %s", id)
	}
	if got.Amount != 50000 || got.Currency != "INR" || got.Receipt != "rcpt_1" {
		t.Fatalf("unexpected request body: %+v", got)
	}
}

func TestClient_StatusErrors(t *testing.T) {
	cases := []struct {
		code      int
		rejected  bool
		retryable bool
	}{
		{http.StatusBadRequest, true, false},
		{http.StatusUnauthorized, true, false},
		{http.StatusTooManyRequests, false, true},
		{http.StatusBadGateway, false, true},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"nope"}`, tc.code)
		}))
		client, err := NewClient(Config{BaseURL: srv.URL, KeyID: "k", KeySecret: "s"})
		if err != nil {
			t.Fatalf("NewClient: %v", err)
		}
		_, err = client.CreateSession(context.Background(), checkout.SessionRequest{Amount: 1, Currency: "INR"})
		srv.Close()

		var statusErr *StatusError
		if !errors.As(err, &statusErr) || statusErr.Code != tc.code {
			t.Fatalf("%d: expected StatusError, got %v", tc.code, err)
		}
		if errors.Is(err, ErrRejected) != tc.rejected {
			t.Fatalf("%d: rejected = %v", tc.code, !tc.rejected)
		}
		if Retryable(err) != tc.retryable {
			t.Fatalf("%d: retryable = %v", tc.code, !tc.retryable)
		}
	}
}

func TestClient_EmptyOrderID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"created"}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, KeyID: "k", KeySecret: "s"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.CreateSession(context.Background(), checkout.SessionRequest{Amount: 1}); err == nil {
		t.Fatalf("expected error for missing order id")
	}
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	if _, err := NewClient(Config{BaseURL: "https://api.example.test"}); err == nil {
		t.Fatalf("expected missing credentials error")
	}
	if _, err := NewClient(Config{KeyID: "k", KeySecret: "s"}); err == nil {
		t.Fatalf("expected missing base url error")
	}
}

func TestReliableProvider_RetriesAttemptTimeout(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"order_retry","status":"created"}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, KeyID: "rzp_test_key", KeySecret: "rzp_test_secret", Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	p := NewReliableProvider(client, nil, RetryPolicy{MaxAttempts: 3, Sleep: noSleep})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id, err := p.CreateSession(ctx, checkout.SessionRequest{Amount: 50000, Currency: "INR"})
	if err != nil {
		t.Fatalf("expected the timed out attempt to be retried, got %v", err)
	}
	if id != "order_retry" || calls.Load() != 2 {
		t.Fatalf("id=%s calls=%d", id, calls.Load())
	}
}

func TestRetryable_CallerDeadlineStillStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if Retryable(ctx.Err()) {
		t.Fatalf("caller cancellation must not be retried")
	}
	if Retryable(context.DeadlineExceeded) {
		t.Fatalf("a bare deadline must not be retried")
	}
}
