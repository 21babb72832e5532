package payment

import (
	"context"
	"errors"
	"time"

	"storefront/internal/checkout"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig configures the provider circuit breaker.
type BreakerConfig struct {
	MaxFailures  int
	ResetTimeout time.Duration
}

// NewBreaker builds a breaker that opens after MaxFailures consecutive
// failures. Provider rejections count as successful round trips.
func NewBreaker(name string, cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	maxFails := uint32(max(cfg.MaxFailures, 1))
	reset := cfg.ResetTimeout
	if reset <= 0 {
		reset = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     reset,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFails
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRejected) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("payment breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
}

// ReliableProvider wraps a provider with retries and a circuit breaker.
type ReliableProvider struct {
	base    checkout.PaymentProvider
	breaker *gobreaker.CircuitBreaker
	retry   RetryPolicy
}

// NewReliableProvider constructs a ReliableProvider. A nil breaker disables breaking.
func NewReliableProvider(base checkout.PaymentProvider, breaker *gobreaker.CircuitBreaker, retry RetryPolicy) *ReliableProvider {
	return &ReliableProvider{base: base, breaker: breaker, retry: retry}
}

func (p *ReliableProvider) CreateSession(ctx context.Context, req checkout.SessionRequest) (string, error) {
	var sessionID string
	err := p.retry.Do(ctx, func() error {
		if p.breaker == nil {
			id, err := p.base.CreateSession(ctx, req)
			sessionID = id
			return err
		}
		out, err := p.breaker.Execute(func() (interface{}, error) {
			return p.base.CreateSession(ctx, req)
		})
		if err != nil {
			return err
		}
		sessionID = out.(string)
		return nil
	})
	if err != nil {
		return "", err
	}
	return sessionID, nil
}
