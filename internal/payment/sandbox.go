package payment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"storefront/internal/checkout"
)

// NewSandbox constructs an in-memory provider for local runs.
func NewSandbox(secret []byte) *Sandbox {
	return &Sandbox{secret: secret, sessions: make(map[string]checkout.SessionRequest)}
}

// Sandbox opens sessions in memory and can sign settlement callbacks the way
// the real provider would.
type Sandbox struct {
	mu       sync.Mutex
	secret   []byte
	sessions map[string]checkout.SessionRequest
}

func (s *Sandbox) CreateSession(ctx context.Context, req checkout.SessionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.Amount <= 0 {
		return "", fmt.Errorf("%w: amount must be positive", ErrRejected)
	}
	id := "order_" + randomHex(7)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = req
	return id, nil
}

// Session returns the request that opened a session (for testing/inspection).
func (s *Sandbox) Session(id string) (checkout.SessionRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.sessions[id]
	return req, ok
}

// Pay simulates a successful payment and returns the payment id and callback signature.
func (s *Sandbox) Pay(sessionID string) (paymentID, signature string, err error) {
	s.mu.Lock()
	_, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return "", "", fmt.Errorf("unknown session %s", sessionID)
	}
	paymentID = "pay_" + randomHex(7)
	return paymentID, checkout.Sign(s.secret, sessionID, paymentID), nil
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}
