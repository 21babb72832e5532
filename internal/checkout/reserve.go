package checkout

import (
	"context"
	"fmt"
	"strings"

	"storefront/internal/checkout/saga"
	"storefront/internal/logging"

	"go.uber.org/zap"
)

// Reservation is returned to the client so it can open the provider checkout.
type Reservation struct {
	OrderID   string
	SessionID string
	Amount    int64
	Currency  string
	Receipt   string
}

// Reserve reserves stock for the user's cart, creates a Pending order and opens
// a payment session for the order total. amount must equal the cart total. If
// the session cannot be opened the reservation is compensated before the error
// is returned.
func (s *Service) Reserve(ctx context.Context, userID string, amount int64, addr Address) (Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "Checkout.Reserve")
	defer span.End()

	if strings.TrimSpace(userID) == "" {
		return Reservation{}, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if amount <= 0 {
		return Reservation{}, fmt.Errorf("%w: amount required", ErrInvalidRequest)
	}

	cart, err := s.carts.ReadCart(ctx, userID)
	if err != nil {
		return Reservation{}, storageErr(err)
	}
	if len(cart.Lines) == 0 {
		return Reservation{}, ErrCartEmpty
	}
	if amount != cart.TotalPrice {
		return Reservation{}, fmt.Errorf("%w: amount %d does not match cart total %d", ErrInvalidRequest, amount, cart.TotalPrice)
	}
	lines, err := normalizeLines(cart.Lines)
	if err != nil {
		return Reservation{}, err
	}

	order, err := s.reserve(ctx, userID, lines, cart.TotalPrice, addr)
	if err != nil {
		span.RecordError(err)
		s.record("reserve_failed", 1)
		logging.Warn(ctx, s.logger, "reservation failed", zap.String("user_id", userID), zap.Error(err))
		return Reservation{}, err
	}
	s.record("reserved", 1)
	s.step(ctx, order.ID, saga.StepReserve, saga.StepSucceeded, "")
	logging.Info(ctx, s.logger, "stock reserved",
		zap.String("order_id", order.ID), zap.String("user_id", userID), zap.Int("lines", len(order.Lines)))

	receipt := s.newReceipt()
	s.step(ctx, order.ID, saga.StepCreateSession, saga.StepStarted, receipt)
	sessionID, err := s.openSession(ctx, order.TotalPrice, receipt)
	if err != nil {
		span.RecordError(err)
		return Reservation{}, s.abandon(ctx, order, saga.StepCreateSession, ErrProviderError, err)
	}
	s.step(ctx, order.ID, saga.StepCreateSession, saga.StepSucceeded, sessionID)

	if err := s.store.AttachSession(ctx, order.ID, sessionID); err != nil {
		span.RecordError(err)
		return Reservation{}, s.abandon(ctx, order, saga.StepAttachSession, ErrStorageUnavailable, err)
	}
	order.ProviderSessionID = sessionID
	s.step(ctx, order.ID, saga.StepAttachSession, saga.StepSucceeded, sessionID)
	s.publish(ctx, EventReserved, order)

	return Reservation{
		OrderID:   order.ID,
		SessionID: sessionID,
		Amount:    order.TotalPrice,
		Currency:  s.currency,
		Receipt:   receipt,
	}, nil
}

// reserve runs the reservation transaction: every line reserves or none do.
func (s *Service) reserve(ctx context.Context, userID string, lines []Line, total int64, addr Address) (Order, error) {
	now := s.now().UTC()
	order := Order{
		ID:            s.newOrderID(),
		UserID:        userID,
		Lines:         lines,
		TotalPrice:    total,
		Currency:      s.currency,
		Address:       addr,
		Status:        StatusPending,
		StatusMessage: msgReserved,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if order.TotalPrice < 0 {
		order.TotalPrice = 0
	}

	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		for _, line := range lockOrder(lines) {
			p, err := tx.GetProduct(ctx, line.ProductID)
			if err != nil {
				return err
			}
			if err := p.Reserve(line.Quantity); err != nil {
				return err
			}
			if err := tx.SaveProduct(ctx, p); err != nil {
				return err
			}
		}
		return tx.InsertOrder(ctx, order)
	})
	if err != nil {
		return Order{}, storageErr(err)
	}
	return order, nil
}

// openSession calls the provider within the configured timeout.
func (s *Service) openSession(ctx context.Context, amount int64, receipt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.sessionTimeout)
	defer cancel()

	sessionID, err := s.provider.CreateSession(callCtx, SessionRequest{
		Amount:   amount,
		Currency: s.currency,
		Receipt:  receipt,
	})
	if err != nil {
		return "", err
	}
	if sessionID == "" {
		return "", fmt.Errorf("provider returned an empty session id")
	}
	return sessionID, nil
}

// abandon compensates a reservation whose session step failed and returns the
// terminal error for the caller. The order is deleted: the client never saw its id.
func (s *Service) abandon(ctx context.Context, order Order, step saga.Step, kind error, cause error) error {
	s.step(ctx, order.ID, step, saga.StepFailed, cause.Error())
	logging.Warn(ctx, s.logger, "payment session step failed, compensating",
		zap.String("order_id", order.ID), zap.String("step", string(step)), zap.Error(cause))

	// The reservation is already committed; the caller going away must not stop its reversal.
	compCtx := context.WithoutCancel(ctx)
	if _, _, err := s.compensate(compCtx, order.ID, order.Lines, true); err != nil {
		s.record("compensation_failed", 1)
		s.step(compCtx, order.ID, saga.StepCompensate, saga.StepFailed, err.Error())
		logging.Error(compCtx, s.logger, "compensation failed, reservation needs reconciliation",
			zap.String("order_id", order.ID),
			zap.Any("lines", order.Lines),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return fmt.Errorf("%w: compensation failed for order %s", ErrStorageUnavailable, order.ID)
	}

	failed := order
	failed.Status = StatusPaymentFailed
	failed.StatusMessage = msgCompensated
	s.publish(compCtx, EventPaymentFailed, failed)

	return fmt.Errorf("%w: %v", kind, cause)
}
