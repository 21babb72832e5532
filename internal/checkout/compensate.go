package checkout

import (
	"context"
	"errors"
	"fmt"

	"storefront/internal/checkout/saga"
	"storefront/internal/logging"

	"go.uber.org/zap"
)

// Compensate reverses the reservation held by a Pending order and marks it
// Payment Failed. It is a no-op when the order is gone or already terminal, so
// re-running it never credits stock twice. Stock is returned from the order's
// own lines; a non-empty lines argument that differs from them is rejected.
func (s *Service) Compensate(ctx context.Context, orderID string, lines []Line) error {
	ctx, span := s.tracer.Start(ctx, "Checkout.Compensate")
	defer span.End()

	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrInvalidRequest)
	}
	order, applied, err := s.compensate(ctx, orderID, lines, false)
	if errors.Is(err, ErrInvalidRequest) {
		return err
	}
	if err != nil {
		span.RecordError(err)
		s.record("compensation_failed", 1)
		s.step(ctx, orderID, saga.StepCompensate, saga.StepFailed, err.Error())
		logging.Error(ctx, s.logger, "compensation failed, reservation needs reconciliation",
			zap.String("order_id", orderID), zap.Error(err))
		return fmt.Errorf("%w: compensation failed for order %s", ErrStorageUnavailable, orderID)
	}
	if applied {
		s.publish(ctx, EventPaymentFailed, order)
	}
	return nil
}

// compensate runs the compensating transaction against the locked order's
// lines. deleteOrder removes the order instead of marking it failed.
func (s *Service) compensate(ctx context.Context, orderID string, lines []Line, deleteOrder bool) (Order, bool, error) {
	var (
		order   Order
		applied bool
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		applied = false
		var err error
		order, err = tx.GetOrder(ctx, orderID)
		if errors.Is(err, ErrOrderNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if order.Status != StatusPending {
			return nil
		}

		if len(lines) > 0 && !sameLines(lines, order.Lines) {
			return fmt.Errorf("%w: lines do not match order %s", ErrInvalidRequest, orderID)
		}
		if err := s.restock(ctx, tx, orderID, order.Lines); err != nil {
			return err
		}
		applied = true
		if deleteOrder {
			return tx.DeleteOrder(ctx, orderID)
		}
		if err := order.Transition(StatusPaymentFailed, msgCompensated, s.now().UTC()); err != nil {
			return err
		}
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		return Order{}, false, err
	}

	if applied {
		s.record("compensated", 1)
		s.step(ctx, orderID, saga.StepCompensate, saga.StepSucceeded, "")
		logging.Info(ctx, s.logger, "reservation compensated",
			zap.String("order_id", orderID), zap.Bool("order_deleted", deleteOrder))
	} else {
		s.step(ctx, orderID, saga.StepCompensate, saga.StepSkipped, "order absent or not pending")
	}
	return order, applied, nil
}

// sameLines reports whether a and b hold the same quantity per product.
func sameLines(a, b []Line) bool {
	qty := make(map[string]int64, len(a))
	for _, l := range a {
		qty[l.ProductID] += l.Quantity
	}
	for _, l := range b {
		qty[l.ProductID] -= l.Quantity
	}
	for _, n := range qty {
		if n != 0 {
			return false
		}
	}
	return true
}
