package checkout

import (
	"context"
	"fmt"
	"strings"

	"storefront/internal/checkout/saga"
	"storefront/internal/logging"

	"go.uber.org/zap"
)

// Release returns the stock held by a Pending order after the client reports
// that payment was dismissed or failed. Terminal orders are rejected with
// ErrOrderNotPending so the stock credit is never applied twice.
func (s *Service) Release(ctx context.Context, sessionID string) error {
	ctx, span := s.tracer.Start(ctx, "Checkout.Release")
	defer span.End()

	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: missing payment session id", ErrInvalidRequest)
	}

	order, err := s.releaseOrder(ctx, saga.StepRelease, StatusPaymentFailed, msgReleased,
		func(ctx context.Context, tx Tx) (Order, error) {
			return tx.GetOrderBySession(ctx, sessionID)
		})
	if err != nil {
		span.RecordError(err)
		return err
	}
	s.record("released", 1)
	s.publish(ctx, EventPaymentFailed, order)
	return nil
}

// Cancel is the operator path: it releases a Pending order's reservation and
// marks the order Cancelled.
func (s *Service) Cancel(ctx context.Context, orderID, reason string) (Order, error) {
	ctx, span := s.tracer.Start(ctx, "Checkout.Cancel")
	defer span.End()

	if strings.TrimSpace(orderID) == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrInvalidRequest)
	}
	msg := msgCancelledBase + "."
	if reason = strings.TrimSpace(reason); reason != "" {
		msg = msgCancelledBase + ": " + reason
	}

	order, err := s.releaseOrder(ctx, saga.StepCancel, StatusCancelled, msg,
		func(ctx context.Context, tx Tx) (Order, error) {
			return tx.GetOrder(ctx, orderID)
		})
	if err != nil {
		span.RecordError(err)
		return Order{}, err
	}
	s.record("cancelled", 1)
	s.publish(ctx, EventCancelled, order)
	return order, nil
}

// releaseOrder locates an order inside one transaction, restocks its lines and
// moves it to the terminal status.
func (s *Service) releaseOrder(
	ctx context.Context,
	step saga.Step,
	to OrderStatus,
	message string,
	locate func(ctx context.Context, tx Tx) (Order, error),
) (Order, error) {
	var order Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		order, err = locate(ctx, tx)
		if err != nil {
			return err
		}
		if order.Status != StatusPending {
			return fmt.Errorf("%w (current: %s)", ErrOrderNotPending, order.Status)
		}
		if err := s.restock(ctx, tx, order.ID, order.Lines); err != nil {
			return err
		}
		if err := order.Transition(to, message, s.now().UTC()); err != nil {
			return err
		}
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		err = storageErr(err)
		detail := err.Error()
		if order.ID != "" {
			s.step(ctx, order.ID, step, saga.StepFailed, detail)
		}
		logging.Warn(ctx, s.logger, "release rejected",
			zap.String("step", string(step)), zap.String("order_id", order.ID), zap.Error(err))
		return Order{}, err
	}

	s.step(ctx, order.ID, step, saga.StepSucceeded, message)
	logging.Info(ctx, s.logger, "reservation released",
		zap.String("order_id", order.ID), zap.String("status", string(order.Status)))
	return order, nil
}
