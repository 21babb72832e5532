package checkout

import (
	"context"
	"fmt"

	"storefront/internal/checkout/saga"
	"storefront/internal/logging"

	"go.uber.org/zap"
)

// SettleRequest is the provider callback relayed by the client.
type SettleRequest struct {
	SessionID string
	PaymentID string
	Signature string
	Address   Address
}

// Settle verifies the provider signature and finalises the order as Paid. The
// reserved units are consumed; available is not credited back.
func (s *Service) Settle(ctx context.Context, req SettleRequest) (Order, error) {
	ctx, span := s.tracer.Start(ctx, "Checkout.Settle")
	defer span.End()

	if req.SessionID == "" || req.PaymentID == "" || req.Signature == "" {
		return Order{}, fmt.Errorf("%w: missing payment verification data", ErrInvalidRequest)
	}
	if !VerifySignature(s.secret, req.SessionID, req.PaymentID, req.Signature) {
		s.record("signature_rejected", 1)
		logging.Warn(ctx, s.logger, "settlement signature mismatch", zap.String("session_id", req.SessionID))
		return Order{}, ErrSignatureMismatch
	}
	if err := s.validate.Struct(req.Address); err != nil {
		return Order{}, ErrAddressIncomplete
	}

	settledAt := s.now().UTC()
	var order Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		order, err = tx.GetOrderBySession(ctx, req.SessionID)
		if err != nil {
			return err
		}
		if order.Status != StatusPending {
			return fmt.Errorf("%w (current: %s)", ErrOrderNotPending, order.Status)
		}

		for _, line := range lockOrder(order.Lines) {
			p, err := tx.GetProduct(ctx, line.ProductID)
			if err != nil {
				return err
			}
			if short := p.Consume(line.Quantity); short > 0 {
				logging.Warn(ctx, s.logger, "reserved counter lower than settled quantity",
					zap.String("order_id", order.ID), zap.String("product_id", p.ID), zap.Int64("shortfall", short))
			}
			if err := tx.SaveProduct(ctx, p); err != nil {
				return err
			}
		}

		if err := order.Transition(StatusPaid, msgPaid, settledAt); err != nil {
			return err
		}
		order.PaymentProof = &PaymentProof{
			ProviderPaymentID: req.PaymentID,
			SettledAt:         settledAt,
		}
		order.Address = req.Address
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		return tx.DeleteCart(ctx, order.UserID)
	})
	if err != nil {
		err = storageErr(err)
		span.RecordError(err)
		if order.ID != "" {
			s.step(ctx, order.ID, saga.StepSettle, saga.StepFailed, err.Error())
		}
		logging.Warn(ctx, s.logger, "settlement failed",
			zap.String("session_id", req.SessionID), zap.Error(err))
		return Order{}, err
	}

	s.record("settled", 1)
	s.step(ctx, order.ID, saga.StepSettle, saga.StepSucceeded, req.PaymentID)
	logging.Info(ctx, s.logger, "order settled",
		zap.String("order_id", order.ID), zap.String("payment_id", req.PaymentID))
	s.publish(ctx, EventPaid, order)
	return order, nil
}
