package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"storefront/internal/checkout/saga"
	"storefront/internal/logging"

	"go.uber.org/zap"
)

// Drift is a reserved counter that disagreed with the Pending orders holding it.
type Drift struct {
	ProductID string `json:"product_id"`
	Reserved  int64  `json:"reserved"`
	Expected  int64  `json:"expected"`
}

// ExpireAbandoned releases Pending orders created more than grace ago. Each
// order is released in its own transaction; orders that settle in the meantime
// are skipped.
func (s *Service) ExpireAbandoned(ctx context.Context, grace time.Duration) (int, error) {
	ctx, span := s.tracer.Start(ctx, "Checkout.ExpireAbandoned")
	defer span.End()

	if grace < 0 {
		return 0, fmt.Errorf("%w: grace must not be negative", ErrInvalidRequest)
	}
	cutoff := s.now().UTC().Add(-grace)

	var stale []Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		stale, err = tx.ListPendingOrders(ctx, cutoff)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return 0, storageErr(err)
	}

	expired := 0
	var errs []error
	for _, candidate := range stale {
		id := candidate.ID
		order, err := s.releaseOrder(ctx, saga.StepExpire, StatusPaymentFailed, msgExpired,
			func(ctx context.Context, tx Tx) (Order, error) {
				return tx.GetOrder(ctx, id)
			})
		if errors.Is(err, ErrOrderNotPending) || errors.Is(err, ErrOrderNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		expired++
		s.publish(ctx, EventExpired, order)
	}
	if expired > 0 {
		s.record("expired", int64(expired))
		logging.Info(ctx, s.logger, "abandoned reservations expired",
			zap.Int("count", expired), zap.Duration("grace", grace))
	}
	return expired, errors.Join(errs...)
}

// ReconcileCounters recomputes every product's reserved counter from the
// Pending orders in one transaction and corrects any drift. Excess reservation
// goes back to available; a missing reservation is taken from available, floored at zero.
func (s *Service) ReconcileCounters(ctx context.Context) ([]Drift, error) {
	ctx, span := s.tracer.Start(ctx, "Checkout.ReconcileCounters")
	defer span.End()

	var drifts []Drift
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		drifts = drifts[:0]
		pending, err := tx.ListPendingOrders(ctx, time.Time{})
		if err != nil {
			return err
		}
		expected := make(map[string]int64)
		for _, o := range pending {
			for id, q := range o.Quantities() {
				expected[id] += q
			}
		}

		products, err := tx.ListProducts(ctx)
		if err != nil {
			return err
		}
		sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
		for _, p := range products {
			want := expected[p.ID]
			if p.Reserved == want {
				continue
			}
			drifts = append(drifts, Drift{ProductID: p.ID, Reserved: p.Reserved, Expected: want})
			if delta := p.Reserved - want; delta > 0 {
				p.Available += delta
			} else {
				p.Available, _ = decrementFloor(p.Available, -delta)
			}
			p.Reserved = want
			if err := tx.SaveProduct(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, storageErr(err)
	}

	for _, d := range drifts {
		logging.Warn(ctx, s.logger, "reserved counter drift corrected",
			zap.String("product_id", d.ProductID), zap.Int64("reserved", d.Reserved), zap.Int64("expected", d.Expected))
		s.step(ctx, "", saga.StepReconcile, saga.StepSucceeded,
			fmt.Sprintf("%s reserved %d -> %d", d.ProductID, d.Reserved, d.Expected))
	}
	if len(drifts) > 0 {
		s.record("reconciled_drift", int64(len(drifts)))
	}
	return drifts, nil
}

// Reconciler runs the expiry and counter sweeps on a fixed interval.
type Reconciler struct {
	svc      *Service
	interval time.Duration
	grace    time.Duration
	logger   *zap.Logger
}

// NewReconciler returns a Reconciler. Zero durations fall back to a 1m sweep and a 30m grace.
func NewReconciler(svc *Service, interval, grace time.Duration, logger *zap.Logger) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if grace <= 0 {
		grace = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{svc: svc, interval: interval, grace: grace, logger: logger}
}

// Start sweeps until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	logging.Info(ctx, r.logger, "starting reconciler",
		zap.Duration("interval", r.interval), zap.Duration("grace", r.grace))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info(ctx, r.logger, "reconciler stopping")
			return
		case <-ticker.C:
			if _, _, err := r.RunOnce(ctx); err != nil {
				logging.Error(ctx, r.logger, "reconcile sweep failed", zap.Error(err))
			}
		}
	}
}

// RunOnce expires abandoned orders then reconciles counters.
func (r *Reconciler) RunOnce(ctx context.Context) (int, []Drift, error) {
	expired, expireErr := r.svc.ExpireAbandoned(ctx, r.grace)
	drifts, driftErr := r.svc.ReconcileCounters(ctx)
	return expired, drifts, errors.Join(expireErr, driftErr)
}
