package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"storefront/internal/checkout/saga"
	"storefront/internal/logging"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config holds saga policy.
type Config struct {
	// Secret is the shared key used to verify provider callback signatures.
	Secret []byte
	// Currency is sent to the provider when opening a session.
	Currency string
	// SessionTimeout bounds the provider call.
	SessionTimeout time.Duration
}

// Option customises a Service.
type Option func(*Service)

// WithJournal records saga steps.
func WithJournal(j saga.Journal) Option {
	return func(s *Service) {
		if j != nil {
			s.journal = j
		}
	}
}

// WithPublisher delivers committed order events.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithRecorder receives saga counters.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDs overrides order id and receipt generation.
func WithIDs(orderID, receipt func() string) Option {
	return func(s *Service) {
		if orderID != nil {
			s.newOrderID = orderID
		}
		if receipt != nil {
			s.newReceipt = receipt
		}
	}
}

// Service runs the checkout saga: reserve, open a payment session, settle or release.
type Service struct {
	store     Store
	carts     CartReader
	provider  PaymentProvider
	journal   saga.Journal
	publisher Publisher
	recorder  Recorder
	logger    *zap.Logger
	tracer    trace.Tracer
	validate  *validator.Validate

	secret         []byte
	currency       string
	sessionTimeout time.Duration

	now        func() time.Time
	newOrderID func() string
	newReceipt func() string
}

// NewService constructs a Service.
func NewService(store Store, carts CartReader, provider PaymentProvider, cfg Config, opts ...Option) *Service {
	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "INR"
	}
	timeout := cfg.SessionTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	s := &Service{
		store:          store,
		carts:          carts,
		provider:       provider,
		journal:        saga.NopJournal{},
		logger:         zap.NewNop(),
		tracer:         otel.Tracer("storefront/checkout"),
		validate:       validator.New(),
		secret:         cfg.Secret,
		currency:       currency,
		sessionTimeout: timeout,
		now:            time.Now,
		newOrderID:     uuid.NewString,
		newReceipt:     func() string { return "rcpt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16] },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListMine returns the user's orders, newest first.
func (s *Service) ListMine(ctx context.Context, userID string) ([]Order, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	orders, err := s.store.ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, storageErr(err)
	}
	return orders, nil
}

// GetOrder returns a single order.
func (s *Service) GetOrder(ctx context.Context, orderID string) (Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrInvalidRequest)
	}
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, storageErr(err)
	}
	return order, nil
}

// restock reverses a reservation for lines inside tx. Missing products are skipped.
func (s *Service) restock(ctx context.Context, tx Tx, orderID string, lines []Line) error {
	for _, line := range lockOrder(lines) {
		p, err := tx.GetProduct(ctx, line.ProductID)
		if errors.Is(err, ErrProductNotFound) {
			logging.Warn(ctx, s.logger, "product vanished while releasing reservation",
				zap.String("order_id", orderID), zap.String("product_id", line.ProductID))
			continue
		}
		if err != nil {
			return err
		}
		if short := p.Release(line.Quantity); short > 0 {
			logging.Warn(ctx, s.logger, "reserved counter lower than released quantity",
				zap.String("order_id", orderID), zap.String("product_id", p.ID), zap.Int64("shortfall", short))
		}
		if err := tx.SaveProduct(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// lockOrder returns lines sorted by product id so concurrent transactions lock rows in the same order.
func lockOrder(lines []Line) []Line {
	sorted := make([]Line, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })
	return sorted
}

func (s *Service) step(ctx context.Context, orderID string, step saga.Step, status saga.StepStatus, detail string) {
	if err := s.journal.AddStep(ctx, orderID, step, status, detail); err != nil {
		logging.Warn(ctx, s.logger, "saga journal write failed",
			zap.String("order_id", orderID), zap.String("step", string(step)), zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, typ EventType, o Order) {
	if s.publisher == nil {
		return
	}
	evt := Event{
		Type:      typ,
		OrderID:   o.ID,
		UserID:    o.UserID,
		Status:    o.Status,
		Message:   o.StatusMessage,
		SessionID: o.ProviderSessionID,
		At:        s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		logging.Warn(ctx, s.logger, "order event publish failed",
			zap.String("order_id", o.ID), zap.String("type", string(typ)), zap.Error(err))
	}
}

func (s *Service) record(event string, n int64) {
	if s.recorder != nil {
		s.recorder.IncSaga(event, n)
	}
}

// storageErr keeps domain kinds and classifies everything else as StorageUnavailable.
func storageErr(err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
