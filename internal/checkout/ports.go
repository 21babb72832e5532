package checkout

import (
	"context"
	"time"
)

// Store is the transactional inventory and order store. Every Tx runs at
// serializable isolation; a write conflict aborts the transaction and is
// returned to the caller, it is never retried here.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// AttachSession records the provider session id on an order. Re-applying
	// the same id is a no-op.
	AttachSession(ctx context.Context, orderID, sessionID string) error
	ListOrdersByUser(ctx context.Context, userID string) ([]Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
}

// Tx is the unit of work handed to Store.InTx. Reads lock the rows they return.
type Tx interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
	SaveProduct(ctx context.Context, p Product) error
	ListProducts(ctx context.Context) ([]Product, error)

	InsertOrder(ctx context.Context, o Order) error
	GetOrder(ctx context.Context, orderID string) (Order, error)
	GetOrderBySession(ctx context.Context, sessionID string) (Order, error)
	UpdateOrder(ctx context.Context, o Order) error
	DeleteOrder(ctx context.Context, orderID string) error
	ListPendingOrders(ctx context.Context, createdBefore time.Time) ([]Order, error)

	DeleteCart(ctx context.Context, userID string) error
}

// Cart is an immutable snapshot of a user's cart. TotalPrice is in minor units.
type Cart struct {
	UserID     string
	Lines      []Line
	TotalPrice int64
}

// CartReader reads the user's cart at saga start.
type CartReader interface {
	ReadCart(ctx context.Context, userID string) (Cart, error)
}

// SessionRequest asks the provider to open a payment session.
type SessionRequest struct {
	Amount   int64
	Currency string
	Receipt  string
}

// PaymentProvider opens payment sessions on the external provider.
type PaymentProvider interface {
	CreateSession(ctx context.Context, req SessionRequest) (string, error)
}

// EventType names a committed order transition.
type EventType string

const (
	EventReserved      EventType = "order.reserved"
	EventPaid          EventType = "order.paid"
	EventPaymentFailed EventType = "order.payment_failed"
	EventCancelled     EventType = "order.cancelled"
	EventExpired       EventType = "order.expired"
)

// Event is published after a transition commits.
type Event struct {
	Type      EventType   `json:"type"`
	OrderID   string      `json:"order_id"`
	UserID    string      `json:"user_id"`
	Status    OrderStatus `json:"status"`
	Message   string      `json:"message"`
	SessionID string      `json:"session_id,omitempty"`
	At        time.Time   `json:"at"`
}

// Publisher delivers order events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Recorder receives saga counters.
type Recorder interface {
	IncSaga(event string, n int64)
}
