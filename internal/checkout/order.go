package checkout

import (
	"fmt"
	"time"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending       OrderStatus = "Pending"
	StatusPaid          OrderStatus = "Paid"
	StatusPaymentFailed OrderStatus = "Payment Failed"
	StatusCancelled     OrderStatus = "Cancelled"
)

// Terminal reports whether no further transition is allowed out of s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusPaid, StatusPaymentFailed, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	return s == StatusPending || s.Terminal()
}

const (
	msgReserved      = "Reserved - awaiting payment"
	msgPaid          = "Payment successful. Order confirmed."
	msgReleased      = "Order cancelled due to payment dismissal/failure."
	msgCompensated   = "Payment session could not be created; reservation reverted."
	msgExpired       = "Reservation expired after grace window."
	msgCancelledBase = "Order cancelled by operator"
)

// Line is one (product, quantity) pair of an order.
type Line struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

// Address is opaque to the saga beyond the fields a shipment needs.
type Address struct {
	Street     string `json:"street" validate:"required"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state" validate:"required"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

// PaymentProof records the provider's confirmation of a settled payment.
type PaymentProof struct {
	ProviderPaymentID string    `json:"provider_payment_id"`
	SettledAt         time.Time `json:"settled_at"`
}

// Order is the saga's durable record. TotalPrice is in minor currency units.
type Order struct {
	ID                string        `json:"id"`
	UserID            string        `json:"user_id"`
	Lines             []Line        `json:"lines"`
	TotalPrice        int64         `json:"total_price"`
	Currency          string        `json:"currency"`
	Address           Address       `json:"address"`
	ProviderSessionID string        `json:"provider_session_id,omitempty"`
	Status            OrderStatus   `json:"status"`
	StatusMessage     string        `json:"status_message"`
	PaymentProof      *PaymentProof `json:"payment_proof,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Transition moves a Pending order into a terminal state. Terminal orders never move again.
func (o *Order) Transition(to OrderStatus, message string, at time.Time) error {
	if o.Status != StatusPending {
		return fmt.Errorf("%w (current: %s)", ErrOrderNotPending, o.Status)
	}
	if !to.Terminal() {
		return fmt.Errorf("%w: cannot transition to %q", ErrInvalidRequest, to)
	}
	o.Status = to
	o.StatusMessage = message
	o.UpdatedAt = at
	return nil
}

// Quantities returns the order's reserved quantity per product.
func (o Order) Quantities() map[string]int64 {
	out := make(map[string]int64, len(o.Lines))
	for _, l := range o.Lines {
		out[l.ProductID] += l.Quantity
	}
	return out
}

// normalizeLines validates quantities and merges duplicate product ids, keeping first position.
func normalizeLines(lines []Line) ([]Line, error) {
	out := make([]Line, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, l := range lines {
		if l.ProductID == "" {
			return nil, fmt.Errorf("%w: product id is required", ErrInvalidRequest)
		}
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be > 0", ErrInvalidRequest, l.ProductID)
		}
		if i, ok := index[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		index[l.ProductID] = len(out)
		out = append(out, l)
	}
	return out, nil
}
