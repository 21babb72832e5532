package grpc

import "storefront/internal/checkout"

type ReserveRequest struct {
	Amount  int64            `json:"amount"`
	Address checkout.Address `json:"address"`
}

type ReserveResponse struct {
	OrderID   string `json:"order_id"`
	SessionID string `json:"session_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Receipt   string `json:"receipt"`
}

type SettleRequest struct {
	SessionID string           `json:"session_id"`
	PaymentID string           `json:"payment_id"`
	Signature string           `json:"signature"`
	Address   checkout.Address `json:"address"`
}

type SettleResponse struct {
	OrderID string               `json:"order_id"`
	Status  checkout.OrderStatus `json:"status"`
	Message string               `json:"message"`
}

type ReleaseRequest struct {
	SessionID string `json:"session_id"`
}

type ReleaseResponse struct {
	Released bool `json:"released"`
}

type ListMineRequest struct{}

type ListMineResponse struct {
	Orders []checkout.Order `json:"orders"`
}

type GetOrderRequest struct {
	OrderID string `json:"order_id"`
}

type CancelRequest struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}
