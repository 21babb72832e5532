package grpc

import (
	"context"
	"errors"
	"strings"

	"storefront/internal/checkout"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	// UserIDHeader carries the authenticated caller; the edge proxy sets it.
	UserIDHeader = "x-user-id"
	// RoleHeader marks operator calls allowed to cancel any order.
	RoleHeader   = "x-role"
	operatorRole = "operator"
	// ErrorKindTrailer reports the saga error kind alongside the status.
	ErrorKindTrailer = "x-error-kind"
)

// CheckoutService defines the behavior needed by the gRPC adapter.
type CheckoutService interface {
	Reserve(ctx context.Context, userID string, amount int64, addr checkout.Address) (checkout.Reservation, error)
	Settle(ctx context.Context, req checkout.SettleRequest) (checkout.Order, error)
	Release(ctx context.Context, sessionID string) error
	ListMine(ctx context.Context, userID string) ([]checkout.Order, error)
	GetOrder(ctx context.Context, orderID string) (checkout.Order, error)
	Cancel(ctx context.Context, orderID, reason string) (checkout.Order, error)
}

// CheckoutServer adapts CheckoutService to gRPC.
type CheckoutServer struct {
	service CheckoutService
}

// NewCheckoutServer constructs a CheckoutServer.
func NewCheckoutServer(svc CheckoutService) *CheckoutServer {
	return &CheckoutServer{service: svc}
}

func (s *CheckoutServer) Reserve(ctx context.Context, req *ReserveRequest) (*ReserveResponse, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.service.Reserve(ctx, userID, req.Amount, req.Address)
	if err != nil {
		return nil, mapCheckoutError(ctx, err)
	}
	return &ReserveResponse{
		OrderID:   res.OrderID,
		SessionID: res.SessionID,
		Amount:    res.Amount,
		Currency:  res.Currency,
		Receipt:   res.Receipt,
	}, nil
}

func (s *CheckoutServer) Settle(ctx context.Context, req *SettleRequest) (*SettleResponse, error) {
	if _, err := callerID(ctx); err != nil {
		return nil, err
	}
	order, err := s.service.Settle(ctx, checkout.SettleRequest{
		SessionID: req.SessionID,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
		Address:   req.Address,
	})
	if err != nil {
		return nil, mapCheckoutError(ctx, err)
	}
	return &SettleResponse{OrderID: order.ID, Status: order.Status, Message: order.StatusMessage}, nil
}

func (s *CheckoutServer) Release(ctx context.Context, req *ReleaseRequest) (*ReleaseResponse, error) {
	if _, err := callerID(ctx); err != nil {
		return nil, err
	}
	if err := s.service.Release(ctx, req.SessionID); err != nil {
		return nil, mapCheckoutError(ctx, err)
	}
	return &ReleaseResponse{Released: true}, nil
}

func (s *CheckoutServer) ListMine(ctx context.Context, _ *ListMineRequest) (*ListMineResponse, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	orders, err := s.service.ListMine(ctx, userID)
	if err != nil {
		return nil, mapCheckoutError(ctx, err)
	}
	return &ListMineResponse{Orders: orders}, nil
}

// GetOrder returns the order only to its owner or an operator; anyone else sees NotFound.
func (s *CheckoutServer) GetOrder(ctx context.Context, req *GetOrderRequest) (*checkout.Order, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	order, err := s.service.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, mapCheckoutError(ctx, err)
	}
	if order.UserID != userID && !isOperator(ctx) {
		return nil, mapCheckoutError(ctx, checkout.ErrOrderNotFound)
	}
	return &order, nil
}

func (s *CheckoutServer) Cancel(ctx context.Context, req *CancelRequest) (*checkout.Order, error) {
	if _, err := callerID(ctx); err != nil {
		return nil, err
	}
	if !isOperator(ctx) {
		return nil, status.Error(codes.PermissionDenied, "operator role required")
	}
	order, err := s.service.Cancel(ctx, req.OrderID, req.Reason)
	if err != nil {
		return nil, mapCheckoutError(ctx, err)
	}
	return &order, nil
}

func callerID(ctx context.Context) (string, error) {
	id := strings.TrimSpace(firstValue(ctx, UserIDHeader))
	if id == "" {
		return "", status.Error(codes.Unauthenticated, "missing "+UserIDHeader+" metadata")
	}
	return id, nil
}

func isOperator(ctx context.Context) bool {
	return strings.EqualFold(firstValue(ctx, RoleHeader), operatorRole)
}

func firstValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func mapCheckoutError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	kind := checkout.Kind(err)
	_ = setTrailer(ctx, metadata.Pairs(ErrorKindTrailer, string(kind)))
	return status.Error(kindCode(kind), checkout.PublicMessage(err))
}

func kindCode(kind checkout.ErrorKind) codes.Code {
	switch kind {
	case checkout.KindInvalidRequest, checkout.KindAddressIncomplete, checkout.KindSignatureMismatch:
		return codes.InvalidArgument
	case checkout.KindOrderNotFound, checkout.KindProductNotFound:
		return codes.NotFound
	case checkout.KindInsufficientStock, checkout.KindCartEmpty, checkout.KindOrderNotPending:
		return codes.FailedPrecondition
	case checkout.KindProviderError, checkout.KindStorageUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}
