package grpc

import (
	"context"
	"net"
	"testing"

	"storefront/internal/checkout"
	"storefront/internal/payment"

	"github.com/stretchr/testify/require"
	grpcpkg "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

var testSecret = []byte("whsec_test")

func bufDialer(lis *bufconn.Listener) func(context.Context, string) (net.Conn, error) {
	return func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.Dial()
	}
}

func startCheckoutServer(t *testing.T) (*CheckoutClient, *checkout.MemoryStore, *payment.Sandbox) {
	t.Helper()

	store := checkout.NewMemoryStore()
	store.PutProduct(checkout.Product{ID: "p1", Name: "Desk Lamp", Available: 3})
	store.SetCart(checkout.Cart{
		UserID:     "u1",
		Lines:      []checkout.Line{{ProductID: "p1", Quantity: 2}},
		TotalPrice: 40000,
	})
	sandbox := payment.NewSandbox(testSecret)
	svc := checkout.NewService(store, store, sandbox, checkout.Config{Secret: testSecret})

	lis := bufconn.Listen(1024 * 1024)
	s := grpcpkg.NewServer()
	RegisterCheckoutServiceServer(s, NewCheckoutServer(svc))
	go func() {
		_ = s.Serve(lis)
	}()
	t.Cleanup(func() {
		s.Stop()
		if err := lis.Close(); err != nil {
			t.Fatalf("close listener: %v", err)
		}
	})

	conn, err := grpcpkg.NewClient(
		"passthrough:///bufnet",
		grpcpkg.WithContextDialer(bufDialer(lis)),
		grpcpkg.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return NewCheckoutClient(conn), store, sandbox
}

func TestCheckoutOverBufconn_ReserveAndSettle(t *testing.T) {
	t.Parallel()

	client, store, sandbox := startCheckoutServer(t)
	ctx := metadata.AppendToOutgoingContext(context.Background(), UserIDHeader, "u1")
	addr := checkout.Address{Street: "12 MG Road", City: "Pune", State: "MH"}

	res, err := client.Reserve(ctx, &ReserveRequest{Amount: 40000, Address: addr})
	require.NoError(t, err)
	require.NotEmpty(t, res.SessionID)

	p, _ := store.Product("p1")
	require.Equal(t, int64(1), p.Available)
	require.Equal(t, int64(2), p.Reserved)

	paymentID, signature, err := sandbox.Pay(res.SessionID)
	require.NoError(t, err)

	settled, err := client.Settle(ctx, &SettleRequest{
		SessionID: res.SessionID,
		PaymentID: paymentID,
		Signature: signature,
		Address:   addr,
	})
	require.NoError(t, err)
	require.Equal(t, checkout.StatusPaid, settled.Status)

	mine, err := client.ListMine(ctx, &ListMineRequest{})
	require.NoError(t, err)
	require.Len(t, mine.Orders, 1)
	require.Equal(t, res.OrderID, mine.Orders[0].ID)
	require.NotNil(t, mine.Orders[0].PaymentProof)
}

func TestCheckoutOverBufconn_ErrorKindTrailer(t *testing.T) {
	t.Parallel()

	client, _, _ := startCheckoutServer(t)
	ctx := metadata.AppendToOutgoingContext(context.Background(), UserIDHeader, "u1")

	var trailer metadata.MD
	_, err := client.Settle(ctx, &SettleRequest{
		SessionID: "order_missing",
		PaymentID: "pay_1",
		Signature: "deadbeef",
	}, grpcpkg.Trailer(&trailer))
	require.Equal(t, codes.InvalidArgument, status.Code(err))
	require.Equal(t, string(checkout.KindSignatureMismatch), ErrorKind(trailer))
}

func TestCheckoutOverBufconn_ReleaseTwiceIsRejected(t *testing.T) {
	t.Parallel()

	client, store, _ := startCheckoutServer(t)
	ctx := metadata.AppendToOutgoingContext(context.Background(), UserIDHeader, "u1")

	res, err := client.Reserve(ctx, &ReserveRequest{Amount: 40000, Address: checkout.Address{Street: "1", City: "Goa", State: "GA"}})
	require.NoError(t, err)

	_, err = client.Release(ctx, &ReleaseRequest{SessionID: res.SessionID})
	require.NoError(t, err)
	_, err = client.Release(ctx, &ReleaseRequest{SessionID: res.SessionID})
	require.Equal(t, codes.FailedPrecondition, status.Code(err))

	p, _ := store.Product("p1")
	require.Equal(t, int64(3), p.Available)
	require.Zero(t, p.Reserved)
}

func TestCheckoutOverBufconn_AmountMustMatchCart(t *testing.T) {
	t.Parallel()

	client, store, _ := startCheckoutServer(t)
	ctx := metadata.AppendToOutgoingContext(context.Background(), UserIDHeader, "u1")

	var trailer metadata.MD
	_, err := client.Reserve(ctx, &ReserveRequest{Amount: 1, Address: checkout.Address{Street: "1", City: "Goa", State: "GA"}}, grpcpkg.Trailer(&trailer))
	require.Equal(t, codes.InvalidArgument, status.Code(err))
	require.Equal(t, string(checkout.KindInvalidRequest), ErrorKind(trailer))

	p, _ := store.Product("p1")
	require.Equal(t, int64(3), p.Available)
	require.Zero(t, p.Reserved)
}
