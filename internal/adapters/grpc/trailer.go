package grpc

import (
	"context"

	grpcpkg "google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// setTrailer is a no-op outside a server stream, so the server can be called directly in tests.
func setTrailer(ctx context.Context, md metadata.MD) error {
	if grpcpkg.ServerTransportStreamFromContext(ctx) == nil {
		return nil
	}
	return grpcpkg.SetTrailer(ctx, md)
}

// ErrorKind extracts the saga error kind from a call's trailer.
func ErrorKind(trailer metadata.MD) string {
	if vals := trailer.Get(ErrorKindTrailer); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
