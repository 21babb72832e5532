package main

import (
	"context"
	"strings"
	"sync"
	"time"

	"storefront/internal/logging"
	"storefront/internal/observability"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type rateLimiter interface {
	Wait(ctx context.Context) error
}

// grpcRateLimiter is a token bucket shared by all checkout calls.
type grpcRateLimiter struct {
	mu     sync.Mutex
	rate   time.Duration
	burst  int
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
	onWait func(time.Duration)

	tokens int
	last   time.Time
}

func newGrpcRateLimiter(rate time.Duration, burst int, onWait func(time.Duration)) *grpcRateLimiter {
	now := time.Now
	limiter := &grpcRateLimiter{
		rate:   rate,
		burst:  burst,
		now:    now,
		sleep:  sleepWithContext,
		onWait: onWait,
	}
	limiter.tokens = burst
	limiter.last = now()
	return limiter
}

func (r *grpcRateLimiter) Wait(ctx context.Context) error {
	if r == nil || r.rate <= 0 || r.burst <= 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.mu.Lock()
		now := r.now()
		r.refill(now)
		if r.tokens > 0 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}
		wait := r.rate - now.Sub(r.last)
		r.mu.Unlock()
		if wait <= 0 {
			continue
		}
		if r.onWait != nil {
			r.onWait(wait)
		}
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (r *grpcRateLimiter) refill(now time.Time) {
	if r.rate <= 0 {
		r.tokens = r.burst
		r.last = now
		return
	}
	elapsed := now.Sub(r.last)
	if elapsed < r.rate {
		return
	}
	add := int(elapsed / r.rate)
	if add <= 0 {
		return
	}
	r.tokens += add
	if r.tokens > r.burst {
		r.tokens = r.burst
	}
	r.last = r.last.Add(time.Duration(add) * r.rate)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type rateLimitedServerStream struct {
	grpc.ServerStream
	limiter rateLimiter
}

func (s *rateLimitedServerStream) RecvMsg(m any) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(s.Context()); err != nil {
			return err
		}
	}
	return s.ServerStream.RecvMsg(m)
}

func unaryInterceptor(limiter rateLimiter, metrics *observability.Metrics, logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !shouldTrackMethod(info.FullMethod) {
			return handler(ctx, req)
		}
		call := metrics.Begin(info.FullMethod)
		start := time.Now()
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				err = status.FromContextError(err).Err()
				call.Done(failureKind(err))
				return nil, err
			}
		}
		resp, err := handler(ctx, req)
		call.Done(failureKind(err))
		logCall(ctx, logger, info.FullMethod, time.Since(start), err)
		return resp, err
	}
}

func streamInterceptor(limiter rateLimiter, metrics *observability.Metrics, logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if !shouldTrackMethod(info.FullMethod) {
			return handler(srv, stream)
		}
		call := metrics.Begin(info.FullMethod)
		start := time.Now()
		if limiter != nil {
			stream = &rateLimitedServerStream{ServerStream: stream, limiter: limiter}
		}
		err := handler(srv, stream)
		call.Done(failureKind(err))
		logCall(stream.Context(), logger, info.FullMethod, time.Since(start), err)
		return err
	}
}

// failureKind labels a failed call by its status code.
func failureKind(err error) string {
	if err == nil {
		return ""
	}
	return status.Code(err).String()
}

func logCall(ctx context.Context, logger *zap.Logger, method string, elapsed time.Duration, err error) {
	if logger == nil {
		return
	}
	fields := []zap.Field{zap.String("method", method), zap.Duration("elapsed", elapsed)}
	switch code := status.Code(err); code {
	case codes.OK:
		logging.Debug(ctx, logger, "grpc call", fields...)
	case codes.Internal, codes.Unavailable, codes.Unknown:
		logging.Error(ctx, logger, "grpc call failed", append(fields, zap.Stringer("code", code), zap.Error(err))...)
	default:
		logging.Info(ctx, logger, "grpc call rejected", append(fields, zap.Stringer("code", code), zap.Error(err))...)
	}
}

func shouldTrackMethod(method string) bool {
	return method != "" &&
		!strings.HasPrefix(method, "/grpc.reflection.") &&
		!strings.HasPrefix(method, "/grpc.health.")
}
