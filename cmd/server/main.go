package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"storefront/internal/adapters/grpc"
	"storefront/internal/app"
	"storefront/internal/checkout"
	"storefront/internal/config"
	"storefront/internal/logging"
	"storefront/internal/observability"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	grpcpkg "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Env: cfg.Env})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.OTel.Endpoint,
		URLPath:        cfg.OTel.URLPath,
		AuthHeader:     cfg.OTel.AuthHeader,
		Insecure:       cfg.OTel.Insecure,
		ExportTimeout:  cfg.OTel.Timeout,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	deps, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("close dependencies", zap.Error(err))
		}
	}()

	go deps.Hub.Run(ctx)
	if cfg.Saga.ReconcilerOn {
		reconciler := checkout.NewReconciler(deps.Service, cfg.Saga.SweepInterval, cfg.Saga.Grace, logger)
		go reconciler.Start(ctx)
	}

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return err
	}

	limiter := newGrpcRateLimiter(cfg.GRPC.RateLimitInterval, cfg.GRPC.RateLimitBurst, deps.Metrics.AddRateLimitWait)
	server := grpcpkg.NewServer(
		grpcpkg.StatsHandler(otelgrpc.NewServerHandler()),
		grpcpkg.UnaryInterceptor(unaryInterceptor(limiter, deps.Metrics, logger)),
		grpcpkg.StreamInterceptor(streamInterceptor(limiter, deps.Metrics, logger)),
	)
	grpc.RegisterCheckoutServiceServer(server, grpc.NewCheckoutServer(deps.Service))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus(grpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	if !cfg.Production() {
		reflection.Register(server)
		logging.Info(ctx, logger, "gRPC reflection enabled", zap.String("env", cfg.Env))
	}

	var draining atomic.Bool
	obsSrv := startObservabilityServer(cfg.Observability, deps, func() bool { return !draining.Load() }, logger)

	logging.Info(ctx, logger, "checkout server running", zap.String("addr", cfg.GRPC.Addr))
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		draining.Store(true)
		deps.Metrics.MarkShutdown()
		healthServer.SetServingStatus(grpc.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		server.GracefulStop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = obsSrv.Shutdown(shutdownCtx)
		logging.Info(shutdownCtx, logger, "checkout server stopped")
		return nil
	case err := <-errCh:
		return err
	}
}

func observabilityMux(deps *app.App, ready func() bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(deps.Metrics))
	mux.Handle("/healthz", observability.Healthz(ready))
	mux.Handle("/ws", deps.Hub)
	return mux
}

func startObservabilityServer(cfg config.ObservabilityConfig, deps *app.App, ready func() bool, logger *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           observabilityMux(deps, ready),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("observability server error", zap.Error(err))
		}
	}()
	return srv
}
