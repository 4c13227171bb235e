// Package grpc serves the standard gRPC health protocol for the delivery
// service, backed by periodic dependency pings.
package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported for the delivery
// pipeline. The empty name reports overall server health.
const ServiceName = "herald.delivery"

// Pinger checks one dependency, usually the Postgres pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer owns a gRPC server exposing health and reflection.
type HealthServer struct {
	server   *grpc.Server
	health   *health.Server
	pinger   Pinger
	interval time.Duration
	log      *zap.Logger
}

func NewHealthServer(pinger Pinger, interval time.Duration, log *zap.Logger) *HealthServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	srv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{server: srv, health: hs, pinger: pinger, interval: interval, log: log}
}

// Serve checks dependencies until ctx ends and serves on lis. It returns
// after ctx is cancelled and the server has stopped.
func (h *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	h.Check(ctx)
	go h.watch(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- h.server.Serve(lis) }()

	select {
	case <-ctx.Done():
		h.health.Shutdown()
		h.server.GracefulStop()
		return nil
	case err := <-errCh:
		return fmt.Errorf("grpc health server: %w", err)
	}
}

// Check pings dependencies once and updates the serving status.
func (h *HealthServer) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, h.interval)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := h.pinger.Ping(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		h.log.Warn("Dependency check failed", zap.Error(err))
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
	return status
}

func (h *HealthServer) watch(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}
