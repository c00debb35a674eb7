package grpc

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	healthInitialBackoff = 200 * time.Millisecond
	healthMaxBackoff     = time.Second
)

// WaitForHealth blocks until the gRPC health check reports SERVING or the
// context ends.
func WaitForHealth(ctx context.Context, conn *gogrpc.ClientConn, service string, logger *zap.Logger) error {
	if conn == nil {
		return fmt.Errorf("gRPC connection is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	healthClient := grpc_health_v1.NewHealthClient(conn)
	backoff := healthInitialBackoff
	for {
		callCtx, cancel := context.WithTimeout(ctx, time.Second)
		response, err := healthClient.Check(callCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
		cancel()
		if err == nil && response.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING {
			logger.Debug("gRPC health check is SERVING", zap.String("target", conn.Target()))
			return nil
		}
		if err != nil {
			logger.Debug("waiting for gRPC health", zap.Error(err))
		} else {
			logger.Debug("waiting for gRPC health", zap.String("status", response.GetStatus().String()))
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for gRPC health: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, healthMaxBackoff)
	}
}

// Health tracks the serving status reported by a process.
type Health struct {
	server   *health.Server
	services []string
}

// NewHealth creates a health reporter for the overall server and the named
// services. Everything starts NOT_SERVING.
func NewHealth(services ...string) *Health {
	h := &Health{
		server:   health.NewServer(),
		services: append([]string{""}, services...),
	}
	h.set(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to srv.
func (h *Health) Register(srv *gogrpc.Server) {
	grpc_health_v1.RegisterHealthServer(srv, h.server)
}

// SetServing marks every tracked service SERVING.
func (h *Health) SetServing() {
	h.set(grpc_health_v1.HealthCheckResponse_SERVING)
}

// Shutdown marks everything NOT_SERVING and ignores later updates.
func (h *Health) Shutdown() {
	h.server.Shutdown()
}

func (h *Health) set(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	for _, service := range h.services {
		h.server.SetServingStatus(service, status)
	}
}
