package handler

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/AlxanderArt/HumanOS/pkg/telemetry"
)

// ServiceName is the name the gateway reports under in the gRPC health service.
const ServiceName = "humanos.gateway"

// Health serves grpc.health.v1 and keeps its status in step with readiness.
type Health struct {
	server   *health.Server
	ready    telemetry.ReadyFunc
	interval time.Duration
	logger   *slog.Logger
}

// NewHealth returns a Health that probes ready every interval.
func NewHealth(ready telemetry.ReadyFunc, interval time.Duration, logger *slog.Logger) *Health {
	return &Health{
		server:   health.NewServer(),
		ready:    ready,
		interval: interval,
		logger:   logger,
	}
}

// Register attaches the health and reflection services to srv.
func (h *Health) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, h.server)
	reflection.Register(srv)
}

// Probe runs one readiness check and publishes the result for both the
// overall server and ServiceName.
func (h *Health) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if h.ready != nil {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := h.ready(pctx)
		cancel()
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			h.logger.Warn("readiness probe failed", slog.String("error", err.Error()))
		}
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(ServiceName, status)
	return status
}

// Run probes until ctx is cancelled, then marks every service NOT_SERVING.
func (h *Health) Run(ctx context.Context) {
	h.Probe(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
			h.Probe(ctx)
		}
	}
}
