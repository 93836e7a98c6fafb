package grpc

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"storefront-chat/internal/observability"
)

// ServiceName is the health service key reported alongside the overall status.
const ServiceName = "storefront.chat"

// HealthServer exposes grpc.health.v1 backed by a storage probe.
type HealthServer struct {
	server *grpc.Server
	health *health.Server
}

// NewHealthServer builds the gRPC server with tracing and metrics wired in.
func NewHealthServer() *HealthServer {
	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{server: server, health: hs}
}

// SetServing flips the status of both the overall and the chat service entries.
func (s *HealthServer) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Watch probes storage every interval until ctx ends.
func (s *HealthServer) Watch(ctx context.Context, interval time.Duration, probe func(context.Context) error) {
	check := func() {
		probeCtx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		err := probe(probeCtx)
		if err != nil {
			log.Warn().Err(err).Msg("storage probe failed")
		}
		s.SetServing(err == nil)
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

// Serve blocks serving on lis.
func (s *HealthServer) Serve(lis net.Listener) error {
	return s.server.Serve(lis)
}

// Stop marks the service down and drains in-flight calls.
func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
