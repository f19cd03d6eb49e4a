package handler

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the name reported through the gRPC health protocol.
const ServiceName = "guardybot.FindingProcessor"

// Pinger is a dependency whose reachability affects readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer exposes grpc.health.v1 for load balancers and orchestrators.
// The overall status follows the dependencies registered with Track.
type HealthServer struct {
	*health.Server
	logger *slog.Logger
	deps   map[string]Pinger
}

func NewHealthServer(logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &HealthServer{
		Server: health.NewServer(),
		logger: logger,
		deps:   make(map[string]Pinger),
	}
	s.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// Track adds a dependency checked by Refresh. Call before Run.
func (s *HealthServer) Track(name string, dep Pinger) {
	s.deps[name] = dep
}

// Refresh pings every tracked dependency once and updates the status.
func (s *HealthServer) Refresh(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	for name, dep := range s.deps {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := dep.Ping(pingCtx)
		cancel()
		if err != nil {
			s.logger.Warn("⚠️ dependency unhealthy", "dependency", name, "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.SetServingStatus(ServiceName, status)
}

// Run refreshes the status every interval until ctx is done.
func (s *HealthServer) Run(ctx context.Context, interval time.Duration) {
	s.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Shutdown()
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// NewGrpcServer builds the gRPC server with health and reflection registered.
func NewGrpcServer(hs *HealthServer) *grpc.Server {
	server := grpc.NewServer()
	healthpb.RegisterHealthServer(server, hs.Server)
	reflection.Register(server)
	return server
}
