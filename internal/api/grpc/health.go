// Package grpc exposes delivery readiness over the standard gRPC health
// protocol.
package grpc

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/neetlogiq/datapack/internal/manifest"
)

// ServiceName is the health service reported for the delivery API.
const ServiceName = "datapack.Delivery"

// DefaultRetryInterval is the delay between manifest probes while the
// server is not serving.
const DefaultRetryInterval = 5 * time.Second

// ManifestSource is the part of the loader the health server watches.
type ManifestSource interface {
	Initialize(ctx context.Context) (*manifest.Manifest, error)
}

// Server is a gRPC server carrying the health service. The delivery
// service is NOT_SERVING until a manifest has been loaded.
type Server struct {
	grpc   *gogrpc.Server
	health *health.Server
	source ManifestSource
	logger *zap.Logger
	retry  time.Duration
}

// NewServer creates the server. A zero retry uses DefaultRetryInterval.
func NewServer(source ManifestSource, logger *zap.Logger, retry time.Duration) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry <= 0 {
		retry = DefaultRetryInterval
	}
	s := &Server{
		grpc:   gogrpc.NewServer(),
		health: health.NewServer(),
		source: source,
		logger: logger,
		retry:  retry,
	}
	grpc_health_v1.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return s
}

// Watch probes the manifest until it loads, then marks the delivery
// service SERVING. It returns when that happens or ctx ends.
func (s *Server) Watch(ctx context.Context) {
	ticker := time.NewTicker(s.retry)
	defer ticker.Stop()
	for {
		m, err := s.source.Initialize(ctx)
		if err == nil {
			s.health.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
			s.logger.Info("grpc: delivery serving", zap.String("manifest_version", m.Version))
			return
		}
		s.logger.Warn("grpc: manifest not ready", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Serve accepts connections on lis until Close.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Close marks every service NOT_SERVING and drains in-flight calls.
func (s *Server) Close() error {
	s.health.Shutdown()
	s.grpc.GracefulStop()
	return nil
}
