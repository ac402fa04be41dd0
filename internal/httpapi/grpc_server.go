package httpapi

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"solarforecast.org/internal/obs"
)

// GRPCServer exposes the standard gRPC health service, with serving status
// following the readiness check.
type GRPCServer struct {
	health    *health.Server
	readiness readinessChecker
	interval  time.Duration
	log       logrus.FieldLogger
}

// NewGRPCServer creates the health service wrapper. A zero interval defaults
// to five seconds.
func NewGRPCServer(r readinessChecker, interval time.Duration) *GRPCServer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &GRPCServer{
		health:    health.NewServer(),
		readiness: r,
		interval:  interval,
		log:       obs.Logger().WithField("component", "grpc"),
	}
}

// Register attaches the health and reflection services to srv.
func (s *GRPCServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
	reflection.Register(srv)
}

// Refresh runs one readiness check and publishes the result for the empty
// service name and for the access service.
func (s *GRPCServer) Refresh(ctx context.Context) bool {
	status := healthpb.HealthCheckResponse_SERVING
	ok := true
	if s.readiness != nil {
		if err := s.readiness.Check(ctx); err != nil {
			s.log.WithError(err).Warn("readiness check failed")
			status = healthpb.HealthCheckResponse_NOT_SERVING
			ok = false
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(serviceName, status)
	obs.SetReady(ok)
	return ok
}

// Watch refreshes readiness until ctx ends, then marks the server as shutting down.
func (s *GRPCServer) Watch(ctx context.Context) {
	s.Refresh(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}
