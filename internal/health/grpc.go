// Package health exposes the gateway's readiness over the standard gRPC
// health protocol, driven by periodic probes of the inference service.
package health

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name clients query.
const ServiceName = "bakeready.Gateway"

// DefaultProbeInterval replaces non-positive Watch intervals.
const DefaultProbeInterval = 30 * time.Second

// ProbeFunc checks a dependency; a nil error means healthy.
type ProbeFunc func(ctx context.Context) error

// Server serves grpc.health.v1.Health.
type Server struct {
	grpcServer *grpc.Server
	health     *grpchealth.Server
	logger     *zap.Logger
}

// NewServer creates a health server reporting NOT_SERVING until told otherwise.
func NewServer(logger *zap.Logger) *Server {
	grpcServer := grpc.NewServer()
	healthServer := grpchealth.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	s := &Server{grpcServer: grpcServer, health: healthServer, logger: logger.Named("health")}
	s.SetServing(false)
	return s
}

// SetServing updates the status of the overall server and ServiceName.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve blocks serving on listener until Stop is called.
func (s *Server) Serve(listener net.Listener) error {
	s.logger.Info("gRPC health listening", zap.String("addr", listener.Addr().String()))
	return s.grpcServer.Serve(listener)
}

// Watch runs probe every interval until ctx is done and mirrors its result
// into the serving status.
func (s *Server) Watch(ctx context.Context, interval time.Duration, probe ProbeFunc) {
	if interval <= 0 {
		s.logger.Warn("invalid probe interval, using default",
			zap.Duration("interval", interval),
			zap.Duration("default", DefaultProbeInterval))
		interval = DefaultProbeInterval
	}

	check := func() {
		probeCtx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		err := probe(probeCtx)
		if err != nil {
			s.logger.Warn("upstream probe failed", zap.Error(err))
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

// Stop marks the server as shutting down and stops it gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}
