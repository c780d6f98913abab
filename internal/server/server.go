package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/VerdantVibes/coupon-scraper/internal/common"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

// Server is the daemon's gRPC surface: health and reflection.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *slog.Logger
}

func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{health: health.NewServer(), logger: logger}
	s.grpc = grpc.NewServer(grpc.ChainUnaryInterceptor(s.logUnary))
	healthpb.RegisterHealthServer(s.grpc, s.health)
	// Reflection for grpcurl
	reflection.Register(s.grpc)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// GRPC exposes the underlying server for registering further services.
func (s *Server) GRPC() *grpc.Server { return s.grpc }

// SetServing flips the overall health status.
func (s *Server) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
}

// Serve accepts connections on lis until ctx is done, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.SetServing(true)
	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(lis) }()
	s.logger.Info("gRPC serving", "addr", lis.Addr().String())

	select {
	case err := <-errCh:
		s.health.Shutdown()
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	s.logger.Info("shutting down gRPC server")
	s.health.Shutdown()
	s.grpc.GracefulStop()
	<-errCh
	return nil
}

// WatchDependency polls p every interval and reports NOT_SERVING while it fails.
func (s *Server) WatchDependency(ctx context.Context, name string, p Pinger, interval, timeout time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	healthy := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		err := p.HealthCheck(ctx, timeout)
		switch {
		case err != nil && healthy:
			s.logger.Warn("dependency unhealthy", "dependency", name, "error", err)
			s.SetServing(false)
		case err == nil && !healthy:
			s.logger.Info("dependency recovered", "dependency", name)
			s.SetServing(true)
		}
		healthy = err == nil
	}
}

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	rid := uuid.NewString()
	ctx = common.WithRequestID(ctx, rid)
	resp, err := handler(ctx, req)
	s.logger.Debug("grpc.unary",
		"method", info.FullMethod,
		"request_id", rid,
		"code", status.Code(err).String(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return resp, err
}
