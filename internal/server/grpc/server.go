// Package grpc exposes the passkeeper process over gRPC.
//
// The server carries the standard health service; each registered dependency
// check (Postgres, Redis) gets its own service name and the overall status
// ("") is SERVING only while every check passes.
package grpc

import (
	"context"
	"net"
	"sort"
	"time"

	"github.com/revpass/passkeeper/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// CheckFunc reports whether a dependency is reachable.
type CheckFunc func(ctx context.Context) error

const checkTimeout = 3 * time.Second

type GRPCServer struct {
	address       string
	logger        logging.Logger
	jwtSecret     []byte
	health        *health.Server
	checks        map[string]CheckFunc
	checkInterval time.Duration
}

func NewGRPCServer(a string, l logging.Logger, secretKey string, checks map[string]CheckFunc, interval time.Duration) *GRPCServer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if checks == nil {
		checks = map[string]CheckFunc{}
	}
	return &GRPCServer{
		address:       a,
		logger:        l,
		jwtSecret:     []byte(secretKey),
		health:        health.NewServer(),
		checks:        checks,
		checkInterval: interval,
	}
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor, s.accessTokenInterceptor))
	healthpb.RegisterHealthServer(srv, s.health)

	s.runChecks(ctx)
	go s.watch(ctx)

	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "gRPC server started", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}

func (s *GRPCServer) watch(ctx context.Context) {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runChecks(ctx)
		}
	}
}

// runChecks probes every dependency once and publishes the result.
func (s *GRPCServer) runChecks(ctx context.Context) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	overall := healthpb.HealthCheckResponse_SERVING
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := s.checks[name](cctx)
		cancel()

		st := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			st = healthpb.HealthCheckResponse_NOT_SERVING
			overall = st
			s.logger.Warn(ctx, "health check failed", "check", name, "error", err)
		}
		s.health.SetServingStatus(name, st)
	}
	s.health.SetServingStatus("", overall)
}
