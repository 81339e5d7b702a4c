// Package control exposes the daemon's connection health on the profile's
// Unix domain socket using the standard gRPC health service. Health
// follows status changes published on the bus.
package control

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/matheus3301/msgr/internal/bus"
	"github.com/matheus3301/msgr/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Health service names.
const (
	// ServiceSync is SERVING while the live connection is open.
	ServiceSync = "msgr.sync"
	// ServiceSession is SERVING while a session is held.
	ServiceSession = "msgr.session"
)

// Server manages the gRPC server lifecycle for a profile daemon.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
	unsub      func()
}

// NewServer creates a gRPC server bound to socketPath.
func NewServer(socketPath string, b *bus.Bus, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	hs := health.NewServer()
	hs.SetServingStatus(ServiceSync, healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceSession, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	s := &Server{
		grpcServer: srv,
		health:     hs,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
		unsub:      func() {},
	}
	if b != nil {
		var events <-chan bus.Event
		events, s.unsub = b.Subscribe(status.KindStatusChanged, 16)
		go s.follow(events)
	}
	return s, nil
}

// Start serves requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("control server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

func (s *Server) follow(events <-chan bus.Event) {
	for evt := range events {
		change, ok := evt.Payload.(status.StatusChange)
		if !ok {
			continue
		}
		s.apply(change.To)
	}
}

func (s *Server) apply(st status.State) {
	syncStatus := healthpb.HealthCheckResponse_NOT_SERVING
	if st == status.Open {
		syncStatus = healthpb.HealthCheckResponse_SERVING
	}
	sessionStatus := healthpb.HealthCheckResponse_SERVING
	if st == status.LoggedOut {
		sessionStatus = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ServiceSync, syncStatus)
	s.health.SetServingStatus(ServiceSession, sessionStatus)
	s.logger.Debug("health updated", zap.String("status", string(st)))
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(_ context.Context) {
	s.logger.Info("control server stopping")
	s.unsub()
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	_ = os.Remove(s.socketPath)
}
