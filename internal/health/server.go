// Package health exposes daemon readiness over the gRPC health protocol and
// probes the cloud inference gateway the same way.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/ashureev/screenpilot/internal/domain"
	"github.com/ashureev/screenpilot/internal/state"
)

// Health service names reported by Server.
const (
	ServiceModel  = "screenpilot.model"
	ServiceDevice = "screenpilot.device"
)

// Server serves grpc.health.v1 for the daemon. The overall status is
// SERVING while the server runs; the model and device services follow UI
// state.
type Server struct {
	grpc   *grpc.Server
	health *grpchealth.Server
	ui     *state.Cell[domain.UIState]
	logger *slog.Logger
}

// NewServer creates a health server tracking ui.
func NewServer(ui *state.Cell[domain.UIState], logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gs := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	s := &Server{grpc: gs, health: hs, ui: ui, logger: logger}
	s.apply(ui.Get())
	return s
}

func (s *Server) apply(u domain.UIState) {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceModel, status(u.IsModelReady))
	s.health.SetServingStatus(ServiceDevice, status(u.ServiceRunning))
}

func status(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Serve accepts connections on lis until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	updates, cancel := s.ui.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				s.health.Shutdown()
				s.grpc.GracefulStop()
				return
			case u, ok := <-updates:
				if !ok {
					return
				}
				s.apply(u)
			}
		}
	}()

	s.logger.Info("[HEALTH] gRPC health server listening", "addr", lis.Addr().String())
	err := s.grpc.Serve(lis)
	cancel()
	<-done
	if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve grpc health: %w", err)
	}
	return nil
}
