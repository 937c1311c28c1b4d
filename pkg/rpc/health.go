package rpc

import (
	"context"
	"errors"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the name the node reports under, in addition to the
// overall ("") status.
const HealthService = "fundraiser.Node"

// HealthServer exposes the standard grpc.health.v1 service.
type HealthServer struct {
	server *grpc.Server
	health *health.Server
	log    zerolog.Logger
}

// NewHealthServer creates a health server that starts out NOT_SERVING.
func NewHealthServer(logger zerolog.Logger) *HealthServer {
	h := &HealthServer{
		server: grpc.NewServer(),
		health: health.NewServer(),
		log:    logger.With().Str("component", "health").Logger(),
	}
	healthpb.RegisterHealthServer(h.server, h.health)
	h.SetServing(false)
	return h
}

// SetServing flips the reported status of the node.
func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(HealthService, status)
}

// Serve serves gRPC on ln until ctx is done.
func (h *HealthServer) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		h.Stop()
	}()

	h.log.Info().Str("addr", ln.Addr().String()).Msg("gRPC health server listening")
	err := h.server.Serve(ln)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Stop marks the node NOT_SERVING and stops the gRPC server.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
