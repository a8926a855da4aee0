// Package grpcapi exposes the call service's gRPC surface: the standard
// health service and reflection for grpcurl.
package grpcapi

import (
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health-check name reported for the call service.
const ServiceName = "crm.call.CallService"

// Health mirrors application readiness onto the gRPC health service.
type Health struct {
	server *health.Server
}

// Register installs health and reflection on g. Both the overall status and
// ServiceName start as NOT_SERVING until SetServing(true) is called.
func Register(g *grpc.Server) *Health {
	h := &Health{server: health.NewServer()}
	grpc_health_v1.RegisterHealthServer(g, h.server)
	reflection.Register(g)
	h.SetServing(false)
	return h
}

// SetServing updates the reported status.
func (h *Health) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(ServiceName, status)
	log.Debug().Str("component", "grpc").Str("status", status.String()).Msg("Health status updated")
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (h *Health) Shutdown() {
	h.server.Shutdown()
}
