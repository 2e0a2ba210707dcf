package httpapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"doctrack.org/internal/obs"
)

// GRPCServer exposes readiness over the standard gRPC health protocol
// so orchestrators can probe without speaking HTTP.
type GRPCServer struct {
	grpc_health_v1.UnimplementedHealthServer

	readyProbe ReadyProbe
}

// NewGRPCServer creates the health service wrapper.
func NewGRPCServer(rp ReadyProbe) *GRPCServer {
	return &GRPCServer{readyProbe: rp}
}

// Register attaches the health service to a gRPC server.
func (s *GRPCServer) Register(srv *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(srv, s)
}

// Check evaluates readiness. The store ping doubles as the serving
// signal; there is no per-service breakdown.
func (s *GRPCServer) Check(ctx context.Context, _ *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if err := s.readyProbe.Check(ctx); err != nil {
		obs.SetReady(false)
		return &grpc_health_v1.HealthCheckResponse{
			Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING,
		}, nil
	}
	obs.SetReady(true)
	return &grpc_health_v1.HealthCheckResponse{
		Status: grpc_health_v1.HealthCheckResponse_SERVING,
	}, nil
}

// Watch streams the current status once; polling clients use Check.
func (s *GRPCServer) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	resp, err := s.Check(stream.Context(), req)
	if err != nil {
		return status.Errorf(codes.Internal, "health check: %v", err)
	}
	return stream.Send(resp)
}
