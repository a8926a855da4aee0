// Package observability provides gRPC interceptors and the metrics HTTP server.
package observability

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"crm-call-service/internal/observability/logging"
	"crm-call-service/internal/observability/metrics"
)

// Metadata keys a client may send to tie a gRPC request to a call session.
const (
	SessionIDKey      = "x-session-id"
	ExternalCallIDKey = "x-external-call-id"
)

// requestLogger returns a logger carrying call context from incoming metadata.
func requestLogger(ctx context.Context) zerolog.Logger {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return log.Logger
	}
	sessionID := first(md, SessionIDKey)
	if sessionID == "" {
		return log.Logger
	}
	return logging.WithCall(sessionID, first(md, ExternalCallIDKey))
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func record(ctx context.Context, m *metrics.Metrics, kind, method string, start time.Time, err error) {
	code := status.Code(err).String()
	m.RecordGRPCRequest(method, code)

	logger := requestLogger(ctx)
	logger.Debug().
		Str("component", "grpc").
		Str("kind", kind).
		Str("method", method).
		Str("code", code).
		Dur("duration", time.Since(start)).
		Msg("gRPC request completed")
}

// UnaryServerInterceptor records every unary call by method and status code.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		record(ctx, m, "unary", info.FullMethod, start, err)
		return resp, err
	}
}

// StreamServerInterceptor does the same for streams such as health Watch.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		record(ss.Context(), m, "stream", info.FullMethod, start, err)
		return err
	}
}
