// ABOUTME: gRPC interceptors for authenticating queue requests using JWT
// ABOUTME: Extracts the token from "authorization" metadata and populates context

package auth

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// logAuthFailure logs an authentication failure with structured context.
func logAuthFailure(ctx context.Context, logger *slog.Logger, reason string, attrs ...any) {
	if logger == nil {
		return
	}
	baseAttrs := []any{"reason", reason}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		baseAttrs = append(baseAttrs, "peer_addr", p.Addr.String())
	}
	baseAttrs = append(baseAttrs, attrs...)
	logger.Warn("auth failure", baseAttrs...)
}

func authenticateGRPC(ctx context.Context, verifier TokenVerifier, logger *slog.Logger, method string) (*Identity, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		logAuthFailure(ctx, logger, "missing_metadata", "method", method)
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		logAuthFailure(ctx, logger, "missing_authorization", "method", method)
		return nil, status.Error(codes.Unauthenticated, "missing authorization")
	}

	token, errMsg := extractToken(values[0])
	if errMsg != "" {
		logAuthFailure(ctx, logger, errMsg, "method", method)
		return nil, status.Error(codes.Unauthenticated, errMsg)
	}
	subject, err := verifier.Verify(token)
	if err != nil {
		logAuthFailure(ctx, logger, "invalid_token", "method", method, "error", err)
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}
	return &Identity{Subject: subject, Transport: "grpc"}, nil
}

// UnaryInterceptor returns a gRPC unary interceptor that authenticates requests.
func UnaryInterceptor(verifier TokenVerifier, logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		id, err := authenticateGRPC(ctx, verifier, logger, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(WithIdentity(ctx, id), req)
	}
}

// NoAuthUnaryInterceptor injects an anonymous Identity when auth is disabled.
func NoAuthUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx = WithIdentity(ctx, &Identity{Subject: Anonymous, Transport: "grpc"})
		return handler(ctx, req)
	}
}
