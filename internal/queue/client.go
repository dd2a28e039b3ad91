// ABOUTME: Transport-neutral queue client interface and the config-driven constructor.
// ABOUTME: Both HTTP and gRPC clients satisfy Client.

package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/mesh-manager/internal/config"
	"github.com/2389/mesh-manager/internal/task"
)

// Client is the full remote queue contract.
type Client interface {
	Poll(ctx context.Context, agentType string) (*task.Task, error)
	Submit(ctx context.Context, o *task.Outcome) error
	PushUpdate(ctx context.Context, taskID string, ev task.Event) error
	CreateTask(ctx context.Context, req task.CreateRequest) (string, error)
	QueryTask(ctx context.Context, taskID string) (*task.Record, error)
	Close() error
}

var (
	_ Client = (*HTTPClient)(nil)
	_ Client = (*GRPCClient)(nil)
)

// OptionsFromConfig maps remote config onto client options.
func OptionsFromConfig(cfg config.RemoteConfig, logger *slog.Logger) Options {
	return Options{
		Token:              cfg.Token,
		Timeout:            cfg.Timeout.Std(),
		RateLimit:          cfg.RateLimit,
		RateBurst:          cfg.RateBurst,
		BreakerMaxFailures: cfg.Breaker.MaxFailures,
		BreakerOpenTimeout: cfg.Breaker.OpenTimeout.Std(),
		Logger:             logger,
	}
}

// New builds the client selected by cfg.Transport.
func New(cfg config.RemoteConfig, logger *slog.Logger) (Client, error) {
	opts := OptionsFromConfig(cfg, logger)
	switch cfg.Transport {
	case "", config.TransportHTTP:
		return NewHTTPClient(cfg.URL, opts), nil
	case config.TransportGRPC:
		return NewGRPCClient(cfg.GRPCAddr, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, cfg.Transport)
	}
}
