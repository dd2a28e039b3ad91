// ABOUTME: Development queue server orchestrating HTTP and gRPC listeners over one store
// ABOUTME: Wires auth, dedupe, broadcaster, and the expiry sweeper with graceful shutdown

package queueserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/mesh-manager/internal/auth"
	"github.com/2389/mesh-manager/internal/config"
	"github.com/2389/mesh-manager/internal/dedupe"
	"github.com/2389/mesh-manager/internal/queue"
	"github.com/2389/mesh-manager/internal/store"
)

// Server runs the development task queue.
type Server struct {
	config      *config.QueueConfig
	store       store.Store
	service     *Service
	broadcaster *Broadcaster
	dedupe      *dedupe.Cache
	sweeper     *Sweeper
	grpcServer  *grpc.Server
	httpServer  *http.Server
	verifier    *auth.JWTVerifier
	logger      *slog.Logger

	// bound listener addresses, set by Run
	httpAddr net.Addr
	grpcAddr net.Addr
	ready    chan struct{}
}

// New creates a Server from cfg. The store is opened here and closed by
// Shutdown.
func New(cfg *config.QueueConfig, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	srv, err := NewWithStore(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return srv, nil
}

// NewWithStore creates a Server on an already open store.
func NewWithStore(cfg *config.QueueConfig, s store.Store, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var verifier *auth.JWTVerifier
	if cfg.Auth.JWTSecret != "" {
		v, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		verifier = v
	}

	broadcaster := NewBroadcaster(logger)
	dedupeCache := dedupe.New(cfg.Dedupe.TTL.Std(), cfg.Dedupe.MaxSize, time.Minute)
	svc := NewService(ServiceConfig{
		Store:       s,
		Dedupe:      dedupeCache,
		Broadcaster: broadcaster,
		Logger:      logger,
	})

	sweeper, err := NewSweeper(svc, cfg.Expiry.SweepSchedule, cfg.Expiry.TaskTimeout.Std(), logger)
	if err != nil {
		dedupeCache.Close()
		broadcaster.Close()
		return nil, err
	}

	srv := &Server{
		config:      cfg,
		store:       s,
		service:     svc,
		broadcaster: broadcaster,
		dedupe:      dedupeCache,
		sweeper:     sweeper,
		verifier:    verifier,
		logger:      logger.With("component", "queue-server"),
		ready:       make(chan struct{}),
	}

	srv.grpcServer = srv.createGRPCServer()
	queue.RegisterTaskQueueServer(srv.grpcServer, NewGRPCServer(svc, logger))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", srv.handleHealth)
	mux.HandleFunc("GET /stats", srv.handleStats)
	NewHTTPHandler(svc, logger).RegisterRoutes(mux, srv.httpAuthMiddleware())

	srv.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv, nil
}

// Service returns the queue service, for in-process use.
func (s *Server) Service() *Service { return s.service }

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// GRPCServer returns the gRPC server, for tests.
func (s *Server) GRPCServer() *grpc.Server { return s.grpcServer }

// Verifier returns the JWT verifier, or nil when auth is disabled.
func (s *Server) Verifier() *auth.JWTVerifier { return s.verifier }

func (s *Server) createGRPCServer() *grpc.Server {
	interceptor := auth.NoAuthUnaryInterceptor()
	if s.verifier != nil {
		interceptor = auth.UnaryInterceptor(s.verifier, s.logger)
		s.logger.Info("gRPC auth interceptor enabled")
	} else {
		s.logger.Warn("gRPC auth disabled - no jwt_secret configured")
	}
	return grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(interceptor),
	)
}

func (s *Server) httpAuthMiddleware() func(http.Handler) http.Handler {
	if s.verifier != nil {
		s.logger.Info("HTTP auth middleware enabled")
		return auth.HTTPMiddleware(s.verifier, s.logger)
	}
	s.logger.Warn("HTTP auth disabled - no jwt_secret configured")
	return auth.NoAuthHTTPMiddleware()
}

// setupListeners opens the configured listeners. An empty address disables
// that transport.
func (s *Server) setupListeners() (grpcLn, httpLn net.Listener, err error) {
	s.logger.Info("starting queue server",
		"grpc_addr", s.config.Server.GRPCAddr,
		"http_addr", s.config.Server.HTTPAddr,
		"database", s.config.Database.Path,
	)

	if addr := s.config.Server.GRPCAddr; addr != "" {
		grpcLn, err = net.Listen("tcp", addr)
		if err != nil {
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}
	if addr := s.config.Server.HTTPAddr; addr != "" {
		httpLn, err = net.Listen("tcp", addr)
		if err != nil {
			if grpcLn != nil {
				_ = grpcLn.Close()
			}
			return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
		}
	}
	return grpcLn, httpLn, nil
}

// startServers starts servers for non-nil listeners, returning an error channel.
func (s *Server) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		go func() {
			s.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
			if err := s.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}
	if httpLn != nil {
		go func() {
			s.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
			if err := s.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("HTTP server: %w", err)
			}
		}()
	}
	return errCh
}

// Ready is closed once listeners are bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// HTTPAddr returns the bound HTTP address after Ready, or nil.
func (s *Server) HTTPAddr() net.Addr { return s.httpAddr }

// GRPCAddr returns the bound gRPC address after Ready, or nil.
func (s *Server) GRPCAddr() net.Addr { return s.grpcAddr }

// Run serves until ctx is cancelled, then shuts down gracefully.
// Returns nil on graceful shutdown, or an error if a server fails.
func (s *Server) Run(ctx context.Context) error {
	grpcLn, httpLn, err := s.setupListeners()
	if err != nil {
		return err
	}
	if grpcLn != nil {
		s.grpcAddr = grpcLn.Addr()
	}
	if httpLn != nil {
		s.httpAddr = httpLn.Addr()
	}
	close(s.ready)

	s.sweeper.Start()
	errCh := s.startServers(grpcLn, httpLn)

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := s.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the servers and sweeper and releases the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down queue server")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}

	s.sweeper.Stop(ctx)
	s.broadcaster.Close()
	s.dedupe.Close()
	errs = appendCloseError(errs, "store close", s.store.Close())

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleStats returns task counts per status.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.service.Counts(r.Context())
	if err != nil {
		s.logger.Error("counting tasks", "error", err)
		writeJSON(w, http.StatusInternalServerError, queue.ErrorResponse{Error: "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, counts)
}
