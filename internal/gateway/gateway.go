// ABOUTME: Gateway wires config, queue client, agent registry, and manager into a process
// ABOUTME: Manages the introspection HTTP server and drain-then-close shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/mesh-manager/internal/agent"
	"github.com/2389/mesh-manager/internal/builtins"
	"github.com/2389/mesh-manager/internal/config"
	"github.com/2389/mesh-manager/internal/mesh"
	"github.com/2389/mesh-manager/internal/metrics"
	"github.com/2389/mesh-manager/internal/queue"
)

// Gateway runs a mesh manager and its introspection endpoints.
type Gateway struct {
	config     *config.Config
	queue      queue.Client
	registry   *agent.Registry
	manager    *mesh.Manager
	httpServer *http.Server
	metrics    *prometheus.Registry
	logger     *slog.Logger

	// serverID identifies this manager instance in status output
	serverID  string
	startedAt time.Time

	ready    chan struct{}
	httpAddr net.Addr
}

// New builds a Gateway whose queue client is selected by cfg.Remote.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	q, err := queue.New(cfg.Remote, logger)
	if err != nil {
		return nil, fmt.Errorf("creating queue client: %w", err)
	}
	gw, err := NewWithQueue(cfg, q, logger)
	if err != nil {
		_ = q.Close()
		return nil, err
	}
	return gw, nil
}

// NewWithQueue builds a Gateway around an existing queue client, which the
// Gateway closes on shutdown.
func NewWithQueue(cfg *config.Config, q queue.Client, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gateway")

	registry := agent.NewRegistry(logger)
	if err := builtins.Register(registry, cfg.Agents, builtins.Deps{Mesh: q, Logger: logger}); err != nil {
		return nil, fmt.Errorf("registering agents: %w", err)
	}

	gw := &Gateway{
		config:    cfg,
		queue:     q,
		registry:  registry,
		logger:    logger,
		serverID:  generateServerID(),
		startedAt: time.Now(),
		ready:     make(chan struct{}),
	}

	var recorder mesh.Metrics
	if cfg.Metrics.Enabled {
		gw.metrics = prometheus.NewRegistry()
		gw.metrics.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		rec, err := metrics.NewRecorder(gw.metrics)
		if err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
		recorder = rec
	}

	mgr, err := mesh.New(mesh.Config{
		Registry:     registry,
		Queue:        q,
		PollInterval: cfg.Manager.PollInterval.Std(),
		DrainTimeout: cfg.Manager.DrainTimeout.Std(),
		Submit: mesh.SubmitPolicy{
			MaxRetries:      cfg.Manager.Submit.MaxRetries,
			InitialInterval: cfg.Manager.Submit.InitialInterval.Std(),
			MaxInterval:     cfg.Manager.Submit.MaxInterval.Std(),
		},
		Metrics: recorder,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating manager: %w", err)
	}
	gw.manager = mgr

	if gw.metrics != nil {
		gw.metrics.MustRegister(metrics.NewStatusCollector(mgr.Status))
	}

	if cfg.Server.HTTPAddr != "" {
		gw.httpServer = &http.Server{
			Handler:           gw.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return gw, nil
}

// Handler returns the introspection routes and the direct invocation route.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)
	mux.HandleFunc("GET /status", g.handleStatus)
	mux.HandleFunc("GET /agents", g.handleAgents)
	mux.HandleFunc("POST /mesh_request", g.handleMeshRequest)
	if g.metrics != nil {
		mux.Handle("GET "+g.config.Metrics.Path, promhttp.HandlerFor(g.metrics, promhttp.HandlerOpts{}))
	}
	return mux
}

// Manager returns the underlying mesh manager.
func (g *Gateway) Manager() *mesh.Manager {
	return g.manager
}

// Ready is closed once Run has bound its listener and started polling.
func (g *Gateway) Ready() <-chan struct{} {
	return g.ready
}

// HTTPAddr returns the bound introspection address, or nil when disabled or
// before Ready.
func (g *Gateway) HTTPAddr() net.Addr {
	return g.httpAddr
}

// startServer serves HTTP in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)
	if ln == nil {
		return errCh
	}
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	return errCh
}

// Run starts polling and the HTTP server, and blocks until ctx is cancelled
// or the HTTP server fails. In-flight tasks are drained before it returns.
func (g *Gateway) Run(ctx context.Context) error {
	var ln net.Listener
	if g.httpServer != nil {
		var err error
		ln, err = net.Listen("tcp", g.config.Server.HTTPAddr)
		if err != nil {
			return fmt.Errorf("listening on HTTP address: %w", err)
		}
		g.httpAddr = ln.Addr()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := g.startServer(ln)
	managerDone := make(chan error, 1)
	go func() { managerDone <- g.manager.Run(runCtx) }()

	g.logger.Info("mesh manager started",
		"server_id", g.serverID,
		"agent_types", g.registry.Len(),
		"transport", g.config.Remote.Transport,
	)
	close(g.ready)

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	cancel()
	managerErr := <-managerDone

	return errors.Join(serverErr, managerErr, g.gracefulShutdown())
}

// gracefulShutdown runs Shutdown on a fresh context since the run context is
// already cancelled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server and closes the queue client. It does not
// wait for in-flight tasks; Run does that before calling it.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if g.httpServer != nil {
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	}
	errs = appendCloseError(errs, "queue close", g.queue.Close())

	return errors.Join(errs...)
}

func generateServerID() string {
	return fmt.Sprintf("mesh-manager-%d", time.Now().UnixNano()%1000000)
}
