// ABOUTME: Entry point for mesh-manager, the task dispatch and admission daemon
// ABOUTME: Polls the remote queue per agent type and runs tasks under per-type concurrency limits

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/mesh-manager/internal/config"
	"github.com/2389/mesh-manager/internal/gateway"
	"github.com/2389/mesh-manager/internal/logging"
	"github.com/2389/mesh-manager/internal/tracing"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                     _
  _ __ ___   ___  ___| |__        _ __ ___   __ _ _ __   __ _  __ _  ___ _ __
 | '_ ' _ \ / _ \/ __| '_ \ _____| '_ ' _ \ / _' | '_ \ / _' |/ _' |/ _ \ '__|
 | | | | | |  __/\__ \ | | |_____| | | | | | (_| | | | | (_| | (_| |  __/ |
 |_| |_| |_|\___||___/_| |_|     |_| |_| |_|\__,_|_| |_|\__,_|\__, |\___|_|
                                                              |___/
`

func getConfigPath() string {
	return config.DefaultPath("manager.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: mesh-manager <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start polling the queue and executing tasks")
		fmt.Println("  init     Write a starter config file")
		fmt.Println("  status   Show per-agent capacity of a running manager")
		fmt.Println("  health   Check manager health")
		fmt.Println("  agents   List configured agent types")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "status":
		err = runStatus(ctx)
	case "health":
		err = runHealth(ctx)
	case "agents":
		err = runAgents()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer func() { _ = closeLog() }()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, nil)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Queue:     %s ", cfg.Remote.Transport)
	if cfg.Remote.Transport == config.TransportGRPC {
		cyan.Println(cfg.Remote.GRPCAddr)
	} else {
		cyan.Println(cfg.Remote.URL)
	}
	if cfg.Server.HTTPAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	for _, a := range cfg.Agents {
		green.Print("    ▶ ")
		fmt.Printf("Agent:     %s ", a.ID)
		gray.Printf("(%s, max %d)\n", a.Kind, a.MaxConcurrency)
	}
	if cfg.Tracing.Enabled {
		green.Print("    ▶ ")
		fmt.Print("Tracing:   ")
		yellow.Println(cfg.Tracing.Exporter)
	}
	fmt.Println()

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating manager: %w", err)
	}

	if err := gw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runInit() error {
	outputFile := getConfigPath()
	if len(os.Args) > 2 {
		outputFile = os.Args[2]
	}

	if _, err := os.Stat(outputFile); err == nil {
		return fmt.Errorf("%s already exists, remove it first to regenerate", outputFile)
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(config.StarterManagerYAML), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("Config written to %s\n", outputFile)
	fmt.Println("\nTo start the manager:")
	fmt.Println("  mesh-manager serve")
	return nil
}

func loadHTTPAddr() (string, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return "", fmt.Errorf("loading config: %w", err)
	}
	if cfg.Server.HTTPAddr == "" {
		return "", errors.New("server.http_addr is not set, introspection is disabled")
	}
	return "http://" + cfg.Server.HTTPAddr, nil
}

func runStatus(ctx context.Context) error {
	baseURL, err := loadHTTPAddr()
	if err != nil {
		return err
	}

	status, err := gateway.FetchStatus(ctx, nil, baseURL)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	gray := color.New(color.FgHiBlack)

	fmt.Printf("%s ", status.ServerID)
	if status.Running {
		green.Print("running")
	} else {
		red.Print("stopped")
	}
	gray.Printf("  up %s\n\n", status.Uptime)

	for _, t := range status.Agents {
		fmt.Printf("  %-24s ", t.AgentType)
		c := green
		switch {
		case t.InFlight >= t.Capacity:
			c = red
		case t.InFlight > 0:
			c = yellow
		}
		c.Printf("%d/%d\n", t.InFlight, t.Capacity)
	}
	fmt.Printf("\n  total in flight: %d\n", status.TotalInFlight)
	return nil
}

func runHealth(ctx context.Context) error {
	baseURL, err := loadHTTPAddr()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health/ready", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runAgents() error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	gray := color.New(color.FgHiBlack)
	for _, a := range cfg.Agents {
		fmt.Printf("%-24s ", a.ID)
		gray.Printf("kind=%s max_concurrency=%d\n", a.Kind, a.MaxConcurrency)
		if a.Description != "" {
			fmt.Printf("%-24s %s\n", "", a.Description)
		}
	}
	return nil
}
