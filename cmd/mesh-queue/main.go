// ABOUTME: Entry point for mesh-queue, a development task queue for mesh-manager
// ABOUTME: Serves poll/submit/update/create/query over HTTP and gRPC and offers client subcommands

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/mesh-manager/internal/auth"
	"github.com/2389/mesh-manager/internal/config"
	"github.com/2389/mesh-manager/internal/logging"
	"github.com/2389/mesh-manager/internal/queue"
	"github.com/2389/mesh-manager/internal/queueserver"
	"github.com/2389/mesh-manager/internal/task"
)

// Version is set by goreleaser at build time.
var version = "dev"

// getConfigPath returns the queue config path.
// Priority: MESH_QUEUE_CONFIG env var > XDG_CONFIG_HOME/mesh/queue.yaml > ~/.config/mesh/queue.yaml
func getConfigPath() string {
	if p := os.Getenv("MESH_QUEUE_CONFIG"); p != "" {
		return p
	}
	return config.DefaultPath("queue.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: mesh-queue <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                              Start the queue server")
		fmt.Println("  init                               Write a starter config file")
		fmt.Println("  token --sub NAME [--ttl 720h]      Mint a bearer token")
		fmt.Println("  create --agent TYPE --input JSON   Enqueue a task")
		fmt.Println("  query ID                           Show a task")
		fmt.Println("  wait ID                            Follow a task until it finishes")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(args)
	case "token":
		err = runToken(args)
	case "create":
		err = runCreate(ctx, args)
	case "query":
		err = runQuery(ctx, args)
	case "wait":
		err = runWait(ctx, args)
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

	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	color.New(color.FgCyan).Println("mesh-queue")
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.LoadQueue(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer func() { _ = closeLog() }()

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	if cfg.Server.HTTPAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	}
	if cfg.Auth.JWTSecret == "" {
		color.New(color.FgYellow).Println("    ! auth disabled")
	}
	fmt.Println()

	srv, err := queueserver.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runInit(args []string) error {
	outputFile := getConfigPath()
	if len(args) > 0 {
		outputFile = args[0]
	}

	if _, err := os.Stat(outputFile); err == nil {
		return fmt.Errorf("%s already exists, remove it first to regenerate", outputFile)
	}
	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(config.StarterQueueYAML), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("Config written to %s\n", outputFile)
	fmt.Println("\nTo start the queue:")
	fmt.Println("  mesh-queue serve")
	return nil
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	sub := fs.String("sub", "", "token subject, e.g. the manager's name")
	ttl := fs.Duration("ttl", 30*24*time.Hour, "token lifetime")
	_ = fs.Parse(args)

	if *sub == "" {
		return errors.New("--sub is required")
	}

	cfg, err := config.LoadQueue(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not set, tokens are not needed")
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating verifier: %w", err)
	}
	token, err := verifier.Generate(*sub, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

// clientFlags registers the flags shared by the client subcommands.
func clientFlags(fs *flag.FlagSet) *config.RemoteConfig {
	rc := &config.RemoteConfig{Timeout: config.Duration(30 * time.Second)}
	fs.StringVar(&rc.Transport, "transport", config.TransportHTTP, "http or grpc")
	fs.StringVar(&rc.URL, "url", "http://127.0.0.1:8088", "queue HTTP base URL")
	fs.StringVar(&rc.GRPCAddr, "grpc", "127.0.0.1:50061", "queue gRPC address")
	fs.StringVar(&rc.Token, "token", os.Getenv("MESH_TOKEN"), "bearer token")
	return rc
}

func newClient(rc *config.RemoteConfig) (queue.Client, error) {
	c, err := queue.New(*rc, nil)
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}
	return c, nil
}

func runCreate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	rc := clientFlags(fs)
	agentType := fs.String("agent", "", "agent type to run the task")
	input := fs.String("input", "{}", "task payload as a JSON object")
	apiKey := fs.String("api-key", "", "credential forwarded to the handler")
	origin := fs.String("origin", "", "origin task ID for nested calls")
	_ = fs.Parse(args)

	if *agentType == "" {
		return errors.New("--agent is required")
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(*input), &payload); err != nil {
		return fmt.Errorf("parsing --input: %w", err)
	}

	c, err := newClient(rc)
	if err != nil {
		return err
	}
	defer c.Close()

	id, err := c.CreateTask(ctx, task.CreateRequest{
		AgentType:    *agentType,
		Payload:      payload,
		APIKey:       *apiKey,
		OriginTaskID: *origin,
	})
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func taskID(fs *flag.FlagSet) (string, error) {
	if fs.NArg() < 1 {
		return "", errors.New("task ID is required")
	}
	return fs.Arg(0), nil
}

func runQuery(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	rc := clientFlags(fs)
	_ = fs.Parse(args)

	id, err := taskID(fs)
	if err != nil {
		return err
	}
	c, err := newClient(rc)
	if err != nil {
		return err
	}
	defer c.Close()

	rec, err := c.QueryTask(ctx, id)
	if err != nil {
		return err
	}
	printRecord(rec)
	return nil
}

func runWait(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("wait", flag.ExitOnError)
	rc := clientFlags(fs)
	interval := fs.Duration("interval", time.Second, "poll interval")
	_ = fs.Parse(args)

	id, err := taskID(fs)
	if err != nil {
		return err
	}
	c, err := newClient(rc)
	if err != nil {
		return err
	}
	defer c.Close()

	gray := color.New(color.FgHiBlack)
	seen := 0
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		rec, err := c.QueryTask(ctx, id)
		if err != nil {
			return err
		}
		for _, ev := range rec.Events[min(seen, len(rec.Events)):] {
			gray.Printf("  [%d] ", ev.Seq)
			fmt.Println(ev.Content)
		}
		seen = max(seen, len(rec.Events))

		if rec.Status.Terminal() {
			fmt.Println()
			printRecord(rec)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func printRecord(rec *task.Record) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	fmt.Printf("Task:    %s\n", rec.ID)
	fmt.Printf("Agent:   %s\n", rec.AgentType)
	fmt.Print("Status:  ")
	switch rec.Status {
	case task.StatusFinished:
		green.Println(rec.Status)
	case task.StatusFailed, task.StatusExpired:
		red.Println(rec.Status)
	default:
		yellow.Println(rec.Status)
	}
	if rec.Latency > 0 {
		fmt.Printf("Latency: %s\n", rec.Latency.Round(time.Millisecond))
	}
	if rec.Error != "" {
		fmt.Printf("Error:   %s\n", rec.Error)
	}
	if len(rec.Result) > 0 {
		out, err := json.MarshalIndent(rec.Result, "", "  ")
		if err == nil {
			fmt.Printf("Result:  %s\n", out)
		}
	}
	fmt.Printf("Steps:   %d\n", len(rec.Events))
}
