package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/promptbench/internal/anthropic"
	"github.com/kalambet/promptbench/internal/api"
	"github.com/kalambet/promptbench/internal/config"
	"github.com/kalambet/promptbench/internal/evaluator"
	"github.com/kalambet/promptbench/internal/promptgen"
	"github.com/kalambet/promptbench/internal/rulegen"
	"github.com/kalambet/promptbench/internal/storage"
	"github.com/kalambet/promptbench/internal/suggest"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the promptbench server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running promptbench server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show promptbench system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the workbench over MCP on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "promptbench.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func newGateway(cfg config.Config) *anthropic.Client {
	if cfg.Anthropic.BaseURL != "" {
		return anthropic.NewClientWithBaseURL(cfg.Anthropic.APIKey, cfg.Anthropic.Model, cfg.Anthropic.BaseURL)
	}
	return anthropic.NewClient(cfg.Anthropic.APIKey, cfg.Anthropic.Model)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "promptbench version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	setupLogging(cfg.Log.Level)

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("promptbench is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("promptbench is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the LLM gateway and services around it.
	gateway := newGateway(cfg)
	generator := promptgen.New(store, gateway)
	eval := evaluator.New(store, gateway)
	synth := rulegen.New(store, gateway)
	suggestions := suggest.New(store, gateway, generator)
	slog.Info("LLM gateway ready", "model", gateway.Model())

	handler := api.NewAppHandler(api.AppDeps{
		Store:       store,
		Evaluator:   eval,
		Generator:   generator,
		Suggestions: suggestions,
		Synthesizer: synth,
		Token:       cfg.Server.APIToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Start the rule synthesis worker.
	worker := rulegen.NewWorker(store, synth, 500*time.Millisecond)
	go worker.Run(ctx)

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "promptbench listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runMCP serves the workbench tools over stdio for MCP clients that
// spawn the binary directly. Logs go to stderr, stdout carries the
// protocol.
func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	setupLogging(cfg.Log.Level)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gateway := newGateway(cfg)
	generator := promptgen.New(store, gateway)
	synth := rulegen.New(store, gateway)

	// Rule synthesis jobs queued by add_knowledge are drained here too,
	// since no HTTP server is running alongside.
	worker := rulegen.NewWorker(store, synth, 500*time.Millisecond)
	go worker.Run(ctx)

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:       store,
		Evaluator:   evaluator.New(store, gateway),
		Suggestions: suggest.New(store, gateway, generator),
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func stopServer() error {
	cfg := config.LoadClient()

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("promptbench is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop promptbench (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to promptbench (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg := config.LoadClient()
	ctx := context.Background()

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := healthClient.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Model", "%s", cfg.Anthropic.Model)

	// Show workbench counts if the server is up.
	if running {
		client, err := newAPIClient()
		if err == nil {
			if kResp, err := client.get(ctx, "/knowledge"); err == nil {
				var entries []map[string]any
				if decodeJSON(kResp, &entries) == nil {
					printStatus("Knowledge entries", "%d", len(entries))
				}
			}
			if rResp, err := client.get(ctx, "/rules?active=true"); err == nil {
				var rules []map[string]any
				if decodeJSON(rResp, &rules) == nil {
					printStatus("Active rules", "%d", len(rules))
				}
			}
			if pResp, err := client.get(ctx, "/prompts/active"); err == nil {
				var active struct{ Name string }
				if pResp.StatusCode == 200 && decodeJSON(pResp, &active) == nil {
					printStatus("Active prompt", "%s", active.Name)
				} else {
					pResp.Body.Close()
					printStatus("Active prompt", "none")
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
