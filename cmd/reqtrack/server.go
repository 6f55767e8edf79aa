package main

import (
	"context"
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

	"github.com/spf13/cobra"

	"github.com/reqtrack/reqtrack/internal/api"
	"github.com/reqtrack/reqtrack/internal/config"
	"github.com/reqtrack/reqtrack/internal/ingest"
	"github.com/reqtrack/reqtrack/internal/position"
	"github.com/reqtrack/reqtrack/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the reqtrack server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		memory, _ := cmd.Flags().GetBool("memory")
		seed, _ := cmd.Flags().GetString("seed")
		return runServer(memory, seed)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running reqtrack server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show reqtrack system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().Bool("memory", false, "keep positions in memory only (no durable store)")
	serveCmd.Flags().String("seed", "", "spreadsheet (.xlsx or .csv) to bulk-ingest at startup")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "reqtrack.pid")
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

func runServer(memory bool, seed string) error {
	fmt.Fprintf(os.Stderr, "reqtrack version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Check if a server is already running before claiming the PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("reqtrack is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("reqtrack is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage: durable SQLite by default, transient with --memory.
	var store storage.PositionStore
	if memory {
		store = storage.NewMemStore()
		slog.Info("using in-memory store")
	} else {
		store, err = storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		slog.Info("using sqlite store", "data_dir", cfg.Storage.DataDir)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	if seed != "" {
		if err := seedStore(store, seed); err != nil {
			return fmt.Errorf("seeding from %s: %w", seed, err)
		}
	}

	handler := api.NewHandler(api.AppDeps{Store: store, Logger: slog.Default()})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "reqtrack listening on %s\n", addr)
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

// seedStore bulk-ingests a spreadsheet export through the normalizer.
func seedStore(store storage.PositionStore, path string) error {
	rows, err := ingest.ReadFile(path)
	if err != nil {
		return err
	}
	created := 0
	for _, row := range rows {
		if _, err := store.Create(row); err != nil {
			slog.Warn("skipping seed row", "error", err)
			continue
		}
		created++
	}
	slog.Info("seeded positions", "file", path, "created", created, "rows", len(rows))
	return nil
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("reqtrack is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop reqtrack (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to reqtrack (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	c, err := newAPIClient()
	if err != nil {
		printError("client error: %v", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.Health(ctx); err != nil {
		printStatus("Server", "stopped")
	} else {
		printStatus("Server", "running at %s", cfg.Client.BaseURL)

		if positions, err := c.List(ctx); err == nil {
			filled := 0
			for _, p := range positions {
				if p.Status == position.StatusFilled {
					filled++
				}
			}
			printStatus("Positions", "%d total, %d filled", len(positions), filled)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
