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

	"github.com/kalambet/stockmeta/internal/api"
	"github.com/kalambet/stockmeta/internal/config"
	"github.com/kalambet/stockmeta/internal/pipeline"
	"github.com/kalambet/stockmeta/internal/provider"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control API (and MCP over stdio) in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", true, "serve MCP tools on stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "stockmeta.pid")
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

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "stockmeta version %s\n", version)

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()
	cfg := e.cfg

	// Refuse to start when another instance answers on the port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("stockmeta is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("stockmeta is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("getting API token: %w", err)
	}
	slog.Info("API bearer token available")

	if n, err := e.store.ResetProcessing(); err != nil {
		return fmt.Errorf("recovering queue: %w", err)
	} else if n > 0 {
		slog.Info("requeued items interrupted by a previous shutdown", "count", n)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a, err := e.registry.Get(cfg.Provider.Active); err == nil {
		if err := provider.Prepare(ctx, a, cfg.Provider.Model, os.Stderr); err != nil {
			slog.Warn("active provider is not ready", "provider", a.Name(), "error", err)
		}
	}

	// Settings are re-read on every request.
	settings := func() (pipeline.Settings, error) {
		c, err := loadConfig()
		if err != nil {
			return pipeline.Settings{}, err
		}
		return pipeline.SettingsFromConfig(c)
	}

	handler := api.NewAppHandler(api.AppDeps{
		Service:  e.svc,
		Store:    e.store,
		Keys:     e.keys,
		Settings: settings,
		Token:    apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:     e.store,
			Describer: e.svc,
			Settings:  settings,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "stockmeta listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// An active run is stopped so its history entry is written.
	if run := e.svc.Current(); run != nil && !run.Finished() {
		run.Session.Stop()
		waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if _, err := run.Wait(waitCtx); err != nil {
			slog.Warn("run did not finish before shutdown", "run", run.ID, "error", err)
		}
		cancel()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
