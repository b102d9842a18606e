package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/jhm/internal/api"
	"github.com/kalambet/jhm/internal/config"
	"github.com/kalambet/jhm/internal/datastore"
	"github.com/kalambet/jhm/internal/events"
	"github.com/kalambet/jhm/internal/extsync"
	"github.com/kalambet/jhm/internal/housekeeping"
	"github.com/kalambet/jhm/internal/kvstore"
	"github.com/kalambet/jhm/internal/migration"
	"github.com/kalambet/jhm/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the jhm server (foreground)",
	Long: `Start the jhm server in the foreground.

The HTTP API listens on 127.0.0.1. With --mcp the MCP tools are also served
over stdin/stdout; logs always go to stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show jhm server and storage status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
}

func parseLogLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// openStores builds the object store, the key-value fallback and the
// migration engine under dataDir.
func openStores(cfg config.Config, logger *slog.Logger) (*storage.Store, *kvstore.Store, *migration.Engine) {
	dir := cfg.Storage.DataDir
	primary := storage.New(dir, storage.WithLogger(logger))
	kv := kvstore.New(kvstore.NewFileMedium(filepath.Join(dir, "kv.json")), cfg.Storage.KVQuotaBytes)
	backups := kvstore.New(kvstore.NewFileMedium(filepath.Join(dir, "kv-backup.json")), 0)
	engine := migration.New(kv, primary).WithBackupStore(backups)
	return primary, kv, engine
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "jhm version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging. stdout belongs to MCP when enabled.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	if cfg.Server.APIToken == "" {
		printWarning("no API token configured; the HTTP API accepts unauthenticated requests from this machine")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()
	migrateOpts := migration.Options{
		BackupSource:     cfg.Migration.BackupSource,
		ClearSourceAfter: cfg.Migration.ClearSourceAfter,
	}

	primary, kv, engine := openStores(cfg, logger)
	defer func() {
		if err := primary.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	data := datastore.New(primary, kv, engine, datastore.Options{
		OpenTimeout: cfg.Storage.OpenTimeoutDuration(),
		Migration:   migrateOpts,
		Bus:         bus,
		Logger:      logger,
	})
	if err := data.Init(ctx); err != nil {
		if ctx.Err() != nil {
			return err
		}
		// The selected backend stays usable; the error is reported on /health.
		printWarning("storage initialized with errors: %v", err)
	}
	slog.Info("storage ready", "mode", data.Mode(), "data_dir", cfg.Storage.DataDir)

	var reconciler *extsync.Reconciler
	if s := data.Store(); s != nil {
		reconciler = extsync.New(s, extsync.Options{
			HandshakeTimeout: cfg.Sync.HandshakeTimeoutDuration(),
			PullTimeout:      cfg.Sync.PullTimeoutDuration(),
			Bus:              bus,
		})
		if interval := cfg.Storage.MaintenanceIntervalDuration(); interval > 0 {
			go housekeeping.NewWorker(s, interval, bus).Run(ctx)
		}
	} else {
		slog.Warn("extension sync disabled: object store not active")
	}

	hub := api.NewHub()
	detach := hub.Attach(bus)
	defer detach()
	go hub.Run(ctx)

	handler := api.NewHandler(api.Deps{
		Data:      data,
		Sync:      reconciler,
		Hub:       hub,
		Token:     cfg.Server.APIToken,
		Migration: migrateOpts,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Data: data, Sync: reconciler})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "jhm listening on %s\n", addr)
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

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	client.httpClient.Timeout = 2 * time.Second

	var health struct {
		Status    string          `json:"status"`
		Mode      string          `json:"mode"`
		InitError string          `json:"initError"`
		Storage   *storage.Health `json:"storage"`
		Extension *bool           `json:"extension"`
	}
	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	}
	if err := decodeJSON(resp, &health); err != nil {
		printStatus("Server", "error (%v)", err)
		return nil
	}

	state := colorize(colorGreen, health.Status)
	if health.Status != "ok" {
		state = colorize(colorYellow, health.Status)
	}
	printStatus("Server", "running on port %d (%s)", cfg.Server.Port, state)
	printStatus("Storage", "%s", health.Mode)
	if health.InitError != "" {
		printStatus("Init error", "%s", colorize(colorRed, health.InitError))
	}
	if health.Extension != nil {
		printStatus("Extension", "%s", availability(*health.Extension))
	}

	statsResp, err := client.get(ctx, "/stats")
	if err == nil {
		var st storage.Stats
		if decodeJSON(statsResp, &st) == nil {
			printStatus("Jobs", "%s", countLabel(st.Jobs))
			printStatus("Resumes", "%s", countLabel(st.Resumes))
			printStatus("Letters", "%s", countLabel(st.Letters))
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(n int) string {
	if n < 0 {
		return "unknown"
	}
	return fmt.Sprintf("%d", n)
}
