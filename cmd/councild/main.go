// Councild is the council hub daemon: scheduled ceremonies, council
// deliberations and the collective field, bridged to chat over NATS or the
// HTTP webhook.
//
// Usage:
//
//	# Start the daemon with ~/.config/councild/config.yaml
//	councild serve
//
//	# Run an in-process NATS broker alongside the hub
//	councild serve --embedded-nats
//
//	# Serve MCP tools on stdio
//	councild mcp
//
// Every config key can be overridden from the environment with the
// COUNCILD_ prefix, e.g. COUNCILD_SERVER_HTTP_PORT=9292.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/councild/internal/config"
	httpapi "github.com/fyrsmithlabs/councild/internal/http"
	"github.com/fyrsmithlabs/councild/internal/logging"
	"github.com/fyrsmithlabs/councild/internal/mcp"
	"github.com/fyrsmithlabs/councild/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath   string
	embeddedNATS bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "councild",
	Short: "Council hub daemon",
	Long: `councild runs the council hub: ceremonies on a cron calendar, council
deliberations, the collective field and the wisdom archive.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hub and its HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the council tools over MCP stdio",
	Long: `Run the hub in-process and expose it as MCP tools on stdin/stdout.
Logs go to stderr.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runMCP(ctx)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "councild by Fyrsmith Labs\n")
		fmt.Fprintf(out, "Version:    %s\n", version)
		fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
		fmt.Fprintf(out, "Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/councild/config.yaml)")
	serveCmd.Flags().BoolVar(&embeddedNATS, "embedded-nats", false, "run an in-process NATS server")
	mcpCmd.Flags().BoolVar(&embeddedNATS, "embedded-nats", false, "run an in-process NATS server")

	rootCmd.AddCommand(serveCmd, mcpCmd, versionCmd)
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if embeddedNATS {
		cfg.NATS.Enabled = true
		cfg.NATS.Embedded = true
	}
	return cfg, nil
}

// initObservability starts telemetry and builds the logger on top of it.
func initObservability(ctx context.Context, cfg *config.Config, stderr bool) (*telemetry.Telemetry, *logging.Logger, error) {
	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Observability, version))
	if err != nil {
		return nil, nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging, cfg.Observability.ServiceName)
	if err != nil {
		return nil, nil, err
	}
	logCfg.Output.Stderr = stderr
	logCfg.Output.OTEL = cfg.Observability.EnableTelemetry

	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return nil, nil, fmt.Errorf("initializing logger: %w", err)
	}
	return tel, logger, nil
}

// runServe starts the hub and the HTTP API and blocks until ctx is
// cancelled, then shuts everything down in reverse order.
func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tel, logger, err := initObservability(ctx, cfg, false)
	if err != nil {
		return err
	}
	zl := logger.Underlying()
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting councild",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("transport", cfg.Transport.Kind),
		zap.Bool("nats", cfg.NATS.Enabled),
	)

	a, err := newApp(cfg, tel, zl)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.hub.Start(ctx); err != nil {
		return fmt.Errorf("starting hub: %w", err)
	}

	srv, err := httpapi.NewServer(a.hub.Registry(), zl, &httpapi.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration(),
		Version:         version,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	serveErr := srv.Start(ctx)
	if errors.Is(serveErr, http.ErrServerClosed) {
		serveErr = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := a.hub.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "hub shutdown incomplete", zap.Error(err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "telemetry shutdown failed", zap.Error(err))
	}

	logger.Info(shutdownCtx, "councild stopped")
	return serveErr
}

// runMCP runs the hub in-process and serves it over MCP stdio.
func runMCP(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tel, logger, err := initObservability(ctx, cfg, true)
	if err != nil {
		return err
	}
	zl := logger.Underlying()
	defer func() {
		_ = logger.Sync()
	}()

	a, err := newApp(cfg, tel, zl)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.hub.Start(ctx); err != nil {
		return fmt.Errorf("starting hub: %w", err)
	}

	srv, err := mcp.NewServer(&mcp.Config{
		Name:    "councild",
		Version: version,
		Logger:  zl,
	}, a.hub.Registry())
	if err != nil {
		return fmt.Errorf("creating mcp server: %w", err)
	}

	runErr := srv.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := a.hub.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "hub shutdown incomplete", zap.Error(err))
	}
	_ = tel.Shutdown(shutdownCtx)

	if ctx.Err() != nil {
		return nil
	}
	return runErr
}
