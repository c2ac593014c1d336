package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harun/toolbox/internal/config"
	"github.com/harun/toolbox/internal/tracing"
	"github.com/harun/toolbox/pkg/mcpserver"
)

var (
	listenAddr  string
	watchConfig bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the configured tools over MCP",
	Long: `Serve the configured tools as a Model Context Protocol server.
By default the server speaks newline-delimited JSON-RPC on stdin/stdout.
With --listen it serves a websocket at /mcp instead, alongside /metrics
and /healthz.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "serve over websocket on this address instead of stdio")
	serveCmd.Flags().BoolVar(&watchConfig, "watch", false, "reload tools when the config file changes")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	a, err := newApp(cfgFile, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := tracing.InitOpenTelemetry(ctx, tracing.Config{
		ServiceName:    cfg.Server.Name,
		ServiceVersion: cfg.Server.Version,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
	}); err != nil {
		a.logger.Warn().Err(err).Msg("Tracing disabled")
	}
	defer func() {
		if err := tracing.ShutdownOpenTelemetry(context.Background()); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to flush traces")
		}
	}()

	if watchConfig {
		watcher, err := config.NewWatcher(config.WatcherConfig{
			Path:     cfgFile,
			OnReload: a.reload,
			OnError:  a.reloadFailed,
			Logger:   a.log.GetZerolog(),
		})
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to watch config: %w", err)
		}
		defer func() { _ = watcher.Stop() }()
	}

	if listenAddr != "" {
		err = a.server.ListenAndServe(ctx, mcpserver.HTTPOptions{
			Addr:        listenAddr,
			Metrics:     a.metrics.Handler(),
			Connections: a.metrics,
		})
	} else {
		err = a.server.ServeStdio(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	}

	if errors.Is(err, context.Canceled) {
		a.logger.Info().Msg("Shutting down")
		return nil
	}
	return err
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
