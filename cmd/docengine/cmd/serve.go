package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var dataDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server exposing /health, /parse, /index, /search,
/metadata, and /connectors. This is the only surface API consumers should
talk to; every other CLI command is local debugging tooling.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, dataDir)
		},
	}

	cmd.Flags().StringVar(&dataDir, "dir", ".", "Project directory to load .docengine.yaml from")

	return cmd
}

func runServe(ctx context.Context, dir string) error {
	eng, err := buildEngine(ctx, dir)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	if err := eng.sync.StartAllSchedules(ctx); err != nil {
		return fmt.Errorf("start connector schedules: %w", err)
	}
	defer eng.sync.StopAllSchedules()

	httpServer := &http.Server{
		Addr:    eng.cfg.HTTP.BindAddress,
		Handler: eng.server,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("docengine listening", slog.String("addr", eng.cfg.HTTP.BindAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		if err := eng.metrics.Close(); err != nil {
			slog.Warn("flush query metrics on shutdown", slog.String("error", err.Error()))
		}
		return <-serveErr
	case err := <-serveErr:
		return err
	}
}
