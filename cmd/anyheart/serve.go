package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/alexhamidi/anyheart"
	"github.com/alexhamidi/anyheart/internal/cli"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP backend",
	Long: `Starts the agent session backend: the REST API with its SSE and WebSocket
event streams, the share endpoints, /metrics and the share sweeper.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}
		logger := cli.NewLogger(cfg, false, false)

		backend, err := anyheart.New(cfg, anyheart.WithLogger(logger))
		if err != nil {
			return err
		}
		defer func() {
			if err := backend.Close(); err != nil {
				logger.Warn("Backend close failed", "err", err)
			}
		}()

		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           backend.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		sc := cli.NewSignalContext(cmd.Context())
		defer sc.Cancel()
		g, ctx := errgroup.WithContext(sc)

		g.Go(func() error {
			logger.Info("Starting anyheart server", "addr", srv.Addr, "storage", cfg.Storage.Backend, "version", anyheart.Version)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			backend.RunSweeper(ctx, cfg.Server.SweepInterval)
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			logger.Info("Shutting down", "signal", sc.Signal())
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
				return srv.Close()
			}
			return nil
		})

		if err := g.Wait(); err != nil {
			return err
		}
		logger.Info("anyheart server stopped gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", "", "Address to listen on (overrides server.addr)")
}
