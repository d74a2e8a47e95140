package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/copyedit/internal/api"
	"github.com/dgallion1/copyedit/internal/config"
	"github.com/dgallion1/copyedit/internal/pipeline"
	"github.com/dgallion1/copyedit/internal/store"
)

func serveCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP review service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

			cfg := config.Load()
			if port != "" {
				cfg.Port = port
			}
			if err := cfg.ValidateServer(); err != nil {
				log.Error("invalid configuration", "error", err)
				return err
			}
			return serve(cmd.Context(), cfg, log)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (default: $PORT or 8090)")
	return cmd
}

func serve(parent context.Context, cfg config.Config, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// Initialize history.
	history, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer history.Close()
	if err := history.Migrate(ctx); err != nil {
		return err
	}

	eng, err := newEngine(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer eng.Close()
	eng.deps.History = history

	// Initialize pipeline.
	svc := pipeline.NewService(cfg, eng.deps, log)
	svc.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(svc, history, eng.stats, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigCh:
		case <-ctx.Done():
		}
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		svc.Stop()
	}()

	log.Info("starting copyedit", "port", cfg.Port, "provider", cfg.Provider, "model", cfg.Model)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		return fmt.Errorf("listen: %w", err)
	}
	<-done
	return nil
}
