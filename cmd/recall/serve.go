package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/recallhq/recall/internal/api"
	"github.com/recallhq/recall/internal/backend"
	"github.com/recallhq/recall/internal/config"
	"github.com/recallhq/recall/internal/embedq"
	"github.com/recallhq/recall/internal/pgstore"
	"github.com/recallhq/recall/internal/provider"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the memory server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "recall version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := backend.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening %s backend: %w", cfg.Backend, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing store: %v\n", err)
		}
	}()
	slog.Info("store opened", "backend", cfg.Backend)

	embedder := provider.NewOllama(cfg.Embedding.BaseURL, cfg.Embedding.Model,
		cfg.Embedding.Dimensions, cfg.Embedding.Timeout)

	deps := api.Deps{
		Store: store,
		Token: cfg.Server.APIToken,
	}

	// The embedding worker only exists for the relational backend; the
	// file backend has no queue to drain.
	var workerDone chan struct{}
	if pg, ok := store.(*pgstore.Store); ok {
		deps.Queue = pg
		deps.Embedder = embedder

		if !embedder.IsRunning(ctx) {
			printWarning("Ollama is not reachable at %s; embedding jobs will retry", cfg.Embedding.BaseURL)
		}

		worker := embedq.NewWorker(pg, embedder, cfg.Queue.Workers, cfg.Queue.LeaseTimeout, cfg.Queue.PollInterval)
		workerDone = make(chan struct{})
		go func() {
			worker.Run(ctx)
			close(workerDone)
		}()
		slog.Info("embedding worker started", "workers", cfg.Queue.Workers)
	}

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.NewHandler(deps),
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "recall listening on %s\n", cfg.Server.Addr)
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

	// Stop accepting requests, then wait for the worker to finish its
	// current jobs. Leases cover anything left mid-flight.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if workerDone != nil {
		stop()
		<-workerDone
		slog.Info("embedding worker drained")
	}
	return nil
}
