package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/manifoldopt/internal/server"
	"github.com/cwbudde/manifoldopt/internal/store"
)

var (
	serveAddr          string
	serveDataDir       string
	checkpointInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP run server",
	Long: `Starts the HTTP server. Runs are submitted with POST /api/v1/runs, followed
with GET /api/v1/runs/{id}/stream (server-sent events) and exported as
Prometheus metrics on /metrics.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "./data", "Base directory for run storage (empty = keep runs in memory)")
	serveCmd.Flags().DurationVar(&checkpointInterval, "checkpoint-interval", 10*time.Second, "How often running jobs are saved (0 = only at start and end)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	var runStore *store.FSStore
	if serveDataDir != "" {
		var err error
		runStore, err = store.NewFSStore(serveDataDir)
		if err != nil {
			return fmt.Errorf("failed to create run store: %w", err)
		}
	}

	srv := server.NewServer(serveAddr, runStore)
	srv.CheckpointInterval = checkpointInterval

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-sigCh:
		slog.Info("Received signal", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
