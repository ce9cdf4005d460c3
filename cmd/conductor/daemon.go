package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/berinia/conductor/internal/app"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var listenAddr string

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the conductor daemon",
	Long:  `Starts the conductor daemon which serves the HTTP API and dispatches queued campaigns.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync()
	if listenAddr != "" {
		cfg.Server.Addr = listenAddr
	}

	logger.Info("starting conductor daemon", zap.String("config", configPath))
	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}

	a.Scheduler.Start()

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		err := a.Server.Start()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			runErr = err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", zap.Error(err))
	}
	// Running campaigns end failed with reason "cancelled".
	a.Scheduler.Stop()

	if err := a.Close(); err != nil {
		logger.Warn("store close error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return runErr
}
