package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fentz26/hive/internal/app"
	"github.com/fentz26/hive/internal/config"
	"github.com/fentz26/hive/internal/controlplane"
	"github.com/fentz26/hive/internal/logging"
	"github.com/spf13/cobra"
)

var (
	configPath string
	listenAddr string
	dbPath     string
	logLevel   string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the hive daemon",
	Long:  `Starts the hive daemon: the topic bus, the task-queue node, configured observers and the HTTP API.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&configPath, "config", config.DefaultPath(), "Path to config file (.yaml or .toml)")
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides config)")
	daemonCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (overrides config)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.API.Listen = listenAddr
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	log.WithField("config", configPath).Info("starting hive daemon")

	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}

	service := controlplane.NewService(a.Store, a.Bus, a.Nodes, a.Audit)
	server := controlplane.NewServer(service, cfg.API.Listen, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		a.Shutdown(context.Background())
		return err
	}

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		err := server.Start()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("initiating graceful shutdown")
	case err := <-serverErr:
		if err != nil {
			log.WithError(err).Error("server error")
			runErr = err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info("shutting down HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown error")
	}

	if err := a.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown incomplete")
	}
	cancel()

	log.Info("shutdown complete")
	return runErr
}
