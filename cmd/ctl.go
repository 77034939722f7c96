package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/hostnet/internal/brand"
	"grimm.is/hostnet/internal/config"
	"grimm.is/hostnet/internal/ctlplane"
	"grimm.is/hostnet/internal/logging"
	"grimm.is/hostnet/internal/metrics"
)

// metricsInterval is how often link statistics are sampled.
const metricsInterval = 15 * time.Second

// RunCtl runs the privileged control plane daemon until SIGINT or
// SIGTERM. SIGHUP reloads the log level.
func RunCtl(configFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	logger := logging.WithComponent("ctl")
	if err := setProcessName(brand.LowerName + "-ctl"); err != nil {
		logger.Debug("failed to set process name", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := newEngine(cfg, true)
	if err != nil {
		return err
	}
	defer eng.Close()

	// A checkpoint left by a crashed daemon either resumes its timer or
	// rolls back now.
	if err := eng.recover(ctx); err != nil {
		logger.Error("checkpoint recovery failed", "error", err)
	}

	collector := metrics.NewCollector(logging.WithComponent("metrics"), metricsInterval, "")
	go collector.Start()
	defer collector.Stop()

	var metricsSrv *http.Server
	if cfg.MetricsListen != "" {
		metricsSrv = startMetricsServer(cfg.MetricsListen, logger)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.SocketPath), 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	server := ctlplane.NewServer(eng.applier, logging.WithComponent("ctlplane"))
	if err := server.Start(cfg.SocketPath); err != nil {
		return err
	}

	runMainEventLoop(ctx, configFile, logger)

	logger.Info("shutting down")
	if err := server.Stop(); err != nil {
		logger.Warn("failed to stop control plane", "error", err)
	}
	if metricsSrv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to stop metrics server", "error", err)
		}
	}
	return nil
}

func startMetricsServer(addr string, logger *logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}

// runMainEventLoop handles signals until shutdown is requested.
func runMainEventLoop(ctx context.Context, configFile string, logger *logging.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			if sig != syscall.SIGHUP {
				logger.Info("received signal", "signal", sig.String())
				return
			}
			logger.Info("received SIGHUP, reloading configuration")
			cfg, err := config.Load(configFile)
			if err != nil {
				logger.Error("failed to reload configuration", "error", err)
				continue
			}
			// Backends and the socket stay as they are until restart.
			initLogging(cfg)
		}
	}
}
