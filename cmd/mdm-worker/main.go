package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetmdm/controlplane/internal/app"
	"github.com/fleetmdm/controlplane/internal/config"
	"github.com/fleetmdm/controlplane/internal/metrics"
	"github.com/fleetmdm/controlplane/pkg/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.InitLogs().WithError(err).Fatal("reading configuration")
	}

	logger := log.InitLogs(cfg.Service.LogLevel)
	if err := runCmd(cfg, logger); err != nil {
		logger.WithError(err).Fatal("worker service error")
	}
}

const metricsAddress = ":9090"

func runCmd(cfg *config.Config, log *logrus.Logger) error {
	log.Info("starting mdm-worker")
	defer log.Info("mdm-worker stopped")

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer cancel()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("building application: %w", err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		application.Close(closeCtx)
	}()

	if err := application.StartBackgroundWork(ctx); err != nil {
		return fmt.Errorf("starting background work: %w", err)
	}

	go pollPoolStats(ctx, application, log)

	metricsSrv := &http.Server{Addr: metricsAddress, Handler: promhttp.Handler()}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("address", metricsAddress).Info("metrics server listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
			return
		}
		errCh <- nil
	}()

	log.Info("worker started, waiting for shutdown signal...")
	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("error shutting down metrics server")
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// pollPoolStats feeds the DB pool utilization gauges (spec §5 WARN/
// CRITICAL thresholds) until ctx is cancelled.
func pollPoolStats(ctx context.Context, a *app.Application, log *logrus.Logger) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			inUse, maxOpen, err := a.Store.PoolStats()
			if err != nil {
				log.WithError(err).Warn("reading database pool stats")
				continue
			}
			metrics.ObservePoolUtilization(inUse, maxOpen)
			metrics.LogPoolHealth(log, inUse, maxOpen)
		}
	}
}
