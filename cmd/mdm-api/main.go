package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetmdm/controlplane/internal/apiserver"
	"github.com/fleetmdm/controlplane/internal/app"
	"github.com/fleetmdm/controlplane/internal/config"
	"github.com/fleetmdm/controlplane/pkg/log"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.InitLogs().WithError(err).Fatal("reading configuration")
	}

	logger := log.InitLogs(cfg.Service.LogLevel)
	if err := runCmd(cfg, logger); err != nil {
		logger.WithError(err).Fatal("API service error")
	}
}

func runCmd(cfg *config.Config, log *logrus.Logger) error {
	log.Info("starting mdm-api")
	defer log.Info("mdm-api stopped")

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

	router := apiserver.NewRouter(application.APIServerDeps())
	srv := &http.Server{
		Addr:              cfg.Service.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("address", cfg.Service.Address).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, draining HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("error shutting down HTTP server")
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
