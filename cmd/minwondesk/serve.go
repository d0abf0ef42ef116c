package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"minwondesk/internal/bootstrap"
	"minwondesk/internal/kiosk"
	"minwondesk/internal/logging"
	"minwondesk/internal/store"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dialogue controller and the kiosk HTTP/websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			hub := kiosk.NewHub(logger.Named("kiosk"))
			services, err := bootstrap.Build(ctx, cfg, bootstrap.Options{Events: hub, Logger: logger})
			if err != nil {
				return err
			}
			defer services.Close()

			return serve(ctx, services, hub, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides MINWON_HTTP_ADDR)")
	return cmd
}

func serve(ctx context.Context, services bootstrap.Services, hub *kiosk.Hub, logger *zap.Logger) error {
	cfg := services.Config
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	controllerDone := make(chan error, 1)
	go func() { controllerDone <- services.Controller.Run(runCtx) }()

	if services.Backlog != nil {
		go drainBacklog(runCtx, services.Backlog, cfg.Store.RetryInterval, logger.Named("backlog"))
	}

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: kiosk.NewRouter(kiosk.Config{
			Controller:     services.Controller,
			Hub:            hub,
			MetricsHandler: promhttp.Handler(),
			Logger:         logger.Named("http"),
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("kiosk server listening",
			zap.String("addr", srv.Addr),
			zap.Bool("voice_input", cfg.Session.VoiceInput),
			zap.String("store", cfg.Store.Backend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down kiosk server")
	case err := <-serverErr:
		runErr = err
	case err := <-controllerDone:
		runErr = err
		controllerDone = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	hub.Close()

	cancelRun()
	if controllerDone != nil {
		if err := <-controllerDone; err != nil && runErr == nil {
			runErr = err
		}
	}
	logger.Info("kiosk server stopped")
	return runErr
}

// drainBacklog replays complaints parked in Redis while the primary store was down.
func drainBacklog(ctx context.Context, backlog *store.FallbackStore, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sent, err := backlog.Drain(ctx)
			if sent > 0 {
				logger.Info("replayed queued complaints", zap.Int("count", sent))
			}
			if err != nil && ctx.Err() == nil {
				logger.Warn("backlog replay stopped", zap.Error(err))
			}
		}
	}
}
