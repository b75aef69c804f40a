package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"healthrecords-backend/internal/bootstrap"
	"healthrecords-backend/internal/shared/config"
	"healthrecords-backend/internal/shared/server"
	"healthrecords-backend/internal/shared/telemetry"
)

const resubmitLimit = 500

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.S().Fatalf("config: %v", err)
	}
	if _, err := telemetry.Init(cfg.LogLevel, cfg.Env); err != nil {
		zap.S().Fatalf("logger: %v", err)
	}
	defer telemetry.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		zap.S().Fatalf("bootstrap build: %v", err)
	}
	app.ChatPool.Start()
	if cfg.DispatchMode == "inline" || cfg.DispatchMode == "" {
		app.Pool.Start()
		// Jobs held in memory by a previous process are gone; pick their
		// documents up again.
		n, err := app.DocumentsService.Resubmit(ctx, resubmitLimit)
		if err != nil {
			zap.S().Warnf("resubmit unfinished documents: %v", err)
		} else if n > 0 {
			zap.S().Infof("resubmitted %d unfinished documents", n)
		}
	}

	srv := &http.Server{
		Addr:              server.Addr(cfg.Port),
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		zap.S().Infof("Starting API server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			zap.S().Errorf("server error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.S().Warnf("http shutdown: %v", err)
	}
	if err := app.Close(shutdownCtx); err != nil {
		zap.S().Warnf("shutdown: %v", err)
	}
}
