package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/md-rashed-zaman/dentbook/libs/config"
	otelx "github.com/md-rashed-zaman/dentbook/libs/otel"
	"github.com/md-rashed-zaman/dentbook/libs/runtime"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/app"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	service := cfg.String("SERVICE_NAME", "booking-service")
	port, err := cfg.Port("PORT", "8083")
	if err != nil {
		return err
	}
	logger := runtime.NewLogger(service, cfg.String("LOG_LEVEL", "info"))

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFrom(cfg, service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("storage init failed", "err", err)
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stores.Close(closeCtx); err != nil {
			logger.Warn("storage close failed", "err", err)
		}
	}()
	logger.Info("storage ready", "backend", stores.Backend)

	a, err := app.New(cfg, logger, stores)
	if err != nil {
		logger.Error("service init failed", "err", err)
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("service close failed", "err", err)
		}
	}()

	publisherDone := make(chan struct{})
	go func() {
		defer close(publisherDone)
		a.Publisher.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           a.Handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	err = runtime.Serve(ctx, srv, logger, 10*time.Second)
	stop()
	<-publisherDone
	return err
}
