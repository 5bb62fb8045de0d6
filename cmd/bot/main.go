package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"ratiobot/internal/api"
	"ratiobot/internal/config"
	"ratiobot/internal/engine"
	"ratiobot/internal/exchange"
	"ratiobot/internal/exchange/paper"
	"ratiobot/internal/exchange/primary"
	"ratiobot/internal/logger"
	"ratiobot/internal/notifier"
	"ratiobot/internal/quotes"
	"syscall"
	"time"
)

type closableGateway interface {
	exchange.Gateway
	Close()
}

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logger.New(logger.Config{
		Level:      cfg.Runtime.Log.Level,
		Format:     cfg.Runtime.Log.Format,
		Output:     cfg.Runtime.Log.File,
		MaxSize:    cfg.Runtime.Log.MaxSize,
		MaxBackups: cfg.Runtime.Log.MaxBackups,
		MaxAge:     cfg.Runtime.Log.MaxAge,
		Compress:   cfg.Runtime.Log.Compress,
	})

	logger.WithFields(map[string]interface{}{
		"dry_run": cfg.Runtime.DryRun,
		"listen":  cfg.Server.Listen,
	}).Info("Ratio bot starting.")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := quotes.NewStore()

	// The broker feed is used whenever credentials exist, so a dry run can
	// still trade paper orders against live quotes.
	var live *primary.Gateway
	if cfg.Broker.Username != "" {
		live = primary.New(cfg.Broker, store, logger)
		if err := live.Start(ctx); err != nil {
			logger.WithError(err).Fatal("Could not connect to the broker.")
		}
	}

	var gateway closableGateway
	if cfg.Runtime.DryRun {
		gateway = paper.New(cfg.Paper.FillDelay, logger)
		if live == nil {
			logger.Warn("Dry run without a broker feed: quotes must be pushed through the API.")
		}
	} else {
		if live == nil {
			logger.Fatal("Live trading needs broker credentials.")
		}
		gateway = live
	}

	opts, err := engine.OptionsFromConfig(cfg.Engine)
	if err != nil {
		logger.WithError(err).Fatal("Invalid engine configuration.")
	}
	eng := engine.New(opts, store, gateway, notifier.New(logger, 0), logger)

	go func() {
		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("Report router stopped.")
		}
	}()

	handler := api.NewHandler(eng, store, logger)
	srv := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: api.NewRouter(handler, logger),
	}
	go func() {
		logger.WithFields(map[string]interface{}{"listen": cfg.Server.Listen}).Info("HTTP server listening.")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("HTTP server failed.")
		}
	}()

	<-sigCh
	logger.Info("Shutting down.")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown failed.")
	}

	eng.Close()
	cancel()
	gateway.Close()
	if cfg.Runtime.DryRun && live != nil {
		live.Close()
	}

	logger.Info("Ratio bot stopped.")
}
