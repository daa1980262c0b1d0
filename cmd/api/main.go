package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kardiachain/dao-ledger/api"
	"github.com/kardiachain/dao-ledger/cfg"
	"github.com/kardiachain/dao-ledger/metrics"
	"github.com/kardiachain/dao-ledger/server"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using environment")
	}

	serviceCfg, err := cfg.New()
	if err != nil {
		panic(err.Error())
	}
	if err := setupSentry(serviceCfg); err != nil {
		panic(err)
	}
	defer sentry.Flush(2 * time.Second)

	logger, err := newLogger(serviceCfg)
	if err != nil {
		panic("cannot init logger")
	}
	logger.Info("Start API server...")

	defer func() {
		if err := recover(); err != nil {
			logger.Error("cannot recover", zap.Any("panic", err))
		}
		_ = logger.Sync()
	}()

	srvConfig := server.ConfigFrom(serviceCfg)
	srvConfig.Metrics = metrics.New()
	srvConfig.Logger = logger
	srv, err := server.New(srvConfig)
	if err != nil {
		logger.Panic("cannot create server instance", zap.Error(err))
	}

	e := api.NewEcho(api.New(srv, api.Config{
		HttpRequestSecret: serviceCfg.HttpRequestSecret,
		JWTSecret:         serviceCfg.JWTSecret,
		Logger:            logger,
	}))
	go func() {
		if err := api.Start(e, serviceCfg.Port, logger); err != nil {
			logger.Error("API server stopped", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("cannot shutdown API server", zap.Error(err))
	}
	if err := srv.Close(ctx); err != nil {
		logger.Warn("cannot close server", zap.Error(err))
	}
}
