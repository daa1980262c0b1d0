package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kardiachain/dao-ledger/cfg"
	"github.com/kardiachain/dao-ledger/governance"
	"github.com/kardiachain/dao-ledger/metrics"
	"github.com/kardiachain/dao-ledger/server"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using environment")
	}

	runtime.GOMAXPROCS(runtime.NumCPU())
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
	logger = logger.With(zap.String("service", "sweeper"))
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	srvConfig := server.ConfigFrom(serviceCfg)
	srvConfig.Metrics = metrics.New()
	srvConfig.Logger = logger
	srv, err := server.New(srvConfig)
	if err != nil {
		logger.Panic("cannot create server instance", zap.Error(err))
	}
	defer func() {
		if err := srv.Close(context.Background()); err != nil {
			logger.Warn("cannot close server", zap.Error(err))
		}
	}()

	sweeper(ctx, srv.Engine, serviceCfg.SweepInterval, logger)
}

// sweeper resolves overdue proposals every interval until ctx is done.
func sweeper(ctx context.Context, engine *governance.Engine, interval time.Duration, logger *zap.Logger) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			resolved, err := engine.SweepDue(ctx)
			if err != nil {
				logger.Warn("sweep finished with errors", zap.Int("resolved", resolved), zap.Error(err))
				continue
			}
			if resolved > 0 {
				logger.Info("swept due proposals", zap.Int("resolved", resolved))
			}
		}
	}
}
