// Package main
package main

import (
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kardiachain/dao-ledger/cfg"
)

const serviceName = "sweeper"

// loggerConfig logs JSON in every server mode, tagged with the service.
func loggerConfig(sCfg cfg.LedgerConfig) zap.Config {
	logCfg := zap.NewProductionConfig()
	logCfg.Sampling = nil
	logCfg.InitialFields = map[string]interface{}{"service": serviceName, "mode": sCfg.ServerMode}
	if sCfg.LogLevel == "debug" {
		logCfg.Level.SetLevel(zapcore.DebugLevel)
	}
	return logCfg
}

func newLogger(sCfg cfg.LedgerConfig) (*zap.Logger, error) {
	logCfg := loggerConfig(sCfg)
	if sCfg.SentryDSN == "" {
		return logCfg.Build()
	}

	// Only errors are forwarded.
	return logCfg.Build(zap.Hooks(func(entry zapcore.Entry) error {
		if entry.Level < zapcore.ErrorLevel {
			return nil
		}
		e := sentry.NewEvent()
		e.Message = entry.Message
		e.Level = sentry.LevelError
		e.Tags = map[string]string{"service": serviceName}
		sentry.CaptureEvent(e)
		return nil
	}))
}

func setupSentry(c cfg.LedgerConfig) error {
	if c.SentryDSN == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:         c.SentryDSN,
		Environment: c.ServerMode,
		Release:     cfg.ServerVersion + "-" + serviceName,
		ServerName:  serviceName,
	})
}
