package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"

	"github.com/kardiachain/dao-ledger/cfg"
)

func TestLoggerConfig(t *testing.T) {
	dev := loggerConfig(cfg.LedgerConfig{ServerMode: cfg.ModeDev})
	assert.Equal(t, "json", dev.Encoding)
	assert.Equal(t, "sweeper", dev.InitialFields["service"])
	assert.Equal(t, zapcore.InfoLevel, dev.Level.Level())
	assert.Nil(t, dev.Sampling)

	debug := loggerConfig(cfg.LedgerConfig{ServerMode: cfg.ModeProduction, LogLevel: "debug"})
	assert.Equal(t, zapcore.DebugLevel, debug.Level.Level())
	assert.Equal(t, cfg.ModeProduction, debug.InitialFields["mode"])

	logger, err := newLogger(cfg.LedgerConfig{ServerMode: cfg.ModeDev})
	assert.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}
