/*
 *  Copyright 2018 KardiaChain
 *  This file is part of the go-kardia library.
 *
 *  The go-kardia library is free software: you can redistribute it and/or modify
 *  it under the terms of the GNU Lesser General Public License as published by
 *  the Free Software Foundation, either version 3 of the License, or
 *  (at your option) any later version.
 *
 *  The go-kardia library is distributed in the hope that it will be useful,
 *  but WITHOUT ANY WARRANTY; without even the implied warranty of
 *  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 *  GNU Lesser General Public License for more details.
 *
 *  You should have received a copy of the GNU Lesser General Public License
 *  along with the go-kardia library. If not, see <http://www.gnu.org/licenses/>.
 */

// Package cfg
package cfg

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kardiachain/dao-ledger/types"
	"github.com/kardiachain/dao-ledger/utils"
)

const (
	ModeDev        = "dev"
	ModeProduction = "prod"

	ServerVersion = "1.0.0"
)

type LedgerConfig struct {
	ServerMode        string
	Port              string
	HttpRequestSecret string
	JWTSecret         string

	LogLevel  string
	SentryDSN string

	CacheEngine      string
	CacheURL         string
	CacheDB          int
	CachePassword    string
	CacheIsFlush     bool
	CacheExpiredTime time.Duration

	StorageDriver  string
	StorageURI     string
	StorageDB      string
	StorageMinConn int
	StorageMaxConn int
	StorageIsFlush bool

	StoreTimeout    time.Duration
	StoreMaxRetries int
	ClaimMaxRetries int

	QuorumFraction  decimal.Decimal
	PlatformFeeRate decimal.Decimal
	// MaxVoteWeight caps a single ballot; zero leaves only the counter bound.
	MaxVoteWeight uint64
	// PayoutRequireAddress restricts claim destinations to hex addresses.
	PayoutRequireAddress bool

	SweepInterval time.Duration
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func envUint(key string, def uint64) uint64 {
	v, err := strconv.ParseUint(os.Getenv(key), 10, 64)
	if err != nil {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// envRate reads a rate in [0, 1]. Unparsable values fall back to def while
// out of range values are an error.
func envRate(key string, def decimal.Decimal, openMax bool) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if _, err := decimal.NewFromString(v); err != nil {
		return def, nil
	}
	rate, err := utils.ParseRate(v, decimal.Zero, decimal.NewFromInt(1), openMax)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return rate, nil
}

func New() (LedgerConfig, error) {
	port := os.Getenv("PORT")
	if port == "" {
		port = ":3000"
	}
	serverMode := os.Getenv("SERVER_MODE")
	if serverMode == "" {
		serverMode = ModeDev
	}
	storageDriver := os.Getenv("STORAGE_DRIVER")
	if storageDriver == "" {
		storageDriver = "memory"
	}
	storageDB := os.Getenv("STORAGE_DB")
	if storageDB == "" {
		storageDB = "daoLedger"
	}
	quorumFraction, err := envRate("QUORUM_FRACTION", decimal.RequireFromString("0.6"), false)
	if err != nil {
		return LedgerConfig{}, err
	}
	platformFeeRate, err := envRate("PLATFORM_FEE_RATE", decimal.RequireFromString("0.025"), true)
	if err != nil {
		return LedgerConfig{}, err
	}

	cfg := LedgerConfig{
		ServerMode:        serverMode,
		Port:              port,
		HttpRequestSecret: os.Getenv("HTTP_REQUEST_SECRET"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		LogLevel:          os.Getenv("LOG_LEVEL"),
		SentryDSN:         os.Getenv("SENTRY_DSN"),

		CacheEngine:      os.Getenv("CACHE_ENGINE"),
		CacheURL:         os.Getenv("CACHE_URI"),
		CacheDB:          envInt("CACHE_DB", 0),
		CachePassword:    os.Getenv("CACHE_PASSWORD"),
		CacheIsFlush:     envBool("CACHE_IS_FLUSH", false),
		CacheExpiredTime: envDuration("CACHE_EXPIRED_TIME", 5*time.Minute),

		StorageDriver:  storageDriver,
		StorageURI:     os.Getenv("STORAGE_URI"),
		StorageDB:      storageDB,
		StorageMinConn: envInt("STORAGE_MIN_CONN", 8),
		StorageMaxConn: envInt("STORAGE_MAX_CONN", 32),
		StorageIsFlush: envBool("STORAGE_IS_FLUSH", false),

		StoreTimeout:    envDuration("STORE_TIMEOUT", 3*time.Second),
		StoreMaxRetries: envInt("STORE_MAX_RETRIES", 3),
		ClaimMaxRetries: envInt("CLAIM_MAX_RETRIES", 3),

		QuorumFraction:       quorumFraction,
		PlatformFeeRate:      platformFeeRate,
		MaxVoteWeight:        envUint("MAX_VOTE_WEIGHT", 0),
		PayoutRequireAddress: envBool("PAYOUT_REQUIRE_ADDRESS", false),

		SweepInterval: envDuration("SWEEP_INTERVAL", time.Minute),
	}
	if err := cfg.validate(); err != nil {
		return LedgerConfig{}, err
	}
	return cfg, nil
}

func (c LedgerConfig) validate() error {
	if c.StoreMaxRetries < 0 {
		return errors.New("STORE_MAX_RETRIES must not be negative")
	}
	if c.ClaimMaxRetries < 1 {
		return errors.New("CLAIM_MAX_RETRIES must be at least 1")
	}
	if c.MaxVoteWeight > types.MaxTally {
		return fmt.Errorf("MAX_VOTE_WEIGHT must not exceed %d", types.MaxTally)
	}
	if c.StorageMinConn > c.StorageMaxConn {
		return fmt.Errorf("STORAGE_MIN_CONN %d exceeds STORAGE_MAX_CONN %d", c.StorageMinConn, c.StorageMaxConn)
	}
	return nil
}
