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

// Package server wires the ledger services to their store, cache and
// metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kardiachain/dao-ledger/cache"
	"github.com/kardiachain/dao-ledger/cfg"
	"github.com/kardiachain/dao-ledger/db"
	"github.com/kardiachain/dao-ledger/governance"
	"github.com/kardiachain/dao-ledger/metrics"
	"github.com/kardiachain/dao-ledger/revenue"
	"github.com/kardiachain/dao-ledger/types"
	"github.com/kardiachain/dao-ledger/utils"
)

type Config struct {
	// Store, when set, is used in place of a client opened from DBAdapter.
	// The server owns it and closes it on Close or on a failed New.
	Store     db.Client
	DBAdapter db.Adapter
	DBUrl     string
	DBName    string
	MinConn   int
	MaxConn   int

	// Cache, when set, is used in place of a client opened from CacheAdapter.
	Cache            cache.Client
	CacheAdapter     cache.Adapter
	CacheURL         string
	CacheDB          int
	CachePassword    string
	CacheExpiredTime time.Duration

	IsFlushDatabase bool
	IsFlushCache    bool

	StoreTimeout    time.Duration
	StoreMaxRetries int
	ClaimMaxRetries int
	QuorumFraction  decimal.Decimal
	PlatformFeeRate decimal.Decimal
	MaxVoteWeight   uint64

	// Payer defaults to revenue.SimulatedPayer.
	Payer revenue.Payer
	// RequireAddress accepts only hex account addresses as claim destinations.
	RequireAddress bool

	Metrics *metrics.Collector
	Logger  *zap.Logger
	Clock   func() time.Time
}

// ConfigFrom maps the environment configuration onto a server Config.
func ConfigFrom(c cfg.LedgerConfig) Config {
	return Config{
		DBAdapter:        db.Adapter(c.StorageDriver),
		DBUrl:            c.StorageURI,
		DBName:           c.StorageDB,
		MinConn:          c.StorageMinConn,
		MaxConn:          c.StorageMaxConn,
		CacheAdapter:     cache.Adapter(c.CacheEngine),
		CacheURL:         c.CacheURL,
		CacheDB:          c.CacheDB,
		CachePassword:    c.CachePassword,
		CacheExpiredTime: c.CacheExpiredTime,
		IsFlushDatabase:  c.StorageIsFlush,
		IsFlushCache:     c.CacheIsFlush,
		StoreTimeout:     c.StoreTimeout,
		StoreMaxRetries:  c.StoreMaxRetries,
		ClaimMaxRetries:  c.ClaimMaxRetries,
		QuorumFraction:   c.QuorumFraction,
		PlatformFeeRate:  c.PlatformFeeRate,
		MaxVoteWeight:    c.MaxVoteWeight,
		RequireAddress:   c.PayoutRequireAddress,
	}
}

// Server holds the ledger services behind the REST surface and the sweeper.
type Server struct {
	Logger  *zap.Logger
	Metrics *metrics.Collector

	Engine      *governance.Engine
	Tally       *governance.Tally
	Directory   *governance.Directory
	Distributor *revenue.Distributor
	Ledger      *revenue.Ledger

	dbClient    db.Client
	cacheClient cache.Client
}

func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	cfg.Logger.Info("Create new server instance",
		zap.String("db", string(cfg.DBAdapter)),
		zap.String("cache", string(cfg.CacheAdapter)),
		zap.String("quorum", cfg.QuorumFraction.String()))

	dbClient := cfg.Store
	if dbClient == nil {
		var err error
		dbClient, err = db.NewClient(db.Config{
			DbAdapter: cfg.DBAdapter,
			DbName:    cfg.DBName,
			URL:       cfg.DBUrl,
			MinConn:   cfg.MinConn,
			MaxConn:   cfg.MaxConn,
			FlushDB:   cfg.IsFlushDatabase,
			Logger:    cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
	}

	cacheClient := cfg.Cache
	if cacheClient == nil && cfg.CacheAdapter != "" {
		var err error
		cacheClient, err = cache.New(cache.Config{
			Adapter:            cfg.CacheAdapter,
			URL:                cfg.CacheURL,
			DB:                 cfg.CacheDB,
			Password:           cfg.CachePassword,
			IsFlush:            cfg.IsFlushCache,
			DefaultExpiredTime: cfg.CacheExpiredTime,
			Logger:             cfg.Logger,
		})
		if err != nil {
			_ = dbClient.Close(context.Background())
			return nil, err
		}
	}

	s := &Server{
		Logger:      cfg.Logger,
		Metrics:     cfg.Metrics,
		dbClient:    dbClient,
		cacheClient: cacheClient,
	}
	if err := s.wire(cfg); err != nil {
		if closeErr := s.Close(context.Background()); closeErr != nil {
			cfg.Logger.Warn("cannot close clients after failed start", zap.Error(closeErr))
		}
		return nil, err
	}
	return s, nil
}

// wire builds the ledger services on top of the open clients.
func (s *Server) wire(cfg Config) error {
	var (
		dbClient    = s.dbClient
		publisher   utils.EventPublisher
		invalidator interface {
			InvalidateMemberCount(ctx context.Context, communityID string) error
		}
	)
	power := &governance.MembershipVotingPower{Store: dbClient, Logger: cfg.Logger}
	if s.cacheClient != nil {
		// Interfaces are only set from a live client so a disabled cache
		// stays a nil interface.
		publisher = s.cacheClient
		invalidator = s.cacheClient
		power.Cache = s.cacheClient
	}
	retry := utils.RetryConfig{Timeout: cfg.StoreTimeout, MaxRetries: cfg.StoreMaxRetries}

	engine, err := governance.NewEngine(governance.EngineConfig{
		Store:          dbClient,
		Effects:        governance.DefaultEffects(dbClient, cfg.Clock),
		Power:          power,
		QuorumFraction: cfg.QuorumFraction,
		Retry:          retry,
		Publisher:      publisher,
		Metrics:        cfg.Metrics,
		Logger:         cfg.Logger,
		Clock:          cfg.Clock,
	})
	if err != nil {
		return err
	}
	tally, err := governance.NewTally(governance.TallyConfig{
		Store:     dbClient,
		Engine:    engine,
		MaxWeight: cfg.MaxVoteWeight,
		Retry:     retry,
		Metrics:   cfg.Metrics,
		Logger:    cfg.Logger,
		Clock:     cfg.Clock,
	})
	if err != nil {
		return err
	}
	directory, err := governance.NewDirectory(governance.DirectoryConfig{
		Store:  dbClient,
		Cache:  invalidator,
		Retry:  retry,
		Logger: cfg.Logger,
		Clock:  cfg.Clock,
	})
	if err != nil {
		return err
	}
	distributor, err := revenue.NewDistributor(revenue.DistributorConfig{
		Store:          dbClient,
		DefaultFeeRate: cfg.PlatformFeeRate,
		Retry:          retry,
		Publisher:      publisher,
		Metrics:        cfg.Metrics,
		Logger:         cfg.Logger,
		Clock:          cfg.Clock,
	})
	if err != nil {
		return err
	}
	var validDestination func(string) bool
	if cfg.RequireAddress {
		validDestination = utils.IsValidAddress
	}
	ledger, err := revenue.NewLedger(revenue.LedgerConfig{
		Store:            dbClient,
		Payer:            cfg.Payer,
		ValidDestination: validDestination,
		ClaimRetries:     cfg.ClaimMaxRetries,
		Retry:            retry,
		Publisher:        publisher,
		Metrics:          cfg.Metrics,
		Logger:           cfg.Logger,
		Clock:            cfg.Clock,
	})
	if err != nil {
		return err
	}

	s.Engine = engine
	s.Tally = tally
	s.Directory = directory
	s.Distributor = distributor
	s.Ledger = ledger
	return nil
}

const (
	defaultEventCount = 50
	maxEventCount     = 500
)

// RecentEvents returns the newest ledger events from the cache stream. It
// fails with types.ErrNotFound when no cache is configured.
func (s *Server) RecentEvents(ctx context.Context, count int64) ([]*types.LedgerEvent, error) {
	if s.cacheClient == nil {
		return nil, fmt.Errorf("event stream: %w", types.ErrNotFound)
	}
	switch {
	case count <= 0:
		count = defaultEventCount
	case count > maxEventCount:
		count = maxEventCount
	}
	events, err := s.cacheClient.Events(ctx, count)
	if err != nil {
		return nil, utils.StoreError(s.Logger, "events", err)
	}
	return events, nil
}

// Ping checks the store and, when configured, the cache.
func (s *Server) Ping(ctx context.Context) error {
	if err := s.dbClient.Ping(ctx); err != nil {
		return err
	}
	if s.cacheClient != nil {
		return s.cacheClient.Ping(ctx)
	}
	return nil
}

func (s *Server) Close(ctx context.Context) error {
	var errs []error
	if s.cacheClient != nil {
		errs = append(errs, s.cacheClient.Close())
	}
	errs = append(errs, s.dbClient.Close(ctx))
	return errors.Join(errs...)
}
