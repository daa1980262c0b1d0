// Package cache
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/kardiachain/dao-ledger/types"
)

type Adapter string

const (
	RedisAdapter Adapter = "redis"
)

// ErrCacheMiss is returned when a key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

type Config struct {
	Adapter  Adapter
	URL      string
	DB       int
	Password string

	IsFlush bool

	DefaultExpiredTime time.Duration

	Logger *zap.Logger
}

type Client interface {
	Ping(ctx context.Context) error
	Close() error

	MemberCount(ctx context.Context, communityID string) (uint64, error)
	UpdateMemberCount(ctx context.Context, communityID string, count uint64) error
	InvalidateMemberCount(ctx context.Context, communityID string) error

	PublishEvent(ctx context.Context, event *types.LedgerEvent) error
	Events(ctx context.Context, count int64) ([]*types.LedgerEvent, error)
}

func New(cfg Config) (Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	switch cfg.Adapter {
	case RedisAdapter:
		return newRedis(cfg)
	}
	return nil, errors.New("invalid cache config")
}

func newRedis(cfg Config) (*Redis, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.URL,
		DB:       cfg.DB,
		Password: cfg.Password,
	})

	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		return nil, err
	}
	if cfg.IsFlush {
		msg, err := redisClient.FlushAll(context.Background()).Result()
		if err != nil || msg != "OK" {
			return nil, err
		}
	}
	if cfg.DefaultExpiredTime <= 0 {
		cfg.DefaultExpiredTime = defaultMemberCountTTL
	}

	logger := cfg.Logger.With(zap.String("cache", "redis"))
	client := &Redis{
		client: redisClient,
		logger: logger,
	}
	client.cfg = cfg
	return client, nil
}
