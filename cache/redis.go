// Package cache
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/kardiachain/dao-ledger/types"
)

const (
	KeyMemberCount  = "#community#%s#members#count"
	KeyLedgerEvents = "ledger.events" // Stream

	defaultMemberCountTTL = 5 * time.Minute
	maxLedgerEvents       = 100000
)

type Redis struct {
	cfg    Config
	client *redis.Client

	logger *zap.Logger
}

func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Redis) Close() error {
	return c.client.Close()
}

func (c *Redis) MemberCount(ctx context.Context, communityID string) (uint64, error) {
	result, err := c.client.Get(ctx, fmt.Sprintf(KeyMemberCount, communityID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrCacheMiss
	}
	if err != nil {
		return 0, err
	}
	count, err := strconv.ParseUint(result, 10, 64)
	if err != nil {
		c.logger.Warn("corrupt member count", zap.String("community", communityID), zap.String("value", result))
		return 0, ErrCacheMiss
	}
	return count, nil
}

func (c *Redis) UpdateMemberCount(ctx context.Context, communityID string, count uint64) error {
	key := fmt.Sprintf(KeyMemberCount, communityID)
	return c.client.Set(ctx, key, strconv.FormatUint(count, 10), c.cfg.DefaultExpiredTime).Err()
}

func (c *Redis) InvalidateMemberCount(ctx context.Context, communityID string) error {
	return c.client.Del(ctx, fmt.Sprintf(KeyMemberCount, communityID)).Err()
}

// PublishEvent appends the event to the ledger stream, trimming it to roughly
// maxLedgerEvents entries.
func (c *Redis) PublishEvent(ctx context.Context, event *types.LedgerEvent) error {
	fields, err := json.Marshal(event.Fields)
	if err != nil {
		return err
	}
	return c.client.XAdd(ctx, &redis.XAddArgs{
		Stream:       KeyLedgerEvents,
		MaxLenApprox: maxLedgerEvents,
		Values: map[string]interface{}{
			"kind":    string(event.Kind),
			"subject": event.Subject,
			"fields":  string(fields),
			"at":      event.At.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}

// Events returns the latest count events, newest first.
func (c *Redis) Events(ctx context.Context, count int64) ([]*types.LedgerEvent, error) {
	messages, err := c.client.XRevRangeN(ctx, KeyLedgerEvents, "+", "-", count).Result()
	if err != nil {
		return nil, err
	}
	events := make([]*types.LedgerEvent, 0, len(messages))
	for _, msg := range messages {
		event := &types.LedgerEvent{
			Kind:    types.LedgerEventKind(fmt.Sprint(msg.Values["kind"])),
			Subject: fmt.Sprint(msg.Values["subject"]),
		}
		if raw, ok := msg.Values["fields"].(string); ok && raw != "" {
			if err := json.Unmarshal([]byte(raw), &event.Fields); err != nil {
				c.logger.Warn("cannot decode event fields", zap.String("id", msg.ID), zap.Error(err))
			}
		}
		if raw, ok := msg.Values["at"].(string); ok {
			event.At, _ = time.Parse(time.RFC3339Nano, raw)
		}
		events = append(events, event)
	}
	return events, nil
}
