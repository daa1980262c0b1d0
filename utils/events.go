package utils

import (
	"context"

	"go.uber.org/zap"

	"github.com/kardiachain/dao-ledger/types"
)

// EventPublisher is implemented by cache.Client.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *types.LedgerEvent) error
}

// Publish notifies about a change that is already committed. Failures are
// logged only; the ledger stays the source of truth.
func Publish(ctx context.Context, pub EventPublisher, logger *zap.Logger, event *types.LedgerEvent) {
	if pub == nil {
		return
	}
	if err := pub.PublishEvent(ctx, event); err != nil {
		logger.Warn("cannot publish ledger event",
			zap.String("kind", string(event.Kind)),
			zap.String("subject", event.Subject),
			zap.Error(err))
	}
}
