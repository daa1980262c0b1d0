package revenue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kardiachain/dao-ledger/db"
	"github.com/kardiachain/dao-ledger/metrics"
	"github.com/kardiachain/dao-ledger/types"
	"github.com/kardiachain/dao-ledger/utils"
)

const (
	defaultClaimRetries = 3
	// releaseAttemptFactor scales claim retries for giving a reservation
	// back, which must not be abandoned early.
	releaseAttemptFactor = 10
	maxFailureReason     = 256
)

type LedgerConfig struct {
	Store db.Client
	Payer Payer
	// ValidDestination checks the opaque payout destination. Defaults to
	// utils.IsNonEmpty.
	ValidDestination func(string) bool
	// ClaimRetries bounds cursor compare-and-swap attempts per claim.
	ClaimRetries int

	Retry     utils.RetryConfig
	Publisher utils.EventPublisher
	Metrics   *metrics.Collector
	Logger    *zap.Logger
	Clock     func() time.Time
}

// Ledger tracks what each member may still claim from each pool.
//
// Claims reserve their amount on a per (user, pool) payout cursor through a
// version compare-and-swap before any money moves. Two claims can never
// reserve the same funds: the loser of the swap re-reads and only sees what
// is left.
type Ledger struct {
	store            db.Client
	payer            Payer
	validDestination func(string) bool
	claimRetries     int

	retry     utils.RetryConfig
	publisher utils.EventPublisher
	metrics   *metrics.Collector
	logger    *zap.Logger
	clock     func() time.Time
}

func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Store == nil {
		return nil, errors.New("revenue: store is required")
	}
	if cfg.Payer == nil {
		cfg.Payer = SimulatedPayer{}
	}
	if cfg.ValidDestination == nil {
		cfg.ValidDestination = utils.IsNonEmpty
	}
	if cfg.ClaimRetries <= 0 {
		cfg.ClaimRetries = defaultClaimRetries
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Ledger{
		store:            cfg.Store,
		payer:            cfg.Payer,
		validDestination: cfg.ValidDestination,
		claimRetries:     cfg.ClaimRetries,
		retry:            cfg.Retry,
		publisher:        cfg.Publisher,
		metrics:          cfg.Metrics,
		logger:           cfg.Logger.With(zap.String("component", "payout")),
		clock:            cfg.Clock,
	}, nil
}

type Balance struct {
	UserID      string          `json:"userId"`
	PoolID      string          `json:"poolId"`
	Distributed decimal.Decimal `json:"distributed"`
	PaidOut     decimal.Decimal `json:"paidOut"`
	// InFlight is reserved by claims still being paid.
	InFlight decimal.Decimal `json:"inFlight"`
	Pending  decimal.Decimal `json:"pending"`
}

type ClaimRequest struct {
	UserID      string `json:"userId"`
	PoolID      string `json:"poolId"`
	Destination string `json:"destination"`
}

func (l *Ledger) position(ctx context.Context, userID, poolID string) (decimal.Decimal, *types.PayoutCursor, error) {
	var (
		distributed decimal.Decimal
		cursor      *types.PayoutCursor
	)
	err := l.retry.Do(ctx, func(ctx context.Context) (err error) {
		if distributed, err = l.store.DistributedTotal(ctx, userID, poolID); err != nil {
			return err
		}
		cursor, err = l.store.PayoutCursor(ctx, userID, poolID)
		return err
	})
	if err != nil {
		return decimal.Zero, nil, utils.StoreError(l.logger, "position", err)
	}
	return distributed, cursor, nil
}

// PendingBalance is everything distributed to the user from the pool minus
// completed payouts and claims in flight. It is never negative.
func (l *Ledger) PendingBalance(ctx context.Context, userID, poolID string) (decimal.Decimal, error) {
	distributed, cursor, err := l.position(ctx, userID, poolID)
	if err != nil {
		return decimal.Zero, err
	}
	return l.pending(distributed, cursor), nil
}

func (l *Ledger) pending(distributed decimal.Decimal, cursor *types.PayoutCursor) decimal.Decimal {
	pending := distributed.Sub(cursor.Reserved)
	if pending.IsNegative() {
		l.logger.Error("reserved exceeds distributed",
			zap.String("user", cursor.UserID),
			zap.String("pool", cursor.PoolID),
			zap.String("distributed", distributed.String()),
			zap.String("reserved", cursor.Reserved.String()))
		return decimal.Zero
	}
	return pending
}

// Balance breaks the pending balance down.
func (l *Ledger) Balance(ctx context.Context, userID, poolID string) (*Balance, error) {
	distributed, cursor, err := l.position(ctx, userID, poolID)
	if err != nil {
		return nil, err
	}
	var paid decimal.Decimal
	if err := l.retry.Do(ctx, func(ctx context.Context) (err error) {
		paid, err = l.store.CompletedTotal(ctx, userID, poolID)
		return err
	}); err != nil {
		return nil, utils.StoreError(l.logger, "completedTotal", err)
	}
	inFlight := cursor.Reserved.Sub(paid)
	if inFlight.IsNegative() {
		inFlight = decimal.Zero
	}
	return &Balance{
		UserID:      userID,
		PoolID:      poolID,
		Distributed: distributed,
		PaidOut:     paid,
		InFlight:    inFlight,
		Pending:     l.pending(distributed, cursor),
	}, nil
}

// Claim pays out the whole pending balance. The amount is reserved before
// the payer runs; a failed payment gives the reservation back so the funds
// stay claimable. Once reserved, the claim's store writes no longer follow
// the caller's cancellation; each write is still bounded by the retry timeout.
func (l *Ledger) Claim(ctx context.Context, req ClaimRequest) (*types.PayoutRecord, error) {
	if req.UserID == "" || req.PoolID == "" {
		return nil, fmt.Errorf("%w: user and pool are required", types.ErrInvalidRequest)
	}
	if !l.validDestination(req.Destination) {
		return nil, types.ErrInvalidDestination
	}

	amount, err := l.reserve(ctx, req.UserID, req.PoolID)
	if err != nil {
		l.metrics.Claim(claimOutcome(err), 0)
		return nil, err
	}
	settle := context.WithoutCancel(ctx)

	record := &types.PayoutRecord{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		PoolID:      req.PoolID,
		Amount:      amount,
		Status:      types.PayoutProcessing,
		Destination: req.Destination,
		CreatedAt:   l.clock(),
	}
	if err := l.retry.Once(settle, func(ctx context.Context) error {
		return l.store.InsertPayout(ctx, record)
	}); err != nil {
		l.release(settle, req.UserID, req.PoolID, amount)
		l.metrics.Claim("error", 0)
		return nil, utils.StoreError(l.logger, "insertPayout", err)
	}

	txRef, payErr := l.payer.Pay(ctx, Payment{
		PayoutID:    record.ID,
		UserID:      record.UserID,
		PoolID:      record.PoolID,
		Destination: record.Destination,
		Amount:      amount,
	})
	if payErr != nil {
		return nil, l.fail(settle, record, payErr)
	}

	paidAt := l.clock()
	record.Status = types.PayoutCompleted
	record.PaidAt = &paidAt
	record.TransactionRef = txRef
	if err := l.retry.Once(settle, func(ctx context.Context) error {
		return l.store.UpdatePayoutStatus(ctx, record, types.PayoutProcessing)
	}); err != nil {
		// Funds have moved and stay reserved, so nothing is paid twice. The
		// record is left processing for reconciliation.
		l.logger.Error("payout executed but not recorded",
			zap.String("payout", record.ID),
			zap.String("tx", txRef),
			zap.Error(err))
		l.metrics.Claim("unrecorded", 0)
		return nil, utils.StoreError(l.logger, "completePayout", err)
	}

	paid, _ := amount.Float64()
	l.metrics.Claim("completed", paid)
	l.logger.Info("payout completed",
		zap.String("payout", record.ID),
		zap.String("user", record.UserID),
		zap.String("pool", record.PoolID),
		zap.String("amount", amount.String()),
		zap.String("tx", txRef))
	utils.Publish(settle, l.publisher, l.logger, &types.LedgerEvent{
		Kind:    types.EventPayoutCompleted,
		Subject: record.ID,
		Fields: map[string]string{
			"userId": record.UserID,
			"poolId": record.PoolID,
			"amount": amount.String(),
			"tx":     txRef,
		},
		At: paidAt,
	})
	return record, nil
}

func claimOutcome(err error) string {
	switch {
	case errors.Is(err, types.ErrNothingToClaim):
		return "empty"
	case errors.Is(err, types.ErrConcurrentClaimConflict):
		return "conflict"
	default:
		return "error"
	}
}

// reserve moves the cursor forward by the whole pending amount and returns
// that amount.
func (l *Ledger) reserve(ctx context.Context, userID, poolID string) (decimal.Decimal, error) {
	for attempt := 0; attempt < l.claimRetries; attempt++ {
		distributed, cursor, err := l.position(ctx, userID, poolID)
		if err != nil {
			return decimal.Zero, err
		}
		pending := l.pending(distributed, cursor)
		if !pending.IsPositive() {
			return decimal.Zero, types.ErrNothingToClaim
		}
		err = l.retry.Once(ctx, func(ctx context.Context) error {
			return l.store.AdvancePayoutCursor(ctx, cursor, cursor.Reserved.Add(pending))
		})
		if err == nil {
			return pending, nil
		}
		if !errors.Is(err, types.ErrVersionConflict) {
			return decimal.Zero, utils.StoreError(l.logger, "advanceCursor", err)
		}
		l.metrics.ClaimConflict()
		l.logger.Debug("payout cursor moved, retrying", zap.String("user", userID), zap.String("pool", poolID), zap.Int("attempt", attempt+1))
	}
	return decimal.Zero, types.ErrConcurrentClaimConflict
}

// release gives amount back to the pending balance. ctx must not be
// cancellable; attempts are bounded by the claim retry budget.
func (l *Ledger) release(ctx context.Context, userID, poolID string, amount decimal.Decimal) {
	attempts := l.claimRetries * releaseAttemptFactor
	for i := 0; i < attempts; i++ {
		var cursor *types.PayoutCursor
		err := l.retry.Do(ctx, func(ctx context.Context) (err error) {
			cursor, err = l.store.PayoutCursor(ctx, userID, poolID)
			return err
		})
		if err == nil {
			err = l.retry.Once(ctx, func(ctx context.Context) error {
				return l.store.AdvancePayoutCursor(ctx, cursor, cursor.Reserved.Sub(amount))
			})
		}
		if err == nil {
			return
		}
		if !errors.Is(err, types.ErrVersionConflict) {
			l.logger.Warn("release attempt failed", zap.String("user", userID), zap.Int("attempt", i+1), zap.Error(err))
		}
	}
	l.logger.Error("cannot release payout reservation",
		zap.String("user", userID),
		zap.String("pool", poolID),
		zap.String("amount", amount.String()))
}

func (l *Ledger) fail(ctx context.Context, record *types.PayoutRecord, payErr error) error {
	reason := payErr.Error()
	if len(reason) > maxFailureReason {
		reason = reason[:maxFailureReason]
	}
	record.Status = types.PayoutFailed
	record.FailureReason = reason
	if err := l.retry.Do(ctx, func(ctx context.Context) error {
		return l.store.UpdatePayoutStatus(ctx, record, types.PayoutProcessing)
	}); err != nil && !errors.Is(err, types.ErrVersionConflict) {
		l.logger.Error("cannot mark payout failed", zap.String("payout", record.ID), zap.Error(err))
	}
	l.release(ctx, record.UserID, record.PoolID, record.Amount)

	l.metrics.Claim("failed", 0)
	l.logger.Warn("payout failed",
		zap.String("payout", record.ID),
		zap.String("user", record.UserID),
		zap.String("pool", record.PoolID),
		zap.Error(payErr))
	utils.Publish(ctx, l.publisher, l.logger, &types.LedgerEvent{
		Kind:    types.EventPayoutFailed,
		Subject: record.ID,
		Fields:  map[string]string{"userId": record.UserID, "poolId": record.PoolID, "amount": record.Amount.String()},
		At:      l.clock(),
	})
	return fmt.Errorf("payout %s: %w", record.ID, types.ErrPayoutExecutionFailed)
}

func (l *Ledger) Payouts(ctx context.Context, userID, poolID string) ([]*types.PayoutRecord, error) {
	var payouts []*types.PayoutRecord
	err := l.retry.Do(ctx, func(ctx context.Context) (err error) {
		payouts, err = l.store.Payouts(ctx, userID, poolID)
		return err
	})
	if err != nil {
		return nil, utils.StoreError(l.logger, "payouts", err)
	}
	return payouts, nil
}
