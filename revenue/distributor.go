// Package revenue splits sale proceeds among community members and pays out
// their accumulated balances.
package revenue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kardiachain/dao-ledger/db"
	"github.com/kardiachain/dao-ledger/metrics"
	"github.com/kardiachain/dao-ledger/types"
	"github.com/kardiachain/dao-ledger/utils"
)

// sharePrecision is the number of decimal places a member share is cut to.
const sharePrecision = 8

// distributionNamespace seeds the deterministic ids of distribution rows.
var distributionNamespace = uuid.MustParse("6f1c3f0e-8a43-4c56-9d0b-2a7f3b1e5c90")

type DistributorConfig struct {
	Store db.Client
	// DefaultFeeRate applies when a request carries no fee rate.
	DefaultFeeRate decimal.Decimal

	Retry     utils.RetryConfig
	Publisher utils.EventPublisher
	Metrics   *metrics.Collector
	Logger    *zap.Logger
	Clock     func() time.Time
}

type Distributor struct {
	store          db.Client
	defaultFeeRate decimal.Decimal

	retry     utils.RetryConfig
	publisher utils.EventPublisher
	metrics   *metrics.Collector
	logger    *zap.Logger
	clock     func() time.Time
}

func NewDistributor(cfg DistributorConfig) (*Distributor, error) {
	if cfg.Store == nil {
		return nil, errors.New("revenue: store is required")
	}
	if err := validateFee(cfg.DefaultFeeRate); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Distributor{
		store:          cfg.Store,
		defaultFeeRate: cfg.DefaultFeeRate,
		retry:          cfg.Retry,
		publisher:      cfg.Publisher,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger.With(zap.String("component", "distributor")),
		clock:          cfg.Clock,
	}, nil
}

type SaleRequest struct {
	PoolID         string          `json:"poolId"`
	TransactionRef string          `json:"transactionRef"`
	SalePrice      decimal.Decimal `json:"salePrice"`
	// FeeRate is optional; nil means the configured platform fee.
	FeeRate *decimal.Decimal `json:"feeRate,omitempty"`
}

func validateFee(fee decimal.Decimal) error {
	if fee.IsNegative() || fee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: fee rate %s must be in [0, 1)", types.ErrInvalidSale, fee)
	}
	return nil
}

// Split divides net equally among members, sorted by id. Every share is cut
// to sharePrecision places and the last member takes what is left, so the
// allocations always add up to net exactly.
func Split(net decimal.Decimal, members []string) []types.Allocation {
	if len(members) == 0 {
		return nil
	}
	share := net.Div(decimal.NewFromInt(int64(len(members)))).Truncate(sharePrecision)
	allocations := make([]types.Allocation, len(members))
	remaining := net
	for i, m := range members {
		amount := share
		if i == len(members)-1 {
			amount = remaining
		}
		allocations[i] = types.Allocation{MemberID: m, Amount: amount}
		remaining = remaining.Sub(amount)
	}
	return allocations
}

func distributionID(poolID, transactionRef, memberID string) string {
	return uuid.NewSHA1(distributionNamespace, []byte(poolID+"|"+transactionRef+"|"+memberID)).String()
}

// Distribute credits every current member of the community that owns the
// pool with an equal share of the sale's net proceeds. The first call for a
// (pool, transaction) fixes the split; later calls with the same key return
// the same rows and write nothing new.
func (d *Distributor) Distribute(ctx context.Context, req SaleRequest) ([]*types.RevenueDistribution, error) {
	req.TransactionRef = strings.TrimSpace(req.TransactionRef)
	if req.PoolID == "" || req.TransactionRef == "" {
		return nil, fmt.Errorf("%w: pool and transaction reference are required", types.ErrInvalidSale)
	}
	if !req.SalePrice.IsPositive() {
		return nil, fmt.Errorf("%w: sale price must be positive", types.ErrInvalidSale)
	}
	fee := d.defaultFeeRate
	if req.FeeRate != nil {
		fee = *req.FeeRate
	}
	if err := validateFee(fee); err != nil {
		return nil, err
	}

	var members []string
	err := d.retry.Do(ctx, func(ctx context.Context) error {
		gallery, err := d.store.Gallery(ctx, req.PoolID)
		if err != nil {
			return err
		}
		members, err = d.store.Members(ctx, gallery.CommunityID)
		return err
	})
	if err != nil {
		return nil, utils.StoreError(d.logger, "poolMembers", err)
	}

	sale, created, err := d.registerSale(ctx, req, fee, members)
	if err != nil {
		d.metrics.Distribution("failed", 0)
		return nil, err
	}

	rows := make([]*types.RevenueDistribution, 0, len(sale.Allocations))
	for _, a := range sale.Allocations {
		rows = append(rows, &types.RevenueDistribution{
			ID:             distributionID(sale.PoolID, sale.TransactionRef, a.MemberID),
			PoolID:         sale.PoolID,
			MemberID:       a.MemberID,
			Amount:         a.Amount,
			TransactionRef: sale.TransactionRef,
			CreatedAt:      sale.CreatedAt,
		})
	}
	// Re-inserting on a replay repairs a registration whose rows were cut
	// short; rows already present are skipped by id.
	if err := d.retry.Do(ctx, func(ctx context.Context) error {
		return d.store.InsertDistributions(ctx, rows)
	}); err != nil {
		return nil, utils.StoreError(d.logger, "insertDistributions", err)
	}

	if !created {
		d.metrics.Distribution("replayed", 0)
		return rows, nil
	}
	net, _ := sale.Net.Float64()
	d.metrics.Distribution("created", net)
	d.logger.Info("revenue distributed",
		zap.String("pool", sale.PoolID),
		zap.String("tx", sale.TransactionRef),
		zap.String("net", sale.Net.String()),
		zap.Int("members", len(rows)))
	utils.Publish(ctx, d.publisher, d.logger, &types.LedgerEvent{
		Kind:    types.EventRevenueDistributed,
		Subject: sale.PoolID,
		Fields: map[string]string{
			"transactionRef": sale.TransactionRef,
			"net":            sale.Net.String(),
			"members":        fmt.Sprint(len(rows)),
		},
		At: sale.CreatedAt,
	})
	return rows, nil
}

// registerSale claims the (pool, transaction) key. With no members there is
// nothing to register, unless an earlier call already did.
func (d *Distributor) registerSale(ctx context.Context, req SaleRequest, fee decimal.Decimal, members []string) (*types.Sale, bool, error) {
	if len(members) == 0 {
		var existing *types.Sale
		err := d.retry.Do(ctx, func(ctx context.Context) (err error) {
			existing, err = d.store.Sale(ctx, req.PoolID, req.TransactionRef)
			return err
		})
		if errors.Is(err, types.ErrNotFound) {
			return nil, false, fmt.Errorf("%w: pool %s has no members", types.ErrNoEligibleRecipients, req.PoolID)
		}
		if err != nil {
			return nil, false, utils.StoreError(d.logger, "sale", err)
		}
		return existing, false, nil
	}

	net := req.SalePrice.Mul(decimal.NewFromInt(1).Sub(fee))
	sale := &types.Sale{
		PoolID:         req.PoolID,
		TransactionRef: req.TransactionRef,
		SalePrice:      req.SalePrice,
		FeeRate:        fee,
		Net:            net,
		Allocations:    Split(net, members),
		CreatedAt:      d.clock(),
	}
	var (
		stored  *types.Sale
		created bool
	)
	// InsertSale is keyed, so a retried attempt at worst reads back its own
	// earlier write.
	err := d.retry.Do(ctx, func(ctx context.Context) (err error) {
		stored, created, err = d.store.InsertSale(ctx, sale)
		return err
	})
	if err != nil {
		return nil, false, utils.StoreError(d.logger, "insertSale", err)
	}
	return stored, created, nil
}

// Distributions returns the rows written for one sale.
func (d *Distributor) Distributions(ctx context.Context, poolID, transactionRef string) ([]*types.RevenueDistribution, error) {
	var rows []*types.RevenueDistribution
	err := d.retry.Do(ctx, func(ctx context.Context) (err error) {
		if _, err = d.store.Sale(ctx, poolID, transactionRef); err != nil {
			return err
		}
		rows, err = d.store.Distributions(ctx, poolID, transactionRef)
		return err
	})
	if err != nil {
		return nil, utils.StoreError(d.logger, "distributions", err)
	}
	return rows, nil
}
