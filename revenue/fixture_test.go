package revenue

import (
	"context"
	"testing"
	"time"

	"github.com/bxcodec/faker/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kardiachain/dao-ledger/db"
	"github.com/kardiachain/dao-ledger/metrics"
	"github.com/kardiachain/dao-ledger/types"
	"github.com/kardiachain/dao-ledger/utils"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

type fixture struct {
	store       db.Client
	metrics     *metrics.Collector
	distributor *Distributor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := db.NewMemory(zap.NewNop())
	m := metrics.New()
	d, err := NewDistributor(DistributorConfig{
		Store:          store,
		DefaultFeeRate: decimal.RequireFromString("0.025"),
		Retry:          utils.RetryConfig{Timeout: time.Second, MaxRetries: 1},
		Metrics:        m,
		Clock:          testClock,
	})
	require.NoError(t, err)
	return &fixture{store: store, metrics: m, distributor: d}
}

func (f *fixture) ledger(t *testing.T, store db.Client, payer Payer) *Ledger {
	t.Helper()
	if store == nil {
		store = f.store
	}
	l, err := NewLedger(LedgerConfig{
		Store:   store,
		Payer:   payer,
		Retry:   utils.RetryConfig{Timeout: time.Second, MaxRetries: 1},
		Metrics: f.metrics,
		Clock:   testClock,
	})
	require.NoError(t, err)
	return l
}

// pool creates a community with members and a gallery whose sales pay them.
func (f *fixture) pool(t *testing.T, members ...string) string {
	t.Helper()
	ctx := context.Background()
	community := &types.Community{ID: faker.UUIDHyphenated(), Name: faker.Word(), CreatedAt: testNow}
	require.NoError(t, f.store.InsertCommunity(ctx, community))
	for _, m := range members {
		require.NoError(t, f.store.AddMember(ctx, &types.Member{CommunityID: community.ID, UserID: m, JoinedAt: testNow}))
	}
	gallery := &types.Gallery{ID: faker.UUIDHyphenated(), CommunityID: community.ID, Status: types.GalleryActive, CreatedAt: testNow}
	require.NoError(t, f.store.InsertGallery(ctx, gallery))
	return gallery.ID
}

func (f *fixture) sale(t *testing.T, poolID, price string) []*types.RevenueDistribution {
	t.Helper()
	rows, err := f.distributor.Distribute(context.Background(), SaleRequest{
		PoolID:         poolID,
		TransactionRef: faker.UUIDDigit(),
		SalePrice:      decimal.RequireFromString(price),
	})
	require.NoError(t, err)
	return rows
}
