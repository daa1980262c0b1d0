package server

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kardiachain/dao-ledger/db"
	"github.com/kardiachain/dao-ledger/governance"
	"github.com/kardiachain/dao-ledger/metrics"
	"github.com/kardiachain/dao-ledger/revenue"
	"github.com/kardiachain/dao-ledger/types"
)

func createTestSrv(t *testing.T, now *time.Time) *Server {
	t.Helper()
	srv, err := New(Config{
		DBAdapter:       db.Memory,
		StoreTimeout:    time.Second,
		StoreMaxRetries: 1,
		ClaimMaxRetries: 3,
		QuorumFraction:  decimal.RequireFromString("0.6"),
		PlatformFeeRate: decimal.RequireFromString("0.025"),
		Metrics:         metrics.New(),
		Logger:          zap.NewNop(),
		Clock:           func() time.Time { return *now },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close(context.Background()) })
	return srv
}

func TestServer_GalleryLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	srv := createTestSrv(t, &now)
	require.NoError(t, srv.Ping(ctx))

	community, err := srv.Directory.CreateCommunity(ctx, "artists", "u1")
	require.NoError(t, err)
	for _, u := range []string{"u2", "u3", "u4", "u5"} {
		require.NoError(t, srv.Directory.AddMember(ctx, community.ID, u))
	}
	gallery, err := srv.Directory.CreateGallery(ctx, community.ID, "spring show")
	require.NoError(t, err)
	assert.Equal(t, types.GalleryPending, gallery.Status)

	proposal, err := srv.Engine.CreateProposal(ctx, governance.CreateProposalRequest{
		CommunityID:    community.ID,
		Type:           types.ProposalGallery,
		Title:          "Open the spring show",
		Creator:        "u1",
		VotingEnd:      now.Add(24 * time.Hour),
		LinkedEntityID: gallery.ID,
	})
	require.NoError(t, err)

	// Three of five members is the 0.6 quorum.
	var last *governance.VoteResult
	for _, u := range []string{"u1", "u2", "u3"} {
		last, err = srv.Tally.CastVote(ctx, governance.Ballot{ProposalID: proposal.ID, VoterID: u, Choice: true})
		require.NoError(t, err)
	}
	require.NotNil(t, last.Resolution)
	assert.Equal(t, types.ProposalPassed, last.Proposal.Status)

	gallery, err = srv.Directory.Gallery(ctx, gallery.ID)
	require.NoError(t, err)
	assert.Equal(t, types.GalleryActive, gallery.Status)

	rows, err := srv.Distributor.Distribute(ctx, revenue.SaleRequest{
		PoolID: gallery.ID, TransactionRef: "0xsale", SalePrice: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	assert.Len(t, rows, 5)

	payout, err := srv.Ledger.Claim(ctx, revenue.ClaimRequest{UserID: "u4", PoolID: gallery.ID, Destination: "0xwallet"})
	require.NoError(t, err)
	assert.Equal(t, "19.5", payout.Amount.String())
}

func TestNew_InvalidAdapters(t *testing.T) {
	_, err := New(Config{DBAdapter: "nope"})
	assert.Error(t, err)

	_, err = New(Config{DBAdapter: db.Memory, CacheAdapter: "memcached"})
	assert.Error(t, err)
}

// closeCounter records how often the server closes its store.
type closeCounter struct {
	db.Client
	closed int
}

func (c *closeCounter) Close(ctx context.Context) error {
	c.closed++
	return c.Client.Close(ctx)
}

func TestNew_ClosesStoreWhenWiringFails(t *testing.T) {
	cases := map[string]func(cfg *Config){
		"Engine":      func(cfg *Config) { cfg.QuorumFraction = decimal.RequireFromString("1.5") },
		"Tally":       func(cfg *Config) { cfg.MaxVoteWeight = types.MaxTally + 1 },
		"Distributor": func(cfg *Config) { cfg.PlatformFeeRate = decimal.NewFromInt(1) },
		"Cache":       func(cfg *Config) { cfg.CacheAdapter = "memcached" },
	}
	for name, broken := range cases {
		t.Run(name, func(t *testing.T) {
			store := &closeCounter{Client: db.NewMemory(zap.NewNop())}
			cfg := Config{
				Store:           store,
				ClaimMaxRetries: 3,
				PlatformFeeRate: decimal.RequireFromString("0.025"),
			}
			broken(&cfg)
			_, err := New(cfg)
			assert.Error(t, err)
			assert.Equal(t, 1, store.closed)
		})
	}

	store := &closeCounter{Client: db.NewMemory(zap.NewNop())}
	srv, err := New(Config{Store: store, ClaimMaxRetries: 3})
	require.NoError(t, err)
	assert.Equal(t, 0, store.closed)
	require.NoError(t, srv.Close(context.Background()))
	assert.Equal(t, 1, store.closed)
}
