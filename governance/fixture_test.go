package governance

import (
	"context"
	"sync"
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

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store     db.Client
	clock     *testClock
	engine    *Engine
	tally     *Tally
	directory *Directory
}

type fixtureOption func(cfg *EngineConfig)

func withQuorum(power VotingPowerSource, fraction string) fixtureOption {
	return func(cfg *EngineConfig) {
		cfg.Power = power
		cfg.QuorumFraction = decimal.RequireFromString(fraction)
	}
}

func withEffects(effects *EffectRegistry) fixtureOption {
	return func(cfg *EngineConfig) {
		cfg.Effects = effects
	}
}

// withEngineStore puts wrap between the engine and the store; the tally
// keeps writing to the store directly.
func withEngineStore(wrap func(db.Client) db.Client) fixtureOption {
	return func(cfg *EngineConfig) {
		cfg.Store = wrap(cfg.Store)
	}
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	store := db.NewMemory(zap.NewNop())
	clock := &testClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	retry := utils.RetryConfig{Timeout: time.Second, MaxRetries: 1}

	cfg := EngineConfig{
		Store:   store,
		Retry:   retry,
		Metrics: metrics.New(),
		Logger:  zap.NewNop(),
		Clock:   clock.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	engine, err := NewEngine(cfg)
	require.NoError(t, err)
	tally, err := NewTally(TallyConfig{Store: store, Engine: engine, Retry: retry, Clock: clock.Now})
	require.NoError(t, err)
	directory, err := NewDirectory(DirectoryConfig{Store: store, Retry: retry, Clock: clock.Now})
	require.NoError(t, err)
	return &fixture{store: store, clock: clock, engine: engine, tally: tally, directory: directory}
}

// community creates a community whose owner is the first of members.
func (f *fixture) community(t *testing.T, members ...string) *types.Community {
	t.Helper()
	ctx := context.Background()
	owner := faker.Username()
	if len(members) > 0 {
		owner = members[0]
	}
	c, err := f.directory.CreateCommunity(ctx, faker.Word(), owner)
	require.NoError(t, err)
	for _, m := range members {
		require.NoError(t, f.directory.AddMember(ctx, c.ID, m))
	}
	return c
}

func (f *fixture) proposal(t *testing.T, communityID string, typ types.ProposalType, linked string) *types.Proposal {
	t.Helper()
	p, err := f.engine.CreateProposal(context.Background(), CreateProposalRequest{
		CommunityID:    communityID,
		Type:           typ,
		Title:          faker.Sentence(),
		Creator:        faker.Username(),
		VotingEnd:      f.clock.Now().Add(time.Hour),
		LinkedEntityID: linked,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) vote(t *testing.T, proposalID, voter string, choice bool) *VoteResult {
	t.Helper()
	res, err := f.tally.CastVote(context.Background(), Ballot{ProposalID: proposalID, VoterID: voter, Choice: choice})
	require.NoError(t, err)
	return res
}
