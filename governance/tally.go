package governance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kardiachain/dao-ledger/db"
	"github.com/kardiachain/dao-ledger/metrics"
	"github.com/kardiachain/dao-ledger/types"
	"github.com/kardiachain/dao-ledger/utils"
)

type TallyConfig struct {
	Store  db.Client
	Engine *Engine
	// MaxWeight caps a single ballot. Zero means types.MaxTally.
	MaxWeight uint64
	Retry     utils.RetryConfig
	Metrics   *metrics.Collector
	Logger    *zap.Logger
	Clock     func() time.Time
}

// Tally records ballots. The count update is a single guarded increment in
// the store, never a read followed by a write.
type Tally struct {
	store     db.Client
	engine    *Engine
	maxWeight uint64
	retry     utils.RetryConfig
	metrics   *metrics.Collector
	logger    *zap.Logger
	clock     func() time.Time
}

func NewTally(cfg TallyConfig) (*Tally, error) {
	if cfg.Store == nil || cfg.Engine == nil {
		return nil, errors.New("governance: store and engine are required")
	}
	if cfg.MaxWeight > types.MaxTally {
		return nil, fmt.Errorf("governance: max weight %d above %d", cfg.MaxWeight, types.MaxTally)
	}
	if cfg.MaxWeight == 0 {
		cfg.MaxWeight = types.MaxTally
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Tally{
		store:     cfg.Store,
		engine:    cfg.Engine,
		maxWeight: cfg.MaxWeight,
		retry:     cfg.Retry,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With(zap.String("component", "tally")),
		clock:     cfg.Clock,
	}, nil
}

type Ballot struct {
	ProposalID string `json:"proposalId"`
	VoterID    string `json:"voterId"`
	Choice     bool   `json:"choice"`
	// Weight defaults to 1.
	Weight uint64 `json:"weight"`
}

type VoteResult struct {
	Vote     *types.Vote     `json:"vote"`
	Proposal *types.Proposal `json:"proposal"`
	// Resolution is set when this vote reached quorum.
	Resolution *Resolution `json:"-"`
}

func (t *Tally) CastVote(ctx context.Context, b Ballot) (*VoteResult, error) {
	if b.ProposalID == "" || b.VoterID == "" {
		return nil, fmt.Errorf("%w: proposal and voter are required", types.ErrInvalidVote)
	}
	if b.Weight == 0 {
		b.Weight = 1
	}
	if b.Weight > t.maxWeight {
		return nil, fmt.Errorf("%w: weight above %d", types.ErrInvalidVote, t.maxWeight)
	}
	now := t.clock()
	vote := &types.Vote{
		ProposalID: b.ProposalID,
		VoterID:    b.VoterID,
		Choice:     b.Choice,
		Weight:     b.Weight,
		CreatedAt:  now,
	}

	// Not retried: a timed out attempt may have committed, and a replay
	// would come back as a duplicate.
	var counted *types.Proposal
	err := t.retry.Once(ctx, func(ctx context.Context) (err error) {
		counted, err = t.store.RecordVote(ctx, vote, now)
		return err
	})
	switch {
	case err == nil:
		t.metrics.Vote("recorded")
	case errors.Is(err, types.ErrDuplicateVote):
		t.metrics.Vote("duplicate")
		return nil, err
	case errors.Is(err, types.ErrInvalidVote):
		t.metrics.Vote("invalid")
		return nil, err
	case errors.Is(err, types.ErrProposalClosed):
		t.metrics.Vote("closed")
		t.resolveLate(ctx, b.ProposalID)
		return nil, err
	default:
		t.metrics.Vote("error")
		return nil, utils.StoreError(t.logger, "recordVote", err)
	}

	result := &VoteResult{Vote: vote, Proposal: counted}
	res, err := t.engine.EarlyResolve(ctx, counted)
	if err != nil {
		// The vote is committed; a later read or sweep resolves the proposal.
		t.logger.Warn("early quorum check failed", zap.String("proposal", b.ProposalID), zap.Error(err))
		return result, nil
	}
	if res != nil {
		result.Resolution = res
		result.Proposal = res.Proposal
	}
	return result, nil
}

// resolveLate applies the deadline trigger after a vote bounced off a
// proposal whose window just closed.
func (t *Tally) resolveLate(ctx context.Context, proposalID string) {
	if _, err := t.engine.ResolveIfDue(ctx, proposalID); err != nil {
		t.logger.Debug("deadline resolve after late vote failed", zap.String("proposal", proposalID), zap.Error(err))
	}
}

func (t *Tally) Votes(ctx context.Context, proposalID string) ([]*types.Vote, error) {
	var votes []*types.Vote
	err := t.retry.Do(ctx, func(ctx context.Context) (err error) {
		if _, err = t.store.Proposal(ctx, proposalID); err != nil {
			return err
		}
		votes, err = t.store.Votes(ctx, proposalID)
		return err
	})
	if err != nil {
		return nil, utils.StoreError(t.logger, "votes", err)
	}
	return votes, nil
}
