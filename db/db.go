// Package db
package db

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kardiachain/dao-ledger/types"
)

type Adapter string

const (
	MGO    Adapter = "mgo"
	MySQL  Adapter = "mysql"
	Memory Adapter = "memory"
)

type Config struct {
	DbAdapter Adapter
	DbName    string
	URL       string
	MinConn   int
	MaxConn   int
	FlushDB   bool

	Logger *zap.Logger
}

type IProposal interface {
	InsertProposal(ctx context.Context, proposal *types.Proposal) error
	Proposal(ctx context.Context, id string) (*types.Proposal, error)
	Proposals(ctx context.Context, filter types.ProposalsFilter) ([]*types.Proposal, error)
	// RecordVote appends the vote and adds its weight to the matching counter
	// of the proposal, provided the proposal is still active and now is before
	// its voting end. A weight that would carry the counter past
	// types.MaxTally fails with types.ErrInvalidVote. The vote row and the
	// increment are written together or not at all. It returns the proposal
	// as it stands right after the increment.
	RecordVote(ctx context.Context, vote *types.Vote, now time.Time) (*types.Proposal, error)
	// TransitionProposal moves a proposal to status if it is still active and
	// its counters still equal tally. Only the first caller gets true; a
	// caller that lost to another transition or to a vote gets false and no
	// error.
	TransitionProposal(ctx context.Context, id string, tally types.Tally, status types.ProposalStatus, at time.Time) (bool, error)
}

type IVote interface {
	Votes(ctx context.Context, proposalID string) ([]*types.Vote, error)
}

type IGallery interface {
	InsertGallery(ctx context.Context, gallery *types.Gallery) error
	Gallery(ctx context.Context, id string) (*types.Gallery, error)
	// TransitionGallery sets the status to `to` only if it currently is `from`.
	TransitionGallery(ctx context.Context, id string, from, to types.GalleryStatus, at time.Time) (bool, error)
}

type ICommunity interface {
	InsertCommunity(ctx context.Context, community *types.Community) error
	Community(ctx context.Context, id string) (*types.Community, error)
	// AddMember is a no-op when the user already belongs to the community.
	AddMember(ctx context.Context, member *types.Member) error
	Members(ctx context.Context, communityID string) ([]string, error)
	CountMembers(ctx context.Context, communityID string) (uint64, error)
}

type IDistribution interface {
	// InsertSale registers a sale under (PoolID, TransactionRef). When the key
	// is already taken the stored sale is returned with created set to false.
	InsertSale(ctx context.Context, sale *types.Sale) (stored *types.Sale, created bool, err error)
	Sale(ctx context.Context, poolID, transactionRef string) (*types.Sale, error)
	// InsertDistributions skips rows whose id already exists.
	InsertDistributions(ctx context.Context, rows []*types.RevenueDistribution) error
	Distributions(ctx context.Context, poolID, transactionRef string) ([]*types.RevenueDistribution, error)
	DistributedTotal(ctx context.Context, userID, poolID string) (decimal.Decimal, error)
}

type IPayout interface {
	// PayoutCursor returns a zero cursor with Version 0 when none exists yet.
	PayoutCursor(ctx context.Context, userID, poolID string) (*types.PayoutCursor, error)
	// AdvancePayoutCursor stores reserved if the stored version still equals
	// cursor.Version, otherwise it fails with types.ErrVersionConflict. On
	// success cursor is updated in place.
	AdvancePayoutCursor(ctx context.Context, cursor *types.PayoutCursor, reserved decimal.Decimal) error
	InsertPayout(ctx context.Context, payout *types.PayoutRecord) error
	// UpdatePayoutStatus persists the status, PaidAt, TransactionRef and
	// FailureReason of payout if the stored status equals from.
	UpdatePayoutStatus(ctx context.Context, payout *types.PayoutRecord, from types.PayoutStatus) error
	Payouts(ctx context.Context, userID, poolID string) ([]*types.PayoutRecord, error)
	CompletedTotal(ctx context.Context, userID, poolID string) (decimal.Decimal, error)
}

type Client interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	IProposal
	IVote
	IGallery
	ICommunity
	IDistribution
	IPayout
}

func NewClient(cfg Config) (Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	switch cfg.DbAdapter {
	case MGO:
		return newMongoDB(cfg)
	case MySQL:
		return newMySQL(cfg)
	case Memory:
		return newMemoryDB(cfg), nil
	default:
		return nil, errors.New("invalid db config")
	}
}
