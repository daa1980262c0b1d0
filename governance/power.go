package governance

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/kardiachain/dao-ledger/cache"
	"github.com/kardiachain/dao-ledger/types"
)

// VotingPowerSource reports the total weight a proposal could receive. It is
// the base the early-quorum fraction applies to.
type VotingPowerSource interface {
	ExpectedPower(ctx context.Context, p *types.Proposal) (uint64, error)
}

// StaticVotingPower returns the same expected weight for every proposal.
type StaticVotingPower uint64

func (s StaticVotingPower) ExpectedPower(_ context.Context, _ *types.Proposal) (uint64, error) {
	return uint64(s), nil
}

type memberCounter interface {
	CountMembers(ctx context.Context, communityID string) (uint64, error)
}

type memberCountCache interface {
	MemberCount(ctx context.Context, communityID string) (uint64, error)
	UpdateMemberCount(ctx context.Context, communityID string, count uint64) error
}

// MembershipVotingPower counts one unit of weight per current member of the
// proposal's community. Counts are served from Cache when one is configured.
type MembershipVotingPower struct {
	Store  memberCounter
	Cache  memberCountCache
	Logger *zap.Logger
}

func (m *MembershipVotingPower) ExpectedPower(ctx context.Context, p *types.Proposal) (uint64, error) {
	if m.Cache != nil {
		count, err := m.Cache.MemberCount(ctx, p.CommunityID)
		if err == nil {
			return count, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			m.logger().Debug("member count cache unavailable", zap.String("community", p.CommunityID), zap.Error(err))
		}
	}
	count, err := m.Store.CountMembers(ctx, p.CommunityID)
	if err != nil {
		return 0, err
	}
	if m.Cache != nil {
		if err := m.Cache.UpdateMemberCount(ctx, p.CommunityID, count); err != nil {
			m.logger().Debug("cannot cache member count", zap.String("community", p.CommunityID), zap.Error(err))
		}
	}
	return count, nil
}

func (m *MembershipVotingPower) logger() *zap.Logger {
	if m.Logger == nil {
		return zap.NewNop()
	}
	return m.Logger
}
