// Package db
package db

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bxcodec/faker/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kardiachain/dao-ledger/types"
)

// testClock truncates to the second so every adapter round-trips it exactly.
func testClock() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func newActiveProposal(communityID string, end time.Time) *types.Proposal {
	return &types.Proposal{
		ID:          faker.UUIDHyphenated(),
		CommunityID: communityID,
		Type:        types.ProposalGeneral,
		Title:       faker.Sentence(),
		Creator:     faker.Username(),
		Status:      types.ProposalActive,
		VotingEnd:   end,
		CreatedAt:   end.Add(-time.Hour),
	}
}

// runClientSuite checks the behaviour every Client adapter must share.
func runClientSuite(t *testing.T, client Client) {
	ctx := context.Background()

	t.Run("ProposalRoundTrip", func(t *testing.T) {
		now := testClock()
		p := newActiveProposal(faker.UUIDHyphenated(), now.Add(time.Hour))
		require.NoError(t, client.InsertProposal(ctx, p))
		assert.ErrorIs(t, client.InsertProposal(ctx, p), types.ErrRecordExist)

		got, err := client.Proposal(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.ID, got.ID)
		assert.Equal(t, types.ProposalActive, got.Status)
		assert.True(t, p.VotingEnd.Equal(got.VotingEnd))

		_, err = client.Proposal(ctx, "missing")
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("RecordVote", func(t *testing.T) {
		now := testClock()
		p := newActiveProposal(faker.UUIDHyphenated(), now.Add(time.Hour))
		require.NoError(t, client.InsertProposal(ctx, p))

		yes := &types.Vote{ProposalID: p.ID, VoterID: "alice", Choice: true, Weight: 1, CreatedAt: now}
		got, err := client.RecordVote(ctx, yes, now)
		require.NoError(t, err)
		assert.EqualValues(t, 1, got.YesVotes)
		assert.EqualValues(t, 0, got.NoVotes)

		_, err = client.RecordVote(ctx, yes, now)
		assert.ErrorIs(t, err, types.ErrDuplicateVote)

		no := &types.Vote{ProposalID: p.ID, VoterID: "bob", Choice: false, Weight: 3, CreatedAt: now}
		got, err = client.RecordVote(ctx, no, now)
		require.NoError(t, err)
		assert.EqualValues(t, 1, got.YesVotes)
		assert.EqualValues(t, 3, got.NoVotes)

		late := &types.Vote{ProposalID: p.ID, VoterID: "carol", Choice: true, Weight: 1, CreatedAt: now}
		_, err = client.RecordVote(ctx, late, p.VotingEnd)
		assert.ErrorIs(t, err, types.ErrProposalClosed)

		votes, err := client.Votes(ctx, p.ID)
		require.NoError(t, err)
		assert.Len(t, votes, 2)

		_, err = client.RecordVote(ctx, &types.Vote{ProposalID: "missing", VoterID: "x", Weight: 1}, now)
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("RecordVoteConcurrent", func(t *testing.T) {
		now := testClock()
		p := newActiveProposal(faker.UUIDHyphenated(), now.Add(time.Hour))
		require.NoError(t, client.InsertProposal(ctx, p))

		const voters = 16
		var wg sync.WaitGroup
		for i := 0; i < voters; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				vote := &types.Vote{ProposalID: p.ID, VoterID: faker.UUIDDigit(), Choice: i%2 == 0, Weight: 1, CreatedAt: now}
				_, err := client.RecordVote(ctx, vote, now)
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		got, err := client.Proposal(ctx, p.ID)
		require.NoError(t, err)
		assert.EqualValues(t, voters/2, got.YesVotes)
		assert.EqualValues(t, voters/2, got.NoVotes)
	})

	t.Run("TransitionProposalOnce", func(t *testing.T) {
		now := testClock()
		p := newActiveProposal(faker.UUIDHyphenated(), now.Add(time.Hour))
		require.NoError(t, client.InsertProposal(ctx, p))

		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			moved int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := client.TransitionProposal(ctx, p.ID, types.Tally{}, types.ProposalPassed, now)
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					moved++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, moved)

		got, err := client.Proposal(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, types.ProposalPassed, got.Status)
		require.NotNil(t, got.ResolvedAt)

		_, err = client.RecordVote(ctx, &types.Vote{ProposalID: p.ID, VoterID: "late", Weight: 1}, now)
		assert.ErrorIs(t, err, types.ErrProposalClosed)

		_, err = client.TransitionProposal(ctx, "missing", types.Tally{}, types.ProposalPassed, now)
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("TransitionProposalStaleTally", func(t *testing.T) {
		now := testClock()
		p := newActiveProposal(faker.UUIDHyphenated(), now.Add(time.Hour))
		require.NoError(t, client.InsertProposal(ctx, p))
		snapshot := p.Tally()

		_, err := client.RecordVote(ctx, &types.Vote{ProposalID: p.ID, VoterID: "alice", Choice: true, Weight: 1, CreatedAt: now}, now)
		require.NoError(t, err)

		ok, err := client.TransitionProposal(ctx, p.ID, snapshot, types.ProposalRejected, now)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = client.TransitionProposal(ctx, p.ID, types.Tally{Yes: 1}, types.ProposalPassed, now)
		require.NoError(t, err)
		assert.True(t, ok)
		got, err := client.Proposal(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, types.ProposalPassed, got.Status)
	})

	t.Run("RecordVoteOverflow", func(t *testing.T) {
		now := testClock()
		p := newActiveProposal(faker.UUIDHyphenated(), now.Add(time.Hour))
		require.NoError(t, client.InsertProposal(ctx, p))

		whale := &types.Vote{ProposalID: p.ID, VoterID: "whale", Choice: true, Weight: types.MaxTally, CreatedAt: now}
		_, err := client.RecordVote(ctx, whale, now)
		require.NoError(t, err)

		one := &types.Vote{ProposalID: p.ID, VoterID: "minnow", Choice: true, Weight: 1, CreatedAt: now}
		_, err = client.RecordVote(ctx, one, now)
		assert.ErrorIs(t, err, types.ErrInvalidVote)

		huge := &types.Vote{ProposalID: p.ID, VoterID: "wrap", Choice: false, Weight: types.MaxTally + 1, CreatedAt: now}
		_, err = client.RecordVote(ctx, huge, now)
		assert.ErrorIs(t, err, types.ErrInvalidVote)

		// A refused vote leaves no row behind, so the voter can still vote.
		one.Choice = false
		got, err := client.RecordVote(ctx, one, now)
		require.NoError(t, err)
		assert.Equal(t, types.MaxTally, got.YesVotes)
		assert.EqualValues(t, 1, got.NoVotes)

		votes, err := client.Votes(ctx, p.ID)
		require.NoError(t, err)
		assert.Len(t, votes, 2)
	})

	t.Run("ProposalsFilter", func(t *testing.T) {
		now := testClock()
		community := faker.UUIDHyphenated()
		due := newActiveProposal(community, now.Add(-time.Minute))
		open := newActiveProposal(community, now.Add(time.Hour))
		open.CreatedAt = due.CreatedAt.Add(time.Second)
		require.NoError(t, client.InsertProposal(ctx, due))
		require.NoError(t, client.InsertProposal(ctx, open))

		all, err := client.Proposals(ctx, types.ProposalsFilter{CommunityID: community})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, open.ID, all[0].ID)

		dueOnly, err := client.Proposals(ctx, types.ProposalsFilter{
			CommunityID: community,
			Status:      types.ProposalActive,
			DueBefore:   now,
		})
		require.NoError(t, err)
		require.Len(t, dueOnly, 1)
		assert.Equal(t, due.ID, dueOnly[0].ID)

		page, err := client.Proposals(ctx, types.ProposalsFilter{CommunityID: community, Pagination: &types.Pagination{Skip: 1, Limit: 10}})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, due.ID, page[0].ID)
	})

	t.Run("CommunityMembers", func(t *testing.T) {
		now := testClock()
		c := &types.Community{ID: faker.UUIDHyphenated(), Name: faker.Word(), Owner: "owner", CreatedAt: now}
		require.NoError(t, client.InsertCommunity(ctx, c))
		assert.ErrorIs(t, client.InsertCommunity(ctx, c), types.ErrRecordExist)

		for _, u := range []string{"u3", "u1", "u2", "u1"} {
			require.NoError(t, client.AddMember(ctx, &types.Member{CommunityID: c.ID, UserID: u, JoinedAt: now}))
		}
		members, err := client.Members(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"u1", "u2", "u3"}, members)

		count, err := client.CountMembers(ctx, c.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 3, count)

		err = client.AddMember(ctx, &types.Member{CommunityID: "missing", UserID: "u1", JoinedAt: now})
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("GalleryTransition", func(t *testing.T) {
		now := testClock()
		g := &types.Gallery{ID: faker.UUIDHyphenated(), CommunityID: "c", Name: faker.Word(), Status: types.GalleryPending, CreatedAt: now, UpdatedAt: now}
		require.NoError(t, client.InsertGallery(ctx, g))

		ok, err := client.TransitionGallery(ctx, g.ID, types.GalleryPending, types.GalleryCancelled, now)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = client.TransitionGallery(ctx, g.ID, types.GalleryPending, types.GalleryActive, now)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := client.Gallery(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, types.GalleryCancelled, got.Status)

		_, err = client.TransitionGallery(ctx, "missing", types.GalleryPending, types.GalleryActive, now)
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("SaleAndDistributions", func(t *testing.T) {
		now := testClock()
		pool := faker.UUIDHyphenated()
		amount := decimal.RequireFromString("24.375")
		sale := &types.Sale{
			PoolID:         pool,
			TransactionRef: "tx-1",
			SalePrice:      decimal.NewFromInt(100),
			FeeRate:        decimal.RequireFromString("0.025"),
			Net:            decimal.RequireFromString("97.5"),
			Allocations:    []types.Allocation{{MemberID: "m1", Amount: amount}},
			CreatedAt:      now,
		}
		stored, created, err := client.InsertSale(ctx, sale)
		require.NoError(t, err)
		assert.True(t, created)
		assert.True(t, stored.Net.Equal(sale.Net))

		again := *sale
		again.SalePrice = decimal.NewFromInt(1)
		stored, created, err = client.InsertSale(ctx, &again)
		require.NoError(t, err)
		assert.False(t, created)
		assert.True(t, stored.SalePrice.Equal(decimal.NewFromInt(100)))
		require.Len(t, stored.Allocations, 1)
		assert.True(t, stored.Allocations[0].Amount.Equal(amount))

		rows := []*types.RevenueDistribution{
			{ID: faker.UUIDHyphenated(), PoolID: pool, MemberID: "m1", Amount: amount, TransactionRef: "tx-1", CreatedAt: now},
			{ID: faker.UUIDHyphenated(), PoolID: pool, MemberID: "m2", Amount: amount, TransactionRef: "tx-1", CreatedAt: now},
		}
		require.NoError(t, client.InsertDistributions(ctx, rows))
		require.NoError(t, client.InsertDistributions(ctx, rows))

		got, err := client.Distributions(ctx, pool, "tx-1")
		require.NoError(t, err)
		assert.Len(t, got, 2)

		total, err := client.DistributedTotal(ctx, "m1", pool)
		require.NoError(t, err)
		assert.True(t, total.Equal(amount), total.String())

		total, err = client.DistributedTotal(ctx, "nobody", pool)
		require.NoError(t, err)
		assert.True(t, total.IsZero())

		_, err = client.Sale(ctx, pool, "tx-missing")
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("PayoutCursorCAS", func(t *testing.T) {
		user, pool := faker.UUIDHyphenated(), faker.UUIDHyphenated()
		cursor, err := client.PayoutCursor(ctx, user, pool)
		require.NoError(t, err)
		assert.EqualValues(t, 0, cursor.Version)
		assert.True(t, cursor.Reserved.IsZero())

		stale := *cursor
		require.NoError(t, client.AdvancePayoutCursor(ctx, cursor, decimal.NewFromInt(5)))
		assert.EqualValues(t, 1, cursor.Version)
		assert.ErrorIs(t, client.AdvancePayoutCursor(ctx, &stale, decimal.NewFromInt(7)), types.ErrVersionConflict)

		require.NoError(t, client.AdvancePayoutCursor(ctx, cursor, decimal.NewFromInt(8)))
		stored, err := client.PayoutCursor(ctx, user, pool)
		require.NoError(t, err)
		assert.EqualValues(t, 2, stored.Version)
		assert.True(t, stored.Reserved.Equal(decimal.NewFromInt(8)))
	})

	t.Run("PayoutStatus", func(t *testing.T) {
		now := testClock()
		user, pool := faker.UUIDHyphenated(), faker.UUIDHyphenated()
		payout := &types.PayoutRecord{
			ID:          faker.UUIDHyphenated(),
			UserID:      user,
			PoolID:      pool,
			Amount:      decimal.RequireFromString("12.5"),
			Status:      types.PayoutProcessing,
			Destination: "0xabc",
			CreatedAt:   now,
		}
		require.NoError(t, client.InsertPayout(ctx, payout))

		total, err := client.CompletedTotal(ctx, user, pool)
		require.NoError(t, err)
		assert.True(t, total.IsZero())

		payout.Status = types.PayoutCompleted
		payout.PaidAt = &now
		payout.TransactionRef = "0xfeed"
		require.NoError(t, client.UpdatePayoutStatus(ctx, payout, types.PayoutProcessing))
		assert.ErrorIs(t, client.UpdatePayoutStatus(ctx, payout, types.PayoutProcessing), types.ErrVersionConflict)

		total, err = client.CompletedTotal(ctx, user, pool)
		require.NoError(t, err)
		assert.True(t, total.Equal(payout.Amount))

		payouts, err := client.Payouts(ctx, user, pool)
		require.NoError(t, err)
		require.Len(t, payouts, 1)
		assert.Equal(t, types.PayoutCompleted, payouts[0].Status)
		assert.Equal(t, "0xfeed", payouts[0].TransactionRef)
	})
}
