package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kardiachain/dao-ledger/types"
)

type pairKey struct {
	a, b string
}

// memoryDB keeps the whole ledger in process. Every method runs under one
// mutex, which gives each call the same all-or-nothing behaviour the network
// adapters get from conditional writes.
type memoryDB struct {
	logger *zap.Logger

	mu            sync.RWMutex
	proposals     map[string]*types.Proposal
	votes         map[pairKey]*types.Vote
	voteOrder     map[string][]string
	galleries     map[string]*types.Gallery
	communities   map[string]*types.Community
	members       map[string]map[string]*types.Member
	sales         map[pairKey]*types.Sale
	distributions map[string]*types.RevenueDistribution
	cursors       map[pairKey]*types.PayoutCursor
	payouts       map[string]*types.PayoutRecord
	payoutOrder   []string
}

func newMemoryDB(cfg Config) *memoryDB {
	return &memoryDB{
		logger:        cfg.Logger.With(zap.String("db", "memory")),
		proposals:     make(map[string]*types.Proposal),
		votes:         make(map[pairKey]*types.Vote),
		voteOrder:     make(map[string][]string),
		galleries:     make(map[string]*types.Gallery),
		communities:   make(map[string]*types.Community),
		members:       make(map[string]map[string]*types.Member),
		sales:         make(map[pairKey]*types.Sale),
		distributions: make(map[string]*types.RevenueDistribution),
		cursors:       make(map[pairKey]*types.PayoutCursor),
		payouts:       make(map[string]*types.PayoutRecord),
	}
}

// NewMemory returns an empty in-process store.
func NewMemory(logger *zap.Logger) Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return newMemoryDB(Config{Logger: logger})
}

func (m *memoryDB) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *memoryDB) Close(ctx context.Context) error {
	return nil
}

//region Proposals

func copyProposal(p *types.Proposal) *types.Proposal {
	cp := *p
	if p.ResolvedAt != nil {
		at := *p.ResolvedAt
		cp.ResolvedAt = &at
	}
	return &cp
}

func (m *memoryDB) InsertProposal(ctx context.Context, proposal *types.Proposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.proposals[proposal.ID]; ok {
		return fmt.Errorf("proposal %s: %w", proposal.ID, types.ErrRecordExist)
	}
	m.proposals[proposal.ID] = copyProposal(proposal)
	return nil
}

func (m *memoryDB) Proposal(ctx context.Context, id string) (*types.Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.proposals[id]
	if !ok {
		return nil, fmt.Errorf("proposal %s: %w", id, types.ErrNotFound)
	}
	return copyProposal(p), nil
}

func (m *memoryDB) Proposals(ctx context.Context, filter types.ProposalsFilter) ([]*types.Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var proposals []*types.Proposal
	for _, p := range m.proposals {
		if filter.CommunityID != "" && p.CommunityID != filter.CommunityID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if !filter.DueBefore.IsZero() && p.VotingEnd.After(filter.DueBefore) {
			continue
		}
		proposals = append(proposals, copyProposal(p))
	}
	sort.Slice(proposals, func(i, j int) bool {
		if proposals[i].CreatedAt.Equal(proposals[j].CreatedAt) {
			return proposals[i].ID < proposals[j].ID
		}
		return proposals[i].CreatedAt.After(proposals[j].CreatedAt)
	})
	if filter.Pagination != nil {
		proposals = paginate(proposals, filter.Pagination)
	}
	return proposals, nil
}

func paginate(proposals []*types.Proposal, pagination *types.Pagination) []*types.Proposal {
	if pagination.Skip >= len(proposals) {
		return nil
	}
	end := pagination.Skip + pagination.Limit
	if end > len(proposals) {
		end = len(proposals)
	}
	return proposals[pagination.Skip:end]
}

func (m *memoryDB) RecordVote(ctx context.Context, vote *types.Vote, now time.Time) (*types.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[vote.ProposalID]
	if !ok {
		return nil, fmt.Errorf("proposal %s: %w", vote.ProposalID, types.ErrNotFound)
	}
	if !p.AcceptsVotes(now) {
		return nil, types.ErrProposalClosed
	}
	key := pairKey{vote.ProposalID, vote.VoterID}
	if _, ok := m.votes[key]; ok {
		return nil, types.ErrDuplicateVote
	}
	if !p.Fits(vote.Choice, vote.Weight) {
		return nil, fmt.Errorf("%w: tally would overflow", types.ErrInvalidVote)
	}
	v := *vote
	m.votes[key] = &v
	m.voteOrder[vote.ProposalID] = append(m.voteOrder[vote.ProposalID], vote.VoterID)
	if vote.Choice {
		p.YesVotes += vote.Weight
	} else {
		p.NoVotes += vote.Weight
	}
	return copyProposal(p), nil
}

func (m *memoryDB) TransitionProposal(ctx context.Context, id string, tally types.Tally, status types.ProposalStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return false, fmt.Errorf("proposal %s: %w", id, types.ErrNotFound)
	}
	if p.Status != types.ProposalActive || p.Tally() != tally {
		return false, nil
	}
	p.Status = status
	p.ResolvedAt = &at
	return true, nil
}

func (m *memoryDB) Votes(ctx context.Context, proposalID string) ([]*types.Vote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var votes []*types.Vote
	for _, voter := range m.voteOrder[proposalID] {
		v := *m.votes[pairKey{proposalID, voter}]
		votes = append(votes, &v)
	}
	return votes, nil
}

//endregion Proposals

//region Galleries & communities

func (m *memoryDB) InsertGallery(ctx context.Context, gallery *types.Gallery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.galleries[gallery.ID]; ok {
		return fmt.Errorf("gallery %s: %w", gallery.ID, types.ErrRecordExist)
	}
	g := *gallery
	m.galleries[gallery.ID] = &g
	return nil
}

func (m *memoryDB) Gallery(ctx context.Context, id string) (*types.Gallery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.galleries[id]
	if !ok {
		return nil, fmt.Errorf("gallery %s: %w", id, types.ErrNotFound)
	}
	cp := *g
	return &cp, nil
}

func (m *memoryDB) TransitionGallery(ctx context.Context, id string, from, to types.GalleryStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.galleries[id]
	if !ok {
		return false, fmt.Errorf("gallery %s: %w", id, types.ErrNotFound)
	}
	if g.Status != from {
		return false, nil
	}
	g.Status = to
	g.UpdatedAt = at
	return true, nil
}

func (m *memoryDB) InsertCommunity(ctx context.Context, community *types.Community) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.communities[community.ID]; ok {
		return fmt.Errorf("community %s: %w", community.ID, types.ErrRecordExist)
	}
	c := *community
	m.communities[community.ID] = &c
	return nil
}

func (m *memoryDB) Community(ctx context.Context, id string) (*types.Community, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.communities[id]
	if !ok {
		return nil, fmt.Errorf("community %s: %w", id, types.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (m *memoryDB) AddMember(ctx context.Context, member *types.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.communities[member.CommunityID]; !ok {
		return fmt.Errorf("community %s: %w", member.CommunityID, types.ErrNotFound)
	}
	members, ok := m.members[member.CommunityID]
	if !ok {
		members = make(map[string]*types.Member)
		m.members[member.CommunityID] = members
	}
	if _, ok := members[member.UserID]; ok {
		return nil
	}
	mb := *member
	members[member.UserID] = &mb
	return nil
}

func (m *memoryDB) Members(ctx context.Context, communityID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id := range m.members[communityID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memoryDB) CountMembers(ctx context.Context, communityID string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.members[communityID])), nil
}

//endregion Galleries & communities

//region Distributions

func copySale(s *types.Sale) *types.Sale {
	cp := *s
	cp.Allocations = append([]types.Allocation(nil), s.Allocations...)
	return &cp
}

func (m *memoryDB) InsertSale(ctx context.Context, sale *types.Sale) (*types.Sale, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey{sale.PoolID, sale.TransactionRef}
	if stored, ok := m.sales[key]; ok {
		return copySale(stored), false, nil
	}
	m.sales[key] = copySale(sale)
	return copySale(sale), true, nil
}

func (m *memoryDB) Sale(ctx context.Context, poolID, transactionRef string) (*types.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sales[pairKey{poolID, transactionRef}]
	if !ok {
		return nil, fmt.Errorf("sale %s/%s: %w", poolID, transactionRef, types.ErrNotFound)
	}
	return copySale(s), nil
}

func (m *memoryDB) InsertDistributions(ctx context.Context, rows []*types.RevenueDistribution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range rows {
		if _, ok := m.distributions[row.ID]; ok {
			continue
		}
		r := *row
		m.distributions[row.ID] = &r
	}
	return nil
}

func (m *memoryDB) Distributions(ctx context.Context, poolID, transactionRef string) ([]*types.RevenueDistribution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var rows []*types.RevenueDistribution
	for _, row := range m.distributions {
		if row.PoolID == poolID && row.TransactionRef == transactionRef {
			r := *row
			rows = append(rows, &r)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].MemberID < rows[j].MemberID })
	return rows, nil
}

func (m *memoryDB) DistributedTotal(ctx context.Context, userID, poolID string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := decimal.Zero
	for _, row := range m.distributions {
		if row.MemberID == userID && row.PoolID == poolID {
			total = total.Add(row.Amount)
		}
	}
	return total, nil
}

//endregion Distributions

//region Payouts

func (m *memoryDB) PayoutCursor(ctx context.Context, userID, poolID string) (*types.PayoutCursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cursors[pairKey{userID, poolID}]
	if !ok {
		return &types.PayoutCursor{UserID: userID, PoolID: poolID, Reserved: decimal.Zero}, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memoryDB) AdvancePayoutCursor(ctx context.Context, cursor *types.PayoutCursor, reserved decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey{cursor.UserID, cursor.PoolID}
	stored, ok := m.cursors[key]
	var version uint64
	if ok {
		version = stored.Version
	}
	if version != cursor.Version {
		return types.ErrVersionConflict
	}
	cursor.Reserved = reserved
	cursor.Version++
	c := *cursor
	m.cursors[key] = &c
	return nil
}

func copyPayout(p *types.PayoutRecord) *types.PayoutRecord {
	cp := *p
	if p.PaidAt != nil {
		at := *p.PaidAt
		cp.PaidAt = &at
	}
	return &cp
}

func (m *memoryDB) InsertPayout(ctx context.Context, payout *types.PayoutRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payouts[payout.ID]; ok {
		return fmt.Errorf("payout %s: %w", payout.ID, types.ErrRecordExist)
	}
	m.payouts[payout.ID] = copyPayout(payout)
	m.payoutOrder = append(m.payoutOrder, payout.ID)
	return nil
}

func (m *memoryDB) UpdatePayoutStatus(ctx context.Context, payout *types.PayoutRecord, from types.PayoutStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.payouts[payout.ID]
	if !ok {
		return fmt.Errorf("payout %s: %w", payout.ID, types.ErrNotFound)
	}
	if stored.Status != from {
		return types.ErrVersionConflict
	}
	stored.Status = payout.Status
	stored.TransactionRef = payout.TransactionRef
	stored.FailureReason = payout.FailureReason
	if payout.PaidAt != nil {
		at := *payout.PaidAt
		stored.PaidAt = &at
	}
	return nil
}

func (m *memoryDB) Payouts(ctx context.Context, userID, poolID string) ([]*types.PayoutRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var payouts []*types.PayoutRecord
	for _, id := range m.payoutOrder {
		p := m.payouts[id]
		if p.UserID == userID && p.PoolID == poolID {
			payouts = append(payouts, copyPayout(p))
		}
	}
	return payouts, nil
}

func (m *memoryDB) CompletedTotal(ctx context.Context, userID, poolID string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := decimal.Zero
	for _, p := range m.payouts {
		if p.UserID == userID && p.PoolID == poolID && p.Status == types.PayoutCompleted {
			total = total.Add(p.Amount)
		}
	}
	return total, nil
}

//endregion Payouts
