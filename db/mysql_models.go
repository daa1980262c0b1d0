package db

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kardiachain/dao-ledger/types"
)

type proposalRow struct {
	ID             string    `gorm:"primaryKey;size:64"`
	CommunityID    string    `gorm:"size:64;index:idx_proposal_community"`
	Type           string    `gorm:"size:32"`
	Title          string    `gorm:"size:255"`
	Creator        string    `gorm:"size:64"`
	Status         string    `gorm:"size:16;index:idx_proposal_due"`
	YesVotes       uint64    `gorm:"not null;default:0"`
	NoVotes        uint64    `gorm:"not null;default:0"`
	VotingEnd      time.Time `gorm:"index:idx_proposal_due"`
	LinkedEntityID string    `gorm:"size:64"`
	CreatedAt      time.Time
	ResolvedAt     *time.Time
}

func (proposalRow) TableName() string { return "proposals" }

func newProposalRow(p *types.Proposal) *proposalRow {
	return &proposalRow{
		ID:             p.ID,
		CommunityID:    p.CommunityID,
		Type:           string(p.Type),
		Title:          p.Title,
		Creator:        p.Creator,
		Status:         string(p.Status),
		YesVotes:       p.YesVotes,
		NoVotes:        p.NoVotes,
		VotingEnd:      p.VotingEnd,
		LinkedEntityID: p.LinkedEntityID,
		CreatedAt:      p.CreatedAt,
		ResolvedAt:     p.ResolvedAt,
	}
}

func (r *proposalRow) proposal() *types.Proposal {
	return &types.Proposal{
		ID:             r.ID,
		CommunityID:    r.CommunityID,
		Type:           types.ProposalType(r.Type),
		Title:          r.Title,
		Creator:        r.Creator,
		Status:         types.ProposalStatus(r.Status),
		YesVotes:       r.YesVotes,
		NoVotes:        r.NoVotes,
		VotingEnd:      r.VotingEnd,
		LinkedEntityID: r.LinkedEntityID,
		CreatedAt:      r.CreatedAt,
		ResolvedAt:     r.ResolvedAt,
	}
}

type voteRow struct {
	ProposalID string `gorm:"primaryKey;size:64"`
	VoterID    string `gorm:"primaryKey;size:64"`
	Choice     bool
	Weight     uint64
	CreatedAt  time.Time
}

func (voteRow) TableName() string { return "votes" }

type galleryRow struct {
	ID          string `gorm:"primaryKey;size:64"`
	CommunityID string `gorm:"size:64;index"`
	Name        string `gorm:"size:255"`
	Status      string `gorm:"size:16"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (galleryRow) TableName() string { return "galleries" }

type communityRow struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:255"`
	Owner     string `gorm:"size:64"`
	CreatedAt time.Time
}

func (communityRow) TableName() string { return "communities" }

type memberRow struct {
	CommunityID string `gorm:"primaryKey;size:64"`
	UserID      string `gorm:"primaryKey;size:64"`
	JoinedAt    time.Time
}

func (memberRow) TableName() string { return "members" }

type saleRow struct {
	PoolID         string             `gorm:"primaryKey;size:64"`
	TransactionRef string             `gorm:"primaryKey;size:128"`
	SalePrice      decimal.Decimal    `gorm:"type:decimal(38,18)"`
	FeeRate        decimal.Decimal    `gorm:"type:decimal(38,18)"`
	Net            decimal.Decimal    `gorm:"type:decimal(38,18)"`
	Allocations    []types.Allocation `gorm:"serializer:json"`
	CreatedAt      time.Time
}

func (saleRow) TableName() string { return "sales" }

type distributionRow struct {
	ID             string          `gorm:"primaryKey;size:64"`
	PoolID         string          `gorm:"size:64;index:idx_distribution_member,priority:2;index:idx_distribution_sale,priority:1"`
	MemberID       string          `gorm:"size:64;index:idx_distribution_member,priority:1"`
	Amount         decimal.Decimal `gorm:"type:decimal(38,18)"`
	TransactionRef string          `gorm:"size:128;index:idx_distribution_sale,priority:2"`
	CreatedAt      time.Time
}

func (distributionRow) TableName() string { return "revenue_distributions" }

type cursorRow struct {
	UserID   string          `gorm:"primaryKey;size:64"`
	PoolID   string          `gorm:"primaryKey;size:64"`
	Reserved decimal.Decimal `gorm:"type:decimal(38,18)"`
	Version  uint64
}

func (cursorRow) TableName() string { return "payout_cursors" }

type payoutRow struct {
	ID             string          `gorm:"primaryKey;size:64"`
	UserID         string          `gorm:"size:64;index:idx_payout_owner"`
	PoolID         string          `gorm:"size:64;index:idx_payout_owner"`
	Amount         decimal.Decimal `gorm:"type:decimal(38,18)"`
	Status         string          `gorm:"size:16"`
	Destination    string          `gorm:"size:128"`
	CreatedAt      time.Time
	PaidAt         *time.Time
	TransactionRef string `gorm:"size:128"`
	FailureReason  string `gorm:"size:512"`
}

func (payoutRow) TableName() string { return "payouts" }

func (r *payoutRow) record() *types.PayoutRecord {
	return &types.PayoutRecord{
		ID:             r.ID,
		UserID:         r.UserID,
		PoolID:         r.PoolID,
		Amount:         r.Amount,
		Status:         types.PayoutStatus(r.Status),
		Destination:    r.Destination,
		CreatedAt:      r.CreatedAt,
		PaidAt:         r.PaidAt,
		TransactionRef: r.TransactionRef,
		FailureReason:  r.FailureReason,
	}
}

func mysqlModels() []interface{} {
	return []interface{}{
		&proposalRow{}, &voteRow{}, &galleryRow{}, &communityRow{}, &memberRow{},
		&saleRow{}, &distributionRow{}, &cursorRow{}, &payoutRow{},
	}
}
