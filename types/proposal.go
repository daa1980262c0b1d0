package types

import (
	"math"
	"time"
)

type ProposalType string

const (
	ProposalGeneral            ProposalType = "general"
	ProposalTreasury           ProposalType = "treasury"
	ProposalGovernance         ProposalType = "governance"
	ProposalMembership         ProposalType = "membership"
	ProposalGallery            ProposalType = "gallery"
	ProposalVRLand             ProposalType = "vr_land"
	ProposalEventParticipation ProposalType = "event_participation"
)

func (t ProposalType) Valid() bool {
	switch t {
	case ProposalGeneral, ProposalTreasury, ProposalGovernance, ProposalMembership,
		ProposalGallery, ProposalVRLand, ProposalEventParticipation:
		return true
	}
	return false
}

// ProposalStatus only moves from active to one of the terminal values.
type ProposalStatus string

const (
	ProposalActive   ProposalStatus = "active"
	ProposalPassed   ProposalStatus = "passed"
	ProposalRejected ProposalStatus = "rejected"
	ProposalExpired  ProposalStatus = "expired"
)

func (s ProposalStatus) Valid() bool {
	switch s {
	case ProposalActive, ProposalPassed, ProposalRejected, ProposalExpired:
		return true
	}
	return false
}

func (s ProposalStatus) Terminal() bool {
	switch s {
	case ProposalPassed, ProposalRejected, ProposalExpired:
		return true
	}
	return false
}

type Proposal struct {
	ID             string         `json:"id" bson:"id"`
	CommunityID    string         `json:"communityId" bson:"communityId"`
	Type           ProposalType   `json:"type" bson:"type"`
	Title          string         `json:"title" bson:"title"`
	Creator        string         `json:"creator" bson:"creator"`
	Status         ProposalStatus `json:"status" bson:"status"`
	YesVotes       uint64         `json:"yesVotes" bson:"yesVotes"`
	NoVotes        uint64         `json:"noVotes" bson:"noVotes"`
	VotingEnd      time.Time      `json:"votingEnd" bson:"votingEnd"`
	LinkedEntityID string         `json:"linkedEntityId,omitempty" bson:"linkedEntityId,omitempty"`
	CreatedAt      time.Time      `json:"createdAt" bson:"createdAt"`
	ResolvedAt     *time.Time     `json:"resolvedAt,omitempty" bson:"resolvedAt,omitempty"`
}

// MaxTally bounds each vote counter so it fits a signed 64-bit column.
const MaxTally uint64 = math.MaxInt64

// Tally is the pair of counters an outcome is computed from.
type Tally struct {
	Yes uint64
	No  uint64
}

func (p *Proposal) Tally() Tally {
	return Tally{Yes: p.YesVotes, No: p.NoVotes}
}

// Fits reports whether weight can be added to the counter for choice
// without passing MaxTally.
func (p *Proposal) Fits(choice bool, weight uint64) bool {
	counter := p.NoVotes
	if choice {
		counter = p.YesVotes
	}
	return weight <= MaxTally && counter <= MaxTally-weight
}

// TotalVotes returns the sum of yes and no vote weights.
func (p *Proposal) TotalVotes() uint64 {
	return p.YesVotes + p.NoVotes
}

// IsDue reports whether the deadline trigger applies at now.
func (p *Proposal) IsDue(now time.Time) bool {
	return p.Status == ProposalActive && !now.Before(p.VotingEnd)
}

// AcceptsVotes reports whether a vote cast at now may be recorded.
func (p *Proposal) AcceptsVotes(now time.Time) bool {
	return p.Status == ProposalActive && now.Before(p.VotingEnd)
}

// Outcome is the simple-majority result of the current tally. A tie or an
// empty tally rejects.
func (p *Proposal) Outcome() ProposalStatus {
	if p.TotalVotes() > 0 && p.YesVotes > p.NoVotes {
		return ProposalPassed
	}
	return ProposalRejected
}

type ProposalsFilter struct {
	CommunityID string         `bson:"communityId,omitempty"`
	Status      ProposalStatus `bson:"status,omitempty"`
	// DueBefore selects proposals whose voting window ended at or before it.
	DueBefore  time.Time   `bson:"-"`
	Pagination *Pagination `bson:"-"`
}

// Vote is created once and never modified.
type Vote struct {
	ProposalID string    `json:"proposalId" bson:"proposalId"`
	VoterID    string    `json:"voterId" bson:"voterId"`
	Choice     bool      `json:"choice" bson:"choice"`
	Weight     uint64    `json:"weight" bson:"weight"`
	CreatedAt  time.Time `json:"createdAt" bson:"createdAt"`
}
