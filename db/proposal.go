// Package db
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/kardiachain/dao-ledger/types"
)

//region Proposals

func (m *mongoDB) InsertProposal(ctx context.Context, proposal *types.Proposal) error {
	if _, err := m.wrapper.C(cProposals).Insert(ctx, proposal); err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("proposal %s: %w", proposal.ID, types.ErrRecordExist)
		}
		m.logger.Warn("cannot insert proposal", zap.String("id", proposal.ID), zap.Error(err))
		return err
	}
	return nil
}

func (m *mongoDB) Proposal(ctx context.Context, id string) (*types.Proposal, error) {
	var result types.Proposal
	err := m.wrapper.C(cProposals).FindOne(ctx, bson.M{"id": id}).Decode(&result)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("proposal %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (m *mongoDB) Proposals(ctx context.Context, filter types.ProposalsFilter) ([]*types.Proposal, error) {
	query := bson.M{}
	if filter.CommunityID != "" {
		query["communityId"] = filter.CommunityID
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if !filter.DueBefore.IsZero() {
		query["votingEnd"] = bson.M{"$lte": filter.DueBefore}
	}

	w := m.wrapper.C(cProposals)
	opts := w.FindSetSort("-createdAt")
	if filter.Pagination != nil {
		opts.SetSkip(int64(filter.Pagination.Skip)).SetLimit(int64(filter.Pagination.Limit))
	}
	cursor, err := w.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	var proposals []*types.Proposal
	if err := cursor.All(ctx, &proposals); err != nil {
		return nil, err
	}
	return proposals, nil
}

// RecordVote writes the vote row and the guarded $inc in one transaction,
// so the unique (proposalId, voterId) index and the counter never disagree.
func (m *mongoDB) RecordVote(ctx context.Context, vote *types.Vote, now time.Time) (*types.Proposal, error) {
	var updated types.Proposal
	err := m.inTransaction(ctx, func(sc mongo.SessionContext) error {
		p, err := m.Proposal(sc, vote.ProposalID)
		if err != nil {
			return err
		}
		if !p.AcceptsVotes(now) {
			return types.ErrProposalClosed
		}
		if !p.Fits(vote.Choice, vote.Weight) {
			return fmt.Errorf("%w: tally would overflow", types.ErrInvalidVote)
		}

		if _, err := m.wrapper.C(cVotes).Insert(sc, vote); err != nil {
			if isDuplicateKey(err) {
				return types.ErrDuplicateVote
			}
			return err
		}

		counter := "noVotes"
		if vote.Choice {
			counter = "yesVotes"
		}
		weight := int64(vote.Weight)
		filter := bson.M{
			"id":        vote.ProposalID,
			"status":    types.ProposalActive,
			"votingEnd": bson.M{"$gt": now},
			counter:     bson.M{"$lte": int64(types.MaxTally) - weight},
		}
		update := bson.M{"$inc": bson.M{counter: weight}}
		err = m.wrapper.C(cProposals).FindOneAndUpdate(sc, filter, update).Decode(&updated)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.ErrProposalClosed
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (m *mongoDB) TransitionProposal(ctx context.Context, id string, tally types.Tally, status types.ProposalStatus, at time.Time) (bool, error) {
	filter := bson.M{
		"id":       id,
		"status":   types.ProposalActive,
		"yesVotes": int64(tally.Yes),
		"noVotes":  int64(tally.No),
	}
	update := bson.M{"$set": bson.M{"status": status, "resolvedAt": at}}
	res, err := m.wrapper.C(cProposals).Update(ctx, filter, update)
	if err != nil {
		return false, err
	}
	if res.MatchedCount == 1 {
		return true, nil
	}
	if _, err := m.Proposal(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

//endregion Proposals

//region Votes

func (m *mongoDB) Votes(ctx context.Context, proposalID string) ([]*types.Vote, error) {
	w := m.wrapper.C(cVotes)
	cursor, err := w.Find(ctx, bson.M{"proposalId": proposalID}, w.FindSetSort("createdAt"))
	if err != nil {
		return nil, err
	}
	var votes []*types.Vote
	if err := cursor.All(ctx, &votes); err != nil {
		return nil, err
	}
	return votes, nil
}

//endregion Votes
