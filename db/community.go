// Package db
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/kardiachain/dao-ledger/types"
)

//region Galleries

func (m *mongoDB) InsertGallery(ctx context.Context, gallery *types.Gallery) error {
	if _, err := m.wrapper.C(cGalleries).Insert(ctx, gallery); err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("gallery %s: %w", gallery.ID, types.ErrRecordExist)
		}
		return err
	}
	return nil
}

func (m *mongoDB) Gallery(ctx context.Context, id string) (*types.Gallery, error) {
	var result types.Gallery
	err := m.wrapper.C(cGalleries).FindOne(ctx, bson.M{"id": id}).Decode(&result)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("gallery %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (m *mongoDB) TransitionGallery(ctx context.Context, id string, from, to types.GalleryStatus, at time.Time) (bool, error) {
	filter := bson.M{"id": id, "status": from}
	update := bson.M{"$set": bson.M{"status": to, "updatedAt": at}}
	res, err := m.wrapper.C(cGalleries).Update(ctx, filter, update)
	if err != nil {
		return false, err
	}
	if res.MatchedCount == 1 {
		return true, nil
	}
	if _, err := m.Gallery(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

//endregion Galleries

//region Communities

func (m *mongoDB) InsertCommunity(ctx context.Context, community *types.Community) error {
	if _, err := m.wrapper.C(cCommunities).Insert(ctx, community); err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("community %s: %w", community.ID, types.ErrRecordExist)
		}
		return err
	}
	return nil
}

func (m *mongoDB) Community(ctx context.Context, id string) (*types.Community, error) {
	var result types.Community
	err := m.wrapper.C(cCommunities).FindOne(ctx, bson.M{"id": id}).Decode(&result)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("community %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (m *mongoDB) AddMember(ctx context.Context, member *types.Member) error {
	if _, err := m.Community(ctx, member.CommunityID); err != nil {
		return err
	}
	filter := bson.M{"communityId": member.CommunityID, "userId": member.UserID}
	_, err := m.wrapper.C(cMembers).Upsert(ctx, filter, bson.M{"$setOnInsert": member})
	if err != nil && !isDuplicateKey(err) {
		return err
	}
	return nil
}

func (m *mongoDB) Members(ctx context.Context, communityID string) ([]string, error) {
	w := m.wrapper.C(cMembers)
	cursor, err := w.Find(ctx, bson.M{"communityId": communityID}, w.FindSetSort("userId"))
	if err != nil {
		return nil, err
	}
	var members []*types.Member
	if err := cursor.All(ctx, &members); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(members))
	for _, mb := range members {
		ids = append(ids, mb.UserID)
	}
	return ids, nil
}

func (m *mongoDB) CountMembers(ctx context.Context, communityID string) (uint64, error) {
	total, err := m.wrapper.C(cMembers).Count(ctx, bson.M{"communityId": communityID})
	if err != nil {
		return 0, err
	}
	return uint64(total), nil
}

//endregion Communities
