/*
 *  Copyright 2018 KardiaChain
 *  This file is part of the go-kardia library.
 *
 *  The go-kardia library is free software: you can redistribute it and/or modify
 *  it under the terms of the GNU Lesser General Public License as published by
 *  the Free Software Foundation, either version 3 of the License, or
 *  (at your option) any later version.
 *
 *  The go-kardia library is distributed in the hope that it will be useful,
 *  but WITHOUT ANY WARRANTY; without even the implied warranty of
 *  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 *  GNU Lesser General Public License for more details.
 *
 *  You should have received a copy of the GNU Lesser General Public License
 *  along with the go-kardia library. If not, see <http://www.gnu.org/licenses/>.
 */
// Package db
package db

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const (
	cProposals     = "Proposals"
	cVotes         = "Votes"
	cGalleries     = "Galleries"
	cCommunities   = "Communities"
	cMembers       = "Members"
	cSales         = "Sales"
	cDistributions = "Distributions"
	cPayoutCursors = "PayoutCursors"
	cPayouts       = "Payouts"
)

const mgoConnectTimeout = 10 * time.Second

type mongoDB struct {
	logger  *zap.Logger
	wrapper *KaiMgo
	client  *mongo.Client
}

func newMongoDB(cfg Config) (*mongoDB, error) {
	cfg.Logger.Debug("Create mgo with config", zap.String("db", cfg.DbName), zap.Int("minConn", cfg.MinConn), zap.Int("maxConn", cfg.MaxConn))

	ctx, cancel := context.WithTimeout(context.Background(), mgoConnectTimeout)
	defer cancel()
	dbClient := &mongoDB{
		logger:  cfg.Logger.With(zap.String("db", "mgo")),
		wrapper: &KaiMgo{},
	}
	mgoOptions := options.Client()
	mgoOptions.ApplyURI(cfg.URL)
	mgoOptions.SetMinPoolSize(uint64(cfg.MinConn))
	mgoOptions.SetMaxPoolSize(uint64(cfg.MaxConn))
	mgoClient, err := mongo.NewClient(mgoOptions)
	if err != nil {
		return nil, err
	}

	if err := mgoClient.Connect(ctx); err != nil {
		return nil, err
	}
	dbClient.client = mgoClient
	dbClient.wrapper.Database(mgoClient.Database(cfg.DbName))

	if cfg.FlushDB {
		cfg.Logger.Info("Start flush database")
		if err := dbClient.wrapper.DropDatabase(ctx); err != nil {
			return nil, err
		}
	}
	if err := createIndexes(ctx, dbClient); err != nil {
		return nil, err
	}

	return dbClient, nil
}

// createIndexes declares the unique keys every conditional write relies on.
func createIndexes(ctx context.Context, dbClient *mongoDB) error {
	type CIndex struct {
		c     string
		model []mongo.IndexModel
	}

	unique := options.Index().SetUnique(true)
	indexes := []CIndex{
		{c: cProposals, model: []mongo.IndexModel{{Keys: bson.M{"id": 1}, Options: unique}}},
		{c: cProposals, model: []mongo.IndexModel{{Keys: bson.D{{Key: "communityId", Value: 1}, {Key: "createdAt", Value: -1}}}}},
		{c: cProposals, model: []mongo.IndexModel{{Keys: bson.D{{Key: "status", Value: 1}, {Key: "votingEnd", Value: 1}}}}},
		// one vote per voter per proposal
		{c: cVotes, model: []mongo.IndexModel{{Keys: bson.D{{Key: "proposalId", Value: 1}, {Key: "voterId", Value: 1}}, Options: unique}}},
		{c: cGalleries, model: []mongo.IndexModel{{Keys: bson.M{"id": 1}, Options: unique}}},
		{c: cCommunities, model: []mongo.IndexModel{{Keys: bson.M{"id": 1}, Options: unique}}},
		{c: cMembers, model: []mongo.IndexModel{{Keys: bson.D{{Key: "communityId", Value: 1}, {Key: "userId", Value: 1}}, Options: unique}}},
		// one sale registration per (pool, transaction)
		{c: cSales, model: []mongo.IndexModel{{Keys: bson.D{{Key: "poolId", Value: 1}, {Key: "transactionRef", Value: 1}}, Options: unique}}},
		{c: cDistributions, model: []mongo.IndexModel{{Keys: bson.M{"id": 1}, Options: unique}}},
		{c: cDistributions, model: []mongo.IndexModel{{Keys: bson.D{{Key: "memberId", Value: 1}, {Key: "poolId", Value: 1}}}}},
		{c: cDistributions, model: []mongo.IndexModel{{Keys: bson.D{{Key: "poolId", Value: 1}, {Key: "transactionRef", Value: 1}}}}},
		{c: cPayoutCursors, model: []mongo.IndexModel{{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "poolId", Value: 1}}, Options: unique}}},
		{c: cPayouts, model: []mongo.IndexModel{{Keys: bson.M{"id": 1}, Options: unique}}},
		{c: cPayouts, model: []mongo.IndexModel{{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "poolId", Value: 1}}}}},
	}
	for _, cIdx := range indexes {
		if err := dbClient.wrapper.C(cIdx.c).EnsureIndex(ctx, cIdx.model); err != nil {
			return err
		}
	}
	return nil
}

//region General

func (m *mongoDB) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

func (m *mongoDB) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// inTransaction runs fn in a multi-document transaction, which needs the
// server to be a replica set member. Transient conflicts are retried by the
// driver until ctx ends.
func (m *mongoDB) inTransaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	return m.client.UseSession(ctx, func(sc mongo.SessionContext) error {
		_, err := sc.WithTransaction(sc, func(sc mongo.SessionContext) (interface{}, error) {
			return nil, fn(sc)
		})
		return err
	})
}

//endregion General
