// Package db
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/kardiachain/dao-ledger/types"
)

// Amounts are stored as Decimal128 so that $sum stays exact.

func toDecimal128(d decimal.Decimal) primitive.Decimal128 {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.NewDecimal128(0, 0)
	}
	return v
}

func fromDecimal128(v primitive.Decimal128) decimal.Decimal {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

type allocationDoc struct {
	MemberID string               `bson:"memberId"`
	Amount   primitive.Decimal128 `bson:"amount"`
}

type saleDoc struct {
	PoolID         string               `bson:"poolId"`
	TransactionRef string               `bson:"transactionRef"`
	SalePrice      primitive.Decimal128 `bson:"salePrice"`
	FeeRate        primitive.Decimal128 `bson:"feeRate"`
	Net            primitive.Decimal128 `bson:"net"`
	Allocations    []allocationDoc      `bson:"allocations"`
	CreatedAt      time.Time            `bson:"createdAt"`
}

func newSaleDoc(s *types.Sale) *saleDoc {
	doc := &saleDoc{
		PoolID:         s.PoolID,
		TransactionRef: s.TransactionRef,
		SalePrice:      toDecimal128(s.SalePrice),
		FeeRate:        toDecimal128(s.FeeRate),
		Net:            toDecimal128(s.Net),
		CreatedAt:      s.CreatedAt,
	}
	for _, a := range s.Allocations {
		doc.Allocations = append(doc.Allocations, allocationDoc{MemberID: a.MemberID, Amount: toDecimal128(a.Amount)})
	}
	return doc
}

func (d *saleDoc) sale() *types.Sale {
	s := &types.Sale{
		PoolID:         d.PoolID,
		TransactionRef: d.TransactionRef,
		SalePrice:      fromDecimal128(d.SalePrice),
		FeeRate:        fromDecimal128(d.FeeRate),
		Net:            fromDecimal128(d.Net),
		CreatedAt:      d.CreatedAt,
	}
	for _, a := range d.Allocations {
		s.Allocations = append(s.Allocations, types.Allocation{MemberID: a.MemberID, Amount: fromDecimal128(a.Amount)})
	}
	return s
}

type distributionDoc struct {
	ID             string               `bson:"id"`
	PoolID         string               `bson:"poolId"`
	MemberID       string               `bson:"memberId"`
	Amount         primitive.Decimal128 `bson:"amount"`
	TransactionRef string               `bson:"transactionRef"`
	CreatedAt      time.Time            `bson:"createdAt"`
}

type cursorDoc struct {
	UserID   string               `bson:"userId"`
	PoolID   string               `bson:"poolId"`
	Reserved primitive.Decimal128 `bson:"reserved"`
	Version  uint64               `bson:"version"`
}

type payoutDoc struct {
	ID             string               `bson:"id"`
	UserID         string               `bson:"userId"`
	PoolID         string               `bson:"poolId"`
	Amount         primitive.Decimal128 `bson:"amount"`
	Status         types.PayoutStatus   `bson:"status"`
	Destination    string               `bson:"destination"`
	CreatedAt      time.Time            `bson:"createdAt"`
	PaidAt         *time.Time           `bson:"paidAt,omitempty"`
	TransactionRef string               `bson:"transactionRef,omitempty"`
	FailureReason  string               `bson:"failureReason,omitempty"`
}

func (d *payoutDoc) record() *types.PayoutRecord {
	return &types.PayoutRecord{
		ID:             d.ID,
		UserID:         d.UserID,
		PoolID:         d.PoolID,
		Amount:         fromDecimal128(d.Amount),
		Status:         d.Status,
		Destination:    d.Destination,
		CreatedAt:      d.CreatedAt,
		PaidAt:         d.PaidAt,
		TransactionRef: d.TransactionRef,
		FailureReason:  d.FailureReason,
	}
}

//region Distributions

func (m *mongoDB) InsertSale(ctx context.Context, sale *types.Sale) (*types.Sale, bool, error) {
	_, err := m.wrapper.C(cSales).Insert(ctx, newSaleDoc(sale))
	if err == nil {
		return sale, true, nil
	}
	if !isDuplicateKey(err) {
		return nil, false, err
	}
	stored, err := m.Sale(ctx, sale.PoolID, sale.TransactionRef)
	if err != nil {
		return nil, false, err
	}
	return stored, false, nil
}

func (m *mongoDB) Sale(ctx context.Context, poolID, transactionRef string) (*types.Sale, error) {
	var doc saleDoc
	err := m.wrapper.C(cSales).FindOne(ctx, bson.M{"poolId": poolID, "transactionRef": transactionRef}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("sale %s/%s: %w", poolID, transactionRef, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return doc.sale(), nil
}

func (m *mongoDB) InsertDistributions(ctx context.Context, rows []*types.RevenueDistribution) error {
	docs := make([]interface{}, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, &distributionDoc{
			ID:             r.ID,
			PoolID:         r.PoolID,
			MemberID:       r.MemberID,
			Amount:         toDecimal128(r.Amount),
			TransactionRef: r.TransactionRef,
			CreatedAt:      r.CreatedAt,
		})
	}
	return m.wrapper.C(cDistributions).InsertManyUnordered(ctx, docs)
}

func (m *mongoDB) Distributions(ctx context.Context, poolID, transactionRef string) ([]*types.RevenueDistribution, error) {
	w := m.wrapper.C(cDistributions)
	cursor, err := w.Find(ctx, bson.M{"poolId": poolID, "transactionRef": transactionRef}, w.FindSetSort("memberId"))
	if err != nil {
		return nil, err
	}
	var docs []distributionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	rows := make([]*types.RevenueDistribution, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, &types.RevenueDistribution{
			ID:             d.ID,
			PoolID:         d.PoolID,
			MemberID:       d.MemberID,
			Amount:         fromDecimal128(d.Amount),
			TransactionRef: d.TransactionRef,
			CreatedAt:      d.CreatedAt,
		})
	}
	return rows, nil
}

func (m *mongoDB) DistributedTotal(ctx context.Context, userID, poolID string) (decimal.Decimal, error) {
	return m.sum(ctx, cDistributions, bson.M{"memberId": userID, "poolId": poolID})
}

func (m *mongoDB) sum(ctx context.Context, collection string, match bson.M) (decimal.Decimal, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{"_id": nil, "total": bson.M{"$sum": "$amount"}}}},
	}
	cursor, err := m.wrapper.C(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return decimal.Zero, err
	}
	var out []struct {
		Total primitive.Decimal128 `bson:"total"`
	}
	if err := cursor.All(ctx, &out); err != nil {
		return decimal.Zero, err
	}
	if len(out) == 0 {
		return decimal.Zero, nil
	}
	return fromDecimal128(out[0].Total), nil
}

//endregion Distributions

//region Payouts

func (m *mongoDB) PayoutCursor(ctx context.Context, userID, poolID string) (*types.PayoutCursor, error) {
	var doc cursorDoc
	err := m.wrapper.C(cPayoutCursors).FindOne(ctx, bson.M{"userId": userID, "poolId": poolID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &types.PayoutCursor{UserID: userID, PoolID: poolID, Reserved: decimal.Zero}, nil
	}
	if err != nil {
		return nil, err
	}
	return &types.PayoutCursor{
		UserID:   doc.UserID,
		PoolID:   doc.PoolID,
		Reserved: fromDecimal128(doc.Reserved),
		Version:  doc.Version,
	}, nil
}

// AdvancePayoutCursor creates the cursor at version 1 or bumps an existing one
// guarded by its version. Losing either race reports a version conflict.
func (m *mongoDB) AdvancePayoutCursor(ctx context.Context, cursor *types.PayoutCursor, reserved decimal.Decimal) error {
	w := m.wrapper.C(cPayoutCursors)
	next := cursor.Version + 1
	if cursor.Version == 0 {
		_, err := w.Insert(ctx, &cursorDoc{
			UserID:   cursor.UserID,
			PoolID:   cursor.PoolID,
			Reserved: toDecimal128(reserved),
			Version:  next,
		})
		if isDuplicateKey(err) {
			return types.ErrVersionConflict
		}
		if err != nil {
			return err
		}
	} else {
		filter := bson.M{"userId": cursor.UserID, "poolId": cursor.PoolID, "version": int64(cursor.Version)}
		update := bson.M{"$set": bson.M{"reserved": toDecimal128(reserved), "version": int64(next)}}
		res, err := w.Update(ctx, filter, update)
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return types.ErrVersionConflict
		}
	}
	cursor.Reserved = reserved
	cursor.Version = next
	return nil
}

func (m *mongoDB) InsertPayout(ctx context.Context, payout *types.PayoutRecord) error {
	doc := &payoutDoc{
		ID:             payout.ID,
		UserID:         payout.UserID,
		PoolID:         payout.PoolID,
		Amount:         toDecimal128(payout.Amount),
		Status:         payout.Status,
		Destination:    payout.Destination,
		CreatedAt:      payout.CreatedAt,
		PaidAt:         payout.PaidAt,
		TransactionRef: payout.TransactionRef,
		FailureReason:  payout.FailureReason,
	}
	if _, err := m.wrapper.C(cPayouts).Insert(ctx, doc); err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("payout %s: %w", payout.ID, types.ErrRecordExist)
		}
		return err
	}
	return nil
}

func (m *mongoDB) UpdatePayoutStatus(ctx context.Context, payout *types.PayoutRecord, from types.PayoutStatus) error {
	set := bson.M{
		"status":         payout.Status,
		"transactionRef": payout.TransactionRef,
		"failureReason":  payout.FailureReason,
	}
	if payout.PaidAt != nil {
		set["paidAt"] = *payout.PaidAt
	}
	res, err := m.wrapper.C(cPayouts).Update(ctx, bson.M{"id": payout.ID, "status": from}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 1 {
		return nil
	}
	count, err := m.wrapper.C(cPayouts).Count(ctx, bson.M{"id": payout.ID})
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("payout %s: %w", payout.ID, types.ErrNotFound)
	}
	m.logger.Warn("payout status moved concurrently", zap.String("id", payout.ID), zap.String("from", string(from)))
	return types.ErrVersionConflict
}

func (m *mongoDB) Payouts(ctx context.Context, userID, poolID string) ([]*types.PayoutRecord, error) {
	w := m.wrapper.C(cPayouts)
	cursor, err := w.Find(ctx, bson.M{"userId": userID, "poolId": poolID}, w.FindSetSort("createdAt"))
	if err != nil {
		return nil, err
	}
	var docs []payoutDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	payouts := make([]*types.PayoutRecord, 0, len(docs))
	for i := range docs {
		payouts = append(payouts, docs[i].record())
	}
	return payouts, nil
}

func (m *mongoDB) CompletedTotal(ctx context.Context, userID, poolID string) (decimal.Decimal, error) {
	return m.sum(ctx, cPayouts, bson.M{"userId": userID, "poolId": poolID, "status": types.PayoutCompleted})
}

//endregion Payouts
