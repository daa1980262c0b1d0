package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Allocation is one member's share of a sale, fixed when the sale is registered.
type Allocation struct {
	MemberID string          `json:"memberId"`
	Amount   decimal.Decimal `json:"amount"`
}

// Sale is the idempotency record of a distribution, keyed by (PoolID, TransactionRef).
type Sale struct {
	PoolID         string          `json:"poolId"`
	TransactionRef string          `json:"transactionRef"`
	SalePrice      decimal.Decimal `json:"salePrice"`
	FeeRate        decimal.Decimal `json:"feeRate"`
	Net            decimal.Decimal `json:"net"`
	Allocations    []Allocation    `json:"allocations"`
	CreatedAt      time.Time       `json:"createdAt"`
}

type RevenueDistribution struct {
	ID             string          `json:"id"`
	PoolID         string          `json:"poolId"`
	MemberID       string          `json:"memberId"`
	Amount         decimal.Decimal `json:"amount"`
	TransactionRef string          `json:"transactionRef"`
	CreatedAt      time.Time       `json:"createdAt"`
}

type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutFailed     PayoutStatus = "failed"
)

type PayoutRecord struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	PoolID         string          `json:"poolId"`
	Amount         decimal.Decimal `json:"amount"`
	Status         PayoutStatus    `json:"status"`
	Destination    string          `json:"destination"`
	CreatedAt      time.Time       `json:"createdAt"`
	PaidAt         *time.Time      `json:"paidAt,omitempty"`
	TransactionRef string          `json:"transactionRef,omitempty"`
	FailureReason  string          `json:"failureReason,omitempty"`
}

// PayoutCursor is the per (user, pool) running total of amounts taken out of
// the pending balance by claims in flight or completed. It is only ever
// changed through a version compare-and-swap.
type PayoutCursor struct {
	UserID   string          `json:"userId"`
	PoolID   string          `json:"poolId"`
	Reserved decimal.Decimal `json:"reserved"`
	Version  uint64          `json:"version"`
}
