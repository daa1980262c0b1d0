package types

import (
	"time"
)

type LedgerEventKind string

const (
	EventProposalResolved   LedgerEventKind = "proposal.resolved"
	EventCascadeFailed      LedgerEventKind = "proposal.cascadeFailed"
	EventRevenueDistributed LedgerEventKind = "revenue.distributed"
	EventPayoutCompleted    LedgerEventKind = "payout.completed"
	EventPayoutFailed       LedgerEventKind = "payout.failed"
)

// LedgerEvent is a notification about a committed ledger change.
type LedgerEvent struct {
	Kind    LedgerEventKind   `json:"kind"`
	Subject string            `json:"subject"`
	Fields  map[string]string `json:"fields,omitempty"`
	At      time.Time         `json:"at"`
}
