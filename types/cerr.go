// Package types
package types

import (
	"errors"
)

// Validation errors, returned to callers for direct display.
var (
	ErrNotFound             = errors.New("record not found")
	ErrProposalClosed       = errors.New("proposal is closed for voting")
	ErrDuplicateVote        = errors.New("voter has already voted on this proposal")
	ErrInvalidVote          = errors.New("invalid vote")
	ErrInvalidProposal      = errors.New("invalid proposal")
	ErrNoEligibleRecipients = errors.New("no eligible recipients for distribution")
	ErrInvalidSale          = errors.New("invalid sale")
	ErrNothingToClaim       = errors.New("nothing to claim")
	ErrInvalidDestination   = errors.New("invalid payout destination")
	ErrRecordExist          = errors.New("record exist")
	ErrInvalidRequest       = errors.New("invalid request")
)

// Concurrency and execution errors.
var (
	ErrConcurrentClaimConflict = errors.New("concurrent claim conflict, re-read balance and retry")
	ErrPayoutExecutionFailed   = errors.New("payout execution failed, balance preserved")
	ErrCascadeFailed           = errors.New("cascade effect failed")
	ErrStoreUnavailable        = errors.New("store unavailable")

	// ErrVersionConflict is returned by stores when a compare-and-swap misses.
	ErrVersionConflict = errors.New("version conflict")
)

var domainErrors = []error{
	ErrNotFound, ErrProposalClosed, ErrDuplicateVote, ErrInvalidVote, ErrInvalidProposal,
	ErrNoEligibleRecipients, ErrInvalidSale, ErrNothingToClaim, ErrInvalidDestination,
	ErrRecordExist, ErrInvalidRequest, ErrConcurrentClaimConflict, ErrPayoutExecutionFailed, ErrCascadeFailed,
	ErrStoreUnavailable, ErrVersionConflict,
}

// IsDomain reports whether err belongs to the ledger taxonomy. Anything else
// coming out of a store is an infrastructure failure.
func IsDomain(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether the caller may retry the same request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentClaimConflict) || errors.Is(err, ErrStoreUnavailable)
}
