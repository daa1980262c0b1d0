// Package governance records votes and resolves proposals.
//
// A proposal leaves active exactly once. Every trigger, whether a read past
// the deadline, an explicit resolve, a sweep or a vote reaching quorum, goes
// through the same guarded transition in the store. The transition is
// conditioned on the tally the outcome was computed from. Only the caller
// that wins it applies the cascade.
package governance

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kardiachain/dao-ledger/db"
	"github.com/kardiachain/dao-ledger/metrics"
	"github.com/kardiachain/dao-ledger/types"
	"github.com/kardiachain/dao-ledger/utils"
)

type Trigger string

const (
	TriggerDeadline Trigger = "deadline"
	TriggerQuorum   Trigger = "quorum"
	TriggerCascade  Trigger = "cascade"
)

type EngineConfig struct {
	Store   db.Client
	Effects *EffectRegistry
	// Power is the quorum base. Early resolution is off when Power is nil or
	// QuorumFraction is zero.
	Power          VotingPowerSource
	QuorumFraction decimal.Decimal

	Retry     utils.RetryConfig
	Publisher utils.EventPublisher
	Metrics   *metrics.Collector
	Logger    *zap.Logger
	Clock     func() time.Time
}

// resolveAttempts bounds how often resolve recomputes an outcome after a
// vote moved the tally under it.
const resolveAttempts = 5

type Engine struct {
	store          db.Client
	effects        *EffectRegistry
	power          VotingPowerSource
	quorumFraction decimal.Decimal

	retry     utils.RetryConfig
	publisher utils.EventPublisher
	metrics   *metrics.Collector
	logger    *zap.Logger
	clock     func() time.Time
}

// Resolution describes the outcome of a resolve attempt. Transitioned is true
// only for the single caller that moved the proposal out of active.
// CascadeErr reports a failed cascade; the status change stands regardless.
type Resolution struct {
	Proposal     *types.Proposal
	Transitioned bool
	Trigger      Trigger
	CascadeErr   error
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("governance: store is required")
	}
	if cfg.QuorumFraction.IsNegative() || cfg.QuorumFraction.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("governance: quorum fraction %s out of range", cfg.QuorumFraction)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Effects == nil {
		cfg.Effects = DefaultEffects(cfg.Store, cfg.Clock)
	}
	return &Engine{
		store:          cfg.Store,
		effects:        cfg.Effects,
		power:          cfg.Power,
		quorumFraction: cfg.QuorumFraction,
		retry:          cfg.Retry,
		publisher:      cfg.Publisher,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger.With(zap.String("component", "resolution")),
		clock:          cfg.Clock,
	}, nil
}

type CreateProposalRequest struct {
	CommunityID    string             `json:"communityId"`
	Type           types.ProposalType `json:"type"`
	Title          string             `json:"title"`
	Creator        string             `json:"creator"`
	VotingEnd      time.Time          `json:"votingEnd"`
	LinkedEntityID string             `json:"linkedEntityId,omitempty"`
}

func (e *Engine) CreateProposal(ctx context.Context, req CreateProposalRequest) (*types.Proposal, error) {
	now := e.clock()
	switch {
	case !req.Type.Valid():
		return nil, fmt.Errorf("%w: unknown type %q", types.ErrInvalidProposal, req.Type)
	case strings.TrimSpace(req.Title) == "":
		return nil, fmt.Errorf("%w: title is required", types.ErrInvalidProposal)
	case req.Creator == "":
		return nil, fmt.Errorf("%w: creator is required", types.ErrInvalidProposal)
	case !req.VotingEnd.After(now):
		return nil, fmt.Errorf("%w: voting end must be in the future", types.ErrInvalidProposal)
	}

	err := e.retry.Do(ctx, func(ctx context.Context) error {
		_, err := e.store.Community(ctx, req.CommunityID)
		return err
	})
	if err != nil {
		return nil, utils.StoreError(e.logger, "community", err)
	}
	if req.Type == types.ProposalGallery && req.LinkedEntityID != "" {
		var gallery *types.Gallery
		err := e.retry.Do(ctx, func(ctx context.Context) (err error) {
			gallery, err = e.store.Gallery(ctx, req.LinkedEntityID)
			return err
		})
		if err != nil {
			return nil, utils.StoreError(e.logger, "gallery", err)
		}
		if gallery.CommunityID != req.CommunityID {
			return nil, fmt.Errorf("%w: gallery %s belongs to another community", types.ErrInvalidProposal, gallery.ID)
		}
	}

	p := &types.Proposal{
		ID:             uuid.NewString(),
		CommunityID:    req.CommunityID,
		Type:           req.Type,
		Title:          req.Title,
		Creator:        req.Creator,
		Status:         types.ProposalActive,
		VotingEnd:      req.VotingEnd,
		LinkedEntityID: req.LinkedEntityID,
		CreatedAt:      now,
	}
	if err := e.retry.Once(ctx, func(ctx context.Context) error {
		return e.store.InsertProposal(ctx, p)
	}); err != nil {
		return nil, utils.StoreError(e.logger, "insertProposal", err)
	}
	e.logger.Info("proposal created", zap.String("id", p.ID), zap.String("type", string(p.Type)))
	return p, nil
}

func (e *Engine) load(ctx context.Context, id string) (*types.Proposal, error) {
	var p *types.Proposal
	err := e.retry.Do(ctx, func(ctx context.Context) (err error) {
		p, err = e.store.Proposal(ctx, id)
		return err
	})
	if err != nil {
		return nil, utils.StoreError(e.logger, "proposal", err)
	}
	return p, nil
}

// Proposal reads a proposal, resolving it first if its deadline has passed
// or its tally already meets quorum.
func (e *Engine) Proposal(ctx context.Context, id string) (*types.Proposal, error) {
	p, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := e.settle(ctx, p, e.clock())
	if err != nil {
		return nil, err
	}
	return res.Proposal, nil
}

// Proposals lists a community's proposals, newest first, with the triggers
// applied to each.
func (e *Engine) Proposals(ctx context.Context, communityID string, pagination *types.Pagination) ([]*types.Proposal, error) {
	if pagination == nil {
		pagination = &types.Pagination{}
	}
	pagination.Sanitize()
	var proposals []*types.Proposal
	err := e.retry.Do(ctx, func(ctx context.Context) (err error) {
		proposals, err = e.store.Proposals(ctx, types.ProposalsFilter{CommunityID: communityID, Pagination: pagination})
		return err
	})
	if err != nil {
		return nil, utils.StoreError(e.logger, "proposals", err)
	}
	now := e.clock()
	for i, p := range proposals {
		res, err := e.settle(ctx, p, now)
		if err != nil {
			return nil, err
		}
		proposals[i] = res.Proposal
	}
	return proposals, nil
}

// ResolveIfDue applies the deadline trigger, and the quorum trigger when
// early resolution is on. A proposal that is terminal or not yet due comes
// back unchanged with Transitioned false.
func (e *Engine) ResolveIfDue(ctx context.Context, id string) (*Resolution, error) {
	p, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.settle(ctx, p, e.clock())
}

// settle resolves p if a trigger applies at now and returns it as is
// otherwise. A quorum missed when the deciding vote was counted is picked up
// here.
func (e *Engine) settle(ctx context.Context, p *types.Proposal, now time.Time) (*Resolution, error) {
	trigger, ok, err := e.triggerFor(ctx, p, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Resolution{Proposal: p, Trigger: TriggerDeadline}, nil
	}
	return e.resolve(ctx, p, trigger)
}

// triggerFor reports which trigger, if any, applies to p at now. The
// deadline wins over quorum.
func (e *Engine) triggerFor(ctx context.Context, p *types.Proposal, now time.Time) (Trigger, bool, error) {
	if p.Status != types.ProposalActive {
		return "", false, nil
	}
	if p.IsDue(now) {
		return TriggerDeadline, true, nil
	}
	reached, err := e.quorumReached(ctx, p)
	if err != nil || !reached {
		return "", false, err
	}
	return TriggerQuorum, true, nil
}

func (e *Engine) quorumEnabled() bool {
	return e.power != nil && !e.quorumFraction.IsZero()
}

func (e *Engine) quorumReached(ctx context.Context, p *types.Proposal) (bool, error) {
	if !e.quorumEnabled() {
		return false, nil
	}
	expected, err := e.power.ExpectedPower(ctx, p)
	if err != nil {
		return false, utils.StoreError(e.logger, "expectedPower", err)
	}
	return QuorumReached(p.TotalVotes(), expected, e.quorumFraction), nil
}

// EarlyResolve applies the early-quorum trigger to a freshly counted tally.
// It returns nil when quorum is not reached or early resolution is off.
func (e *Engine) EarlyResolve(ctx context.Context, p *types.Proposal) (*Resolution, error) {
	if p.Status != types.ProposalActive {
		return nil, nil
	}
	reached, err := e.quorumReached(ctx, p)
	if err != nil || !reached {
		return nil, err
	}
	return e.resolve(ctx, p, TriggerQuorum)
}

// QuorumReached reports whether total is at least fraction of expected.
func QuorumReached(total, expected uint64, fraction decimal.Decimal) bool {
	if expected == 0 || fraction.IsZero() {
		return false
	}
	need := fraction.Mul(fromUint64(expected))
	return fromUint64(total).GreaterThanOrEqual(need)
}

func fromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

// resolve moves p to the simple-majority outcome of its tally. Losing the
// transition to another resolver is not an error: the winner's state is
// returned. A vote that lands between the read and the transition makes the
// outcome stale, so it is recomputed from the reloaded tally.
func (e *Engine) resolve(ctx context.Context, p *types.Proposal, trigger Trigger) (*Resolution, error) {
	for attempt := 0; attempt < resolveAttempts; attempt++ {
		status := p.Outcome()
		at := e.clock()
		var moved bool
		err := e.retry.Do(ctx, func(ctx context.Context) (err error) {
			moved, err = e.store.TransitionProposal(ctx, p.ID, p.Tally(), status, at)
			return err
		})
		if err != nil {
			return nil, utils.StoreError(e.logger, "transitionProposal", err)
		}
		if moved {
			return e.resolved(ctx, p, status, at, trigger), nil
		}
		current, err := e.load(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if current.Status != types.ProposalActive {
			return &Resolution{Proposal: current, Trigger: trigger}, nil
		}
		e.logger.Debug("tally moved during resolution",
			zap.String("id", p.ID),
			zap.Uint64("yes", current.YesVotes),
			zap.Uint64("no", current.NoVotes),
			zap.Int("attempt", attempt+1))
		p = current
	}
	return nil, fmt.Errorf("proposal %s: tally kept moving: %w", p.ID, types.ErrVersionConflict)
}

func (e *Engine) resolved(ctx context.Context, p *types.Proposal, status types.ProposalStatus, at time.Time, trigger Trigger) *Resolution {
	resolved := *p
	resolved.Status = status
	resolved.ResolvedAt = &at
	e.logger.Info("proposal resolved",
		zap.String("id", resolved.ID),
		zap.String("status", string(status)),
		zap.String("trigger", string(trigger)),
		zap.Uint64("yes", resolved.YesVotes),
		zap.Uint64("no", resolved.NoVotes))
	e.metrics.Resolution(string(trigger), string(status))
	utils.Publish(ctx, e.publisher, e.logger, &types.LedgerEvent{
		Kind:    types.EventProposalResolved,
		Subject: resolved.ID,
		Fields:  map[string]string{"status": string(status), "trigger": string(trigger)},
		At:      at,
	})

	return &Resolution{
		Proposal:     &resolved,
		Transitioned: true,
		Trigger:      trigger,
		CascadeErr:   e.cascade(ctx, &resolved),
	}
}

// cascade applies the registered effect, if any, for a terminal proposal.
func (e *Engine) cascade(ctx context.Context, p *types.Proposal) error {
	effect, ok := e.effects.Lookup(p.Type)
	if !ok {
		return nil
	}
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		return effect.Apply(ctx, p)
	})
	if err == nil {
		e.metrics.Cascade("applied")
		return nil
	}
	e.logger.Warn("cascade failed",
		zap.String("proposal", p.ID),
		zap.String("linked", p.LinkedEntityID),
		zap.Error(err))
	e.metrics.Cascade("failed")
	utils.Publish(ctx, e.publisher, e.logger, &types.LedgerEvent{
		Kind:    types.EventCascadeFailed,
		Subject: p.ID,
		Fields:  map[string]string{"linkedEntityId": p.LinkedEntityID},
		At:      e.clock(),
	})
	if errors.Is(err, types.ErrCascadeFailed) {
		return err
	}
	return fmt.Errorf("%w: %s", types.ErrCascadeFailed, cascadeReason(err))
}

func cascadeReason(err error) string {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return "linked entity not found"
	case types.IsDomain(err):
		return err.Error()
	default:
		return "store unavailable"
	}
}

// RetryCascade re-applies the effect of a terminal proposal. An active
// proposal past its deadline is resolved first, which cascades on its own.
func (e *Engine) RetryCascade(ctx context.Context, id string) (*Resolution, error) {
	p, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.IsDue(e.clock()) {
		return e.resolve(ctx, p, TriggerDeadline)
	}
	if !p.Status.Terminal() {
		return nil, fmt.Errorf("%w: proposal %s is still active", types.ErrInvalidProposal, p.ID)
	}
	return &Resolution{Proposal: p, Trigger: TriggerCascade, CascadeErr: e.cascade(ctx, p)}, nil
}

// SweepDue resolves every active proposal whose deadline has passed. With
// early resolution on it also resolves open proposals whose tally already
// meets quorum. It keeps going past individual failures and returns them
// joined.
func (e *Engine) SweepDue(ctx context.Context) (int, error) {
	now := e.clock()
	filter := types.ProposalsFilter{Status: types.ProposalActive, DueBefore: now}
	if e.quorumEnabled() {
		filter.DueBefore = time.Time{}
	}
	var due []*types.Proposal
	err := e.retry.Do(ctx, func(ctx context.Context) (err error) {
		due, err = e.store.Proposals(ctx, filter)
		return err
	})
	if err != nil {
		return 0, utils.StoreError(e.logger, "dueProposals", err)
	}
	var (
		resolved int
		errs     []error
	)
	for _, p := range due {
		res, err := e.settle(ctx, p, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("proposal %s: %w", p.ID, err))
			continue
		}
		if res.Transitioned {
			resolved++
		}
	}
	if len(due) > 0 {
		e.logger.Info("sweep finished", zap.Int("due", len(due)), zap.Int("resolved", resolved), zap.Int("failed", len(errs)))
	}
	return resolved, errors.Join(errs...)
}
