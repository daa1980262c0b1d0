package governance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kardiachain/dao-ledger/types"
)

// Effect is applied to a proposal's linked entity once the proposal is
// terminal. Apply must be idempotent; it can run again on retry.
type Effect interface {
	Apply(ctx context.Context, p *types.Proposal) error
}

type EffectFunc func(ctx context.Context, p *types.Proposal) error

func (f EffectFunc) Apply(ctx context.Context, p *types.Proposal) error {
	return f(ctx, p)
}

// EffectRegistry maps proposal types to their cascade. Types without an
// entry do not cascade.
type EffectRegistry struct {
	mu      sync.RWMutex
	effects map[types.ProposalType]Effect
}

func NewEffectRegistry() *EffectRegistry {
	return &EffectRegistry{effects: make(map[types.ProposalType]Effect)}
}

func (r *EffectRegistry) Register(t types.ProposalType, e Effect) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.effects[t] = e
}

func (r *EffectRegistry) Lookup(t types.ProposalType) (Effect, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.effects[t]
	return e, ok
}

type galleryStore interface {
	Gallery(ctx context.Context, id string) (*types.Gallery, error)
	TransitionGallery(ctx context.Context, id string, from, to types.GalleryStatus, at time.Time) (bool, error)
}

// GalleryEffect opens or cancels the pending gallery linked to a gallery
// proposal.
type GalleryEffect struct {
	Store galleryStore
	Clock func() time.Time
}

// galleryTarget is the gallery status a terminal proposal status leads to.
// ok is false when the status has no cascade.
func galleryTarget(status types.ProposalStatus) (target types.GalleryStatus, ok bool, err error) {
	switch status {
	case types.ProposalPassed:
		return types.GalleryActive, true, nil
	case types.ProposalRejected:
		return types.GalleryCancelled, true, nil
	case types.ProposalExpired, types.ProposalActive:
		return "", false, nil
	default:
		return "", false, fmt.Errorf("%w: unknown status %q", types.ErrInvalidProposal, status)
	}
}

func (g *GalleryEffect) Apply(ctx context.Context, p *types.Proposal) error {
	if p.LinkedEntityID == "" {
		return nil
	}
	target, ok, err := galleryTarget(p.Status)
	if err != nil || !ok {
		return err
	}
	now := time.Now()
	if g.Clock != nil {
		now = g.Clock()
	}
	moved, err := g.Store.TransitionGallery(ctx, p.LinkedEntityID, types.GalleryPending, target, now)
	if err != nil || moved {
		return err
	}
	// Already applied by an earlier attempt, or someone moved the gallery.
	gallery, err := g.Store.Gallery(ctx, p.LinkedEntityID)
	if err != nil {
		return err
	}
	if gallery.Status == target {
		return nil
	}
	return fmt.Errorf("%w: gallery %s is %s, cannot become %s", types.ErrCascadeFailed, gallery.ID, gallery.Status, target)
}

// DefaultEffects registers the gallery cascade.
func DefaultEffects(store galleryStore, clock func() time.Time) *EffectRegistry {
	r := NewEffectRegistry()
	r.Register(types.ProposalGallery, &GalleryEffect{Store: store, Clock: clock})
	return r
}
