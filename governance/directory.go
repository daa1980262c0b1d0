package governance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kardiachain/dao-ledger/db"
	"github.com/kardiachain/dao-ledger/types"
	"github.com/kardiachain/dao-ledger/utils"
)

type memberCountInvalidator interface {
	InvalidateMemberCount(ctx context.Context, communityID string) error
}

type DirectoryConfig struct {
	Store db.Client
	// Cache, when set, has its member count dropped on every join.
	Cache  memberCountInvalidator
	Retry  utils.RetryConfig
	Logger *zap.Logger
	Clock  func() time.Time
}

// Directory registers the communities, members and galleries that proposals
// and sales refer to.
type Directory struct {
	store  db.Client
	cache  memberCountInvalidator
	retry  utils.RetryConfig
	logger *zap.Logger
	clock  func() time.Time
}

func NewDirectory(cfg DirectoryConfig) (*Directory, error) {
	if cfg.Store == nil {
		return nil, errors.New("governance: store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Directory{
		store:  cfg.Store,
		cache:  cfg.Cache,
		retry:  cfg.Retry,
		logger: cfg.Logger.With(zap.String("component", "directory")),
		clock:  cfg.Clock,
	}, nil
}

// CreateCommunity registers a community with its owner as first member.
func (d *Directory) CreateCommunity(ctx context.Context, name, owner string) (*types.Community, error) {
	if strings.TrimSpace(name) == "" || owner == "" {
		return nil, fmt.Errorf("%w: name and owner are required", types.ErrInvalidRequest)
	}
	c := &types.Community{
		ID:        uuid.NewString(),
		Name:      name,
		Owner:     owner,
		CreatedAt: d.clock(),
	}
	if err := d.retry.Once(ctx, func(ctx context.Context) error {
		return d.store.InsertCommunity(ctx, c)
	}); err != nil {
		return nil, utils.StoreError(d.logger, "insertCommunity", err)
	}
	if err := d.AddMember(ctx, c.ID, owner); err != nil {
		return nil, err
	}
	return c, nil
}

// AddMember is idempotent.
func (d *Directory) AddMember(ctx context.Context, communityID, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user is required", types.ErrInvalidRequest)
	}
	member := &types.Member{CommunityID: communityID, UserID: userID, JoinedAt: d.clock()}
	if err := d.retry.Do(ctx, func(ctx context.Context) error {
		return d.store.AddMember(ctx, member)
	}); err != nil {
		return utils.StoreError(d.logger, "addMember", err)
	}
	if d.cache != nil {
		if err := d.cache.InvalidateMemberCount(ctx, communityID); err != nil {
			d.logger.Warn("cannot invalidate member count", zap.String("community", communityID), zap.Error(err))
		}
	}
	return nil
}

func (d *Directory) Members(ctx context.Context, communityID string) ([]string, error) {
	var members []string
	err := d.retry.Do(ctx, func(ctx context.Context) (err error) {
		if _, err = d.store.Community(ctx, communityID); err != nil {
			return err
		}
		members, err = d.store.Members(ctx, communityID)
		return err
	})
	if err != nil {
		return nil, utils.StoreError(d.logger, "members", err)
	}
	return members, nil
}

// CreateGallery registers a pending gallery; it opens once a gallery
// proposal linked to it passes.
func (d *Directory) CreateGallery(ctx context.Context, communityID, name string) (*types.Gallery, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: gallery name is required", types.ErrInvalidRequest)
	}
	if err := d.retry.Do(ctx, func(ctx context.Context) error {
		_, err := d.store.Community(ctx, communityID)
		return err
	}); err != nil {
		return nil, utils.StoreError(d.logger, "community", err)
	}
	now := d.clock()
	g := &types.Gallery{
		ID:          uuid.NewString(),
		CommunityID: communityID,
		Name:        name,
		Status:      types.GalleryPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := d.retry.Once(ctx, func(ctx context.Context) error {
		return d.store.InsertGallery(ctx, g)
	}); err != nil {
		return nil, utils.StoreError(d.logger, "insertGallery", err)
	}
	return g, nil
}

func (d *Directory) Gallery(ctx context.Context, id string) (*types.Gallery, error) {
	var g *types.Gallery
	err := d.retry.Do(ctx, func(ctx context.Context) (err error) {
		g, err = d.store.Gallery(ctx, id)
		return err
	})
	if err != nil {
		return nil, utils.StoreError(d.logger, "gallery", err)
	}
	return g, nil
}
