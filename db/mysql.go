package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/kardiachain/dao-ledger/types"
)

type mysqlDB struct {
	logger *zap.Logger
	db     *gorm.DB
	sqlDB  *sql.DB
}

func newMySQL(cfg Config) (*mysqlDB, error) {
	cfg.Logger.Debug("Create mysql with config", zap.String("db", cfg.DbName), zap.Int("minConn", cfg.MinConn), zap.Int("maxConn", cfg.MaxConn))

	dsn := ensureParam(cfg.URL, "parseTime", "true")
	if !strings.Contains(dsn, "charset=") {
		dsn = ensureParam(dsn, "charset", "utf8mb4")
	}
	gormLogger := logger.New(
		zap.NewStdLog(cfg.Logger.With(zap.String("component", "gorm"))),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxConn > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxConn)
	}
	if cfg.MinConn > 0 {
		sqlDB.SetMaxIdleConns(cfg.MinConn)
	}

	if cfg.FlushDB {
		cfg.Logger.Info("Start flush database")
		if err := gdb.Migrator().DropTable(mysqlModels()...); err != nil {
			return nil, err
		}
	}
	if err := gdb.AutoMigrate(mysqlModels()...); err != nil {
		return nil, err
	}

	return &mysqlDB{
		logger: cfg.Logger.With(zap.String("db", "mysql")),
		db:     gdb,
		sqlDB:  sqlDB,
	}, nil
}

func ensureParam(dsn, key, val string) string {
	if strings.Contains(dsn, key+"=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + key + "=" + val
}

func (s *mysqlDB) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

func (s *mysqlDB) Close(ctx context.Context) error {
	return s.sqlDB.Close()
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, types.ErrNotFound)
	}
	return err
}

//region Proposals

func (s *mysqlDB) InsertProposal(ctx context.Context, proposal *types.Proposal) error {
	err := s.db.WithContext(ctx).Create(newProposalRow(proposal)).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("proposal %s: %w", proposal.ID, types.ErrRecordExist)
	}
	return err
}

func (s *mysqlDB) Proposal(ctx context.Context, id string) (*types.Proposal, error) {
	var row proposalRow
	if err := s.db.WithContext(ctx).Take(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "proposal "+id)
	}
	return row.proposal(), nil
}

func (s *mysqlDB) Proposals(ctx context.Context, filter types.ProposalsFilter) ([]*types.Proposal, error) {
	q := s.db.WithContext(ctx).Model(&proposalRow{})
	if filter.CommunityID != "" {
		q = q.Where("community_id = ?", filter.CommunityID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if !filter.DueBefore.IsZero() {
		q = q.Where("voting_end <= ?", filter.DueBefore)
	}
	q = q.Order("created_at DESC").Order("id")
	if filter.Pagination != nil {
		q = q.Offset(filter.Pagination.Skip).Limit(filter.Pagination.Limit)
	}
	var rows []proposalRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	proposals := make([]*types.Proposal, 0, len(rows))
	for i := range rows {
		proposals = append(proposals, rows[i].proposal())
	}
	return proposals, nil
}

// RecordVote runs the ballot insert and the guarded increment in one
// transaction, so a closed proposal rolls the ballot back with it.
func (s *mysqlDB) RecordVote(ctx context.Context, vote *types.Vote, now time.Time) (*types.Proposal, error) {
	var updated *types.Proposal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row proposalRow
		if err := tx.Take(&row, "id = ?", vote.ProposalID).Error; err != nil {
			return notFound(err, "proposal "+vote.ProposalID)
		}
		if !row.proposal().AcceptsVotes(now) {
			return types.ErrProposalClosed
		}
		if !row.proposal().Fits(vote.Choice, vote.Weight) {
			return fmt.Errorf("%w: tally would overflow", types.ErrInvalidVote)
		}
		err := tx.Create(&voteRow{
			ProposalID: vote.ProposalID,
			VoterID:    vote.VoterID,
			Choice:     vote.Choice,
			Weight:     vote.Weight,
			CreatedAt:  vote.CreatedAt,
		}).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return types.ErrDuplicateVote
		}
		if err != nil {
			return err
		}

		column := "no_votes"
		if vote.Choice {
			column = "yes_votes"
		}
		res := tx.Model(&proposalRow{}).
			Where("id = ? AND status = ? AND voting_end > ?", vote.ProposalID, string(types.ProposalActive), now).
			Where(column+" <= ?", types.MaxTally-vote.Weight).
			Update(column, gorm.Expr(column+" + ?", vote.Weight))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return types.ErrProposalClosed
		}
		if err := tx.Take(&row, "id = ?", vote.ProposalID).Error; err != nil {
			return err
		}
		updated = row.proposal()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *mysqlDB) TransitionProposal(ctx context.Context, id string, tally types.Tally, status types.ProposalStatus, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&proposalRow{}).
		Where("id = ? AND status = ? AND yes_votes = ? AND no_votes = ?", id, string(types.ProposalActive), tally.Yes, tally.No).
		Updates(map[string]interface{}{"status": string(status), "resolved_at": at})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	if _, err := s.Proposal(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *mysqlDB) Votes(ctx context.Context, proposalID string) ([]*types.Vote, error) {
	var rows []voteRow
	err := s.db.WithContext(ctx).Where("proposal_id = ?", proposalID).Order("created_at").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	votes := make([]*types.Vote, 0, len(rows))
	for _, r := range rows {
		votes = append(votes, &types.Vote{
			ProposalID: r.ProposalID,
			VoterID:    r.VoterID,
			Choice:     r.Choice,
			Weight:     r.Weight,
			CreatedAt:  r.CreatedAt,
		})
	}
	return votes, nil
}

//endregion Proposals

//region Galleries & communities

func (s *mysqlDB) InsertGallery(ctx context.Context, gallery *types.Gallery) error {
	err := s.db.WithContext(ctx).Create(&galleryRow{
		ID:          gallery.ID,
		CommunityID: gallery.CommunityID,
		Name:        gallery.Name,
		Status:      string(gallery.Status),
		CreatedAt:   gallery.CreatedAt,
		UpdatedAt:   gallery.UpdatedAt,
	}).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("gallery %s: %w", gallery.ID, types.ErrRecordExist)
	}
	return err
}

func (s *mysqlDB) Gallery(ctx context.Context, id string) (*types.Gallery, error) {
	var row galleryRow
	if err := s.db.WithContext(ctx).Take(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "gallery "+id)
	}
	return &types.Gallery{
		ID:          row.ID,
		CommunityID: row.CommunityID,
		Name:        row.Name,
		Status:      types.GalleryStatus(row.Status),
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}, nil
}

func (s *mysqlDB) TransitionGallery(ctx context.Context, id string, from, to types.GalleryStatus, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&galleryRow{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(map[string]interface{}{"status": string(to), "updated_at": at})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	if _, err := s.Gallery(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *mysqlDB) InsertCommunity(ctx context.Context, community *types.Community) error {
	err := s.db.WithContext(ctx).Create(&communityRow{
		ID:        community.ID,
		Name:      community.Name,
		Owner:     community.Owner,
		CreatedAt: community.CreatedAt,
	}).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("community %s: %w", community.ID, types.ErrRecordExist)
	}
	return err
}

func (s *mysqlDB) Community(ctx context.Context, id string) (*types.Community, error) {
	var row communityRow
	if err := s.db.WithContext(ctx).Take(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "community "+id)
	}
	return &types.Community{ID: row.ID, Name: row.Name, Owner: row.Owner, CreatedAt: row.CreatedAt}, nil
}

func (s *mysqlDB) AddMember(ctx context.Context, member *types.Member) error {
	if _, err := s.Community(ctx, member.CommunityID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&memberRow{
		CommunityID: member.CommunityID,
		UserID:      member.UserID,
		JoinedAt:    member.JoinedAt,
	}).Error
}

func (s *mysqlDB) Members(ctx context.Context, communityID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&memberRow{}).
		Where("community_id = ?", communityID).
		Order("user_id").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *mysqlDB) CountMembers(ctx context.Context, communityID string) (uint64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&memberRow{}).Where("community_id = ?", communityID).Count(&total).Error; err != nil {
		return 0, err
	}
	return uint64(total), nil
}

//endregion Galleries & communities

//region Distributions

func (s *mysqlDB) InsertSale(ctx context.Context, sale *types.Sale) (*types.Sale, bool, error) {
	err := s.db.WithContext(ctx).Create(&saleRow{
		PoolID:         sale.PoolID,
		TransactionRef: sale.TransactionRef,
		SalePrice:      sale.SalePrice,
		FeeRate:        sale.FeeRate,
		Net:            sale.Net,
		Allocations:    sale.Allocations,
		CreatedAt:      sale.CreatedAt,
	}).Error
	if err == nil {
		return sale, true, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, false, err
	}
	stored, err := s.Sale(ctx, sale.PoolID, sale.TransactionRef)
	if err != nil {
		return nil, false, err
	}
	return stored, false, nil
}

func (s *mysqlDB) Sale(ctx context.Context, poolID, transactionRef string) (*types.Sale, error) {
	var row saleRow
	err := s.db.WithContext(ctx).Take(&row, "pool_id = ? AND transaction_ref = ?", poolID, transactionRef).Error
	if err != nil {
		return nil, notFound(err, "sale "+poolID+"/"+transactionRef)
	}
	return &types.Sale{
		PoolID:         row.PoolID,
		TransactionRef: row.TransactionRef,
		SalePrice:      row.SalePrice,
		FeeRate:        row.FeeRate,
		Net:            row.Net,
		Allocations:    row.Allocations,
		CreatedAt:      row.CreatedAt,
	}, nil
}

func (s *mysqlDB) InsertDistributions(ctx context.Context, rows []*types.RevenueDistribution) error {
	if len(rows) == 0 {
		return nil
	}
	records := make([]distributionRow, 0, len(rows))
	for _, r := range rows {
		records = append(records, distributionRow{
			ID:             r.ID,
			PoolID:         r.PoolID,
			MemberID:       r.MemberID,
			Amount:         r.Amount,
			TransactionRef: r.TransactionRef,
			CreatedAt:      r.CreatedAt,
		})
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&records).Error
}

func (s *mysqlDB) Distributions(ctx context.Context, poolID, transactionRef string) ([]*types.RevenueDistribution, error) {
	var records []distributionRow
	err := s.db.WithContext(ctx).
		Where("pool_id = ? AND transaction_ref = ?", poolID, transactionRef).
		Order("member_id").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	rows := make([]*types.RevenueDistribution, 0, len(records))
	for _, r := range records {
		rows = append(rows, &types.RevenueDistribution{
			ID:             r.ID,
			PoolID:         r.PoolID,
			MemberID:       r.MemberID,
			Amount:         r.Amount,
			TransactionRef: r.TransactionRef,
			CreatedAt:      r.CreatedAt,
		})
	}
	return rows, nil
}

type sumResult struct {
	Total decimal.Decimal
}

func (s *mysqlDB) DistributedTotal(ctx context.Context, userID, poolID string) (decimal.Decimal, error) {
	var out sumResult
	err := s.db.WithContext(ctx).Model(&distributionRow{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("member_id = ? AND pool_id = ?", userID, poolID).
		Scan(&out).Error
	return out.Total, err
}

//endregion Distributions

//region Payouts

func (s *mysqlDB) PayoutCursor(ctx context.Context, userID, poolID string) (*types.PayoutCursor, error) {
	var row cursorRow
	err := s.db.WithContext(ctx).Take(&row, "user_id = ? AND pool_id = ?", userID, poolID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &types.PayoutCursor{UserID: userID, PoolID: poolID, Reserved: decimal.Zero}, nil
	}
	if err != nil {
		return nil, err
	}
	return &types.PayoutCursor{UserID: row.UserID, PoolID: row.PoolID, Reserved: row.Reserved, Version: row.Version}, nil
}

func (s *mysqlDB) AdvancePayoutCursor(ctx context.Context, cursor *types.PayoutCursor, reserved decimal.Decimal) error {
	next := cursor.Version + 1
	if cursor.Version == 0 {
		err := s.db.WithContext(ctx).Create(&cursorRow{
			UserID:   cursor.UserID,
			PoolID:   cursor.PoolID,
			Reserved: reserved,
			Version:  next,
		}).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return types.ErrVersionConflict
		}
		if err != nil {
			return err
		}
	} else {
		res := s.db.WithContext(ctx).Model(&cursorRow{}).
			Where("user_id = ? AND pool_id = ? AND version = ?", cursor.UserID, cursor.PoolID, cursor.Version).
			Updates(map[string]interface{}{"reserved": reserved, "version": next})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return types.ErrVersionConflict
		}
	}
	cursor.Reserved = reserved
	cursor.Version = next
	return nil
}

func (s *mysqlDB) InsertPayout(ctx context.Context, payout *types.PayoutRecord) error {
	err := s.db.WithContext(ctx).Create(&payoutRow{
		ID:             payout.ID,
		UserID:         payout.UserID,
		PoolID:         payout.PoolID,
		Amount:         payout.Amount,
		Status:         string(payout.Status),
		Destination:    payout.Destination,
		CreatedAt:      payout.CreatedAt,
		PaidAt:         payout.PaidAt,
		TransactionRef: payout.TransactionRef,
		FailureReason:  payout.FailureReason,
	}).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("payout %s: %w", payout.ID, types.ErrRecordExist)
	}
	return err
}

func (s *mysqlDB) UpdatePayoutStatus(ctx context.Context, payout *types.PayoutRecord, from types.PayoutStatus) error {
	updates := map[string]interface{}{
		"status":          string(payout.Status),
		"transaction_ref": payout.TransactionRef,
		"failure_reason":  payout.FailureReason,
	}
	if payout.PaidAt != nil {
		updates["paid_at"] = *payout.PaidAt
	}
	res := s.db.WithContext(ctx).Model(&payoutRow{}).
		Where("id = ? AND status = ?", payout.ID, string(from)).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&payoutRow{}).Where("id = ?", payout.ID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("payout %s: %w", payout.ID, types.ErrNotFound)
	}
	s.logger.Warn("payout status moved concurrently", zap.String("id", payout.ID), zap.String("from", string(from)))
	return types.ErrVersionConflict
}

func (s *mysqlDB) Payouts(ctx context.Context, userID, poolID string) ([]*types.PayoutRecord, error) {
	var rows []payoutRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND pool_id = ?", userID, poolID).
		Order("created_at").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	payouts := make([]*types.PayoutRecord, 0, len(rows))
	for i := range rows {
		payouts = append(payouts, rows[i].record())
	}
	return payouts, nil
}

func (s *mysqlDB) CompletedTotal(ctx context.Context, userID, poolID string) (decimal.Decimal, error) {
	var out sumResult
	err := s.db.WithContext(ctx).Model(&payoutRow{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("user_id = ? AND pool_id = ? AND status = ?", userID, poolID, string(types.PayoutCompleted)).
		Scan(&out).Error
	return out.Total, err
}

//endregion Payouts
