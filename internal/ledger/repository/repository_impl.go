package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dairyroute/internal/ledger/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const columns = `id, org_id, user_id, sequence, entry_type, amount, running_balance, source_type, source_id, description, created_at`

func (r *repo) FindLastForUpdate(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID) (*domain.LedgerEntry, error) {
	return r.findOne(ctx, db,
		`SELECT `+columns+` FROM ledger_entries
		 WHERE org_id = ? AND user_id = ?
		 ORDER BY sequence DESC
		 LIMIT 1
		 FOR UPDATE`,
		orgID, userID,
	)
}

func (r *repo) FindLast(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID) (*domain.LedgerEntry, error) {
	return r.findOne(ctx, db,
		`SELECT `+columns+` FROM ledger_entries WHERE org_id = ? AND user_id = ? ORDER BY sequence DESC LIMIT 1`,
		orgID, userID,
	)
}

func (r *repo) FindBySource(ctx context.Context, db *gorm.DB, orgID snowflake.ID, sourceType domain.SourceType, sourceID snowflake.ID) (*domain.LedgerEntry, error) {
	return r.findOne(ctx, db,
		`SELECT `+columns+` FROM ledger_entries WHERE org_id = ? AND source_type = ? AND source_id = ?`,
		orgID, sourceType, sourceID,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&entry).Error; err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, e *domain.LedgerEntry) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO ledger_entries (`+columns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		e.ID,
		e.OrgID,
		e.UserID,
		e.Sequence,
		e.EntryType,
		e.Amount,
		e.RunningBalance,
		e.SourceType,
		e.SourceID,
		e.Description,
		e.CreatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	err := db.WithContext(ctx).Raw(
		`SELECT `+columns+` FROM ledger_entries WHERE org_id = ? AND user_id = ? ORDER BY sequence ASC`,
		orgID, userID,
	).Scan(&entries).Error
	return entries, err
}

func (r *repo) ListUserIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT DISTINCT user_id FROM ledger_entries WHERE org_id = ? ORDER BY user_id ASC`,
		orgID,
	).Scan(&ids).Error
	return ids, err
}
