package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// FindLastForUpdate locks the user's newest entry. It returns nil for a
	// user without entries.
	FindLastForUpdate(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID) (*LedgerEntry, error)
	FindLast(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID) (*LedgerEntry, error)
	FindBySource(ctx context.Context, db *gorm.DB, orgID snowflake.ID, sourceType SourceType, sourceID snowflake.ID) (*LedgerEntry, error)
	// Insert reports false when either the source key or the sequence slot is
	// already taken.
	Insert(ctx context.Context, db *gorm.DB, entry *LedgerEntry) (bool, error)
	ListByUser(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID) ([]LedgerEntry, error)
	ListUserIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]snowflake.ID, error)
}
