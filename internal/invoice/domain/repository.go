package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Invoice, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Invoice, error)
	FindByPeriod(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID, start, end time.Time) (*Invoice, error)
	// HasOverlap reports a non-void invoice for the user whose period
	// intersects [start, end].
	HasOverlap(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID, start, end time.Time) (bool, error)
	NextSequence(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (int64, error)
	// ListBillableUsers returns users with delivered postpaid deliveries or
	// orders dated within [from, to].
	ListBillableUsers(ctx context.Context, db *gorm.DB, orgID snowflake.ID, from, to time.Time) ([]snowflake.ID, error)
	UpdateSettlement(ctx context.Context, db *gorm.DB, invoice *Invoice) error
}
