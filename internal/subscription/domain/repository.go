package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Subscription, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Subscription, error)
	// ListDeliverable returns active subscriptions whose window overlaps [from, to].
	ListDeliverable(ctx context.Context, db *gorm.DB, orgID snowflake.ID, from, to time.Time) ([]Subscription, error)
	ListActiveOrgIDs(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error)
	Update(ctx context.Context, db *gorm.DB, subscription *Subscription) error
}
