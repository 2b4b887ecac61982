package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertIfAbsent reports false when a row for the same subscription and
	// date already exists.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, delivery *SubscriptionDelivery) (bool, error)
	// RefreshScheduled rewrites quantity and address on a still scheduled row.
	RefreshScheduled(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID, date time.Time, quantity int, addressID snowflake.ID, now time.Time) (int64, error)
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*SubscriptionDelivery, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*SubscriptionDelivery, error)
	FindBySubscriptionAndDate(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID, date time.Time) (*SubscriptionDelivery, error)
	ListByDate(ctx context.Context, db *gorm.DB, orgID snowflake.ID, date time.Time, statuses []Status) ([]SubscriptionDelivery, error)
	ListByIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID) ([]SubscriptionDelivery, error)
	// ListUnassigned returns scheduled deliveries for date not yet on a route stop.
	ListUnassigned(ctx context.Context, db *gorm.DB, orgID snowflake.ID, date time.Time) ([]SubscriptionDelivery, error)
	ListDeliveredForUser(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID, from, to time.Time, mode string) ([]SubscriptionDelivery, error)
	ListScheduledFrom(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID, from time.Time) ([]SubscriptionDelivery, error)
	// CancelScheduled cancels the given rows that are still scheduled and
	// returns the ids it changed.
	CancelScheduled(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID, now time.Time) ([]snowflake.ID, error)
	// DeleteCancelledFrom removes cancelled rows dated on or after from that
	// no route stop references, so the dates can be materialized again.
	DeleteCancelledFrom(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID, from time.Time) (int64, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, delivery *SubscriptionDelivery) error
}
