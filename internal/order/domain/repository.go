package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	InsertItems(ctx context.Context, db *gorm.DB, items []OrderItem) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Order, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Order, error)
	ListItems(ctx context.Context, db *gorm.DB, orgID, orderID snowflake.ID) ([]OrderItem, error)
	ListByIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID) ([]Order, error)
	// ListRoutable returns confirmed or processing orders for date that are
	// not on a route stop yet.
	ListRoutable(ctx context.Context, db *gorm.DB, orgID snowflake.ID, date time.Time) ([]Order, error)
	ListDeliveredForUser(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID, from, to time.Time, mode string) ([]Order, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, order *Order) error
}
