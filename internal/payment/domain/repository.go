package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Payment, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Payment, error)
	// FindByGatewayOrder is not scoped to an organization; webhooks carry no tenant.
	FindByGatewayOrder(ctx context.Context, db *gorm.DB, provider, orderID string) (*Payment, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, payment *Payment) error

	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, paymentID *snowflake.ID, orgID *snowflake.ID, processedAt time.Time) error
}
