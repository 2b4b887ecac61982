package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/dairyroute/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

const columns = `id, org_id, user_id, address_id, product_id, quantity, billing_cycle, delivery_days,
	start_date, end_date, payment_mode, status, paused_at, cancelled_at, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (`+columns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.OrgID,
		subscription.UserID,
		subscription.AddressID,
		subscription.ProductID,
		subscription.Quantity,
		subscription.BillingCycle,
		subscription.DeliveryDays,
		subscription.StartDate,
		subscription.EndDate,
		subscription.PaymentMode,
		subscription.Status,
		subscription.PausedAt,
		subscription.CancelledAt,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.find(ctx, db, `SELECT `+columns+` FROM subscriptions WHERE org_id = ? AND id = ?`, orgID, id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.find(ctx, db, `SELECT `+columns+` FROM subscriptions WHERE org_id = ? AND id = ? FOR UPDATE`, orgID, id)
}

func (r *repo) find(ctx context.Context, db *gorm.DB, query string, args ...any) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&subscription).Error; err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) ListDeliverable(ctx context.Context, db *gorm.DB, orgID snowflake.ID, from, to time.Time) ([]subscriptiondomain.Subscription, error) {
	var items []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+columns+` FROM subscriptions
		 WHERE org_id = ? AND status = ? AND start_date <= ? AND (end_date IS NULL OR end_date >= ?)
		 ORDER BY id ASC`,
		orgID,
		subscriptiondomain.SubscriptionStatusActive,
		to,
		from,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListActiveOrgIDs(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT DISTINCT org_id FROM subscriptions WHERE status = ? ORDER BY org_id`,
		subscriptiondomain.SubscriptionStatusActive,
	).Scan(&ids).Error
	return ids, err
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET address_id = ?, quantity = ?, billing_cycle = ?, delivery_days = ?, end_date = ?,
		     status = ?, paused_at = ?, cancelled_at = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		subscription.AddressID,
		subscription.Quantity,
		subscription.BillingCycle,
		subscription.DeliveryDays,
		subscription.EndDate,
		subscription.Status,
		subscription.PausedAt,
		subscription.CancelledAt,
		subscription.UpdatedAt,
		subscription.OrgID,
		subscription.ID,
	).Error
}
