package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dairyroute/internal/delivery/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const columns = `id, org_id, subscription_id, user_id, address_id, product_id, delivery_date, quantity, unit_price,
	payment_mode, status, proof_image_url, proof_note, delivered_at, failure_reason, created_at, updated_at`

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, d *domain.SubscriptionDelivery) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO subscription_deliveries (`+columns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (subscription_id, delivery_date) DO NOTHING`,
		d.ID,
		d.OrgID,
		d.SubscriptionID,
		d.UserID,
		d.AddressID,
		d.ProductID,
		d.DeliveryDate,
		d.Quantity,
		d.UnitPrice,
		d.PaymentMode,
		d.Status,
		d.ProofImageURL,
		d.ProofNote,
		d.DeliveredAt,
		d.FailureReason,
		d.CreatedAt,
		d.UpdatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) RefreshScheduled(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID, date time.Time, quantity int, addressID snowflake.ID, now time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE subscription_deliveries
		 SET quantity = ?, address_id = ?, updated_at = ?
		 WHERE org_id = ? AND subscription_id = ? AND delivery_date = ? AND status = ?
		   AND (quantity <> ? OR address_id <> ?)`,
		quantity,
		addressID,
		now,
		orgID,
		subscriptionID,
		date,
		domain.StatusScheduled,
		quantity,
		addressID,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.SubscriptionDelivery, error) {
	return r.findOne(ctx, db, `SELECT `+columns+` FROM subscription_deliveries WHERE org_id = ? AND id = ?`, orgID, id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.SubscriptionDelivery, error) {
	return r.findOne(ctx, db, `SELECT `+columns+` FROM subscription_deliveries WHERE org_id = ? AND id = ? FOR UPDATE`, orgID, id)
}

func (r *repo) FindBySubscriptionAndDate(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID, date time.Time) (*domain.SubscriptionDelivery, error) {
	return r.findOne(ctx, db,
		`SELECT `+columns+` FROM subscription_deliveries WHERE org_id = ? AND subscription_id = ? AND delivery_date = ?`,
		orgID, subscriptionID, date,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.SubscriptionDelivery, error) {
	var d domain.SubscriptionDelivery
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&d).Error; err != nil {
		return nil, err
	}
	if d.ID == 0 {
		return nil, nil
	}
	return &d, nil
}

func (r *repo) ListByDate(ctx context.Context, db *gorm.DB, orgID snowflake.ID, date time.Time, statuses []domain.Status) ([]domain.SubscriptionDelivery, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.SubscriptionDelivery{}).
		Where("org_id = ? AND delivery_date = ?", orgID, date)
	if len(statuses) > 0 {
		stmt = stmt.Where("status IN ?", statuses)
	}
	var items []domain.SubscriptionDelivery
	if err := stmt.Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListByIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID) ([]domain.SubscriptionDelivery, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var items []domain.SubscriptionDelivery
	err := db.WithContext(ctx).Raw(
		`SELECT `+columns+` FROM subscription_deliveries WHERE org_id = ? AND id IN ? ORDER BY id ASC`,
		orgID, ids,
	).Scan(&items).Error
	return items, err
}

func (r *repo) ListUnassigned(ctx context.Context, db *gorm.DB, orgID snowflake.ID, date time.Time) ([]domain.SubscriptionDelivery, error) {
	var items []domain.SubscriptionDelivery
	err := db.WithContext(ctx).Raw(
		`SELECT `+columns+` FROM subscription_deliveries d
		 WHERE d.org_id = ? AND d.delivery_date = ? AND d.status = ?
		   AND NOT EXISTS (SELECT 1 FROM route_stops s WHERE s.subscription_delivery_id = d.id)
		 ORDER BY d.id ASC`,
		orgID, date, domain.StatusScheduled,
	).Scan(&items).Error
	return items, err
}

func (r *repo) ListDeliveredForUser(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID, from, to time.Time, mode string) ([]domain.SubscriptionDelivery, error) {
	var items []domain.SubscriptionDelivery
	err := db.WithContext(ctx).Raw(
		`SELECT `+columns+` FROM subscription_deliveries
		 WHERE org_id = ? AND user_id = ? AND status = ? AND payment_mode = ?
		   AND delivery_date >= ? AND delivery_date <= ?
		 ORDER BY delivery_date ASC, id ASC`,
		orgID, userID, domain.StatusDelivered, mode, from, to,
	).Scan(&items).Error
	return items, err
}

func (r *repo) ListScheduledFrom(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID, from time.Time) ([]domain.SubscriptionDelivery, error) {
	var items []domain.SubscriptionDelivery
	err := db.WithContext(ctx).Raw(
		`SELECT `+columns+` FROM subscription_deliveries
		 WHERE org_id = ? AND subscription_id = ? AND status = ? AND delivery_date >= ?
		 ORDER BY delivery_date ASC`,
		orgID, subscriptionID, domain.StatusScheduled, from,
	).Scan(&items).Error
	return items, err
}

func (r *repo) CancelScheduled(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID, now time.Time) ([]snowflake.ID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var targets []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT id FROM subscription_deliveries WHERE org_id = ? AND id IN ? AND status = ? ORDER BY id FOR UPDATE`,
		orgID, ids, domain.StatusScheduled,
	).Scan(&targets).Error
	if err != nil || len(targets) == 0 {
		return nil, err
	}
	err = db.WithContext(ctx).Exec(
		`UPDATE subscription_deliveries SET status = ?, updated_at = ? WHERE org_id = ? AND id IN ?`,
		domain.StatusCancelled, now, orgID, targets,
	).Error
	if err != nil {
		return nil, err
	}
	return targets, nil
}

func (r *repo) DeleteCancelledFrom(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID, from time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`DELETE FROM subscription_deliveries
		 WHERE org_id = ? AND subscription_id = ? AND status = ? AND delivery_date >= ?
		   AND NOT EXISTS (SELECT 1 FROM route_stops s WHERE s.subscription_delivery_id = subscription_deliveries.id)`,
		orgID, subscriptionID, domain.StatusCancelled, from,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, d *domain.SubscriptionDelivery) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscription_deliveries
		 SET status = ?, proof_image_url = ?, proof_note = ?, delivered_at = ?, failure_reason = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		d.Status,
		d.ProofImageURL,
		d.ProofNote,
		d.DeliveredAt,
		d.FailureReason,
		d.UpdatedAt,
		d.OrgID,
		d.ID,
	).Error
}
