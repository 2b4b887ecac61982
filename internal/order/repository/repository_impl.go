package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dairyroute/internal/order/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const orderColumns = `id, org_id, user_id, address_id, payment_mode, status, delivery_date, subtotal, delivery_fee,
	tax, total, notes, delivered_at, cancelled_at, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.OrgID,
		order.UserID,
		order.AddressID,
		order.PaymentMode,
		order.Status,
		order.DeliveryDate,
		order.Subtotal,
		order.DeliveryFee,
		order.Tax,
		order.Total,
		order.Notes,
		order.DeliveredAt,
		order.CancelledAt,
		order.CreatedAt,
		order.UpdatedAt,
	).Error
}

func (r *repo) InsertItems(ctx context.Context, db *gorm.DB, items []domain.OrderItem) error {
	for _, item := range items {
		err := db.WithContext(ctx).Exec(
			`INSERT INTO order_items (id, org_id, order_id, product_id, quantity, unit_price, line_total, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID,
			item.OrgID,
			item.OrderID,
			item.ProductID,
			item.Quantity,
			item.UnitPrice,
			item.LineTotal,
			item.CreatedAt,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Order, error) {
	return r.findOne(ctx, db, `SELECT `+orderColumns+` FROM orders WHERE org_id = ? AND id = ?`, orgID, id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Order, error) {
	return r.findOne(ctx, db, `SELECT `+orderColumns+` FROM orders WHERE org_id = ? AND id = ? FOR UPDATE`, orgID, id)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Order, error) {
	var order domain.Order
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&order).Error; err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, nil
	}
	return &order, nil
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, orgID, orderID snowflake.ID) ([]domain.OrderItem, error) {
	var items []domain.OrderItem
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, order_id, product_id, quantity, unit_price, line_total, created_at
		 FROM order_items WHERE org_id = ? AND order_id = ? ORDER BY id ASC`,
		orgID, orderID,
	).Scan(&items).Error
	return items, err
}

func (r *repo) ListByIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID) ([]domain.Order, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var orders []domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM orders WHERE org_id = ? AND id IN ? ORDER BY id ASC`,
		orgID, ids,
	).Scan(&orders).Error
	return orders, err
}

func (r *repo) ListRoutable(ctx context.Context, db *gorm.DB, orgID snowflake.ID, date time.Time) ([]domain.Order, error) {
	var orders []domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM orders o
		 WHERE o.org_id = ? AND o.delivery_date = ? AND o.status IN ?
		   AND NOT EXISTS (SELECT 1 FROM route_stops s WHERE s.order_id = o.id)
		 ORDER BY o.id ASC`,
		orgID, date, domain.Routable,
	).Scan(&orders).Error
	return orders, err
}

func (r *repo) ListDeliveredForUser(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID, from, to time.Time, mode string) ([]domain.Order, error) {
	var orders []domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM orders
		 WHERE org_id = ? AND user_id = ? AND status = ? AND payment_mode = ?
		   AND delivery_date >= ? AND delivery_date <= ?
		 ORDER BY delivery_date ASC, id ASC`,
		orgID, userID, domain.OrderStatusDelivered, mode, from, to,
	).Scan(&orders).Error
	return orders, err
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orders SET status = ?, delivered_at = ?, cancelled_at = ?, updated_at = ? WHERE org_id = ? AND id = ?`,
		order.Status,
		order.DeliveredAt,
		order.CancelledAt,
		order.UpdatedAt,
		order.OrgID,
		order.ID,
	).Error
}
