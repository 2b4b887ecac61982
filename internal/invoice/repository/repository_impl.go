package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dairyroute/internal/invoice/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const columns = `id, org_id, user_id, sequence, invoice_number, period_start, period_end, status, line_items,
	subtotal, tax, total, paid_amount, balance, issued_at, due_at, paid_at, voided_at, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, i *domain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invoices (`+columns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID,
		i.OrgID,
		i.UserID,
		i.Sequence,
		i.InvoiceNumber,
		i.PeriodStart,
		i.PeriodEnd,
		i.Status,
		i.LineItems,
		i.Subtotal,
		i.Tax,
		i.Total,
		i.PaidAmount,
		i.Balance,
		i.IssuedAt,
		i.DueAt,
		i.PaidAt,
		i.VoidedAt,
		i.CreatedAt,
		i.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Invoice, error) {
	return r.findOne(ctx, db, `SELECT `+columns+` FROM invoices WHERE org_id = ? AND id = ?`, orgID, id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Invoice, error) {
	return r.findOne(ctx, db, `SELECT `+columns+` FROM invoices WHERE org_id = ? AND id = ? FOR UPDATE`, orgID, id)
}

func (r *repo) FindByPeriod(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID, start, end time.Time) (*domain.Invoice, error) {
	return r.findOne(ctx, db,
		`SELECT `+columns+` FROM invoices WHERE org_id = ? AND user_id = ? AND period_start = ? AND period_end = ?`,
		orgID, userID, start, end,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Invoice, error) {
	var invoice domain.Invoice
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&invoice).Error; err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) HasOverlap(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID, start, end time.Time) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM invoices
		 WHERE org_id = ? AND user_id = ? AND status <> ?
		   AND period_start <= ? AND period_end >= ?`,
		orgID, userID, domain.InvoiceStatusVoid, end, start,
	).Scan(&count).Error
	return count > 0, err
}

func (r *repo) NextSequence(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (int64, error) {
	var last int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(sequence), 0) FROM invoices WHERE org_id = ?`,
		orgID,
	).Scan(&last).Error
	return last + 1, err
}

func (r *repo) ListBillableUsers(ctx context.Context, db *gorm.DB, orgID snowflake.ID, from, to time.Time) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT user_id FROM subscription_deliveries
		 WHERE org_id = ? AND status = 'delivered' AND payment_mode = 'postpaid'
		   AND delivery_date >= ? AND delivery_date <= ?
		 UNION
		 SELECT user_id FROM orders
		 WHERE org_id = ? AND status = 'delivered' AND payment_mode = 'postpaid'
		   AND delivery_date >= ? AND delivery_date <= ?
		 ORDER BY user_id`,
		orgID, from, to,
		orgID, from, to,
	).Scan(&ids).Error
	return ids, err
}

func (r *repo) UpdateSettlement(ctx context.Context, db *gorm.DB, i *domain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, paid_amount = ?, balance = ?, paid_at = ?, voided_at = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		i.Status,
		i.PaidAmount,
		i.Balance,
		i.PaidAt,
		i.VoidedAt,
		i.UpdatedAt,
		i.OrgID,
		i.ID,
	).Error
}
