package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dairyroute/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const paymentColumns = `id, org_id, user_id, invoice_id, type, status, method, amount, currency,
	provider, gateway_order_id, gateway_payment_id, reference, failure_reason,
	completed_at, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.OrgID,
		payment.UserID,
		payment.InvoiceID,
		payment.Type,
		payment.Status,
		payment.Method,
		payment.Amount,
		payment.Currency,
		payment.Provider,
		payment.GatewayOrderID,
		payment.GatewayPaymentID,
		payment.Reference,
		payment.FailureReason,
		payment.CompletedAt,
		payment.CreatedAt,
		payment.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Payment, error) {
	return r.findOne(ctx, db,
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE org_id = ? AND id = ?`,
		orgID, id,
	)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Payment, error) {
	return r.findOne(ctx, db,
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE org_id = ? AND id = ?
		 FOR UPDATE`,
		orgID, id,
	)
}

func (r *repo) FindByGatewayOrder(ctx context.Context, db *gorm.DB, provider, orderID string) (*domain.Payment, error) {
	return r.findOne(ctx, db,
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE provider = ? AND gateway_order_id = ?
		 LIMIT 1`,
		provider, orderID,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Payment, error) {
	var item domain.Payment
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, gateway_payment_id = ?, failure_reason = ?, completed_at = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		payment.Status,
		payment.GatewayPaymentID,
		payment.FailureReason,
		payment.CompletedAt,
		payment.UpdatedAt,
		payment.OrgID,
		payment.ID,
	).Error
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, provider, provider_event_id, event_type, payment_id,
			payload, received_at, processed_at
		 FROM payment_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (
			id, org_id, provider, provider_event_id, event_type, payment_id,
			payload, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		event.ID,
		event.OrgID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.PaymentID,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, paymentID *snowflake.ID, orgID *snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET processed_at = ?, payment_id = ?, org_id = ?
		 WHERE id = ?`,
		processedAt,
		paymentID,
		orgID,
		id,
	).Error
}
