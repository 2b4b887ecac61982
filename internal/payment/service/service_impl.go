package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/dairyroute/internal/audit/domain"
	"github.com/smallbiznis/dairyroute/internal/clock"
	"github.com/smallbiznis/dairyroute/internal/config"
	"github.com/smallbiznis/dairyroute/internal/events"
	invoicedomain "github.com/smallbiznis/dairyroute/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/dairyroute/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/dairyroute/internal/observability/metrics"
	"github.com/smallbiznis/dairyroute/internal/orgcontext"
	"github.com/smallbiznis/dairyroute/internal/payment/adapters"
	"github.com/smallbiznis/dairyroute/internal/payment/domain"
	userdomain "github.com/smallbiznis/dairyroute/internal/user/domain"
	"github.com/smallbiznis/dairyroute/pkg/db/option"
	"github.com/smallbiznis/dairyroute/pkg/db/pagination"
	"github.com/smallbiznis/dairyroute/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const manualProvider = "manual"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	Repo       domain.Repository
	UserRepo   userdomain.Repository
	Ledger     ledgerdomain.Service
	Invoices   invoicedomain.Service
	Adapters   *adapters.Registry  `optional:"true"`
	AuditSvc   auditdomain.Service `optional:"true"`
	Outbox     *events.Outbox      `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	currency string

	repo         domain.Repository
	paymentStore repository.Repository[domain.Payment]
	userRepo     userdomain.Repository
	ledger       ledgerdomain.Service
	invoices     invoicedomain.Service
	adapters     *adapters.Registry
	auditSvc     auditdomain.Service
	outbox       *events.Outbox
	obsMetrics   *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	currency := strings.ToUpper(strings.TrimSpace(p.Config.Razorpay.Currency))
	if currency == "" {
		currency = "INR"
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		currency: currency,

		repo:         p.Repo,
		paymentStore: repository.ProvideStore[domain.Payment](p.DB),
		userRepo:     p.UserRepo,
		ledger:       p.Ledger,
		invoices:     p.Invoices,
		adapters:     p.Adapters,
		auditSvc:     p.AuditSvc,
		outbox:       p.Outbox,
		obsMetrics:   p.ObsMetrics,
	}
}

// RecordPayment books a completed payment taken outside the gateway.
// Ledger posting and invoice settlement commit together with the payment row.
func (s *Service) RecordPayment(ctx context.Context, req domain.RecordPaymentRequest) (*domain.Payment, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	if !orgcontext.IsPrivileged(ctx) {
		return nil, domain.ErrForbidden
	}
	if !req.Type.Valid() {
		return nil, domain.ErrInvalidType
	}
	if !req.Method.Manual() {
		return nil, domain.ErrInvalidMethod
	}
	amount := req.Amount.Round(2)
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	var userID snowflake.ID
	if raw := strings.TrimSpace(req.UserID); raw != "" {
		parsed, err := parseID(raw, domain.ErrInvalidUser)
		if err != nil {
			return nil, err
		}
		userID = parsed
	}
	var invoiceID *snowflake.ID
	if req.Type == domain.PaymentTypeInvoiceSettlement {
		parsed, err := parseID(req.InvoiceID, domain.ErrInvalidInvoice)
		if err != nil {
			return nil, err
		}
		invoiceID = &parsed
	} else if strings.TrimSpace(req.InvoiceID) != "" {
		return nil, domain.ErrInvalidInvoice
	} else if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	now := s.clock.Now()
	provider := manualProvider
	payment := &domain.Payment{
		ID:          s.genID.Generate(),
		OrgID:       orgID,
		UserID:      userID,
		InvoiceID:   invoiceID,
		Type:        req.Type,
		Status:      domain.PaymentStatusCompleted,
		Method:      req.Method,
		Amount:      amount,
		Currency:    s.currency,
		Provider:    &provider,
		Reference:   optionalString(req.Reference),
		CompletedAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if invoiceID != nil {
			invoice, err := s.invoices.ApplyPaymentTx(ctx, tx, *invoiceID, amount)
			if err != nil {
				return err
			}
			if payment.UserID == 0 {
				payment.UserID = invoice.UserID
			}
			if invoice.UserID != payment.UserID {
				return domain.ErrInvoiceMismatch
			}
		}

		user, err := s.userRepo.FindUserByID(ctx, tx, orgID, payment.UserID)
		if err != nil {
			return err
		}
		if user == nil {
			return domain.ErrInvalidUser
		}

		if err := s.repo.Insert(ctx, tx, payment); err != nil {
			return err
		}
		return s.postTx(ctx, tx, payment)
	})
	if err != nil {
		return nil, err
	}

	s.afterCompleted(ctx, payment)
	return payment, nil
}

// InitiateTopup opens a gateway order for the caller's wallet. The payment
// stays pending until the checkout signature or a webhook confirms it.
func (s *Service) InitiateTopup(ctx context.Context, req domain.InitiateTopupRequest) (*domain.TopupCheckout, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	userID, ok := orgcontext.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return nil, domain.ErrInvalidUser
	}
	amount := req.Amount.Round(2)
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	gateway, err := s.adapters.Gateway(req.Provider)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindUserByID(ctx, s.db, orgID, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrInvalidUser
	}

	paymentID := s.genID.Generate()
	order, err := gateway.CreateOrder(ctx, domain.CreateOrderRequest{
		Amount:   amount,
		Currency: s.currency,
		Receipt:  paymentID.String(),
		Notes: map[string]string{
			"org_id":     orgID.String(),
			"user_id":    userID.String(),
			"payment_id": paymentID.String(),
		},
	})
	if err != nil {
		s.log.Warn("gateway order creation failed",
			zap.String("provider", gateway.Provider()),
			zap.Error(err),
		)
		return nil, err
	}

	now := s.clock.Now()
	provider := gateway.Provider()
	orderID := order.ID
	payment := &domain.Payment{
		ID:             paymentID,
		OrgID:          orgID,
		UserID:         userID,
		Type:           domain.PaymentTypeTopup,
		Status:         domain.PaymentStatusPending,
		Method:         domain.PaymentMethodGateway,
		Amount:         amount,
		Currency:       order.Currency,
		Provider:       &provider,
		GatewayOrderID: &orderID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Insert(ctx, s.db, payment); err != nil {
		return nil, err
	}

	return &domain.TopupCheckout{
		Payment:        payment,
		Provider:       provider,
		CheckoutKey:    gateway.CheckoutKey(),
		GatewayOrderID: orderID,
		Amount:         amount,
		Currency:       payment.Currency,
	}, nil
}

// VerifyTopup completes a pending topup from the signed checkout response.
// Verifying an already completed payment returns it unchanged.
func (s *Service) VerifyTopup(ctx context.Context, req domain.VerifyTopupRequest) (*domain.Payment, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	actor, ok := orgcontext.UserIDFromContext(ctx)
	if !ok || actor == 0 {
		return nil, domain.ErrInvalidUser
	}
	orderID := strings.TrimSpace(req.GatewayOrderID)
	if orderID == "" {
		return nil, domain.ErrPaymentNotFound
	}

	// Orders are looked up per provider; try each registered one.
	var (
		payment *domain.Payment
		gateway domain.Gateway
	)
	for _, candidate := range s.adapters.Providers() {
		found, err := s.repo.FindByGatewayOrder(ctx, s.db, candidate, orderID)
		if err != nil {
			return nil, err
		}
		if found != nil && found.OrgID == orgID {
			payment = found
			gateway, err = s.adapters.Gateway(candidate)
			if err != nil {
				return nil, err
			}
			break
		}
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}
	if payment.UserID != actor && !orgcontext.IsPrivileged(ctx) {
		return nil, domain.ErrForbidden
	}

	if err := gateway.VerifyCheckout(orderID, req.GatewayPaymentID, req.Signature); err != nil {
		s.log.Warn("checkout signature rejected",
			zap.String("payment_id", payment.ID.String()),
			zap.String("provider", gateway.Provider()),
		)
		return nil, err
	}

	completed, changed, err := s.complete(ctx, payment.ID, strings.TrimSpace(req.GatewayPaymentID), nil)
	if err != nil {
		return nil, err
	}
	if changed {
		s.afterCompleted(ctx, completed)
	}
	return completed, nil
}

// complete moves a pending payment to completed and posts it. A payment
// already completed is returned with changed=false. When amount is set it
// must match the booked amount.
func (s *Service) complete(ctx context.Context, paymentID snowflake.ID, gatewayPaymentID string, amount *decimal.Decimal) (*domain.Payment, bool, error) {
	orgID, _ := orgcontext.OrgIDFromContext(ctx)

	var (
		payment *domain.Payment
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		payment, err = s.repo.FindByIDForUpdate(ctx, tx, orgID, paymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return domain.ErrPaymentNotFound
		}
		if payment.Status == domain.PaymentStatusCompleted {
			return nil
		}
		if amount != nil && !amount.Equal(payment.Amount) {
			return domain.ErrAmountMismatch
		}
		if err := domain.StatusMachine.Transition(payment.Status, domain.PaymentStatusCompleted); err != nil {
			return err
		}

		now := s.clock.Now()
		payment.Status = domain.PaymentStatusCompleted
		payment.GatewayPaymentID = optionalString(gatewayPaymentID)
		payment.FailureReason = nil
		payment.CompletedAt = &now
		payment.UpdatedAt = now
		if err := s.repo.UpdateStatus(ctx, tx, payment); err != nil {
			return err
		}
		changed = true
		return s.postTx(ctx, tx, payment)
	})
	if err != nil {
		return nil, false, err
	}
	return payment, changed, nil
}

func (s *Service) fail(ctx context.Context, paymentID snowflake.ID, reason string) (*domain.Payment, error) {
	orgID, _ := orgcontext.OrgIDFromContext(ctx)

	var payment *domain.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		payment, err = s.repo.FindByIDForUpdate(ctx, tx, orgID, paymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return domain.ErrPaymentNotFound
		}
		if payment.Status != domain.PaymentStatusPending {
			return nil
		}
		if reason == "" {
			reason = "gateway_reported_failure"
		}
		now := s.clock.Now()
		payment.Status = domain.PaymentStatusFailed
		payment.FailureReason = &reason
		payment.UpdatedAt = now
		return s.repo.UpdateStatus(ctx, tx, payment)
	})
	return payment, err
}

// postTx writes the wallet entry for a completed payment. Refunds take
// money out of the wallet; everything else puts it in.
func (s *Service) postTx(ctx context.Context, tx *gorm.DB, payment *domain.Payment) error {
	entryType := ledgerdomain.EntryTypeCredit
	sourceType := ledgerdomain.SourceTypePayment
	description := "Payment " + payment.ID.String()
	switch payment.Type {
	case domain.PaymentTypeRefund:
		entryType = ledgerdomain.EntryTypeDebit
		sourceType = ledgerdomain.SourceTypeRefund
		description = "Refund " + payment.ID.String()
	case domain.PaymentTypeTopup:
		description = "Wallet topup"
	}

	if _, _, err := s.ledger.AppendTx(ctx, tx, ledgerdomain.AppendRequest{
		UserID:      payment.UserID,
		EntryType:   entryType,
		Amount:      payment.Amount,
		SourceType:  sourceType,
		SourceID:    payment.ID,
		Description: description,
	}); err != nil {
		return err
	}

	payload := map[string]any{
		"payment_id": payment.ID.String(),
		"user_id":    payment.UserID.String(),
		"type":       string(payment.Type),
		"amount":     payment.Amount.StringFixed(2),
	}
	if payment.InvoiceID != nil {
		payload["invoice_id"] = payment.InvoiceID.String()
	}
	return s.outbox.PublishTx(ctx, tx, events.Event{
		OrgID:     payment.OrgID,
		Type:      events.EventPaymentCompleted,
		Payload:   payload,
		DedupeKey: "payment_completed:" + payment.ID.String(),
	})
}

func (s *Service) afterCompleted(ctx context.Context, payment *domain.Payment) {
	sourceType := ledgerdomain.SourceTypePayment
	if payment.Type == domain.PaymentTypeRefund {
		sourceType = ledgerdomain.SourceTypeRefund
	}
	s.obsMetrics.RecordLedgerEntry(ctx, string(sourceType))
	s.obsMetrics.RecordPaymentEvent(ctx, stringValue(payment.Provider), string(payment.Type))

	s.log.Info("payment completed",
		zap.String("payment_id", payment.ID.String()),
		zap.String("user_id", payment.UserID.String()),
		zap.String("type", string(payment.Type)),
		zap.String("amount", payment.Amount.StringFixed(2)),
	)

	if s.auditSvc == nil {
		return
	}
	targetID := payment.ID.String()
	metadata := map[string]any{
		"user_id": payment.UserID.String(),
		"type":    string(payment.Type),
		"method":  string(payment.Method),
		"amount":  payment.Amount.StringFixed(2),
	}
	if payment.InvoiceID != nil {
		metadata["invoice_id"] = payment.InvoiceID.String()
	}
	if payment.GatewayPaymentID != nil {
		metadata["gateway_payment_id"] = *payment.GatewayPaymentID
	}
	if err := s.auditSvc.AuditLog(ctx, "payment.completed", "payment", &targetID, metadata); err != nil {
		s.log.Warn("failed to write payment audit log", zap.Error(err))
	}
}

func (s *Service) List(ctx context.Context, req domain.ListPaymentRequest) (domain.ListPaymentResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.ListPaymentResponse{}, domain.ErrInvalidOrganization
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		if _, err := pagination.DecodeCursor(token); err != nil {
			return domain.ListPaymentResponse{}, domain.ErrInvalidPageToken
		}
	}

	filter := &domain.Payment{OrgID: orgID}
	if raw := strings.TrimSpace(req.Type); raw != "" {
		parsed := domain.PaymentType(strings.ToLower(raw))
		if !parsed.Valid() {
			return domain.ListPaymentResponse{}, domain.ErrInvalidType
		}
		filter.Type = parsed
	}
	if raw := strings.TrimSpace(req.Status); raw != "" {
		parsed := domain.PaymentStatus(strings.ToLower(raw))
		if !domain.StatusMachine.Known(parsed) {
			return domain.ListPaymentResponse{}, domain.ErrInvalidStatus
		}
		filter.Status = parsed
	}
	if !orgcontext.IsPrivileged(ctx) {
		actor, ok := orgcontext.UserIDFromContext(ctx)
		if !ok {
			return domain.ListPaymentResponse{}, domain.ErrInvalidUser
		}
		filter.UserID = actor
	} else if strings.TrimSpace(req.UserID) != "" {
		userID, err := parseID(req.UserID, domain.ErrInvalidUser)
		if err != nil {
			return domain.ListPaymentResponse{}, err
		}
		filter.UserID = userID
	}

	items, err := s.paymentStore.Find(ctx, filter,
		option.ApplyPagination(req.Pagination),
		option.WithSortBy(option.SortBy{Column: "id", Desc: true}),
	)
	if err != nil {
		return domain.ListPaymentResponse{}, err
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, req.Limit(), func(item *domain.Payment) pagination.Cursor {
		return pagination.Cursor{ID: item.ID.String(), CreatedAt: item.CreatedAt.Format(time.RFC3339)}
	})

	payments := make([]domain.Payment, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		payments = append(payments, *item)
	}
	resp := domain.ListPaymentResponse{Payments: payments}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
