package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/dairyroute/internal/audit/domain"
	"github.com/smallbiznis/dairyroute/internal/clock"
	"github.com/smallbiznis/dairyroute/internal/config"
	deliverydomain "github.com/smallbiznis/dairyroute/internal/delivery/domain"
	"github.com/smallbiznis/dairyroute/internal/events"
	"github.com/smallbiznis/dairyroute/internal/invoice/domain"
	"github.com/smallbiznis/dairyroute/internal/invoice/format"
	ledgerdomain "github.com/smallbiznis/dairyroute/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/dairyroute/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/dairyroute/internal/order/domain"
	"github.com/smallbiznis/dairyroute/internal/orgcontext"
	productdomain "github.com/smallbiznis/dairyroute/internal/product/domain"
	"github.com/smallbiznis/dairyroute/internal/providers/pdf"
	subscriptiondomain "github.com/smallbiznis/dairyroute/internal/subscription/domain"
	userdomain "github.com/smallbiznis/dairyroute/internal/user/domain"
	"github.com/smallbiznis/dairyroute/pkg/db/option"
	"github.com/smallbiznis/dairyroute/pkg/db/pagination"
	"github.com/smallbiznis/dairyroute/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	dueAfter      = 7 * 24 * time.Hour
	maxPeriodDays = 92
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Config       config.Config
	Planning     *config.PlanningConfigHolder
	Repo         domain.Repository
	DeliveryRepo deliverydomain.Repository
	OrderRepo    orderdomain.Repository
	ProductRepo  productdomain.Repository
	UserRepo     userdomain.Repository
	Ledger       ledgerdomain.Service
	Renderer     pdf.Renderer        `optional:"true"`
	AuditSvc     auditdomain.Service `optional:"true"`
	Outbox       *events.Outbox      `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	cfg      config.Config
	location *time.Location
	planning *config.PlanningConfigHolder

	repo         domain.Repository
	invoiceStore repository.Repository[domain.Invoice]
	deliveryRepo deliverydomain.Repository
	orderRepo    orderdomain.Repository
	productRepo  productdomain.Repository
	userRepo     userdomain.Repository
	ledger       ledgerdomain.Service
	renderer     pdf.Renderer
	auditSvc     auditdomain.Service
	outbox       *events.Outbox
	obsMetrics   *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("invoice.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		cfg:      p.Config,
		location: p.Config.Location(),
		planning: p.Planning,

		repo:         p.Repo,
		invoiceStore: repository.ProvideStore[domain.Invoice](p.DB),
		deliveryRepo: p.DeliveryRepo,
		orderRepo:    p.OrderRepo,
		productRepo:  p.ProductRepo,
		userRepo:     p.UserRepo,
		ledger:       p.Ledger,
		renderer:     p.Renderer,
		auditSvc:     p.AuditSvc,
		outbox:       p.Outbox,
		obsMetrics:   p.ObsMetrics,
	}
}

// Generate invoices one postpaid user for a closed period. Asking again for
// the same period returns the invoice already issued.
func (s *Service) Generate(ctx context.Context, req domain.GenerateInvoiceRequest) (*domain.Invoice, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	if !orgcontext.IsPrivileged(ctx) {
		return nil, domain.ErrForbidden
	}
	userID, err := parseID(req.UserID, domain.ErrInvalidUser)
	if err != nil {
		return nil, err
	}
	start, err := subscriptiondomain.ParseDate(strings.TrimSpace(req.PeriodStart))
	if err != nil {
		return nil, domain.ErrInvalidPeriod
	}
	end, err := subscriptiondomain.ParseDate(strings.TrimSpace(req.PeriodEnd))
	if err != nil {
		return nil, domain.ErrInvalidPeriod
	}
	if err := s.validatePeriod(start, end); err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindUserByID(ctx, s.db, orgID, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrInvalidUser
	}

	invoice, _, err := s.generate(ctx, orgID, userID, start, end)
	return invoice, err
}

// GenerateForPeriod runs Generate for every user with billable activity. One
// failing user does not stop the others.
func (s *Service) GenerateForPeriod(ctx context.Context, start, end time.Time) (domain.GenerateSummary, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.GenerateSummary{}, domain.ErrInvalidOrganization
	}
	start, end = clock.StartOfDay(start, time.UTC), clock.StartOfDay(end, time.UTC)
	if err := s.validatePeriod(start, end); err != nil {
		return domain.GenerateSummary{}, err
	}

	users, err := s.repo.ListBillableUsers(ctx, s.db, orgID, start, end)
	if err != nil {
		return domain.GenerateSummary{}, err
	}

	summary := domain.GenerateSummary{PeriodStart: start, PeriodEnd: end, Users: len(users)}
	var errs []error
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		_, created, err := s.generate(ctx, orgID, userID, start, end)
		switch {
		case err == nil && created:
			summary.Issued++
		case err == nil, errors.Is(err, domain.ErrPeriodOverlap):
			summary.Existing++
		default:
			summary.Failed++
			errs = append(errs, fmt.Errorf("user %s: %w", userID, err))
			s.log.Warn("failed to generate invoice",
				zap.String("user_id", userID.String()),
				zap.Error(err),
			)
		}
	}
	return summary, errors.Join(errs...)
}

func (s *Service) validatePeriod(start, end time.Time) error {
	today := clock.StartOfDay(s.clock.Now(), s.location)
	if end.Before(start) || !end.Before(today) || end.Sub(start) > maxPeriodDays*24*time.Hour {
		return domain.ErrInvalidPeriod
	}
	return nil
}

func (s *Service) generate(ctx context.Context, orgID, userID snowflake.ID, start, end time.Time) (*domain.Invoice, bool, error) {
	var (
		invoice *domain.Invoice
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByPeriod(ctx, tx, orgID, userID, start, end)
		if err != nil {
			return err
		}
		if existing != nil {
			invoice = existing
			return nil
		}
		overlap, err := s.repo.HasOverlap(ctx, tx, orgID, userID, start, end)
		if err != nil {
			return err
		}
		if overlap {
			return domain.ErrPeriodOverlap
		}

		lines, err := s.collectLines(ctx, tx, orgID, userID, start, end)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return domain.ErrNothingToInvoice
		}

		seq, err := s.repo.NextSequence(ctx, tx, orgID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		number, err := format.InvoiceNumber(format.DefaultInvoiceNumberTemplate, now.In(s.location), seq)
		if err != nil {
			return err
		}

		subtotal, tax, total := domain.Totals(lines)
		invoice = &domain.Invoice{
			ID:            s.genID.Generate(),
			OrgID:         orgID,
			UserID:        userID,
			Sequence:      seq,
			InvoiceNumber: number,
			PeriodStart:   start,
			PeriodEnd:     end,
			Status:        domain.InvoiceStatusIssued,
			LineItems:     lines,
			Subtotal:      subtotal,
			Tax:           tax,
			Total:         total,
			PaidAmount:    decimal.Zero,
			Balance:       total,
			IssuedAt:      now,
			DueAt:         now.Add(dueAfter),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.repo.Insert(ctx, tx, invoice); err != nil {
			return err
		}

		if _, _, err := s.ledger.AppendTx(ctx, tx, ledgerdomain.AppendRequest{
			UserID:      userID,
			EntryType:   ledgerdomain.EntryTypeDebit,
			Amount:      total,
			SourceType:  ledgerdomain.SourceTypeInvoice,
			SourceID:    invoice.ID,
			Description: "Invoice " + number,
		}); err != nil {
			return err
		}

		created = true
		return s.outbox.PublishTx(ctx, tx, events.Event{
			OrgID: orgID,
			Type:  events.EventInvoiceIssued,
			Payload: map[string]any{
				"invoice_id":     invoice.ID.String(),
				"invoice_number": number,
				"user_id":        userID.String(),
				"total":          total.StringFixed(2),
				"period_start":   start.Format(subscriptiondomain.DateLayout),
				"period_end":     end.Format(subscriptiondomain.DateLayout),
			},
			DedupeKey: "invoice.issued:" + invoice.ID.String(),
		})
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		s.obsMetrics.RecordLedgerEntry(ctx, string(ledgerdomain.SourceTypeInvoice))
	}
	return invoice, created, nil
}

func (s *Service) collectLines(ctx context.Context, tx *gorm.DB, orgID, userID snowflake.ID, start, end time.Time) ([]domain.LineItem, error) {
	mode := string(subscriptiondomain.PaymentModePostpaid)
	deliveries, err := s.deliveryRepo.ListDeliveredForUser(ctx, tx, orgID, userID, start, end, mode)
	if err != nil {
		return nil, err
	}
	orders, err := s.orderRepo.ListDeliveredForUser(ctx, tx, orgID, userID, start, end, mode)
	if err != nil {
		return nil, err
	}

	taxRate := decimal.NewFromFloat(s.planning.Get().TaxRate)
	names := make(map[snowflake.ID]string)
	lines := make([]domain.LineItem, 0, len(deliveries)+len(orders))

	for _, d := range deliveries {
		name, ok := names[d.ProductID]
		if !ok {
			product, err := s.productRepo.FindByID(ctx, tx, orgID, d.ProductID)
			if err != nil {
				return nil, err
			}
			name = "Subscription delivery"
			if product != nil {
				name = product.Name
			}
			names[d.ProductID] = name
		}
		amount := d.Amount()
		lines = append(lines, domain.LineItem{
			SourceType:  domain.LineSourceDelivery,
			SourceID:    d.ID.String(),
			Date:        d.DeliveryDate.Format(subscriptiondomain.DateLayout),
			Description: name,
			Quantity:    d.Quantity,
			UnitPrice:   d.UnitPrice,
			Amount:      amount,
			Tax:         amount.Mul(taxRate).Round(2),
		})
	}
	for _, o := range orders {
		amount := o.Subtotal.Add(o.DeliveryFee).Round(2)
		lines = append(lines, domain.LineItem{
			SourceType:  domain.LineSourceOrder,
			SourceID:    o.ID.String(),
			Date:        o.DeliveryDate.Format(subscriptiondomain.DateLayout),
			Description: "Order " + o.ID.String(),
			Quantity:    1,
			UnitPrice:   amount,
			Amount:      amount,
			Tax:         o.Tax,
		})
	}
	return lines, nil
}

func (s *Service) List(ctx context.Context, req domain.ListInvoiceRequest) (domain.ListInvoiceResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.ListInvoiceResponse{}, domain.ErrInvalidOrganization
	}

	filter := &domain.Invoice{OrgID: orgID}
	if status := strings.TrimSpace(req.Status); status != "" {
		parsed := domain.InvoiceStatus(strings.ToLower(status))
		if !domain.StatusMachine.Known(parsed) {
			return domain.ListInvoiceResponse{}, domain.ErrInvalidStatus
		}
		filter.Status = parsed
	}
	if !orgcontext.IsPrivileged(ctx) {
		actor, ok := orgcontext.UserIDFromContext(ctx)
		if !ok {
			return domain.ListInvoiceResponse{}, domain.ErrInvalidUser
		}
		filter.UserID = actor
	} else if req.UserID != "" {
		userID, err := parseID(req.UserID, domain.ErrInvalidUser)
		if err != nil {
			return domain.ListInvoiceResponse{}, err
		}
		filter.UserID = userID
	}

	items, err := s.invoiceStore.Find(ctx, filter,
		option.ApplyPagination(req.Pagination),
		option.WithSortBy(option.SortBy{Column: "id", Desc: true}),
	)
	if err != nil {
		return domain.ListInvoiceResponse{}, err
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, req.Limit(), func(item *domain.Invoice) pagination.Cursor {
		return pagination.Cursor{ID: item.ID.String(), CreatedAt: item.CreatedAt.Format(time.RFC3339)}
	})

	invoices := make([]domain.Invoice, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		invoices = append(invoices, *item)
	}

	resp := domain.ListInvoiceResponse{Invoices: invoices}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Invoice, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	invoiceID, err := parseID(id, domain.ErrInvalidID)
	if err != nil {
		return nil, err
	}
	invoice, err := s.repo.FindByID(ctx, s.db, orgID, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil || !canAccess(ctx, invoice) {
		return nil, domain.ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *Service) RenderPDF(ctx context.Context, id string) (*domain.Invoice, []byte, error) {
	if s.renderer == nil {
		return nil, nil, domain.ErrRendererUnavailable
	}
	invoice, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	doc := pdf.InvoiceDocument{
		OrgName:       s.cfg.AppName,
		InvoiceNumber: invoice.InvoiceNumber,
		IssueDate:     invoice.IssuedAt.In(s.location).Format("02 Jan 2006"),
		DueDate:       invoice.DueAt.In(s.location).Format("02 Jan 2006"),
		ServicePeriod: invoice.PeriodStart.Format("02 Jan") + " - " + invoice.PeriodEnd.Format("02 Jan 2006"),
		Status:        string(invoice.Status),
		Subtotal:      money(invoice.Subtotal),
		Tax:           money(invoice.Tax),
		Total:         money(invoice.Total),
		PaidAmount:    money(invoice.PaidAmount),
		Balance:       money(invoice.Balance),
	}

	user, err := s.userRepo.FindUserByID(ctx, s.db, invoice.OrgID, invoice.UserID)
	if err != nil {
		return nil, nil, err
	}
	if user != nil {
		doc.BillToName, doc.BillToPhone = user.Name, user.Phone
		addresses, err := s.userRepo.ListAddressesByUser(ctx, s.db, invoice.OrgID, user.ID)
		if err != nil {
			return nil, nil, err
		}
		for _, address := range addresses {
			if address.IsDefault || doc.BillToAddress == "" {
				doc.BillToAddress = address.FullText()
			}
		}
	}

	for _, line := range invoice.LineItems {
		doc.Items = append(doc.Items, pdf.InvoiceLine{
			Date:        line.Date,
			Description: line.Description,
			Qty:         line.Quantity,
			UnitPrice:   money(line.UnitPrice),
			Amount:      money(line.Amount),
		})
	}

	body, err := s.renderer.RenderInvoice(ctx, doc)
	if err != nil {
		return nil, nil, err
	}
	return invoice, body, nil
}

// Void cancels an unpaid invoice and reverses its ledger debit.
func (s *Service) Void(ctx context.Context, id string) (*domain.Invoice, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	if !orgcontext.IsPrivileged(ctx) {
		return nil, domain.ErrForbidden
	}
	invoiceID, err := parseID(id, domain.ErrInvalidID)
	if err != nil {
		return nil, err
	}

	var invoice *domain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err = s.repo.FindByIDForUpdate(ctx, tx, orgID, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return domain.ErrInvoiceNotFound
		}
		if invoice.Status != domain.InvoiceStatusIssued || !invoice.PaidAmount.IsZero() {
			return domain.ErrInvoiceNotVoidable
		}
		if err := domain.StatusMachine.Transition(invoice.Status, domain.InvoiceStatusVoid); err != nil {
			return err
		}

		now := s.clock.Now()
		// balance stays total - paid_amount; the void status and the ledger
		// credit below are what take it out of collection.
		invoice.Status = domain.InvoiceStatusVoid
		invoice.Balance = invoice.Total.Sub(invoice.PaidAmount)
		invoice.VoidedAt = &now
		invoice.UpdatedAt = now
		if err := s.repo.UpdateSettlement(ctx, tx, invoice); err != nil {
			return err
		}

		_, _, err := s.ledger.AppendTx(ctx, tx, ledgerdomain.AppendRequest{
			UserID:      invoice.UserID,
			EntryType:   ledgerdomain.EntryTypeCredit,
			Amount:      invoice.Total,
			SourceType:  ledgerdomain.SourceTypeAdjustment,
			SourceID:    invoice.ID,
			Description: "Void " + invoice.InvoiceNumber,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordLedgerEntry(ctx, string(ledgerdomain.SourceTypeAdjustment))
	if s.auditSvc != nil {
		targetID := invoice.ID.String()
		if err := s.auditSvc.AuditLog(ctx, "invoice.voided", "invoice", &targetID, map[string]any{
			"invoice_number": invoice.InvoiceNumber,
			"total":          invoice.Total.StringFixed(2),
		}); err != nil {
			s.log.Warn("failed to write invoice audit log", zap.Error(err))
		}
	}
	return invoice, nil
}

func (s *Service) ApplyPaymentTx(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID, amount decimal.Decimal) (*domain.Invoice, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	invoice, err := s.repo.FindByIDForUpdate(ctx, tx, orgID, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, domain.ErrInvoiceNotFound
	}
	if err := invoice.ApplyPayment(amount.Round(2), s.clock.Now()); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateSettlement(ctx, tx, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

func canAccess(ctx context.Context, invoice *domain.Invoice) bool {
	if orgcontext.IsPrivileged(ctx) {
		return true
	}
	actor, ok := orgcontext.UserIDFromContext(ctx)
	return ok && actor == invoice.UserID
}

func money(value decimal.Decimal) string {
	return "Rs. " + value.StringFixed(2)
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}
