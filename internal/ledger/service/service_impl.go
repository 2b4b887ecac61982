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
	"github.com/smallbiznis/dairyroute/internal/events"
	"github.com/smallbiznis/dairyroute/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/dairyroute/internal/observability/metrics"
	"github.com/smallbiznis/dairyroute/internal/orgcontext"
	"github.com/smallbiznis/dairyroute/pkg/db/option"
	"github.com/smallbiznis/dairyroute/pkg/db/pagination"
	"github.com/smallbiznis/dairyroute/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const appendAttempts = 3

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	AuditSvc   auditdomain.Service `optional:"true"`
	Outbox     *events.Outbox      `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	auditSvc   auditdomain.Service
	outbox     *events.Outbox
	obsMetrics *obsmetrics.Metrics
	entryStore repository.Repository[domain.LedgerEntry]
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		auditSvc:   p.AuditSvc,
		outbox:     p.Outbox,
		obsMetrics: p.ObsMetrics,
		entryStore: repository.ProvideStore[domain.LedgerEntry](p.DB),
	}
}

// AppendTx posts req on tx. The user's newest entry is locked so concurrent
// appends for one user queue behind each other; a first entry has nothing to
// lock and relies on the (org, user, sequence) unique key instead.
func (s *Service) AppendTx(ctx context.Context, tx *gorm.DB, req domain.AppendRequest) (*domain.LedgerEntry, bool, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, false, domain.ErrInvalidOrganization
	}
	if err := validate(req); err != nil {
		return nil, false, err
	}

	existing, err := s.repo.FindBySource(ctx, tx, orgID, req.SourceType, req.SourceID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	last, err := s.repo.FindLastForUpdate(ctx, tx, orgID, req.UserID)
	if err != nil {
		return nil, false, err
	}
	sequence, balance := int64(1), decimal.Zero
	if last != nil {
		sequence, balance = last.Sequence+1, last.RunningBalance
	}

	amount := req.Amount.Round(2)
	entry := &domain.LedgerEntry{
		ID:             s.genID.Generate(),
		OrgID:          orgID,
		UserID:         req.UserID,
		Sequence:       sequence,
		EntryType:      req.EntryType,
		Amount:         amount,
		RunningBalance: domain.Apply(balance, req.EntryType, amount),
		SourceType:     req.SourceType,
		SourceID:       req.SourceID,
		CreatedAt:      s.clock.Now(),
	}
	if desc := strings.TrimSpace(req.Description); desc != "" {
		entry.Description = &desc
	}

	inserted, err := s.repo.Insert(ctx, tx, entry)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		existing, err := s.repo.FindBySource(ctx, tx, orgID, req.SourceType, req.SourceID)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
		return nil, false, domain.ErrSequenceConflict
	}

	if err := s.outbox.PublishTx(ctx, tx, events.Event{
		OrgID: orgID,
		Type:  events.EventLedgerEntryCreated,
		Payload: map[string]any{
			"ledger_entry_id": entry.ID.String(),
			"user_id":         entry.UserID.String(),
			"entry_type":      string(entry.EntryType),
			"amount":          entry.Amount.StringFixed(2),
			"running_balance": entry.RunningBalance.StringFixed(2),
			"source_type":     string(entry.SourceType),
			"source_id":       entry.SourceID.String(),
		},
		DedupeKey: "ledger_entry:" + entry.ID.String(),
	}); err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

// Append posts req on its own transaction, retrying when a concurrent first
// entry for the same user took the sequence slot.
func (s *Service) Append(ctx context.Context, req domain.AppendRequest) (*domain.LedgerEntry, error) {
	var (
		entry   *domain.LedgerEntry
		created bool
		err     error
	)
	for attempt := 0; attempt < appendAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var txErr error
			entry, created, txErr = s.AppendTx(ctx, tx, req)
			return txErr
		})
		if !errors.Is(err, domain.ErrSequenceConflict) {
			break
		}
		s.log.Warn("ledger sequence conflict, retrying",
			zap.String("user_id", req.UserID.String()),
			zap.Int("attempt", attempt+1),
		)
	}
	if err != nil {
		return nil, err
	}
	if created {
		s.obsMetrics.RecordLedgerEntry(ctx, string(entry.SourceType))
	}
	return entry, nil
}

// Adjust is the admin correction path. It never rewrites history: the
// correction is a new entry with its own source id.
func (s *Service) Adjust(ctx context.Context, req domain.AdjustmentRequest) (*domain.LedgerEntry, error) {
	userID, err := parseID(req.UserID, domain.ErrInvalidUser)
	if err != nil {
		return nil, err
	}
	if !orgcontext.IsPrivileged(ctx) {
		return nil, domain.ErrForbidden
	}
	if strings.TrimSpace(req.Description) == "" {
		return nil, domain.ErrInvalidDescription
	}

	entry, err := s.Append(ctx, domain.AppendRequest{
		UserID:      userID,
		EntryType:   req.EntryType,
		Amount:      req.Amount,
		SourceType:  domain.SourceTypeAdjustment,
		SourceID:    s.genID.Generate(),
		Description: req.Description,
	})
	if err != nil {
		return nil, err
	}

	if s.auditSvc != nil {
		targetID := entry.ID.String()
		if err := s.auditSvc.AuditLog(ctx, "ledger.adjusted", "ledger_entry", &targetID, map[string]any{
			"user_id":    entry.UserID.String(),
			"entry_type": string(entry.EntryType),
			"amount":     entry.Amount.StringFixed(2),
		}); err != nil {
			s.log.Warn("failed to write ledger audit log", zap.Error(err))
		}
	}
	return entry, nil
}

func (s *Service) Wallet(ctx context.Context, userID string) (domain.Wallet, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Wallet{}, domain.ErrInvalidOrganization
	}
	owner, err := resolveOwner(ctx, userID)
	if err != nil {
		return domain.Wallet{}, err
	}

	last, err := s.repo.FindLast(ctx, s.db, orgID, owner)
	if err != nil {
		return domain.Wallet{}, err
	}
	wallet := domain.Wallet{UserID: owner, Balance: decimal.Zero}
	if last != nil {
		wallet.Balance = last.RunningBalance
		wallet.Entries = last.Sequence
	}
	return wallet, nil
}

func (s *Service) Entries(ctx context.Context, req domain.ListEntriesRequest) (domain.ListEntriesResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.ListEntriesResponse{}, domain.ErrInvalidOrganization
	}
	owner, err := resolveOwner(ctx, req.UserID)
	if err != nil {
		return domain.ListEntriesResponse{}, err
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		if _, err := pagination.DecodeCursor(token); err != nil {
			return domain.ListEntriesResponse{}, domain.ErrInvalidPageToken
		}
	}

	items, err := s.entryStore.Find(ctx, &domain.LedgerEntry{OrgID: orgID, UserID: owner},
		option.ApplyPagination(req.Pagination),
		option.WithSortBy(option.SortBy{Column: "id", Desc: true}),
	)
	if err != nil {
		return domain.ListEntriesResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, req.Limit(), func(item *domain.LedgerEntry) pagination.Cursor {
		return pagination.Cursor{ID: item.ID.String(), CreatedAt: item.CreatedAt.Format(time.RFC3339)}
	})

	entries := make([]domain.LedgerEntry, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		entries = append(entries, *item)
	}

	resp := domain.ListEntriesResponse{Entries: entries}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// Verify replays the user's ledger. A mismatch is logged at error level and
// returned; nothing is corrected.
func (s *Service) Verify(ctx context.Context, userID snowflake.ID) (decimal.Decimal, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return decimal.Zero, domain.ErrInvalidOrganization
	}
	if userID == 0 {
		return decimal.Zero, domain.ErrInvalidUser
	}

	entries, err := s.repo.ListByUser(ctx, s.db, orgID, userID)
	if err != nil {
		return decimal.Zero, err
	}
	balance, err := domain.Fold(entries)
	if err != nil {
		s.log.Error("ledger inconsistent",
			zap.String("org_id", orgID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		return balance, err
	}
	return balance, nil
}

func (s *Service) VerifyAll(ctx context.Context) (domain.VerifySummary, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.VerifySummary{}, domain.ErrInvalidOrganization
	}
	userIDs, err := s.repo.ListUserIDs(ctx, s.db, orgID)
	if err != nil {
		return domain.VerifySummary{}, err
	}

	summary := domain.VerifySummary{Users: len(userIDs)}
	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if _, err := s.Verify(ctx, userID); err != nil {
			if !errors.Is(err, domain.ErrLedgerInconsistent) {
				return summary, err
			}
			summary.Inconsistent = append(summary.Inconsistent, userID)
		}
	}
	if len(summary.Inconsistent) > 0 {
		return summary, fmt.Errorf("%w: %d users", domain.ErrLedgerInconsistent, len(summary.Inconsistent))
	}
	return summary, nil
}

func validate(req domain.AppendRequest) error {
	if req.UserID == 0 {
		return domain.ErrInvalidUser
	}
	switch req.EntryType {
	case domain.EntryTypeDebit, domain.EntryTypeCredit:
	default:
		return domain.ErrInvalidEntryType
	}
	if !req.Amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	switch req.SourceType {
	case domain.SourceTypeDelivery, domain.SourceTypeOrder, domain.SourceTypeInvoice,
		domain.SourceTypePayment, domain.SourceTypeRefund, domain.SourceTypeAdjustment:
	default:
		return domain.ErrInvalidSource
	}
	if req.SourceID == 0 {
		return domain.ErrInvalidSource
	}
	return nil
}

func resolveOwner(ctx context.Context, raw string) (snowflake.ID, error) {
	if orgcontext.IsPrivileged(ctx) && strings.TrimSpace(raw) != "" {
		return parseID(raw, domain.ErrInvalidUser)
	}
	actor, ok := orgcontext.UserIDFromContext(ctx)
	if !ok {
		return 0, domain.ErrInvalidUser
	}
	if raw := strings.TrimSpace(raw); raw != "" && raw != actor.String() {
		return 0, domain.ErrForbidden
	}
	return actor, nil
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}
