package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/dairyroute/internal/audit/domain"
	auditrepo "github.com/smallbiznis/dairyroute/internal/audit/repository"
	auditservice "github.com/smallbiznis/dairyroute/internal/audit/service"
	"github.com/smallbiznis/dairyroute/internal/clock"
	"github.com/smallbiznis/dairyroute/internal/events"
	"github.com/smallbiznis/dairyroute/internal/ledger/domain"
	"github.com/smallbiznis/dairyroute/internal/ledger/repository"
	"github.com/smallbiznis/dairyroute/internal/orgcontext"
	"github.com/smallbiznis/dairyroute/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	svc   *Service
	audit auditdomain.Service
	node  *snowflake.Node
	admin context.Context
	user  snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t, &domain.LedgerEntry{}, &events.DomainEvent{}, &auditdomain.AuditLog{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC))

	audit := auditservice.NewService(auditservice.Params{
		DB: conn, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: auditrepo.Provide(),
	})
	svc := NewService(Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Repo:     repository.Provide(),
		AuditSvc: audit,
		Outbox:   events.NewOutbox(node, clk),
	}).(*Service)

	base := orgcontext.WithOrgID(context.Background(), 42)
	return &fixture{
		db:    conn,
		svc:   svc,
		audit: audit,
		node:  node,
		admin: orgcontext.WithActor(base, node.Generate(), orgcontext.RoleAdmin),
		user:  node.Generate(),
	}
}

func (f *fixture) post(t *testing.T, entryType domain.EntryType, amount string, source domain.SourceType, sourceID snowflake.ID) *domain.LedgerEntry {
	t.Helper()
	entry, err := f.svc.Append(f.admin, domain.AppendRequest{
		UserID:     f.user,
		EntryType:  entryType,
		Amount:     decimal.RequireFromString(amount),
		SourceType: source,
		SourceID:   sourceID,
	})
	require.NoError(t, err)
	return entry
}

func TestAppendKeepsRunningBalance(t *testing.T) {
	f := newFixture(t)

	topup := f.post(t, domain.EntryTypeCredit, "500.00", domain.SourceTypePayment, f.node.Generate())
	milk := f.post(t, domain.EntryTypeDebit, "64.00", domain.SourceTypeDelivery, f.node.Generate())
	order := f.post(t, domain.EntryTypeDebit, "140.75", domain.SourceTypeOrder, f.node.Generate())

	assert.Equal(t, []int64{1, 2, 3}, []int64{topup.Sequence, milk.Sequence, order.Sequence})
	assert.Equal(t, "436.00", milk.RunningBalance.StringFixed(2))
	assert.Equal(t, "295.25", order.RunningBalance.StringFixed(2))

	balance, err := f.svc.Verify(f.admin, f.user)
	require.NoError(t, err)
	assert.Equal(t, "295.25", balance.StringFixed(2))

	wallet, err := f.svc.Wallet(f.admin, f.user.String())
	require.NoError(t, err)
	assert.Equal(t, "295.25", wallet.Balance.StringFixed(2))
	assert.EqualValues(t, 3, wallet.Entries)

	var published int64
	require.NoError(t, f.db.Model(&events.DomainEvent{}).Where("event_type = ?", events.EventLedgerEntryCreated).Count(&published).Error)
	assert.EqualValues(t, 3, published)
}

func TestAppendIsIdempotentPerSource(t *testing.T) {
	f := newFixture(t)
	deliveryID := f.node.Generate()

	first := f.post(t, domain.EntryTypeDebit, "64.00", domain.SourceTypeDelivery, deliveryID)
	again := f.post(t, domain.EntryTypeDebit, "64.00", domain.SourceTypeDelivery, deliveryID)

	assert.Equal(t, first.ID, again.ID)
	wallet, err := f.svc.Wallet(f.admin, f.user.String())
	require.NoError(t, err)
	assert.EqualValues(t, 1, wallet.Entries)
	assert.Equal(t, "-64.00", wallet.Balance.StringFixed(2))
}

func TestAppendValidation(t *testing.T) {
	f := newFixture(t)
	valid := domain.AppendRequest{
		UserID:     f.user,
		EntryType:  domain.EntryTypeCredit,
		Amount:     decimal.NewFromInt(10),
		SourceType: domain.SourceTypePayment,
		SourceID:   f.node.Generate(),
	}

	cases := map[string]struct {
		mutate func(*domain.AppendRequest)
		err    error
	}{
		"zero amount":  {func(r *domain.AppendRequest) { r.Amount = decimal.Zero }, domain.ErrInvalidAmount},
		"negative":     {func(r *domain.AppendRequest) { r.Amount = decimal.NewFromInt(-5) }, domain.ErrInvalidAmount},
		"entry type":   {func(r *domain.AppendRequest) { r.EntryType = "transfer" }, domain.ErrInvalidEntryType},
		"source type":  {func(r *domain.AppendRequest) { r.SourceType = "gift" }, domain.ErrInvalidSource},
		"missing user": {func(r *domain.AppendRequest) { r.UserID = 0 }, domain.ErrInvalidUser},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			_, err := f.svc.Append(f.admin, req)
			assert.ErrorIs(t, err, tc.err)
		})
	}

	_, err := f.svc.Append(context.Background(), valid)
	assert.ErrorIs(t, err, domain.ErrInvalidOrganization)
}

func TestVerifyReportsTamperedBalance(t *testing.T) {
	f := newFixture(t)
	f.post(t, domain.EntryTypeCredit, "200.00", domain.SourceTypePayment, f.node.Generate())
	second := f.post(t, domain.EntryTypeDebit, "32.00", domain.SourceTypeDelivery, f.node.Generate())

	require.NoError(t, f.db.Exec(`UPDATE ledger_entries SET running_balance = ? WHERE id = ?`, "170.00", second.ID).Error)

	_, err := f.svc.Verify(f.admin, f.user)
	assert.ErrorIs(t, err, domain.ErrLedgerInconsistent)

	summary, err := f.svc.VerifyAll(f.admin)
	assert.ErrorIs(t, err, domain.ErrLedgerInconsistent)
	assert.Equal(t, []snowflake.ID{f.user}, summary.Inconsistent)

	var stored domain.LedgerEntry
	require.NoError(t, f.db.First(&stored, "id = ?", second.ID).Error)
	assert.Equal(t, "170.00", stored.RunningBalance.StringFixed(2))
}

func TestAdjustIsAudited(t *testing.T) {
	f := newFixture(t)

	entry, err := f.svc.Adjust(f.admin, domain.AdjustmentRequest{
		UserID:      f.user.String(),
		EntryType:   domain.EntryTypeCredit,
		Amount:      decimal.RequireFromString("25.50"),
		Description: "goodwill for a spilt packet",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SourceTypeAdjustment, entry.SourceType)

	logs, err := f.audit.List(f.admin, auditdomain.ListAuditLogRequest{Action: "ledger.adjusted"})
	require.NoError(t, err)
	require.Len(t, logs.AuditLogs, 1)
	assert.Equal(t, entry.ID.String(), *logs.AuditLogs[0].TargetID)
	assert.Equal(t, auditdomain.ActorTypeUser, logs.AuditLogs[0].ActorType)

	customer := orgcontext.WithActor(orgcontext.WithOrgID(context.Background(), 42), f.user, orgcontext.RoleCustomer)
	_, err = f.svc.Adjust(customer, domain.AdjustmentRequest{
		UserID: f.user.String(), EntryType: domain.EntryTypeCredit, Amount: decimal.NewFromInt(1000), Description: "free milk",
	})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.Wallet(customer, f.node.Generate().String())
	assert.ErrorIs(t, err, domain.ErrForbidden)
}
