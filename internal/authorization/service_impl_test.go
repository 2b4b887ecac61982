package authorization

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/dairyroute/internal/audit/domain"
	userdomain "github.com/smallbiznis/dairyroute/internal/user/domain"
	"github.com/smallbiznis/dairyroute/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordedAudit struct {
	action   string
	targetID string
}

type fakeAudit struct {
	entries []recordedAudit
}

func (f *fakeAudit) AuditLog(ctx context.Context, action string, targetType string, targetID *string, metadata map[string]any) error {
	entry := recordedAudit{action: action}
	if targetID != nil {
		entry.targetID = *targetID
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAudit) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

type authzFixture struct {
	svc   Service
	audit *fakeAudit
	org   string
	users map[userdomain.Role]string
}

func newAuthzFixture(t *testing.T) *authzFixture {
	t.Helper()
	db := dbtest.Open(t, &userdomain.User{})
	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	orgID := snowflake.ID(42)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	users := make(map[userdomain.Role]string)
	for i, role := range []userdomain.Role{userdomain.RoleCustomer, userdomain.RoleAgent, userdomain.RoleAdmin} {
		u := userdomain.User{
			ID:        node.Generate(),
			OrgID:     orgID,
			Name:      string(role),
			Phone:     "+9190000000" + string(rune('0'+i)),
			Role:      role,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		require.NoError(t, db.Create(&u).Error)
		users[role] = "user:" + u.ID.String()
	}

	audit := &fakeAudit{}
	svc := NewService(Params{DB: db, Log: zap.NewNop(), Enforcer: enforcer, AuditSvc: audit})
	return &authzFixture{svc: svc, audit: audit, org: orgID.String(), users: users}
}

func TestAuthorizeByRole(t *testing.T) {
	f := newAuthzFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		actor  string
		object string
		action string
		allow  bool
	}{
		{"customer creates subscription", f.users[userdomain.RoleCustomer], ObjectSubscription, ActionCreate, true},
		{"customer tops up wallet", f.users[userdomain.RoleCustomer], ObjectWallet, ActionWalletTopup, true},
		{"customer cannot void invoice", f.users[userdomain.RoleCustomer], ObjectInvoice, ActionInvoiceVoid, false},
		{"customer cannot plan routes", f.users[userdomain.RoleCustomer], ObjectRoute, ActionRoutePlan, false},
		{"agent updates delivery", f.users[userdomain.RoleAgent], ObjectDelivery, ActionDeliveryUpdateStatus, true},
		{"agent cannot adjust wallet", f.users[userdomain.RoleAgent], ObjectWallet, ActionWalletAdjust, false},
		{"admin voids invoice", f.users[userdomain.RoleAdmin], ObjectInvoice, ActionInvoiceVoid, true},
		{"admin reads audit log", f.users[userdomain.RoleAdmin], ObjectAuditLog, ActionView, true},
		{"system plans routes", systemActor, ObjectRoute, ActionRoutePlan, true},
		{"system cannot record payments", systemActor, ObjectPayment, ActionPaymentRecord, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.svc.Authorize(ctx, tc.actor, f.org, tc.object, tc.action)
			if tc.allow {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrForbidden)
			}
		})
	}
}

func TestAuthorizeAuditsSensitiveDecisions(t *testing.T) {
	f := newAuthzFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Authorize(ctx, f.users[userdomain.RoleAdmin], f.org, ObjectWallet, ActionWalletAdjust))
	require.NoError(t, f.svc.Authorize(ctx, f.users[userdomain.RoleAdmin], f.org, ObjectProduct, ActionView))
	require.ErrorIs(t, f.svc.Authorize(ctx, f.users[userdomain.RoleCustomer], f.org, ObjectLedger, ActionView), ErrForbidden)

	require.Len(t, f.audit.entries, 2)
	assert.Equal(t, "authorization.granted", f.audit.entries[0].action)
	assert.Equal(t, "wallet:wallet.adjust", f.audit.entries[0].targetID)
	assert.Equal(t, "authorization.denied", f.audit.entries[1].action)
}

func TestAuthorizeRejectsUnknownActors(t *testing.T) {
	f := newAuthzFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.Authorize(ctx, "", f.org, ObjectOrder, ActionView), ErrInvalidActor)
	assert.ErrorIs(t, f.svc.Authorize(ctx, "robot", f.org, ObjectOrder, ActionView), ErrInvalidActor)
	assert.ErrorIs(t, f.svc.Authorize(ctx, "user:abc", f.org, ObjectOrder, ActionView), ErrInvalidActor)
	assert.ErrorIs(t, f.svc.Authorize(ctx, "user:999", f.org, ObjectOrder, ActionView), ErrForbidden)
	assert.ErrorIs(t, f.svc.Authorize(ctx, systemActor, "0", ObjectOrder, ActionView), ErrInvalidOrganization)
	assert.ErrorIs(t, f.svc.Authorize(ctx, systemActor, f.org, "", ActionView), ErrInvalidObject)
	assert.ErrorIs(t, f.svc.Authorize(ctx, systemActor, f.org, ObjectOrder, " "), ErrInvalidAction)

	// A user from another organization has no role here.
	assert.ErrorIs(t, f.svc.Authorize(ctx, f.users[userdomain.RoleAdmin], "43", ObjectOrder, ActionView), ErrForbidden)
}
