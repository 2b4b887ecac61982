package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/dairyroute/internal/audit/domain"
	"github.com/smallbiznis/dairyroute/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectSubscription = "subscription"
	ObjectOrder        = "order"
	ObjectProduct      = "product"
	ObjectDelivery     = "delivery"
	ObjectRoute        = "route"
	ObjectInvoice      = "invoice"
	ObjectPayment      = "payment"
	ObjectWallet       = "wallet"
	ObjectLedger       = "ledger"
	ObjectAuditLog     = "audit_log"
	ObjectUser         = "user"
	ObjectAddress      = "address"
)

const (
	ActionView   = "view"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionManage = "manage"

	ActionOrderCancel       = "order.cancel"
	ActionOrderUpdateStatus = "order.update_status"

	ActionDeliveryMaterialize  = "delivery.materialize"
	ActionDeliveryUpdateStatus = "delivery.update_status"

	ActionRoutePlan       = "route.plan"
	ActionRouteUpdate     = "route.update"
	ActionRouteStopUpdate = "route.stop_update"

	ActionInvoiceGenerate = "invoice.generate"
	ActionInvoiceVoid     = "invoice.void"

	ActionPaymentRecord = "payment.record"
	ActionWalletTopup   = "wallet.topup"
	ActionWalletAdjust  = "wallet.adjust"
	ActionLedgerVerify  = "ledger.verify"
)

const systemActor = "system"

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, orgID string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	orgID = strings.TrimSpace(orgID)
	parsedOrgID, err := snowflake.ParseString(orgID)
	if err != nil || parsedOrgID == 0 {
		return ErrInvalidOrganization
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, err := s.resolveActor(ctx, actor, parsedOrgID)
	if err != nil {
		s.audit(ctx, "authorization.denied", parsedOrgID, actor, object, action)
		return err
	}

	domain := fmt.Sprintf("org:%s", orgID)
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.audit(ctx, "authorization.denied", parsedOrgID, actor, object, action)
		return ErrForbidden
	}

	if shouldAuditGrant(action) {
		s.audit(ctx, "authorization.granted", parsedOrgID, actor, object, action)
	}
	return nil
}

// resolveActor maps an actor to its casbin subject and role. User roles are
// read from the users table so a stale token cannot keep a revoked role.
func (s *ServiceImpl) resolveActor(ctx context.Context, actor string, orgID snowflake.ID) (string, string, error) {
	if actor == systemActor {
		return actor, "role:" + orgcontext.RoleSystem, nil
	}
	if !strings.HasPrefix(actor, "user:") {
		return "", "", ErrInvalidActor
	}
	userID, err := snowflake.ParseString(strings.TrimPrefix(actor, "user:"))
	if err != nil || userID == 0 {
		return "", "", ErrInvalidActor
	}
	role, err := s.roleForUser(ctx, orgID, userID)
	if err != nil {
		return "", "", err
	}
	return actor, "role:" + strings.ToLower(role), nil
}

func (s *ServiceImpl) roleForUser(ctx context.Context, orgID snowflake.ID, userID snowflake.ID) (string, error) {
	var row struct {
		Role     string `gorm:"column:role"`
		IsActive bool   `gorm:"column:is_active"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role, is_active
		 FROM users
		 WHERE org_id = ? AND id = ?
		 LIMIT 1`,
		orgID,
		userID,
	).Scan(&row).Error; err != nil {
		return "", err
	}

	role := strings.TrimSpace(row.Role)
	if role == "" || !row.IsActive {
		return "", ErrForbidden
	}
	return role, nil
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) audit(ctx context.Context, auditAction string, orgID snowflake.ID, actor, object, action string) {
	if s.auditSvc == nil {
		return
	}
	ctx = orgcontext.WithOrgID(ctx, orgID.Int64())
	targetID := object + ":" + action
	if err := s.auditSvc.AuditLog(ctx, auditAction, "authorization", &targetID, map[string]any{
		"object":  object,
		"action":  action,
		"subject": actor,
	}); err != nil {
		s.log.Warn("failed to audit authorization decision", zap.Error(err))
	}
}

func shouldAuditGrant(action string) bool {
	switch action {
	case ActionInvoiceVoid, ActionWalletAdjust, ActionPaymentRecord:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Customers act on their own records; services scope the rows.
		{"role:customer", ObjectSubscription, ActionView},
		{"role:customer", ObjectSubscription, ActionCreate},
		{"role:customer", ObjectSubscription, ActionUpdate},
		{"role:customer", ObjectOrder, ActionView},
		{"role:customer", ObjectOrder, ActionCreate},
		{"role:customer", ObjectOrder, ActionOrderCancel},
		{"role:customer", ObjectProduct, ActionView},
		{"role:customer", ObjectInvoice, ActionView},
		{"role:customer", ObjectPayment, ActionView},
		{"role:customer", ObjectWallet, ActionView},
		{"role:customer", ObjectWallet, ActionWalletTopup},
		{"role:customer", ObjectAddress, ActionView},
		{"role:customer", ObjectAddress, ActionManage},

		// Agents
		{"role:agent", ObjectProduct, ActionView},
		{"role:agent", ObjectDelivery, ActionView},
		{"role:agent", ObjectDelivery, ActionDeliveryUpdateStatus},
		{"role:agent", ObjectRoute, ActionView},
		{"role:agent", ObjectRoute, ActionRouteStopUpdate},
		{"role:agent", ObjectUser, ActionUpdate},

		// Admins
		{"role:admin", ObjectSubscription, ActionView},
		{"role:admin", ObjectSubscription, ActionCreate},
		{"role:admin", ObjectSubscription, ActionUpdate},
		{"role:admin", ObjectOrder, ActionView},
		{"role:admin", ObjectOrder, ActionCreate},
		{"role:admin", ObjectOrder, ActionOrderCancel},
		{"role:admin", ObjectOrder, ActionOrderUpdateStatus},
		{"role:admin", ObjectProduct, ActionView},
		{"role:admin", ObjectProduct, ActionCreate},
		{"role:admin", ObjectProduct, ActionUpdate},
		{"role:admin", ObjectDelivery, ActionView},
		{"role:admin", ObjectDelivery, ActionDeliveryMaterialize},
		{"role:admin", ObjectDelivery, ActionDeliveryUpdateStatus},
		{"role:admin", ObjectRoute, ActionView},
		{"role:admin", ObjectRoute, ActionRoutePlan},
		{"role:admin", ObjectRoute, ActionRouteUpdate},
		{"role:admin", ObjectInvoice, ActionView},
		{"role:admin", ObjectInvoice, ActionInvoiceGenerate},
		{"role:admin", ObjectInvoice, ActionInvoiceVoid},
		{"role:admin", ObjectPayment, ActionView},
		{"role:admin", ObjectPayment, ActionPaymentRecord},
		{"role:admin", ObjectWallet, ActionView},
		{"role:admin", ObjectWallet, ActionWalletAdjust},
		{"role:admin", ObjectLedger, ActionView},
		{"role:admin", ObjectLedger, ActionLedgerVerify},
		{"role:admin", ObjectAuditLog, ActionView},
		{"role:admin", ObjectUser, ActionView},
		{"role:admin", ObjectUser, ActionManage},
		{"role:admin", ObjectUser, ActionUpdate},
		{"role:admin", ObjectAddress, ActionView},
		{"role:admin", ObjectAddress, ActionManage},

		// System (scheduler and event handlers)
		{"role:system", ObjectDelivery, ActionDeliveryMaterialize},
		{"role:system", ObjectRoute, ActionRoutePlan},
		{"role:system", ObjectInvoice, ActionInvoiceGenerate},
		{"role:system", ObjectLedger, ActionLedgerVerify},
	}

	for _, policy := range policies {
		if len(policy) < 3 {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
