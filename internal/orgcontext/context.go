package orgcontext

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// OrgContextKey is the request context key for the active organization ID.
type OrgContextKey struct{}

type userContextKey struct{}

type roleContextKey struct{}

// Role names carried by bearer tokens.
const (
	RoleCustomer = "customer"
	RoleAgent    = "agent"
	RoleAdmin    = "admin"
	RoleSystem   = "system"
)

// WithOrgID stores the org ID in the context.
func WithOrgID(ctx context.Context, orgID int64) context.Context {
	return context.WithValue(ctx, OrgContextKey{}, orgID)
}

// OrgIDFromContext returns the org ID from context, if set.
func OrgIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}

	switch typed := ctx.Value(OrgContextKey{}).(type) {
	case int64:
		return snowflake.ID(typed), true
	case snowflake.ID:
		return typed, true
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(typed))
		if err == nil {
			return parsed, true
		}
	}
	return 0, false
}

// WithActor stores the authenticated user and role.
func WithActor(ctx context.Context, userID snowflake.ID, role string) context.Context {
	ctx = context.WithValue(ctx, userContextKey{}, userID)
	return context.WithValue(ctx, roleContextKey{}, strings.ToLower(strings.TrimSpace(role)))
}

func UserIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}
	id, ok := ctx.Value(userContextKey{}).(snowflake.ID)
	return id, ok && id != 0
}

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	role, _ := ctx.Value(roleContextKey{}).(string)
	return role
}

// IsPrivileged reports whether the actor may act on other users' resources.
func IsPrivileged(ctx context.Context) bool {
	switch RoleFromContext(ctx) {
	case RoleAdmin, RoleSystem:
		return true
	default:
		return false
	}
}
