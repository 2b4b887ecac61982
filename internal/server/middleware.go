package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/dairyroute/internal/auth"
	obscontext "github.com/smallbiznis/dairyroute/internal/observability/context"
	"github.com/smallbiznis/dairyroute/internal/observability/logger"
	"github.com/smallbiznis/dairyroute/internal/orgcontext"
	"go.uber.org/zap"
)

const contextPrincipalKey = "principal"

// AuthRequired verifies the bearer token and pins the tenant and actor onto
// the request context.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := s.verifier.Verify(c.GetHeader("Authorization"))
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := c.Request.Context()
		ctx = orgcontext.WithOrgID(ctx, principal.OrgID.Int64())
		ctx = orgcontext.WithActor(ctx, principal.UserID, principal.Role)
		ctx = obscontext.WithOrgID(ctx, principal.OrgID.String())
		ctx = obscontext.WithActor(ctx, principal.Role, principal.UserID.String())
		c.Request = c.Request.WithContext(ctx)

		c.Set(contextPrincipalKey, *principal)
		c.Next()
	}
}

// RequireRole admits only principals carrying one of roles.
func (s *Server) RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[strings.ToLower(role)] = struct{}{}
	}
	return func(c *gin.Context) {
		principal, ok := principalFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if _, ok := allowed[principal.Role]; !ok {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

// authorize checks the role policy for object and action in the caller's
// tenant. The user row is consulted so deactivated users lose access before
// their token expires.
func (s *Server) authorize(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := principalFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		actor := "user:" + principal.UserID.String()
		if err := s.authzSvc.Authorize(c.Request.Context(), actor, principal.OrgID.String(), object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// WriteRateLimit throttles state-changing calls per user and scope. A limiter
// outage lets the request through.
func (s *Server) WriteRateLimit(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.writeLimiter.Enabled() {
			c.Next()
			return
		}
		principal, ok := principalFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		result, err := s.writeLimiter.Allow(ctx, principal.OrgID.String(), principal.UserID.String(), scope)
		if err != nil {
			logger.FromContext(ctx).Warn("write rate limit check failed",
				zap.String("scope", scope),
				zap.Error(err),
			)
			c.Next()
			return
		}
		if !result.Allowed {
			logger.FromContext(ctx).Warn("write rate limit exceeded", zap.String("scope", scope))
			retryAfter := int(result.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func principalFromContext(c *gin.Context) (auth.Principal, bool) {
	value, ok := c.Get(contextPrincipalKey)
	if !ok {
		return auth.Principal{}, false
	}
	principal, ok := value.(auth.Principal)
	return principal, ok
}
