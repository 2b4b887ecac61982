// Package auth verifies bearer tokens issued by the OTP login service.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v4"
	"github.com/smallbiznis/dairyroute/internal/clock"
	"github.com/smallbiznis/dairyroute/internal/config"
	"github.com/smallbiznis/dairyroute/internal/orgcontext"
)

var (
	ErrMissingToken  = errors.New("missing_token")
	ErrInvalidToken  = errors.New("invalid_token")
	ErrExpiredToken  = errors.New("token_expired")
	ErrInvalidRole   = errors.New("invalid_role")
	ErrMissingSecret = errors.New("auth_secret_not_configured")
)

// Claims is the token body. The subject is the user id.
type Claims struct {
	OrgID string `json:"org_id"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller resolved from a token.
type Principal struct {
	UserID snowflake.ID
	OrgID  snowflake.ID
	Role   string
}

type TokenVerifier struct {
	secret []byte
	issuer string
	clock  clock.Clock
}

func NewTokenVerifier(cfg config.Config, clk clock.Clock) (*TokenVerifier, error) {
	if cfg.AuthJWTSecret == "" {
		if cfg.IsProduction() {
			return nil, ErrMissingSecret
		}
	}
	if clk == nil {
		clk = clock.New()
	}
	return &TokenVerifier{
		secret: []byte(cfg.AuthJWTSecret),
		issuer: cfg.AuthJWTIssuer,
		clock:  clk,
	}, nil
}

// Verify parses an HS256 token and returns its principal.
func (v *TokenVerifier) Verify(raw string) (*Principal, error) {
	if len(v.secret) == 0 {
		return nil, ErrMissingSecret
	}
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return nil, ErrMissingToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	claims := &Claims{}
	token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	now := v.clock.Now()
	if !claims.VerifyExpiresAt(now, true) {
		return nil, ErrExpiredToken
	}
	if !claims.VerifyNotBefore(now, false) {
		return nil, ErrInvalidToken
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return nil, ErrInvalidToken
	}

	userID, err := snowflake.ParseString(strings.TrimSpace(claims.Subject))
	if err != nil || userID == 0 {
		return nil, ErrInvalidToken
	}
	orgID, err := snowflake.ParseString(strings.TrimSpace(claims.OrgID))
	if err != nil || orgID == 0 {
		return nil, ErrInvalidToken
	}
	role := strings.ToLower(strings.TrimSpace(claims.Role))
	switch role {
	case orgcontext.RoleCustomer, orgcontext.RoleAgent, orgcontext.RoleAdmin:
	default:
		return nil, ErrInvalidRole
	}

	return &Principal{UserID: userID, OrgID: orgID, Role: role}, nil
}

// Sign issues a token for p. The OTP service owns issuance in production;
// this is used by local tooling and tests.
func (v *TokenVerifier) Sign(p Principal, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrMissingSecret
	}
	now := v.clock.Now()
	claims := Claims{
		OrgID: p.OrgID.String(),
		Role:  p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID.String(),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
