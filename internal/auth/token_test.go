package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/smallbiznis/dairyroute/internal/clock"
	"github.com/smallbiznis/dairyroute/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVerifier(t *testing.T, clk clock.Clock) *TokenVerifier {
	t.Helper()
	v, err := NewTokenVerifier(config.Config{AuthJWTSecret: "s3cret", AuthJWTIssuer: "otp"}, clk)
	require.NoError(t, err)
	return v
}

func TestVerifyRoundTrip(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC))
	v := newVerifier(t, clk)

	token, err := v.Sign(Principal{UserID: 7, OrgID: 42, Role: "Agent"}, time.Hour)
	require.NoError(t, err)

	p, err := v.Verify("Bearer " + token)
	require.NoError(t, err)
	assert.EqualValues(t, 7, p.UserID)
	assert.EqualValues(t, 42, p.OrgID)
	assert.Equal(t, "agent", p.Role)

	clk.Advance(2 * time.Hour)
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC))
	v := newVerifier(t, clk)

	_, err := v.Verify("")
	assert.ErrorIs(t, err, ErrMissingToken)

	other, err := NewTokenVerifier(config.Config{AuthJWTSecret: "different", AuthJWTIssuer: "otp"}, clk)
	require.NoError(t, err)
	forged, err := other.Sign(Principal{UserID: 7, OrgID: 42, Role: "admin"}, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	superuser, err := v.Sign(Principal{UserID: 7, OrgID: 42, Role: "root"}, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(superuser)
	assert.ErrorIs(t, err, ErrInvalidRole)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{OrgID: "42", Role: "admin"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.Verify(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer, err := NewTokenVerifier(config.Config{AuthJWTSecret: "s3cret", AuthJWTIssuer: "elsewhere"}, clk)
	require.NoError(t, err)
	token, err := wrongIssuer.Sign(Principal{UserID: 7, OrgID: 42, Role: "customer"}, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestProductionRequiresSecret(t *testing.T) {
	_, err := NewTokenVerifier(config.Config{Environment: "production"}, nil)
	assert.ErrorIs(t, err, ErrMissingSecret)

	v, err := NewTokenVerifier(config.Config{}, nil)
	require.NoError(t, err)
	_, err = v.Verify("abc")
	assert.ErrorIs(t, err, ErrMissingSecret)
}
