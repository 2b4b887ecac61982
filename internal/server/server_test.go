package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/dairyroute/internal/auth"
	"github.com/smallbiznis/dairyroute/internal/authorization"
	"github.com/smallbiznis/dairyroute/internal/clock"
	"github.com/smallbiznis/dairyroute/internal/config"
	invoicedomain "github.com/smallbiznis/dairyroute/internal/invoice/domain"
	"github.com/smallbiznis/dairyroute/internal/lifecycle"
	paymentdomain "github.com/smallbiznis/dairyroute/internal/payment/domain"
	productdomain "github.com/smallbiznis/dairyroute/internal/product/domain"
	routedomain "github.com/smallbiznis/dairyroute/internal/route/domain"
	"github.com/stretchr/testify/require"
)

type authzCall struct {
	actor, orgID, object, action string
}

type fakeAuthz struct {
	err   error
	calls []authzCall
}

func (f *fakeAuthz) Authorize(_ context.Context, actor, orgID, object, action string) error {
	f.calls = append(f.calls, authzCall{actor: actor, orgID: orgID, object: object, action: action})
	return f.err
}

type fakeProducts struct {
	productdomain.Service
	last productdomain.ListRequest
}

func (f *fakeProducts) List(_ context.Context, req productdomain.ListRequest) ([]productdomain.Response, error) {
	f.last = req
	return []productdomain.Response{}, nil
}

type fakeRoutes struct {
	routedomain.Service
	planned []routedomain.PlanRequest
}

func (f *fakeRoutes) PlanDate(_ context.Context, req routedomain.PlanRequest) (routedomain.PlanSummary, error) {
	f.planned = append(f.planned, req)
	return routedomain.PlanSummary{Date: req.Date}, nil
}

type fakePayments struct {
	paymentdomain.Service
	provider string
	payload  []byte
	err      error
}

func (f *fakePayments) IngestWebhook(_ context.Context, provider string, payload []byte, _ http.Header) error {
	f.provider = provider
	f.payload = payload
	return f.err
}

type testServer struct {
	server   *Server
	verifier *auth.TokenVerifier
	authz    *fakeAuthz
	products *fakeProducts
	routes   *fakeRoutes
	payments *fakePayments
}

func newTestServer(t *testing.T, now time.Time) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clk := clock.NewFakeClock(now)
	cfg := config.Config{AuthJWTSecret: "s3cret", Timezone: "UTC"}
	verifier, err := auth.NewTokenVerifier(cfg, clk)
	require.NoError(t, err)

	ts := &testServer{
		verifier: verifier,
		authz:    &fakeAuthz{},
		products: &fakeProducts{},
		routes:   &fakeRoutes{},
		payments: &fakePayments{},
	}

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())
	ts.server = NewServer(ServerParams{
		Gin:        engine,
		Cfg:        cfg,
		Clock:      clk,
		Verifier:   verifier,
		AuthzSvc:   ts.authz,
		ProductSvc: ts.products,
		RouteSvc:   ts.routes,
		PaymentSvc: ts.payments,
	})
	ts.server.RegisterRoutes()
	return ts
}

func (ts *testServer) token(t *testing.T, role string) string {
	t.Helper()
	token, err := ts.verifier.Sign(auth.Principal{UserID: 7, OrgID: 42, Role: role}, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.server.Engine().ServeHTTP(w, req)
	return w
}

type testEnvelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data"`
	Errors  []ValidationError `json:"errors"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	var body testEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestAuthRequiredRejectsMissingToken(t *testing.T) {
	ts := newTestServer(t, time.Now())

	w := ts.do(httptest.NewRequest(http.MethodGet, "/products", nil))

	require.Equal(t, http.StatusUnauthorized, w.Code)
	body := decodeEnvelope(t, w)
	require.False(t, body.Success)
	require.Equal(t, "missing_token", body.Message)
	require.Empty(t, ts.authz.calls)
}

func TestRequireRoleKeepsCustomersOutOfAdmin(t *testing.T) {
	ts := newTestServer(t, time.Now())

	req := httptest.NewRequest(http.MethodGet, "/admin/products", nil)
	req.Header.Set("Authorization", ts.token(t, "customer"))
	w := ts.do(req)

	require.Equal(t, http.StatusForbidden, w.Code)
	require.Empty(t, ts.authz.calls)
}

func TestAuthorizeUsesPrincipalTenant(t *testing.T) {
	ts := newTestServer(t, time.Now())
	ts.authz.err = authorization.ErrForbidden

	req := httptest.NewRequest(http.MethodGet, "/admin/products", nil)
	req.Header.Set("Authorization", ts.token(t, "admin"))
	w := ts.do(req)

	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, []authzCall{{
		actor:  "user:7",
		orgID:  "42",
		object: authorization.ObjectProduct,
		action: authorization.ActionView,
	}}, ts.authz.calls)
}

func TestListProductsHidesInactiveFromCustomers(t *testing.T) {
	ts := newTestServer(t, time.Now())

	req := httptest.NewRequest(http.MethodGet, "/products?active=false", nil)
	req.Header.Set("Authorization", ts.token(t, "customer"))
	w := ts.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, ts.products.last.Active)
	require.True(t, *ts.products.last.Active)

	req = httptest.NewRequest(http.MethodGet, "/admin/products?active=false", nil)
	req.Header.Set("Authorization", ts.token(t, "admin"))
	w = ts.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, ts.products.last.Active)
	require.False(t, *ts.products.last.Active)
	require.True(t, decodeEnvelope(t, w).Success)
}

func TestPlanRoutesDefaultsToTomorrow(t *testing.T) {
	ts := newTestServer(t, time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC))

	req := httptest.NewRequest(http.MethodPost, "/admin/routes/plan", nil)
	req.Header.Set("Authorization", ts.token(t, "admin"))
	w := ts.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, ts.routes.planned, 1)
	require.True(t, ts.routes.planned[0].Date.Equal(time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)))
	require.Empty(t, ts.routes.planned[0].AgentIDs)
}

func TestPlanRoutesRejectsMalformedAgentID(t *testing.T) {
	ts := newTestServer(t, time.Now())

	req := httptest.NewRequest(http.MethodPost, "/admin/routes/plan", strings.NewReader(`{"agent_ids":["abc"]}`))
	req.Header.Set("Authorization", ts.token(t, "admin"))
	req.Header.Set("Content-Type", "application/json")
	w := ts.do(req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeEnvelope(t, w)
	require.Equal(t, "validation_error", body.Message)
	require.Len(t, body.Errors, 1)
	require.Equal(t, "invalid_agent_ids", body.Errors[0].Code)
	require.Empty(t, ts.routes.planned)
}

func TestPaymentWebhookSkipsBearerAuth(t *testing.T) {
	ts := newTestServer(t, time.Now())

	payload := `{"event":"payment.captured"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/Razorpay", strings.NewReader(payload))
	req.Header.Set("X-Razorpay-Signature", "sig")
	w := ts.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "razorpay", ts.payments.provider)
	require.Equal(t, payload, string(ts.payments.payload))
	require.Equal(t, "received", decodeEnvelope(t, w).Message)
}

func TestPaymentWebhookRejectsBadSignature(t *testing.T) {
	ts := newTestServer(t, time.Now())
	ts.payments.err = paymentdomain.ErrInvalidSignature

	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", strings.NewReader(`{}`))
	w := ts.do(req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeEnvelope(t, w)
	require.Len(t, body.Errors, 1)
	require.Equal(t, paymentdomain.ErrInvalidSignature.Error(), body.Errors[0].Code)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"not found", routedomain.ErrRouteNotFound, http.StatusNotFound, routedomain.ErrRouteNotFound.Error()},
		{"wrapped not found", fmt.Errorf("load: %w", invoicedomain.ErrInvoiceNotFound), http.StatusNotFound, invoicedomain.ErrInvoiceNotFound.Error()},
		{"transition", lifecycle.ErrInvalidStatusTransition, http.StatusConflict, lifecycle.ErrInvalidStatusTransition.Error()},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{"expired", auth.ErrExpiredToken, http.StatusUnauthorized, auth.ErrExpiredToken.Error()},
		{"unknown", errors.New("pq: connection reset"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := mapError(tc.err)
			require.Equal(t, tc.status, status)
			require.Equal(t, tc.message, body.Message)
			require.False(t, body.Success)
		})
	}
}
