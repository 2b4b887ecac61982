package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/dairyroute/internal/payment/domain"
	"github.com/smallbiznis/dairyroute/pkg/db/pagination"
)

// maxWebhookBody caps provider callbacks.
const maxWebhookBody = 1 << 20

func (s *Server) InitiateTopup(c *gin.Context) {
	var req paymentdomain.InitiateTopupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))

	checkout, err := s.paymentSvc.InitiateTopup(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondCreated(c, checkout)
}

func (s *Server) VerifyTopup(c *gin.Context) {
	var req paymentdomain.VerifyTopupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.GatewayOrderID = strings.TrimSpace(req.GatewayOrderID)
	req.GatewayPaymentID = strings.TrimSpace(req.GatewayPaymentID)
	req.Signature = strings.TrimSpace(req.Signature)

	payment, err := s.paymentSvc.VerifyTopup(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, payment)
}

func (s *Server) ListPayments(c *gin.Context) {
	var query struct {
		pagination.Pagination
		UserID string `form:"user_id"`
		Type   string `form:"type"`
		Status string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentSvc.List(c.Request.Context(), paymentdomain.ListPaymentRequest{
		Pagination: query.Pagination,
		UserID:     strings.TrimSpace(query.UserID),
		Type:       strings.TrimSpace(query.Type),
		Status:     strings.TrimSpace(query.Status),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, resp)
}

func (s *Server) RecordPayment(c *gin.Context) {
	var req paymentdomain.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.InvoiceID = strings.TrimSpace(req.InvoiceID)
	req.Reference = strings.TrimSpace(req.Reference)

	payment, err := s.paymentSvc.RecordPayment(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	metadata := map[string]any{
		"user_id": payment.UserID.String(),
		"type":    string(payment.Type),
		"method":  string(payment.Method),
		"amount":  payment.Amount.StringFixed(2),
	}
	if payment.InvoiceID != nil {
		metadata["invoice_id"] = payment.InvoiceID.String()
	}
	s.audit(c, "payment.record", "payment", payment.ID.String(), metadata)
	respondCreated(c, payment)
}

// HandlePaymentWebhook accepts provider callbacks. The provider signature is
// the only credential; the tenant comes from the matched payment.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))
	if provider == "" {
		AbortWithError(c, newValidationError("provider", "invalid_provider", "invalid provider"))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.paymentSvc.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header); err != nil {
		AbortWithError(c, err)
		return
	}
	respondMessage(c, http.StatusOK, "received", nil)
}
