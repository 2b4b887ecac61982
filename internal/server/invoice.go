package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/dairyroute/internal/invoice/domain"
	"github.com/smallbiznis/dairyroute/pkg/db/pagination"
)

func (s *Server) ListInvoices(c *gin.Context) {
	var query struct {
		pagination.Pagination
		UserID string `form:"user_id"`
		Status string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.invoiceSvc.List(c.Request.Context(), invoicedomain.ListInvoiceRequest{
		Pagination: query.Pagination,
		UserID:     strings.TrimSpace(query.UserID),
		Status:     strings.TrimSpace(query.Status),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, resp)
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.invoiceSvc.Get(c.Request.Context(), id.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, item)
}

func (s *Server) RenderInvoicePDF(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	inv, body, err := s.invoiceSvc.RenderPDF(c.Request.Context(), id.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", inv.InvoiceNumber+".pdf"))
	c.Data(http.StatusOK, "application/pdf", body)
}

// GenerateInvoices issues a single invoice when user_id is given and runs the
// whole tenant's billing period otherwise.
func (s *Server) GenerateInvoices(c *gin.Context) {
	var req invoicedomain.GenerateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.PeriodStart = strings.TrimSpace(req.PeriodStart)
	req.PeriodEnd = strings.TrimSpace(req.PeriodEnd)

	if req.UserID != "" {
		inv, err := s.invoiceSvc.Generate(c.Request.Context(), req)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		s.audit(c, "invoice.generate", "invoice", inv.ID.String(), map[string]any{
			"user_id": inv.UserID.String(),
			"total":   inv.Total.StringFixed(2),
		})
		respondCreated(c, inv)
		return
	}

	if req.PeriodStart == "" || req.PeriodEnd == "" {
		AbortWithError(c, newValidationError("period", "invalid_period", "period_start and period_end are required"))
		return
	}
	start, err := parseDateOr("period_start", req.PeriodStart, time.Time{})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	end, err := parseDateOr("period_end", req.PeriodEnd, time.Time{})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	summary, err := s.invoiceSvc.GenerateForPeriod(c.Request.Context(), start, end)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.audit(c, "invoice.generate_period", "invoice", "", map[string]any{
		"period_start": req.PeriodStart,
		"period_end":   req.PeriodEnd,
		"issued":       summary.Issued,
		"failed":       summary.Failed,
	})
	respondOK(c, summary)
}

func (s *Server) VoidInvoice(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	inv, err := s.invoiceSvc.Void(c.Request.Context(), id.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.audit(c, "invoice.void", "invoice", inv.ID.String(), map[string]any{
		"invoice_number": inv.InvoiceNumber,
	})
	respondOK(c, inv)
}
