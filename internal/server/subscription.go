package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/smallbiznis/dairyroute/internal/subscription/domain"
	"github.com/smallbiznis/dairyroute/pkg/db/pagination"
)

func (s *Server) CreateSubscription(c *gin.Context) {
	var req subscriptiondomain.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req.UserID = strings.TrimSpace(req.UserID)
	req.AddressID = strings.TrimSpace(req.AddressID)
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.BillingCycle = strings.TrimSpace(req.BillingCycle)
	req.StartDate = strings.TrimSpace(req.StartDate)

	resp, err := s.subscriptionSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "subscription.create", "subscription", resp.ID.String(), map[string]any{
		"user_id":       resp.UserID.String(),
		"product_id":    resp.ProductID.String(),
		"billing_cycle": string(resp.BillingCycle),
		"status":        string(resp.Status),
	})
	respondCreated(c, resp)
}

func (s *Server) ListSubscriptions(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Status string `form:"status"`
		UserID string `form:"user_id"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.subscriptionSvc.List(c.Request.Context(), subscriptiondomain.ListSubscriptionRequest{
		Status:    strings.TrimSpace(query.Status),
		UserID:    strings.TrimSpace(query.UserID),
		PageToken: query.PageToken,
		PageSize:  int32(query.PageSize),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondOK(c, resp)
}

func (s *Server) GetSubscriptionByID(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.subscriptionSvc.GetByID(c.Request.Context(), id.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondOK(c, item)
}

// UpdateSubscription changes status, quantity or frequency. A status change
// goes through the subscription state machine.
func (s *Server) UpdateSubscription(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req subscriptiondomain.UpdateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ID = id.String()

	resp, err := s.subscriptionSvc.Update(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	metadata := map[string]any{"status": string(resp.Status)}
	if req.Quantity != nil {
		metadata["quantity"] = *req.Quantity
	}
	if req.BillingCycle != nil {
		metadata["billing_cycle"] = *req.BillingCycle
	}
	s.audit(c, "subscription.update", "subscription", resp.ID.String(), metadata)
	respondOK(c, resp)
}
