package server

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	deliverydomain "github.com/smallbiznis/dairyroute/internal/delivery/domain"
	"github.com/smallbiznis/dairyroute/internal/observability/logger"
	routedomain "github.com/smallbiznis/dairyroute/internal/route/domain"
	"go.uber.org/zap"
)

func (s *Server) ListDeliveries(c *gin.Context) {
	date, err := parseDateOr("date", c.Query("date"), s.today())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	deliveries, err := s.deliverySvc.ListForDate(c.Request.Context(), date)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, deliveries)
}

type materializeRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// MaterializeDeliveries expands active subscriptions into delivery rows.
// Without a range it covers today through the planning horizon.
func (s *Server) MaterializeDeliveries(c *gin.Context) {
	var req materializeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	from, err := parseDateOr("from", req.From, s.today())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	to, err := parseDateOr("to", req.To, from.AddDate(0, 0, s.planning.Get().MaterializeHorizon))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	summary, err := s.deliverySvc.MaterializeRange(c.Request.Context(), from, to)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "delivery.materialize", "delivery", "", map[string]any{
		"from":    from.Format(time.DateOnly),
		"to":      to.Format(time.DateOnly),
		"created": summary.Created,
		"failed":  summary.Failed,
	})
	respondOK(c, summary)
}

func (s *Server) UpdateDeliveryStatus(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req deliverydomain.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ID = id.String()

	delivery, err := s.deliverySvc.UpdateStatus(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, delivery)
}

// ListAgentDeliveriesToday returns today's subscription deliveries on the
// calling agent's route, in stop order.
func (s *Server) ListAgentDeliveriesToday(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	ctx := c.Request.Context()
	today := s.today()

	route, err := s.routeSvc.AgentRoute(ctx, principal.UserID, today)
	if err != nil {
		if errors.Is(err, routedomain.ErrRouteNotFound) {
			respondOK(c, []deliverydomain.SubscriptionDelivery{})
			return
		}
		AbortWithError(c, err)
		return
	}

	deliveries, err := s.deliverySvc.ListForDate(ctx, today)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	byID := make(map[snowflake.ID]deliverydomain.SubscriptionDelivery, len(deliveries))
	for _, d := range deliveries {
		byID[d.ID] = d
	}

	out := make([]deliverydomain.SubscriptionDelivery, 0, len(route.Stops))
	for _, stop := range route.Stops {
		if stop.SubscriptionDeliveryID == nil {
			continue
		}
		d, ok := byID[*stop.SubscriptionDeliveryID]
		if !ok {
			logger.FromContext(ctx).Warn("route stop points at missing delivery",
				zap.String("stop_id", stop.ID.String()),
				zap.String("delivery_id", stop.SubscriptionDeliveryID.String()),
			)
			continue
		}
		out = append(out, d)
	}
	respondOK(c, out)
}
