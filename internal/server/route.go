package server

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	routedomain "github.com/smallbiznis/dairyroute/internal/route/domain"
)

type planRoutesRequest struct {
	Date     string   `json:"date"`
	AgentIDs []string `json:"agent_ids"`
}

// PlanRoutes assigns the day's deliveries and orders to agents. The default
// date is tomorrow. Routes that already started are left alone.
func (s *Server) PlanRoutes(c *gin.Context) {
	var req planRoutesRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	date, err := parseDateOr("date", req.Date, s.today().AddDate(0, 0, 1))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	agentIDs := make([]snowflake.ID, 0, len(req.AgentIDs))
	for _, raw := range req.AgentIDs {
		id, err := snowflake.ParseString(strings.TrimSpace(raw))
		if err != nil || id == 0 {
			AbortWithError(c, newValidationError("agent_ids", "invalid_agent_ids", "invalid agent id"))
			return
		}
		agentIDs = append(agentIDs, id)
	}

	summary, err := s.routeSvc.PlanDate(c.Request.Context(), routedomain.PlanRequest{
		Date:     date,
		AgentIDs: agentIDs,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "route.plan", "route", "", map[string]any{
		"date":       date.Format(time.DateOnly),
		"routes":     len(summary.Routes),
		"assigned":   summary.Assigned,
		"unassigned": summary.Unassigned,
	})
	respondOK(c, summary)
}

func (s *Server) ListRoutes(c *gin.Context) {
	date, err := parseDateOr("date", c.Query("date"), s.today())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	routes, err := s.routeSvc.ListByDate(c.Request.Context(), date)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, routes)
}

func (s *Server) GetRouteByID(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	route, err := s.routeSvc.Get(c.Request.Context(), id.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, route)
}

func (s *Server) StartRoute(c *gin.Context) {
	s.transitionRoute(c, "route.start", s.routeSvc.Start)
}

func (s *Server) CompleteRoute(c *gin.Context) {
	s.transitionRoute(c, "route.complete", s.routeSvc.Complete)
}

func (s *Server) CancelRoute(c *gin.Context) {
	s.transitionRoute(c, "route.cancel", s.routeSvc.Cancel)
}

func (s *Server) transitionRoute(
	c *gin.Context,
	action string,
	fn func(ctx context.Context, id string) (*routedomain.Route, error),
) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	route, err := fn(c.Request.Context(), id.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.audit(c, action, "route", route.ID.String(), map[string]any{
		"status": string(route.Status),
	})
	respondOK(c, route)
}

func (s *Server) ReassignStop(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req routedomain.ReassignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.StopID = id.String()
	req.RouteID = strings.TrimSpace(req.RouteID)

	route, err := s.routeSvc.ReassignStop(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "route.stop_reassign", "route_stop", req.StopID, map[string]any{
		"route_id": route.ID.String(),
		"position": req.Position,
	})
	respondOK(c, route)
}

// GetAgentRouteToday returns the calling agent's route for today.
func (s *Server) GetAgentRouteToday(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	route, err := s.routeSvc.AgentRoute(c.Request.Context(), principal.UserID, s.today())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, route)
}

func (s *Server) UpdateStop(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req routedomain.UpdateStopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ID = id.String()

	stop, err := s.routeSvc.UpdateStop(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, stop)
}
