package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	userdomain "github.com/smallbiznis/dairyroute/internal/user/domain"
)

func (s *Server) GetMe(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	user, err := s.userSvc.Get(c.Request.Context(), principal.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, user)
}

func (s *Server) CreateUser(c *gin.Context) {
	var req userdomain.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	user, err := s.userSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "user.create", "user", user.ID.String(), map[string]any{
		"role": string(user.Role),
	})
	respondCreated(c, user)
}

func (s *Server) GetUserByID(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	user, err := s.userSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, user)
}

// ListAddresses returns the caller's own addresses.
func (s *Server) ListAddresses(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	addresses, err := s.userSvc.ListAddresses(c.Request.Context(), principal.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, addresses)
}

func (s *Server) ListUserAddresses(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	addresses, err := s.userSvc.ListAddresses(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, addresses)
}

// CreateAddress adds an address for the caller. Admins may name another user.
func (s *Server) CreateAddress(c *gin.Context) {
	var req userdomain.CreateAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)

	address, err := s.userSvc.AddAddress(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondCreated(c, address)
}

func (s *Server) ListAgents(c *gin.Context) {
	onlyAvailable, err := parseOptionalBool(c.Query("available"))
	if err != nil {
		AbortWithError(c, newValidationError("available", "invalid_available", "invalid available"))
		return
	}
	agents, err := s.userSvc.ListAgents(c.Request.Context(), onlyAvailable != nil && *onlyAvailable)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, agents)
}

type availabilityRequest struct {
	Available *bool `json:"available"`
}

func (s *Server) SetAgentAvailability(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.setAvailability(c, id.String())
}

// SetOwnAvailability lets an agent go on or off duty for planning.
func (s *Server) SetOwnAvailability(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	s.setAvailability(c, principal.UserID.String())
}

func (s *Server) setAvailability(c *gin.Context, agentID string) {
	var req availabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Available == nil {
		AbortWithError(c, newValidationError("available", "invalid_available", "available is required"))
		return
	}
	agent, err := s.userSvc.SetAvailability(c.Request.Context(), agentID, *req.Available)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, agent)
}
