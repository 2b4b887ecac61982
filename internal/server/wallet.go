package server

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	ledgerdomain "github.com/smallbiznis/dairyroute/internal/ledger/domain"
	"github.com/smallbiznis/dairyroute/pkg/db/pagination"
)

func (s *Server) GetWallet(c *gin.Context) {
	wallet, err := s.ledgerSvc.Wallet(c.Request.Context(), "")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, wallet)
}

func (s *Server) ListWalletEntries(c *gin.Context) {
	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledgerSvc.Entries(c.Request.Context(), ledgerdomain.ListEntriesRequest{
		Pagination: query,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, resp)
}

type userLedgerResponse struct {
	Wallet  ledgerdomain.Wallet              `json:"wallet"`
	Entries ledgerdomain.ListEntriesResponse `json:"entries"`
}

// GetUserLedger returns a customer's balance together with a page of entries.
func (s *Server) GetUserLedger(c *gin.Context) {
	userID, err := pathID(c, "user_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	wallet, err := s.ledgerSvc.Wallet(ctx, userID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	entries, err := s.ledgerSvc.Entries(ctx, ledgerdomain.ListEntriesRequest{
		Pagination: query,
		UserID:     userID.String(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, userLedgerResponse{Wallet: wallet, Entries: entries})
}

type verifyLedgerResponse struct {
	UserID     string          `json:"user_id"`
	Consistent bool            `json:"consistent"`
	Balance    decimal.Decimal `json:"balance"`
	Error      string          `json:"error,omitempty"`
}

// VerifyUserLedger replays a customer's entries. An inconsistent chain is a
// finding, not a request failure.
func (s *Server) VerifyUserLedger(c *gin.Context) {
	userID, err := pathID(c, "user_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	balance, err := s.ledgerSvc.Verify(c.Request.Context(), userID)
	resp := verifyLedgerResponse{UserID: userID.String(), Consistent: true, Balance: balance}
	if err != nil {
		if !errors.Is(err, ledgerdomain.ErrLedgerInconsistent) {
			AbortWithError(c, err)
			return
		}
		resp.Consistent = false
		resp.Error = err.Error()
		s.audit(c, "ledger.inconsistent", "user", userID.String(), map[string]any{
			"balance": balance.StringFixed(2),
		})
	}
	respondOK(c, resp)
}

func (s *Server) AdjustWallet(c *gin.Context) {
	var req ledgerdomain.AdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.Description = strings.TrimSpace(req.Description)

	entry, err := s.ledgerSvc.Adjust(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "wallet.adjust", "ledger_entry", entry.ID.String(), map[string]any{
		"user_id":     entry.UserID.String(),
		"entry_type":  string(entry.EntryType),
		"amount":      entry.Amount.StringFixed(2),
		"description": req.Description,
	})
	respondCreated(c, entry)
}
