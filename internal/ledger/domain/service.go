package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/dairyroute/pkg/db/pagination"
	"gorm.io/gorm"
)

type AppendRequest struct {
	UserID      snowflake.ID
	EntryType   EntryType
	Amount      decimal.Decimal
	SourceType  SourceType
	SourceID    snowflake.ID
	Description string
}

type AdjustmentRequest struct {
	UserID      string          `json:"user_id"`
	EntryType   EntryType       `json:"entry_type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type Wallet struct {
	UserID  snowflake.ID    `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
	Entries int64           `json:"entries"`
}

type ListEntriesRequest struct {
	pagination.Pagination
	UserID string
}

type ListEntriesResponse struct {
	pagination.PageInfo
	Entries []LedgerEntry `json:"entries"`
}

type VerifySummary struct {
	Users        int            `json:"users"`
	Inconsistent []snowflake.ID `json:"inconsistent,omitempty"`
}

type Service interface {
	// AppendTx posts on the caller's transaction. Posting the same source
	// twice returns the first entry and created=false.
	AppendTx(ctx context.Context, tx *gorm.DB, req AppendRequest) (entry *LedgerEntry, created bool, err error)
	Append(ctx context.Context, req AppendRequest) (*LedgerEntry, error)
	Adjust(ctx context.Context, req AdjustmentRequest) (*LedgerEntry, error)
	Wallet(ctx context.Context, userID string) (Wallet, error)
	Entries(ctx context.Context, req ListEntriesRequest) (ListEntriesResponse, error)
	Verify(ctx context.Context, userID snowflake.ID) (decimal.Decimal, error)
	VerifyAll(ctx context.Context) (VerifySummary, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidEntryType    = errors.New("invalid_entry_type")
	ErrInvalidSource       = errors.New("invalid_source")
	ErrInvalidDescription  = errors.New("invalid_description")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrForbidden           = errors.New("ledger_forbidden")
	// ErrSequenceConflict means another writer took the next sequence slot.
	ErrSequenceConflict = errors.New("ledger_sequence_conflict")
	// ErrLedgerInconsistent is fatal. Stored balances are never rewritten.
	ErrLedgerInconsistent = errors.New("ledger_inconsistent")
)
