package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// EntryType is the direction of a wallet posting.
type EntryType string

const (
	EntryTypeDebit  EntryType = "debit"
	EntryTypeCredit EntryType = "credit"
)

type SourceType string

const (
	SourceTypeDelivery   SourceType = "delivery"
	SourceTypeOrder      SourceType = "order"
	SourceTypeInvoice    SourceType = "invoice"
	SourceTypePayment    SourceType = "payment"
	SourceTypeRefund     SourceType = "refund"
	SourceTypeAdjustment SourceType = "adjustment"
)

// LedgerEntry is one immutable posting on a user's wallet. Sequence is
// contiguous from 1 per user and RunningBalance is the fold of every entry
// up to and including this one.
type LedgerEntry struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID    `gorm:"not null;uniqueIndex:ux_ledger_entries_user_sequence,priority:1;uniqueIndex:ux_ledger_entries_source,priority:1" json:"organization_id"`
	UserID         snowflake.ID    `gorm:"not null;uniqueIndex:ux_ledger_entries_user_sequence,priority:2" json:"user_id"`
	Sequence       int64           `gorm:"not null;uniqueIndex:ux_ledger_entries_user_sequence,priority:3" json:"sequence"`
	EntryType      EntryType       `gorm:"type:text;not null" json:"entry_type"`
	Amount         decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	RunningBalance decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"running_balance"`
	SourceType     SourceType      `gorm:"type:text;not null;uniqueIndex:ux_ledger_entries_source,priority:2" json:"source_type"`
	SourceID       snowflake.ID    `gorm:"not null;uniqueIndex:ux_ledger_entries_source,priority:3" json:"source_id"`
	Description    *string         `gorm:"type:text" json:"description,omitempty"`
	CreatedAt      time.Time       `gorm:"not null" json:"created_at"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

// Apply returns the balance after posting amount in direction entryType.
func Apply(balance decimal.Decimal, entryType EntryType, amount decimal.Decimal) decimal.Decimal {
	if entryType == EntryTypeCredit {
		return balance.Add(amount)
	}
	return balance.Sub(amount)
}

// Fold replays entries in sequence order and checks every stored running
// balance against the replay. It returns the final balance.
func Fold(entries []LedgerEntry) (decimal.Decimal, error) {
	balance := decimal.Zero
	for i, entry := range entries {
		if entry.Sequence != int64(i+1) {
			return balance, fmt.Errorf("%w: entry %s has sequence %d, expected %d", ErrLedgerInconsistent, entry.ID, entry.Sequence, i+1)
		}
		balance = Apply(balance, entry.EntryType, entry.Amount)
		if !balance.Equal(entry.RunningBalance) {
			return balance, fmt.Errorf("%w: entry %s stores %s, replay gives %s", ErrLedgerInconsistent, entry.ID, entry.RunningBalance.StringFixed(2), balance.StringFixed(2))
		}
	}
	return balance, nil
}
