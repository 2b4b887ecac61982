package domain

import (
	"context"
	"errors"
	"time"

	subscriptiondomain "github.com/smallbiznis/dairyroute/internal/subscription/domain"
)

// Outcome describes what Materialize did for one subscription date.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeRefreshed Outcome = "refreshed"
	// OutcomeDuplicate means the row already existed and nothing changed.
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeNotDue    Outcome = "not_due"
	OutcomeInactive  Outcome = "inactive"
)

type MaterializeResult struct {
	Outcome  Outcome               `json:"outcome"`
	Delivery *SubscriptionDelivery `json:"delivery,omitempty"`
}

type MaterializeSummary struct {
	From          time.Time `json:"from"`
	To            time.Time `json:"to"`
	Subscriptions int       `json:"subscriptions"`
	Created       int       `json:"created"`
	Refreshed     int       `json:"refreshed"`
	Duplicates    int       `json:"duplicates"`
	Failed        int       `json:"failed"`
}

type UpdateStatusRequest struct {
	ID            string  `json:"-"`
	Status        Status  `json:"status"`
	ProofImageURL *string `json:"proof_image_url,omitempty"`
	ProofNote     *string `json:"proof_note,omitempty"`
	FailureReason *string `json:"failure_reason,omitempty"`
}

type Service interface {
	Materialize(ctx context.Context, subscription subscriptiondomain.Subscription, date time.Time) (MaterializeResult, error)
	MaterializeRange(ctx context.Context, from, to time.Time) (MaterializeSummary, error)
	Get(ctx context.Context, id string) (*SubscriptionDelivery, error)
	ListForDate(ctx context.Context, date time.Time) ([]SubscriptionDelivery, error)
	UpdateStatus(ctx context.Context, req UpdateStatusRequest) (*SubscriptionDelivery, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidID           = errors.New("invalid_id")
	ErrInvalidRange        = errors.New("invalid_range")
	ErrInvalidStatus       = errors.New("invalid_status")
	ErrNotFound            = errors.New("delivery_not_found")
	ErrNotAssignedAgent    = errors.New("delivery_not_assigned_to_agent")
	ErrFailureReason       = errors.New("failure_reason_required")
	// ErrDuplicateDelivery marks a materialization that found its row already
	// present. Callers treat it as a no-op.
	ErrDuplicateDelivery = errors.New("duplicate_delivery")
)
