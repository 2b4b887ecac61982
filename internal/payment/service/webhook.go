package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dairyroute/internal/orgcontext"
	"github.com/smallbiznis/dairyroute/internal/payment/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// IngestWebhook verifies, records and applies a gateway webhook. Each provider
// event is applied once; replays of a processed event are accepted silently.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return domain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return domain.ErrInvalidPayload
	}
	gateway, err := s.adapters.Gateway(provider)
	if err != nil {
		return err
	}
	if err := gateway.VerifyWebhook(payload, headers); err != nil {
		return err
	}

	event, err := gateway.ParseWebhook(payload, headers)
	if err != nil {
		if errors.Is(err, domain.ErrEventIgnored) {
			return nil
		}
		return err
	}
	event.Provider = provider

	now := s.clock.Now()
	received := domain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, provider, event.ProviderEventID)
		if err != nil {
			return err
		}
		if stored == nil {
			return domain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			return nil
		}
	}

	payment, err := s.applyEvent(ctx, event)
	if err != nil {
		return err
	}

	var paymentID, orgID *snowflake.ID
	if payment != nil {
		paymentID, orgID = &payment.ID, &payment.OrgID
	}
	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, paymentID, orgID, now); err != nil {
		return err
	}
	if inserted {
		s.obsMetrics.RecordPaymentEvent(ctx, provider, event.Type)
	}
	return nil
}

func (s *Service) applyEvent(ctx context.Context, event *domain.GatewayEvent) (*domain.Payment, error) {
	payment, err := s.repo.FindByGatewayOrder(ctx, s.db, event.Provider, event.GatewayOrderID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		s.log.Warn("webhook for unknown gateway order",
			zap.String("provider", event.Provider),
			zap.String("gateway_order_id", event.GatewayOrderID),
		)
		return nil, nil
	}
	ctx = orgcontext.WithOrgID(ctx, int64(payment.OrgID))

	switch event.Type {
	case domain.EventTypePaymentCaptured:
		amount := event.Amount
		completed, changed, err := s.complete(ctx, payment.ID, event.GatewayPaymentID, &amount)
		if err != nil {
			return nil, err
		}
		if changed {
			s.afterCompleted(ctx, completed)
		}
		return completed, nil
	case domain.EventTypePaymentFailed:
		return s.fail(ctx, payment.ID, event.FailureReason)
	default:
		return nil, domain.ErrInvalidEvent
	}
}
