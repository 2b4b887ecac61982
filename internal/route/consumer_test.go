package route

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/dairyroute/internal/events"
	"github.com/smallbiznis/dairyroute/internal/orgcontext"
	"github.com/smallbiznis/dairyroute/internal/route/domain"
	"github.com/smallbiznis/dairyroute/internal/route/repository"
	"github.com/smallbiznis/dairyroute/pkg/db/dbtest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type fakePlanner struct {
	domain.Service
	requests []domain.PlanRequest
}

func (f *fakePlanner) PlanDate(_ context.Context, req domain.PlanRequest) (domain.PlanSummary, error) {
	f.requests = append(f.requests, req)
	return domain.PlanSummary{Date: req.Date, Assigned: 1}, nil
}

func scheduledEvent(date string) events.DomainEvent {
	return events.DomainEvent{
		ID:        1,
		OrgID:     10,
		EventType: events.EventDeliveryScheduled,
		Payload:   datatypes.JSONMap{"delivery_id": "99", "delivery_date": date},
	}
}

func TestConsumerFoldsIntoPlannedRoutesOnly(t *testing.T) {
	db := dbtest.Open(t, &domain.Route{})
	date := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create([]domain.Route{
		{ID: 1, OrgID: 10, AgentID: 100, RouteDate: date, Status: domain.RouteStatusPlanned, CreatedAt: now, UpdatedAt: now},
		{ID: 2, OrgID: 10, AgentID: 200, RouteDate: date, Status: domain.RouteStatusInProgress, CreatedAt: now, UpdatedAt: now},
		{ID: 3, OrgID: 11, AgentID: 300, RouteDate: date, Status: domain.RouteStatusPlanned, CreatedAt: now, UpdatedAt: now},
	}).Error)

	planner := &fakePlanner{}
	c := NewConsumer(ConsumerParams{DB: db, Log: zap.NewNop(), Repo: repository.Provide(), Svc: planner})
	ctx := orgcontext.WithOrgID(context.Background(), 10)

	require.NoError(t, c.HandleScheduled(ctx, scheduledEvent("2024-01-02")))
	require.Len(t, planner.requests, 1)
	require.True(t, planner.requests[0].Date.Equal(date))
	require.Len(t, planner.requests[0].AgentIDs, 1)
	require.Equal(t, int64(100), planner.requests[0].AgentIDs[0].Int64())
}

func TestConsumerLeavesUnplannedDatesForNightlyRun(t *testing.T) {
	db := dbtest.Open(t, &domain.Route{})
	planner := &fakePlanner{}
	c := NewConsumer(ConsumerParams{DB: db, Log: zap.NewNop(), Repo: repository.Provide(), Svc: planner})
	ctx := orgcontext.WithOrgID(context.Background(), 10)

	require.NoError(t, c.HandleScheduled(ctx, scheduledEvent("2024-01-05")))
	require.NoError(t, c.HandleScheduled(ctx, scheduledEvent("not-a-date")))
	require.Empty(t, planner.requests)
}

func TestConsumerRequiresOrganization(t *testing.T) {
	c := NewConsumer(ConsumerParams{Log: zap.NewNop(), Svc: &fakePlanner{}})

	err := c.HandleScheduled(context.Background(), scheduledEvent("2024-01-02"))
	require.ErrorIs(t, err, domain.ErrInvalidOrganization)
}
