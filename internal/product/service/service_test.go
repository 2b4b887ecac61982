package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/dairyroute/internal/clock"
	"github.com/smallbiznis/dairyroute/internal/orgcontext"
	"github.com/smallbiznis/dairyroute/internal/product/domain"
	"github.com/smallbiznis/dairyroute/internal/product/repository"
	"github.com/smallbiznis/dairyroute/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (domain.Service, context.Context) {
	t.Helper()
	db := dbtest.Open(t, &domain.Product{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
	return svc, orgcontext.WithOrgID(context.Background(), 7)
}

func TestCreateProductSlugAndPrice(t *testing.T) {
	svc, ctx := newTestService(t)

	created, err := svc.Create(ctx, domain.CreateRequest{
		Name:  "Toned Milk 500ml",
		Unit:  "packet",
		Price: decimal.RequireFromString("27.456"),
	})
	require.NoError(t, err)
	assert.Equal(t, "toned-milk-500ml", created.Slug)
	assert.Equal(t, "27.46", created.Price.StringFixed(2))
	assert.True(t, created.Active)

	_, err = svc.Create(ctx, domain.CreateRequest{Name: "Toned Milk 500ml", Unit: "packet", Price: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, domain.ErrDuplicateSlug)

	_, err = svc.Create(ctx, domain.CreateRequest{Name: "Curd", Unit: "cup", Price: decimal.Zero})
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)

	_, err = svc.Create(ctx, domain.CreateRequest{Name: "Curd", Price: decimal.NewFromInt(30)})
	assert.ErrorIs(t, err, domain.ErrInvalidUnit)
}

func TestUpdateAndListProducts(t *testing.T) {
	svc, ctx := newTestService(t)

	curd, err := svc.Create(ctx, domain.CreateRequest{Name: "Curd", Unit: "cup", Price: decimal.NewFromInt(30)})
	require.NoError(t, err)
	_, err = svc.Create(ctx, domain.CreateRequest{Name: "Butter", Unit: "pack", Price: decimal.NewFromInt(55)})
	require.NoError(t, err)

	price := decimal.RequireFromString("32.50")
	inactive := false
	updated, err := svc.Update(ctx, domain.UpdateRequest{ID: curd.ID, Price: &price, Active: &inactive})
	require.NoError(t, err)
	assert.True(t, updated.Price.Equal(price))
	assert.False(t, updated.Active)

	fetched, err := svc.Get(ctx, curd.ID)
	require.NoError(t, err)
	assert.Equal(t, "32.50", fetched.Price.StringFixed(2))

	active := true
	listed, err := svc.List(ctx, domain.ListRequest{Active: &active})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "Butter", listed[0].Name)

	all, err := svc.List(ctx, domain.ListRequest{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Butter", all[0].Name)

	_, err = svc.Get(ctx, "not-an-id")
	assert.ErrorIs(t, err, domain.ErrInvalidID)
	_, err = svc.Get(ctx, "12345")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
