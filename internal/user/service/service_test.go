package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dairyroute/internal/clock"
	"github.com/smallbiznis/dairyroute/internal/geo"
	"github.com/smallbiznis/dairyroute/internal/orgcontext"
	"github.com/smallbiznis/dairyroute/internal/user/domain"
	"github.com/smallbiznis/dairyroute/internal/user/repository"
	"github.com/smallbiznis/dairyroute/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubGeocoder struct {
	point geo.Point
	calls int
}

func (g *stubGeocoder) Geocode(context.Context, string) (geo.Point, error) {
	g.calls++
	return g.point, nil
}

func newTestService(t *testing.T, geocoder geo.Geocoder) (*Service, context.Context) {
	t.Helper()
	db := dbtest.Open(t, &domain.User{}, &domain.Address{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clock.NewFakeClock(time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)),
		Repo:     repository.Provide(),
		Geocoder: geocoder,
	}).(*Service)
	return svc, orgcontext.WithOrgID(context.Background(), 42)
}

func TestCreateUserValidatesAndRejectsDuplicatePhone(t *testing.T) {
	svc, ctx := newTestService(t, nil)

	_, err := svc.Create(ctx, domain.CreateUserRequest{Name: " ", Phone: "9000000001"})
	assert.ErrorIs(t, err, domain.ErrInvalidName)

	_, err = svc.Create(ctx, domain.CreateUserRequest{Name: "Asha", Phone: "9000000001", Role: "driver"})
	assert.ErrorIs(t, err, domain.ErrInvalidRole)

	created, err := svc.Create(ctx, domain.CreateUserRequest{Name: "Asha", Phone: "9000000001"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCustomer, created.Role)

	_, err = svc.Create(ctx, domain.CreateUserRequest{Name: "Other", Phone: "9000000001"})
	assert.ErrorIs(t, err, domain.ErrDuplicatePhone)

	_, err = svc.Create(context.Background(), domain.CreateUserRequest{Name: "Asha", Phone: "1"})
	assert.ErrorIs(t, err, domain.ErrInvalidOrganization)
}

func TestAvailableAgentIDs(t *testing.T) {
	svc, ctx := newTestService(t, nil)

	first, err := svc.Create(ctx, domain.CreateUserRequest{Name: "Ravi", Phone: "1", Role: domain.RoleAgent})
	require.NoError(t, err)
	second, err := svc.Create(ctx, domain.CreateUserRequest{Name: "Meena", Phone: "2", Role: domain.RoleAgent})
	require.NoError(t, err)
	customer, err := svc.Create(ctx, domain.CreateUserRequest{Name: "Asha", Phone: "3"})
	require.NoError(t, err)

	ids, err := svc.AvailableAgentIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = svc.SetAvailability(ctx, second.ID.String(), true)
	require.NoError(t, err)
	_, err = svc.SetAvailability(ctx, customer.ID.String(), true)
	assert.ErrorIs(t, err, domain.ErrNotAgent)

	ids, err = svc.AvailableAgentIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{second.ID}, ids)

	all, err := svc.ListAgents(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)
}

func TestAddAddressGeocodesWhenUnlocated(t *testing.T) {
	geocoder := &stubGeocoder{point: geo.Point{Lat: 12.97, Lng: 77.59}}
	svc, ctx := newTestService(t, geocoder)

	owner, err := svc.Create(ctx, domain.CreateUserRequest{Name: "Asha", Phone: "1"})
	require.NoError(t, err)
	ctx = orgcontext.WithActor(ctx, owner.ID, orgcontext.RoleCustomer)

	address, err := svc.AddAddress(ctx, domain.CreateAddressRequest{
		Line1:     "12 MG Road",
		City:      "Bengaluru",
		Pincode:   "560001",
		IsDefault: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, geocoder.calls)
	point, ok := address.Point()
	require.True(t, ok)
	assert.InDelta(t, 12.97, point.Lat, 1e-9)

	lat, lng := 12.9, 77.6
	second, err := svc.AddAddress(ctx, domain.CreateAddressRequest{
		Line1:     "4 Church St",
		City:      "Bengaluru",
		Pincode:   "560001",
		Lat:       &lat,
		Lng:       &lng,
		IsDefault: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, geocoder.calls)

	addresses, err := svc.ListAddresses(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, addresses, 2)
	assert.Equal(t, second.ID, addresses[0].ID)
	assert.True(t, addresses[0].IsDefault)
	assert.False(t, addresses[1].IsDefault)

	_, err = svc.AddAddress(ctx, domain.CreateAddressRequest{Line1: "x", City: "y", Pincode: "z", Lat: &lat})
	assert.ErrorIs(t, err, domain.ErrInvalidCoordinates)
}
