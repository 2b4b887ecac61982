package geo

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceKm(t *testing.T) {
	mumbai := Point{Lat: 19.0760, Lng: 72.8777}
	pune := Point{Lat: 18.5204, Lng: 73.8567}

	d := DistanceKm(mumbai, pune)
	assert.InDelta(t, 120, d, 5)
	assert.InDelta(t, d, DistanceKm(pune, mumbai), 1e-9)
	assert.Zero(t, DistanceKm(pune, pune))
}

func TestAngle(t *testing.T) {
	origin := Point{}
	assert.InDelta(t, 0, Angle(origin, Point{Lat: 0, Lng: 1}), 1e-9)
	assert.InDelta(t, math.Pi/2, Angle(origin, Point{Lat: 1, Lng: 0}), 1e-9)
	assert.InDelta(t, 3*math.Pi/2, Angle(origin, Point{Lat: -1, Lng: 0}), 1e-9)
}

func TestCentroid(t *testing.T) {
	_, ok := Centroid(nil)
	assert.False(t, ok)

	c, ok := Centroid([]Point{{Lat: 0, Lng: 0}, {Lat: 2, Lng: 4}})
	assert.True(t, ok)
	assert.Equal(t, Point{Lat: 1, Lng: 2}, c)
}

func TestNoopGeocoder(t *testing.T) {
	_, err := NoopGeocoder{}.Geocode(context.Background(), "12 Main Road")
	assert.ErrorIs(t, err, ErrAddressNotFound)
}
