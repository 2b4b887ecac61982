// Package geo holds coordinate math used by route planning.
package geo

import (
	"context"
	"errors"
	"math"
)

const earthRadiusKm = 6371.0

var ErrAddressNotFound = errors.New("address_not_found")

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DistanceKm is the great-circle distance between a and b.
func DistanceKm(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := lat2 - lat1
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Angle is the polar angle of p around origin in radians, in [0, 2π).
func Angle(origin, p Point) float64 {
	theta := math.Atan2(p.Lat-origin.Lat, (p.Lng-origin.Lng)*math.Cos(radians(origin.Lat)))
	if theta < 0 {
		theta += 2 * math.Pi
	}
	return theta
}

// Centroid averages the given points. It returns false for an empty slice.
func Centroid(points []Point) (Point, bool) {
	if len(points) == 0 {
		return Point{}, false
	}
	var sum Point
	for _, p := range points {
		sum.Lat += p.Lat
		sum.Lng += p.Lng
	}
	n := float64(len(points))
	return Point{Lat: sum.Lat / n, Lng: sum.Lng / n}, true
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// Geocoder resolves a free-form address to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (Point, error)
}

// NoopGeocoder never resolves anything; planning falls back to unlocated stops.
type NoopGeocoder struct{}

func (NoopGeocoder) Geocode(context.Context, string) (Point, error) {
	return Point{}, ErrAddressNotFound
}
