package planner

import (
	"testing"

	"github.com/smallbiznis/dairyroute/internal/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(key int64, lat, lng float64) Stop {
	return Stop{Key: key, Point: geo.Point{Lat: lat, Lng: lng}, Located: true}
}

func keys(stops []Stop) []int64 {
	out := make([]int64, 0, len(stops))
	for _, s := range stops {
		out = append(out, s.Key)
	}
	return out
}

func TestPartitionBalancesSectors(t *testing.T) {
	depot := Options{Depot: geo.Point{Lat: 12.0, Lng: 77.0}, HasDepot: true}
	stops := []Stop{
		at(1, 12.01, 77.01), at(2, 12.02, 77.01), // north-east
		at(3, 11.99, 76.99), at(4, 11.98, 76.99), // south-west
		{Key: 5},
	}

	sectors := Partition(stops, 2, depot)
	require.Len(t, sectors, 2)
	assert.Len(t, sectors[0], 3)
	assert.Len(t, sectors[1], 2)

	seen := map[int64]int{}
	for _, sector := range sectors {
		for _, stop := range sector {
			seen[stop.Key]++
		}
	}
	assert.Len(t, seen, 5)
	for key, count := range seen {
		assert.Equalf(t, 1, count, "stop %d placed %d times", key, count)
	}
	assert.ElementsMatch(t, []int64{1, 2}, keys(sectors[0])[:2])
}

func TestPartitionWithoutAgents(t *testing.T) {
	assert.Nil(t, Partition([]Stop{at(1, 0, 0)}, 0, Options{}))
}

func TestSequenceNearestNeighborFromDepot(t *testing.T) {
	opts := Options{Depot: geo.Point{Lat: 0, Lng: 0}, HasDepot: true, SpeedKmh: 30, ServiceMinutes: 2}
	stops := []Stop{at(1, 0, 0.03), {Key: 9}, at(2, 0, 0.01), at(3, 0, 0.02)}

	ordered := Sequence(stops, opts)
	assert.Equal(t, []int64{2, 3, 1, 9}, keys(ordered))

	km, minutes := Measure(ordered, opts)
	assert.InDelta(t, geo.DistanceKm(geo.Point{}, geo.Point{Lng: 0.03}), km, 0.01)
	assert.Equal(t, int(8+km/30*60+0.5), minutes)
}

func TestSequenceWithoutDepotStartsAtFirstStop(t *testing.T) {
	stops := []Stop{at(1, 0, 0.02), at(2, 0, 0), at(3, 0, 0.01)}
	ordered := Sequence(stops, Options{})
	assert.Equal(t, []int64{1, 3, 2}, keys(ordered))

	km, _ := Measure(ordered, Options{})
	assert.InDelta(t, geo.DistanceKm(geo.Point{}, geo.Point{Lng: 0.02}), km, 0.01)
}
