// Package planner groups located stops into per-agent sectors and orders each
// sector into a drive sequence. It has no storage dependencies.
package planner

import (
	"math"
	"sort"

	"github.com/smallbiznis/dairyroute/internal/geo"
)

// Stop is one unit of work to place. Key is opaque to the planner.
type Stop struct {
	Key     int64
	Point   geo.Point
	Located bool
}

type Options struct {
	Depot          geo.Point
	HasDepot       bool
	SpeedKmh       float64
	ServiceMinutes float64
}

// Partition splits stops into n sectors by sweeping around the depot, or the
// centroid of the located stops when no depot is configured. Sector sizes
// differ by at most one. Unlocated stops fill the smallest sectors last.
func Partition(stops []Stop, n int, opts Options) [][]Stop {
	if n <= 0 {
		return nil
	}
	sectors := make([][]Stop, n)
	if len(stops) == 0 {
		return sectors
	}

	var located, unlocated []Stop
	for _, stop := range stops {
		if stop.Located {
			located = append(located, stop)
		} else {
			unlocated = append(unlocated, stop)
		}
	}

	origin := opts.Depot
	if !opts.HasDepot {
		points := make([]geo.Point, 0, len(located))
		for _, stop := range located {
			points = append(points, stop.Point)
		}
		origin, _ = geo.Centroid(points)
	}

	sort.SliceStable(located, func(i, j int) bool {
		ai, aj := geo.Angle(origin, located[i].Point), geo.Angle(origin, located[j].Point)
		if ai != aj {
			return ai < aj
		}
		return located[i].Key < located[j].Key
	})

	total := len(stops)
	quota := make([]int, n)
	for i := range quota {
		quota[i] = total / n
		if i < total%n {
			quota[i]++
		}
	}

	sector := 0
	for _, stop := range located {
		for sector < n-1 && len(sectors[sector]) >= quota[sector] {
			sector++
		}
		sectors[sector] = append(sectors[sector], stop)
	}
	for _, stop := range unlocated {
		smallest := 0
		for i := 1; i < n; i++ {
			if len(sectors[i]) < len(sectors[smallest]) {
				smallest = i
			}
		}
		sectors[smallest] = append(sectors[smallest], stop)
	}
	return sectors
}

// Sequence orders stops nearest-neighbor starting at the depot, or at the
// first located stop when there is none. Unlocated stops go last in input order.
func Sequence(stops []Stop, opts Options) []Stop {
	var pending, unlocated []Stop
	for _, stop := range stops {
		if stop.Located {
			pending = append(pending, stop)
		} else {
			unlocated = append(unlocated, stop)
		}
	}

	ordered := make([]Stop, 0, len(stops))
	if len(pending) > 0 {
		var current geo.Point
		if opts.HasDepot {
			current = opts.Depot
		} else {
			current = pending[0].Point
		}
		for len(pending) > 0 {
			best, bestDist := 0, math.Inf(1)
			for i, stop := range pending {
				d := geo.DistanceKm(current, stop.Point)
				if d < bestDist || (d == bestDist && stop.Key < pending[best].Key) {
					best, bestDist = i, d
				}
			}
			ordered = append(ordered, pending[best])
			current = pending[best].Point
			pending = append(pending[:best], pending[best+1:]...)
		}
	}
	return append(ordered, unlocated...)
}

// Measure returns the driven distance in km along the sequence, starting at the
// depot when one is set, and the estimated minutes including per-stop service time.
func Measure(sequence []Stop, opts Options) (float64, int) {
	var (
		distance float64
		current  geo.Point
		started  bool
	)
	if opts.HasDepot {
		current, started = opts.Depot, true
	}
	for _, stop := range sequence {
		if !stop.Located {
			continue
		}
		if started {
			distance += geo.DistanceKm(current, stop.Point)
		}
		current, started = stop.Point, true
	}

	minutes := opts.ServiceMinutes * float64(len(sequence))
	if opts.SpeedKmh > 0 {
		minutes += distance / opts.SpeedKmh * 60
	}
	return math.Round(distance*1000) / 1000, int(math.Round(minutes))
}
