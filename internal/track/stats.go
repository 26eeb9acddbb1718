package track

import (
	"math"

	"github.com/paulmach/orb/geo"
)

// Minimum elevation change (meters) to count as real gain/loss.
// Filters GPS elevation noise.
const elevationThreshold = 2.0

// Below this speed (m/s) a segment counts as stopped rather than
// moving.
const movingSpeedFloor = 0.3

const metersPerSecToKmh = 3.6

// Stats computes the derived activity properties: distances in km,
// times in seconds, elevations in meters, speeds in km/h. Only keys
// whose inputs are present in the samples appear in the result.
func Stats(samples []Sample) map[string]any {
	props := make(map[string]any)

	if dist, ok := totalDistance(samples); ok {
		props["total_distance"] = dist / 1000
	}

	if ts, ok := timeStats(samples); ok {
		props["elapsed_time"] = ts.elapsed
		props["moving_time"] = ts.moving
		props["max_speed"] = ts.maxSpeed
		if dist, ok := totalDistance(samples); ok && ts.moving > 0 {
			props["average_speed"] = dist / float64(ts.moving) * metersPerSecToKmh
		}
	}

	if es, ok := elevationStats(samples); ok {
		props["elevation_gain"] = es.gain
		props["elevation_loss"] = es.loss
		props["min_elevation"] = es.min
		props["max_elevation"] = es.max
	}

	return props
}

func totalDistance(samples []Sample) (float64, bool) {
	if len(samples) < 2 {
		return 0, false
	}

	total := 0.0
	for i := 1; i < len(samples); i++ {
		d := geo.Distance(samples[i-1].Point, samples[i].Point)
		if d > MaxSegmentMeters {
			continue
		}
		total += d
	}
	return total, true
}

type timeSpeed struct {
	elapsed  int64
	moving   int64
	maxSpeed float64
}

func timeStats(samples []Sample) (timeSpeed, bool) {
	var first, last int
	for first = 0; first < len(samples) && samples[first].Time.IsZero(); first++ {
	}
	for last = len(samples) - 1; last >= 0 && samples[last].Time.IsZero(); last-- {
	}
	if first >= last {
		return timeSpeed{}, false
	}

	ts := timeSpeed{
		elapsed: samples[last].Time.Unix() - samples[first].Time.Unix(),
	}

	for i := first + 1; i <= last; i++ {
		a, b := samples[i-1], samples[i]
		if a.Time.IsZero() || b.Time.IsZero() {
			continue
		}

		dt := b.Time.Unix() - a.Time.Unix()
		if dt <= 0 {
			continue
		}

		dist := geo.Distance(a.Point, b.Point)
		if dist > MaxSegmentMeters {
			continue
		}

		speed := dist / float64(dt)
		if speed < movingSpeedFloor {
			continue
		}

		ts.moving += dt
		ts.maxSpeed = math.Max(ts.maxSpeed, speed*metersPerSecToKmh)
	}

	return ts, true
}

type elevation struct {
	gain, loss, min, max float64
}

func elevationStats(samples []Sample) (elevation, bool) {
	var values []float64
	for _, s := range samples {
		if s.Elevation != nil {
			values = append(values, *s.Elevation)
		}
	}
	if len(values) < 2 {
		return elevation{}, false
	}

	base := values[0]
	es := elevation{min: base, max: base}

	for _, v := range values[1:] {
		es.min = math.Min(es.min, v)
		es.max = math.Max(es.max, v)

		diff := v - base
		if diff >= elevationThreshold {
			es.gain += diff
			base = v
		} else if diff <= -elevationThreshold {
			es.loss += -diff
			base = v
		}
	}

	return es, true
}
