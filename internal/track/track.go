// Package track converts decoded GPS samples into per-tile pixel
// visits at the source zoom, and derives summary statistics.
package track

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"hotpot/internal/tile"
)

// MaxSegmentMeters is how far apart two consecutive samples can be
// before the segment is treated as a gap in the recording.
const MaxSegmentMeters = 5000.0

// Sample is one decoded trackpoint. Time and Elevation are optional.
type Sample struct {
	Point     orb.Point // lon, lat
	Time      time.Time
	Elevation *float64
}

// Visits maps each traversed source-zoom tile to the set of visited
// pixel indices. A pixel is recorded at most once per activity.
type Visits map[tile.Tile]map[uint16]struct{}

func (v Visits) visit(g tile.GlobalPixel) {
	t := g.Tile(tile.SourceZoom)
	pixels, ok := v[t]
	if !ok {
		pixels = make(map[uint16]struct{})
		v[t] = pixels
	}
	pixels[g.Pixel().Index()] = struct{}{}
}

// Simplify projects samples to the source-zoom pixel grid and walks
// each segment, returning the visited pixels per tile. trimDist meters
// are discarded from both ends of the track.
func Simplify(samples []Sample, trimDist float64) Visits {
	samples = Trim(samples, trimDist)

	visits := make(Visits)
	if len(samples) < 2 {
		return visits
	}

	prev := tile.Project(samples[0].Point[1], samples[0].Point[0], tile.SourceZoom)
	for i := 1; i < len(samples); i++ {
		if geo.Distance(samples[i-1].Point, samples[i].Point) > MaxSegmentMeters {
			prev = tile.Project(samples[i].Point[1], samples[i].Point[0], tile.SourceZoom)
			continue
		}

		next := tile.Project(samples[i].Point[1], samples[i].Point[0], tile.SourceZoom)
		if next == prev {
			continue
		}

		walkSegment(prev, next, visits)
		prev = next
	}

	return visits
}

// Trim drops samples from the head while the cumulative distance from
// the first kept sample is under trimDist, and symmetrically from the
// tail. Returns nil when fewer than two samples survive.
func Trim(samples []Sample, trimDist float64) []Sample {
	if trimDist <= 0 || len(samples) == 0 {
		return samples
	}

	start := -1
	acc := 0.0
	for i := 1; i < len(samples); i++ {
		acc += geo.Distance(samples[i-1].Point, samples[i].Point)
		if acc >= trimDist {
			start = i
			break
		}
	}
	if start < 0 {
		return nil
	}

	end := -1
	acc = 0.0
	for i := len(samples) - 1; i > 0; i-- {
		acc += geo.Distance(samples[i-1].Point, samples[i].Point)
		if acc >= trimDist {
			end = i - 1
			break
		}
	}
	if end < start {
		return nil
	}
	return samples[start : end+1]
}

// walkSegment rasterizes the line between two global pixels using
// Bresenham's algorithm, inserting every traversed pixel.
func walkSegment(a, b tile.GlobalPixel, visits Visits) {
	x0, y0 := a.X, a.Y
	x1, y1 := b.X, b.Y

	dx := abs64(x1 - x0)
	dy := -abs64(y1 - y0)

	sx := int64(1)
	if x0 > x1 {
		sx = -1
	}
	sy := int64(1)
	if y0 > y1 {
		sy = -1
	}

	err := dx + dy
	for {
		visits.visit(tile.GlobalPixel{X: x0, Y: y0})
		if x0 == x1 && y0 == y1 {
			return
		}

		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
