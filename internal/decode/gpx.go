package decode

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/tkrajina/gpxgo/gpx"

	"hotpot/internal/track"
)

// GPX decodes a GPX document. All tracks and segments are
// concatenated in document order.
func GPX(data []byte) (*Activity, error) {
	doc, err := gpx.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse gpx: %w", err)
	}

	a := &Activity{Properties: map[string]any{}}
	if doc.Creator != "" {
		a.Properties["creator"] = doc.Creator
	}

	for ti := range doc.Tracks {
		trk := &doc.Tracks[ti]
		if a.Title == nil && trk.Name != "" {
			name := trk.Name
			a.Title = &name
		}
		if a.Properties["activity_type"] == nil && trk.Type != "" {
			a.Properties["activity_type"] = trk.Type
		}

		for si := range trk.Segments {
			for pi := range trk.Segments[si].Points {
				p := &trk.Segments[si].Points[pi]

				s := track.Sample{
					Point: orb.Point{p.Longitude, p.Latitude},
					Time:  p.Timestamp,
				}
				if p.Elevation.NotNull() {
					ele := p.Elevation.Value()
					s.Elevation = &ele
				}
				a.Samples = append(a.Samples, s)
			}
		}
	}

	if len(a.Samples) == 0 {
		return nil, fmt.Errorf("gpx contains no track points")
	}

	if ts := a.Samples[0].Time; !ts.IsZero() {
		start := ts
		a.StartTime = &start
	}
	return a, nil
}
