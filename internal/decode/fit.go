package decode

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/tormoder/fit"

	"hotpot/internal/track"
)

// FIT decodes a Garmin FIT activity file. Zwift files are skipped:
// their coordinates are virtual courses, not places the athlete has
// been.
func FIT(data []byte) (*Activity, error) {
	file, err := fit.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse fit: %w", err)
	}

	if file.FileId.Manufacturer == fit.ManufacturerZwift {
		return nil, ErrSkipped
	}

	activity, err := file.Activity()
	if err != nil {
		return nil, fmt.Errorf("fit file is not an activity: %w", err)
	}

	a := &Activity{Properties: map[string]any{}}

	for _, session := range activity.Sessions {
		if sport := sportName(session.Sport); sport != "" {
			a.Properties["activity_type"] = sport
			break
		}
	}

	for _, rec := range activity.Records {
		lat := rec.PositionLat.Degrees()
		lon := rec.PositionLong.Degrees()
		if math.IsNaN(lat) || math.IsNaN(lon) {
			continue
		}

		s := track.Sample{
			Point: orb.Point{lon, lat},
			Time:  rec.Timestamp,
		}
		if ele := rec.GetAltitudeScaled(); !math.IsNaN(ele) {
			s.Elevation = &ele
		} else if ele := rec.GetEnhancedAltitudeScaled(); !math.IsNaN(ele) {
			s.Elevation = &ele
		}
		a.Samples = append(a.Samples, s)
	}

	if len(a.Samples) == 0 {
		return nil, fmt.Errorf("fit contains no location records")
	}

	if ts := a.Samples[0].Time; !ts.IsZero() {
		start := ts
		a.StartTime = &start
	}
	return a, nil
}

func sportName(s fit.Sport) string {
	if s == fit.SportInvalid || s == fit.SportAll {
		return ""
	}
	name := strings.TrimPrefix(s.String(), "Sport")
	return strings.ToLower(name)
}
