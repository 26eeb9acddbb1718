package decode

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"hotpot/internal/track"
)

type tcxDocument struct {
	Activities struct {
		Activity []tcxActivity `xml:"Activity"`
	} `xml:"Activities"`
}

type tcxActivity struct {
	Sport string   `xml:"Sport,attr"`
	Laps  []tcxLap `xml:"Lap"`
}

type tcxLap struct {
	Tracks []struct {
		Trackpoints []tcxTrackpoint `xml:"Trackpoint"`
	} `xml:"Track"`
}

type tcxTrackpoint struct {
	Time     time.Time `xml:"Time"`
	Position *struct {
		Lat float64 `xml:"LatitudeDegrees"`
		Lon float64 `xml:"LongitudeDegrees"`
	} `xml:"Position"`
	Altitude *float64 `xml:"AltitudeMeters"`
}

// TCX decodes a Training Center XML document. Trackpoints without a
// position (for example indoor workouts) are dropped.
func TCX(data []byte) (*Activity, error) {
	var doc tcxDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse tcx: %w", err)
	}

	a := &Activity{Properties: map[string]any{}}

	for _, act := range doc.Activities.Activity {
		if a.Properties["activity_type"] == nil && act.Sport != "" {
			a.Properties["activity_type"] = strings.ToLower(act.Sport)
		}

		for _, lap := range act.Laps {
			for _, trk := range lap.Tracks {
				for _, tp := range trk.Trackpoints {
					if tp.Position == nil {
						continue
					}

					s := track.Sample{
						Point:     orb.Point{tp.Position.Lon, tp.Position.Lat},
						Time:      tp.Time,
						Elevation: tp.Altitude,
					}
					a.Samples = append(a.Samples, s)
				}
			}
		}
	}

	if len(a.Samples) == 0 {
		return nil, fmt.Errorf("tcx contains no track points")
	}

	if ts := a.Samples[0].Time; !ts.IsZero() {
		start := ts
		a.StartTime = &start
	}
	return a, nil
}
