package strava

import (
	"context"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/paulmach/orb"
	polyline "github.com/twpayne/go-polyline"

	"hotpot/internal/metrics"
	"hotpot/internal/track"
)

// Activity is the subset of Strava's activity detail we use directly.
// The full payload is kept in raw so Properties can flatten every
// scalar field without naming each one.
type Activity struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	StartDate time.Time `json:"start_date"`
	Map       struct {
		Polyline        string `json:"polyline"`
		SummaryPolyline string `json:"summary_polyline"`
	} `json:"map"`
	Gear *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"gear"`

	raw map[string]any
}

// Keys whose values are large nested payloads with no use as filter
// properties.
var skippedKeys = map[string]bool{
	"map":                  true,
	"segment_efforts":      true,
	"splits_metric":        true,
	"splits_standard":      true,
	"laps":                 true,
	"photos":               true,
	"highlighted_kudosers": true,
	"gear":                 true,
	"athlete":              true,
	"name":                 true,
}

// GetActivity fetches one activity's detail payload.
func (c *Client) GetActivity(ctx context.Context, activityID int64) (*Activity, error) {
	body, err := c.apiGet(ctx, metrics.OpGetActivity, fmt.Sprintf("/activities/%d", activityID))
	if err != nil {
		return nil, fmt.Errorf("failed to get activity %d: %w", activityID, err)
	}
	return parseActivity(body)
}

func parseActivity(body []byte) (*Activity, error) {
	var a Activity
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal activity: %w", err)
	}
	if err := json.Unmarshal(body, &a.raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal activity: %w", err)
	}
	return &a, nil
}

// Properties flattens the activity into scalar filter properties. A
// few fields get friendlier names so Strava imports share a vocabulary
// with file-based imports; everything else scalar comes along as-is.
func (a *Activity) Properties() map[string]any {
	props := make(map[string]any)

	for key, value := range a.raw {
		if skippedKeys[key] {
			continue
		}
		switch value.(type) {
		case string, float64, bool:
			props[key] = value
		}
	}

	if a.Type != "" {
		props["activity_type"] = strings.ToLower(a.Type)
		delete(props, "type")
	}
	if gain, ok := a.raw["total_elevation_gain"].(float64); ok {
		props["elevation_gain"] = gain
		delete(props, "total_elevation_gain")
	}
	if a.Gear != nil {
		props["activity_gear"] = a.Gear.Name
		props["gear_id"] = a.Gear.ID
	}

	return props
}

// Samples decodes the activity polyline into track samples. The
// detailed polyline is preferred; the summary polyline is a fallback
// for payloads that omit it.
func (a *Activity) Samples() ([]track.Sample, error) {
	encoded := a.Map.Polyline
	if encoded == "" {
		encoded = a.Map.SummaryPolyline
	}
	if encoded == "" {
		return nil, nil
	}

	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode polyline: %w", err)
	}

	samples := make([]track.Sample, 0, len(coords))
	for _, c := range coords {
		// Polyline coords are lat,lng; orb points are lng,lat.
		samples = append(samples, track.Sample{Point: orb.Point{c[1], c[0]}})
	}
	return samples, nil
}
