// Package mask manages circular privacy areas. Masked pixels are
// zeroed at render time so tracks never appear near the configured
// locations.
package mask

import (
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"hotpot/internal/database"
)

// Circle is one mask with a precomputed bounding box for cheap
// intersection tests.
type Circle struct {
	Name    string
	Center  orb.Point // lon, lat
	RadiusM float64
	bound   orb.Bound
}

// Contains reports whether the point lies within the mask radius.
func (c *Circle) Contains(p orb.Point) bool {
	return geo.Distance(c.Center, p) <= c.RadiusM
}

// Registry caches the masks table in memory. Mutations write through
// to the database and refresh the cache, so render paths never touch
// the database for masking.
type Registry struct {
	db *database.DB

	mu      sync.RWMutex
	circles []Circle
}

// NewRegistry loads the current masks from the database.
func NewRegistry(db *database.DB) (*Registry, error) {
	r := &Registry{db: db}
	if err := r.refresh(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) refresh() error {
	masks, err := r.db.ListMasks()
	if err != nil {
		return err
	}

	circles := make([]Circle, 0, len(masks))
	for _, m := range masks {
		circles = append(circles, newCircle(m))
	}

	r.mu.Lock()
	r.circles = circles
	r.mu.Unlock()
	return nil
}

func newCircle(m *database.Mask) Circle {
	center := orb.Point{m.Lon, m.Lat}
	return Circle{
		Name:    m.Name,
		Center:  center,
		RadiusM: m.RadiusM,
		bound:   geo.NewBoundAroundPoint(center, m.RadiusM),
	}
}

// Add creates or updates a mask.
func (r *Registry) Add(name string, lat, lon, radiusM float64) error {
	if name == "" {
		return fmt.Errorf("mask name must not be empty")
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("invalid mask center %f, %f", lat, lon)
	}
	if radiusM <= 0 {
		return fmt.Errorf("mask radius must be positive")
	}

	if err := r.db.AddMask(&database.Mask{Name: name, Lat: lat, Lon: lon, RadiusM: radiusM}); err != nil {
		return err
	}
	return r.refresh()
}

// Remove deletes a mask by name.
func (r *Registry) Remove(name string) error {
	if err := r.db.RemoveMask(name); err != nil {
		return err
	}
	return r.refresh()
}

// List returns all masks ordered by name.
func (r *Registry) List() ([]*database.Mask, error) {
	return r.db.ListMasks()
}

// Fingerprint hashes the cached mask set. Renders produce different
// output when a mask changes, so cache validators must change too.
func (r *Registry) Fingerprint() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h := fnv.New64a()
	for _, c := range r.circles {
		fmt.Fprintf(h, "%s;%v;%v;%v|", c.Name, c.Center[0], c.Center[1], c.RadiusM)
	}
	return h.Sum64()
}

// Intersecting returns the cached masks whose bounding boxes overlap
// the given geographic bounds.
func (r *Registry) Intersecting(b orb.Bound) []Circle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var hits []Circle
	for _, c := range r.circles {
		if b.Intersects(c.bound) {
			hits = append(hits, c)
		}
	}
	return hits
}
