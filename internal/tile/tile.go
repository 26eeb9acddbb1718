// Package tile implements the Web-Mercator projection and the
// tile/pixel quantization used by the rest of the system. All stored
// geometry lives at SourceZoom; lower zooms are derived at render time.
package tile

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

const (
	// SourceZoom is the zoom level activity pixels are stored at.
	SourceZoom = 16

	// TilePixels is the width and height of a tile in pixels.
	TilePixels = 256

	// MaxLatitude is the Web-Mercator latitude cutoff.
	MaxLatitude = 85.0511
)

// Tile identifies one slippy-map tile.
type Tile struct {
	Z uint8
	X uint32
	Y uint32
}

// Pixel is a position within a single tile, 0 <= X,Y < TilePixels.
type Pixel struct {
	X uint16
	Y uint16
}

// Index returns the pixel's row-major index within its tile.
func (p Pixel) Index() uint16 {
	return p.Y*TilePixels + p.X
}

// PixelAt returns the pixel for a row-major index.
func PixelAt(index uint16) Pixel {
	return Pixel{X: index % TilePixels, Y: index / TilePixels}
}

func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// ParseTile parses a "z/x/y" string.
func ParseTile(s string) (Tile, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return Tile{}, fmt.Errorf("invalid tile format: %q", s)
	}

	z, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return Tile{}, fmt.Errorf("invalid z: %q", parts[0])
	}
	x, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Tile{}, fmt.Errorf("invalid x: %q", parts[1])
	}
	y, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return Tile{}, fmt.Errorf("invalid y: %q", parts[2])
	}

	return Tile{Z: uint8(z), X: uint32(x), Y: uint32(y)}, nil
}

// Parent returns this tile's ancestor at zoom z.
func (t Tile) Parent(z uint8) Tile {
	if z >= t.Z {
		return t
	}
	steps := t.Z - z
	return Tile{Z: z, X: t.X >> steps, Y: t.Y >> steps}
}

// Bounds returns the geographic rectangle covered by the tile as an
// orb.Bound (min = west/south, max = east/north).
func (t Tile) Bounds() orb.Bound {
	n := float64(uint64(1) << t.Z)
	west, north := fromNormalized(float64(t.X)/n, float64(t.Y)/n)
	east, south := fromNormalized(float64(t.X+1)/n, float64(t.Y+1)/n)
	return orb.Bound{
		Min: orb.Point{west, south},
		Max: orb.Point{east, north},
	}
}

// GlobalPixel is an absolute pixel position at a given zoom, spanning
// [0, 2^z * TilePixels) on each axis.
type GlobalPixel struct {
	X int64
	Y int64
}

// Tile returns the tile containing this global pixel.
func (g GlobalPixel) Tile(z uint8) Tile {
	return Tile{Z: z, X: uint32(g.X / TilePixels), Y: uint32(g.Y / TilePixels)}
}

// Pixel returns the position within the containing tile.
func (g GlobalPixel) Pixel() Pixel {
	return Pixel{X: uint16(g.X % TilePixels), Y: uint16(g.Y % TilePixels)}
}

// Normalized maps a geographic coordinate to normalized mercator
// position (u, v in [0, 1]). Latitude is clamped to the Web-Mercator
// bounds, longitude is wrapped into [-180, 180).
func Normalized(lat, lon float64) (u, v float64) {
	if lat > MaxLatitude {
		lat = MaxLatitude
	} else if lat < -MaxLatitude {
		lat = -MaxLatitude
	}
	for lon < -180 {
		lon += 360
	}
	for lon >= 180 {
		lon -= 360
	}

	latRad := lat * math.Pi / 180
	u = (lon + 180) / 360
	v = (1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2
	return u, v
}

// GeoAt returns the geographic coordinate at a normalized mercator
// position.
func GeoAt(u, v float64) (lat, lon float64) {
	lon, lat = fromNormalized(u, v)
	return lat, lon
}

// Project maps a geographic coordinate to the global pixel grid at
// zoom z.
func Project(lat, lon float64, z uint8) GlobalPixel {
	u, v := Normalized(lat, lon)

	extent := float64(int64(TilePixels) << z)
	gx := int64(u * extent)
	gy := int64(v * extent)

	// The antimeridian and south cutoff land exactly on the grid edge.
	max := (int64(TilePixels) << z) - 1
	if gx > max {
		gx = max
	}
	if gy > max {
		gy = max
	}
	if gx < 0 {
		gx = 0
	}
	if gy < 0 {
		gy = 0
	}

	return GlobalPixel{X: gx, Y: gy}
}

// ProjectToTile is Project followed by splitting into tile and pixel.
func ProjectToTile(lat, lon float64, z uint8) (Tile, Pixel) {
	g := Project(lat, lon, z)
	return g.Tile(z), g.Pixel()
}

// Unproject returns the geographic coordinate of a global pixel's
// center at zoom z.
func Unproject(g GlobalPixel, z uint8) (lat, lon float64) {
	extent := float64(int64(TilePixels) << z)
	lon, lat = fromNormalized((float64(g.X)+0.5)/extent, (float64(g.Y)+0.5)/extent)
	return lat, lon
}

// fromNormalized maps normalized mercator coordinates (u, v in [0, 1])
// to (lon, lat).
func fromNormalized(u, v float64) (lon, lat float64) {
	lon = u*360 - 180
	lat = math.Atan(math.Sinh(math.Pi*(1-2*v))) * 180 / math.Pi
	return lon, lat
}

// TileBounds is a half-open range of tiles at one zoom level,
// [XMin, XMax) x [YMin, YMax).
type TileBounds struct {
	Z    uint8
	XMin uint32
	YMin uint32
	XMax uint32
	YMax uint32
}

// Cover returns the source-zoom tiles covered by t. Source must be at
// least t.Z.
func Cover(source uint8, t Tile) TileBounds {
	steps := source - t.Z
	return TileBounds{
		Z:    source,
		XMin: t.X << steps,
		YMin: t.Y << steps,
		XMax: (t.X + 1) << steps,
		YMax: (t.Y + 1) << steps,
	}
}

// CoverBounds returns the source-zoom tiles covering a geographic
// bounding box.
func CoverBounds(west, south, east, north float64, source uint8) TileBounds {
	nw := Project(north, west, source)
	se := Project(south, east, source)

	return TileBounds{
		Z:    source,
		XMin: uint32(nw.X / TilePixels),
		YMin: uint32(nw.Y / TilePixels),
		XMax: uint32(se.X/TilePixels) + 1,
		YMax: uint32(se.Y/TilePixels) + 1,
	}
}

// Contains reports whether tile (x, y) at the bounds' zoom is inside.
func (b TileBounds) Contains(x, y uint32) bool {
	return x >= b.XMin && x < b.XMax && y >= b.YMin && y < b.YMax
}
