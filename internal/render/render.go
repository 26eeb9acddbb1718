// Package render turns stored tile rows into PNG heatmaps. It streams
// matching rows from the store, sums visit counts into a u16
// accumulator grid, zeroes masked pixels and maps counts through the
// gradient LUT.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"

	"github.com/paulmach/orb"

	"hotpot/internal/database"
	"hotpot/internal/filter"
	"hotpot/internal/gradient"
	"hotpot/internal/mask"
	"hotpot/internal/tile"
)

// MaxDimension caps the longest side of a bbox render.
const MaxDimension = 2000

// ErrUnsupportedZoom is returned for tile requests deeper than the
// source zoom. Stored pixels cannot be upsampled meaningfully.
var ErrUnsupportedZoom = errors.New("zoom level not supported")

// Options style one render. Gradient and Filter must be non-nil.
type Options struct {
	Gradient *gradient.Gradient
	Filter   *filter.Filter
	Range    database.TimeRange
}

// Renderer renders heatmaps from a store and a mask registry.
type Renderer struct {
	db    *database.DB
	masks *mask.Registry
}

func New(db *database.DB, masks *mask.Registry) *Renderer {
	return &Renderer{db: db, masks: masks}
}

// RenderTile renders one XYZ tile at the given output size (256 or
// 512). A tile with no matching data renders as a fully transparent
// PNG.
func (r *Renderer) RenderTile(ctx context.Context, t tile.Tile, size int, opts Options) ([]byte, error) {
	if t.Z > tile.SourceZoom {
		return nil, ErrUnsupportedZoom
	}
	if size != 256 && size != 512 {
		return nil, fmt.Errorf("invalid tile size %d", size)
	}

	sizeLog := 8
	if size == 512 {
		sizeLog = 9
	}

	// Output pixel = (global source pixel - origin) >> shift. A
	// negative shift means one source pixel covers a block of output
	// pixels.
	steps := int(tile.SourceZoom - t.Z)
	originX := int64(t.X) << (steps + 8)
	originY := int64(t.Y) << (steps + 8)
	shift := steps + 8 - sizeLog

	g := newGrid(size, size)
	cover := tile.Cover(tile.SourceZoom, t)

	err := r.scan(ctx, cover, opts, func(row *database.TileRow) {
		baseX := int64(row.Tile.X)*tile.TilePixels - originX
		baseY := int64(row.Tile.Y)*tile.TilePixels - originY

		for _, pc := range row.Pixels {
			p := tile.PixelAt(pc.Index)
			dx := baseX + int64(p.X)
			dy := baseY + int64(p.Y)

			if shift >= 0 {
				g.add(int(dx>>shift), int(dy>>shift), uint16(pc.Count))
			} else {
				block := 1 << (-shift)
				ox := int(dx) << (-shift)
				oy := int(dy) << (-shift)
				for by := 0; by < block; by++ {
					for bx := 0; bx < block; bx++ {
						g.add(ox+bx, oy+by, uint16(pc.Count))
					}
				}
			}
		}
	})
	if err != nil {
		return nil, err
	}

	n := float64(uint64(1) << t.Z)
	r.applyMasks(g, t.Bounds(), func(x, y int) (float64, float64) {
		u := (float64(t.X) + (float64(x)+0.5)/float64(size)) / n
		v := (float64(t.Y) + (float64(y)+0.5)/float64(size)) / n
		return tile.GeoAt(u, v)
	})

	return encodePNG(g, opts.Gradient)
}

// RenderBounds renders a geographic bounding box to a width x height
// image.
func (r *Renderer) RenderBounds(ctx context.Context, west, south, east, north float64, width, height int, opts Options) ([]byte, error) {
	if width < 1 || height < 1 || width > MaxDimension || height > MaxDimension {
		return nil, fmt.Errorf("invalid render dimensions %dx%d", width, height)
	}
	if west >= east || south >= north {
		return nil, fmt.Errorf("invalid bounds")
	}

	u0, v0 := tile.Normalized(north, west)
	u1, v1 := tile.Normalized(south, east)

	extent := float64(int64(tile.TilePixels) << tile.SourceZoom)
	scaleX := float64(width) / ((u1 - u0) * extent)
	scaleY := float64(height) / ((v1 - v0) * extent)
	gx0 := u0 * extent
	gy0 := v0 * extent

	g := newGrid(width, height)
	cover := tile.CoverBounds(west, south, east, north, tile.SourceZoom)

	err := r.scan(ctx, cover, opts, func(row *database.TileRow) {
		baseX := float64(row.Tile.X) * tile.TilePixels
		baseY := float64(row.Tile.Y) * tile.TilePixels

		for _, pc := range row.Pixels {
			p := tile.PixelAt(pc.Index)
			// Floor, not truncate: pixels just west/north of the bounds
			// map to -1 and are discarded, not folded into row/column 0.
			ox := int(math.Floor((baseX + float64(p.X) + 0.5 - gx0) * scaleX))
			oy := int(math.Floor((baseY + float64(p.Y) + 0.5 - gy0) * scaleY))
			g.add(ox, oy, uint16(pc.Count))
		}
	})
	if err != nil {
		return nil, err
	}

	bounds := orb.Bound{Min: orb.Point{west, south}, Max: orb.Point{east, north}}
	r.applyMasks(g, bounds, func(x, y int) (float64, float64) {
		u := u0 + (float64(x)+0.5)/float64(width)*(u1-u0)
		v := v0 + (float64(y)+0.5)/float64(height)*(v1-v0)
		return tile.GeoAt(u, v)
	})

	return encodePNG(g, opts.Gradient)
}

// scan streams matching rows over the covered source tiles, checking
// for cancellation at each source-tile boundary.
func (r *Renderer) scan(ctx context.Context, cover tile.TileBounds, opts Options, visit func(*database.TileRow)) error {
	it, err := r.db.IterTiles(ctx, cover, opts.Filter, opts.Range)
	if err != nil {
		return err
	}
	defer it.Close()

	var current tile.Tile
	for {
		row, err := it.Next()
		if err != nil {
			return err
		}
		if row == nil {
			return nil
		}

		if row.Tile != current {
			current = row.Tile
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		visit(row)
	}
}

// applyMasks zeroes every output pixel whose geographic center lies
// inside a mask intersecting the rendered region.
func (r *Renderer) applyMasks(g *grid, region orb.Bound, geoAt func(x, y int) (lat, lon float64)) {
	circles := r.masks.Intersecting(region)
	if len(circles) == 0 {
		return
	}

	for y := 0; y < g.height; y++ {
		for x := 0; x < g.width; x++ {
			if g.at(x, y) == 0 {
				continue
			}
			lat, lon := geoAt(x, y)
			p := orb.Point{lon, lat}
			for i := range circles {
				if circles[i].Contains(p) {
					g.set(x, y, 0)
					break
				}
			}
		}
	}
}

type grid struct {
	width  int
	height int
	counts []uint16
}

func newGrid(width, height int) *grid {
	return &grid{width: width, height: height, counts: make([]uint16, width*height)}
}

func (g *grid) add(x, y int, count uint16) {
	if x < 0 || x >= g.width || y < 0 || y >= g.height {
		return
	}
	i := y*g.width + x
	sum := uint32(g.counts[i]) + uint32(count)
	if sum > 0xffff {
		sum = 0xffff
	}
	g.counts[i] = uint16(sum)
}

func (g *grid) at(x, y int) uint16 {
	return g.counts[y*g.width+x]
}

func (g *grid) set(x, y int, count uint16) {
	g.counts[y*g.width+x] = count
}

func encodePNG(g *grid, grad *gradient.Gradient) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, g.width, g.height))
	for y := 0; y < g.height; y++ {
		for x := 0; x < g.width; x++ {
			img.SetRGBA(x, y, grad.At(g.at(x, y)))
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
