// Package gradient maps pixel visit counts to colors through a
// precomputed 256-entry RGBA lookup table.
package gradient

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Gradient is a compiled count→color mapping. Count 0 is always fully
// transparent.
type Gradient struct {
	lut [256]color.RGBA
}

type stop struct {
	threshold uint8
	color     color.RGBA
}

// Presets available via the `color` query parameter and CLI flag.
// Thresholds follow the fractional stops the web UI shipped with.
var presets = map[string]string{
	"orange":   "1:fc4a1a;64:f7b733;255:f7b733",
	"pinkish":  "1:ffb1ff7f;13:ffb1ff;64:ffffff;255:ffffff",
	"blue-red": "1:3f5efb;13:fc466b;64:ffffff;255:ffffff",
	"red":      "1:b20a2c;13:fffbd5;64:ffffff;255:ffffff",
}

// Default is the gradient used when neither a preset nor a spec is
// given.
func Default() *Gradient {
	g, err := Parse(presets["orange"])
	if err != nil {
		panic(err)
	}
	return g
}

// Preset looks up a named gradient.
func Preset(name string) (*Gradient, error) {
	spec, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown color preset: %q", name)
	}
	return Parse(spec)
}

// Parse compiles a gradient spec of the form
// "threshold:color(;threshold:color)*" where threshold is 0..255 and
// color is 3, 6 or 8 hex digits. Thresholds must be strictly
// increasing.
func Parse(spec string) (*Gradient, error) {
	parts := strings.Split(spec, ";")
	if spec == "" || len(parts) == 0 {
		return nil, fmt.Errorf("empty gradient")
	}

	stops := make([]stop, 0, len(parts))
	for _, part := range parts {
		threshold, colorHex, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("invalid gradient stop: %q", part)
		}

		n, err := strconv.ParseUint(threshold, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid gradient threshold: %q", threshold)
		}

		c, err := parseColor(colorHex)
		if err != nil {
			return nil, err
		}

		if len(stops) > 0 && uint8(n) <= stops[len(stops)-1].threshold {
			return nil, fmt.Errorf("gradient thresholds must be strictly increasing")
		}
		stops = append(stops, stop{threshold: uint8(n), color: c})
	}

	return compile(stops), nil
}

func compile(stops []stop) *Gradient {
	var g Gradient

	first := stops[0]
	last := stops[len(stops)-1]

	for i := 1; i < 256; i++ {
		c := uint8(i)
		switch {
		case c < first.threshold:
			// Below the first stop: transparent.
		case c >= last.threshold:
			g.lut[i] = last.color
		default:
			for s := 1; s < len(stops); s++ {
				if c >= stops[s].threshold {
					continue
				}
				a, b := stops[s-1], stops[s]
				t := float64(c-a.threshold) / float64(b.threshold-a.threshold)
				g.lut[i] = lerp(a.color, b.color, t)
				break
			}
		}
	}

	return &g
}

func lerp(a, b color.RGBA, t float64) color.RGBA {
	mix := func(x, y uint8) uint8 {
		return uint8(float64(x)*(1-t) + float64(y)*t + 0.5)
	}
	return color.RGBA{
		R: mix(a.R, b.R),
		G: mix(a.G, b.G),
		B: mix(a.B, b.B),
		A: mix(a.A, b.A),
	}
}

// At returns the color for a raw accumulator count, clamping to 255.
func (g *Gradient) At(count uint16) color.RGBA {
	if count == 0 {
		return color.RGBA{}
	}
	if count > 255 {
		count = 255
	}
	return g.lut[count]
}

func parseColor(s string) (color.RGBA, error) {
	hexByte := func(str string) (uint8, error) {
		v, err := strconv.ParseUint(str, 16, 8)
		return uint8(v), err
	}

	var err error
	c := color.RGBA{A: 0xff}

	switch len(s) {
	case 3:
		var r, g, b uint8
		if r, err = hexByte(s[0:1]); err == nil {
			c.R = r*16 + r
		}
		if g, err = hexByte(s[1:2]); err == nil {
			c.G = g*16 + g
		}
		if b, err = hexByte(s[2:3]); err == nil {
			c.B = b*16 + b
		}
	case 8:
		if c.A, err = hexByte(s[6:8]); err != nil {
			break
		}
		fallthrough
	case 6:
		if c.R, err = hexByte(s[0:2]); err != nil {
			break
		}
		if c.G, err = hexByte(s[2:4]); err != nil {
			break
		}
		c.B, err = hexByte(s[4:6])
	default:
		return color.RGBA{}, fmt.Errorf("invalid color: %q", s)
	}

	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color: %q", s)
	}
	return c, nil
}
