// Package codec encodes a tile's sparse pixel→count map as a compact
// byte string: entries sorted by pixel index, written as varint deltas
// followed by a one-byte count, then deflated.
package codec

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// PixelCount is one visited pixel within a tile.
type PixelCount struct {
	// Index is the row-major pixel index, py*256 + px.
	Index uint16
	// Count is the visit count, 1..255. Zero counts are never stored.
	Count uint8
}

// Encode serializes a pixel→count map. Counts are clamped to 255 and
// zero-count entries are elided.
func Encode(pixels map[uint16]uint16) ([]byte, error) {
	indices := make([]uint16, 0, len(pixels))
	for idx, count := range pixels {
		if count == 0 {
			continue
		}
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	var raw bytes.Buffer
	var varintBuf [binary.MaxVarintLen64]byte

	prev := uint64(0)
	for i, idx := range indices {
		delta := uint64(idx)
		if i > 0 {
			delta = uint64(idx) - prev
		}
		prev = uint64(idx)

		n := binary.PutUvarint(varintBuf[:], delta)
		raw.Write(varintBuf[:n])

		count := pixels[idx]
		if count > 255 {
			count = 255
		}
		raw.WriteByte(byte(count))
	}

	var compressed bytes.Buffer
	w, err := flate.NewWriter(&compressed, flate.BestSpeed)
	if err != nil {
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}
	if _, err := w.Write(raw.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to compress pixels: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to flush compressor: %w", err)
	}

	return compressed.Bytes(), nil
}

// Decode reverses Encode, yielding entries in strictly increasing
// pixel-index order.
func Decode(data []byte) ([]PixelCount, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress pixels: %w", err)
	}

	var out []PixelCount
	br := bytes.NewReader(raw)

	prev := int64(-1)
	for br.Len() > 0 {
		delta, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, fmt.Errorf("failed to read pixel delta: %w", err)
		}
		if delta >= 1<<16 {
			return nil, fmt.Errorf("pixel delta out of range: %d", delta)
		}

		count, err := br.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("failed to read pixel count: %w", err)
		}
		if count == 0 {
			return nil, fmt.Errorf("invalid zero count in encoded tile")
		}

		var idx int64
		if prev < 0 {
			idx = int64(delta)
		} else {
			if delta == 0 {
				return nil, fmt.Errorf("non-increasing pixel index in encoded tile")
			}
			idx = prev + int64(delta)
		}
		if idx >= 1<<16 {
			return nil, fmt.Errorf("pixel index out of range: %d", idx)
		}
		prev = idx

		out = append(out, PixelCount{Index: uint16(idx), Count: count})
	}

	return out, nil
}
