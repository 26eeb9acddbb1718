// Package decode parses GPS track files (GPX, TCX, FIT, optionally
// gzip-compressed) into a common activity representation.
package decode

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hotpot/internal/track"
)

// ErrUnknownFormat is returned when neither the extension nor the
// file's magic bytes identify a supported format.
var ErrUnknownFormat = errors.New("unknown file format")

// ErrSkipped marks files that parse fine but should not be ingested,
// like Zwift virtual rides with fabricated coordinates.
var ErrSkipped = errors.New("activity skipped")

// Activity is a decoded track plus whatever metadata the format
// carries.
type Activity struct {
	Title      *string
	StartTime  *time.Time
	Samples    []track.Sample
	Properties map[string]any
}

// File decodes a track file selected by extension. A trailing .gz is
// transparently decompressed.
func File(path string) (*Activity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	name := strings.ToLower(filepath.Base(path))
	if strings.HasSuffix(name, ".gz") {
		if data, err = gunzip(data); err != nil {
			return nil, fmt.Errorf("failed to decompress %s: %w", path, err)
		}
		name = strings.TrimSuffix(name, ".gz")
	}

	switch filepath.Ext(name) {
	case ".gpx":
		return GPX(data)
	case ".tcx":
		return TCX(data)
	case ".fit":
		return FIT(data)
	default:
		return nil, ErrUnknownFormat
	}
}

// SupportedFile reports whether the path's extension names a format we
// can decode. Used by directory scans to skip unrelated files without
// reading them.
func SupportedFile(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	name = strings.TrimSuffix(name, ".gz")
	switch filepath.Ext(name) {
	case ".gpx", ".tcx", ".fit":
		return true
	}
	return false
}

// Bytes decodes an uploaded body, detecting the format from magic
// bytes.
func Bytes(data []byte) (*Activity, error) {
	if isGzip(data) {
		plain, err := gunzip(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress upload: %w", err)
		}
		data = plain
	}

	switch {
	case isFIT(data):
		return FIT(data)
	case containsTag(data, "<gpx"):
		return GPX(data)
	case containsTag(data, "<TrainingCenterDatabase"):
		return TCX(data)
	default:
		return nil, ErrUnknownFormat
	}
}

func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

// FIT headers carry ".FIT" at offset 8.
func isFIT(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[8:12], []byte(".FIT"))
}

func containsTag(data []byte, tag string) bool {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, []byte(tag))
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
