package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// joinTable maps activity filenames to extra properties parsed from a
// CSV export (such as the activities.csv in a Strava archive).
type joinTable struct {
	byName map[string]map[string]any
}

// loadJoinTable reads a CSV whose header names become property keys.
// The column named "filename" (case-insensitive) selects which
// activity each row describes.
func loadJoinTable(path string) (*joinTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open join csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read join csv header: %w", err)
	}

	fileCol := -1
	keys := make([]string, len(header))
	for i, h := range header {
		keys[i] = propertyKey(h)
		if keys[i] == "filename" {
			fileCol = i
		}
	}
	if fileCol < 0 {
		return nil, fmt.Errorf("join csv has no filename column")
	}

	table := &joinTable{byName: make(map[string]map[string]any)}
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read join csv: %w", err)
		}
		if fileCol >= len(record) || record[fileCol] == "" {
			continue
		}

		props := make(map[string]any)
		for i, value := range record {
			if i == fileCol || i >= len(keys) || value == "" {
				continue
			}
			props[keys[i]] = parseScalar(value)
		}

		table.byName[joinKey(record[fileCol])] = props
	}

	return table, nil
}

// lookup returns the extra properties for a track file, or nil.
func (t *joinTable) lookup(path string) map[string]any {
	return t.byName[joinKey(path)]
}

// joinKey normalizes a file reference for matching: base name with any
// .gz suffix stripped, so "activities/123.gpx.gz" matches
// "/export/activities/123.gpx".
func joinKey(path string) string {
	name := filepath.Base(strings.ReplaceAll(path, "\\", "/"))
	return strings.TrimSuffix(strings.ToLower(name), ".gz")
}

// propertyKey lowercases a CSV header into a property name.
func propertyKey(header string) string {
	key := strings.ToLower(strings.TrimSpace(header))
	return strings.ReplaceAll(key, " ", "_")
}

// parseScalar keeps CSV values typed: numbers and booleans stay
// numbers and booleans, everything else is a string.
func parseScalar(value string) any {
	if n, err := strconv.ParseFloat(value, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return value
}
