package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"hotpot/internal/tile"
)

// Activity sources
const (
	SourceFile   = "file"
	SourceUpload = "upload"
	SourceStrava = "strava"
)

// Activity represents one ingested track
type Activity struct {
	ID         int64
	Source     string
	StravaID   *int64
	File       *string
	Title      *string
	StartTime  *int64 // Unix timestamp
	Properties map[string]any
	CreatedAt  int64
}

// TileData is one source-zoom tile's encoded pixel visits
type TileData struct {
	Tile   tile.Tile
	Pixels []byte
}

// PutActivity atomically inserts an activity and its tiles, returning
// the new row id. An existing activity with the same strava_id is
// replaced, so webhook "update" events re-ingest in place.
func (db *DB) PutActivity(a *Activity, tiles []TileData) (int64, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	props, err := json.Marshal(a.Properties)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal properties: %w", err)
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if a.StravaID != nil {
		if _, err := tx.Exec(`DELETE FROM activities WHERE strava_id = ?`, *a.StravaID); err != nil {
			return 0, fmt.Errorf("failed to replace activity: %w", err)
		}
	}

	a.CreatedAt = time.Now().Unix()
	result, err := tx.Exec(`
		INSERT INTO activities (source, strava_id, file, title, start_time, properties, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.Source, a.StravaID, a.File, a.Title, a.StartTime, string(props), a.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert activity: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get activity id: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO activity_tiles (activity_id, z, x, y, pixels) VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare tile insert: %w", err)
	}
	defer stmt.Close()

	for _, td := range tiles {
		if _, err := stmt.Exec(id, td.Tile.Z, td.Tile.X, td.Tile.Y, td.Pixels); err != nil {
			return 0, fmt.Errorf("failed to insert tile %v: %w", td.Tile, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit activity: %w", err)
	}

	a.ID = id
	return id, nil
}

// UpdateProperties merges the given keys into an activity's properties.
// Existing keys not present in merge are kept.
func (db *DB) UpdateProperties(id int64, merge map[string]any) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	patch, err := json.Marshal(merge)
	if err != nil {
		return fmt.Errorf("failed to marshal properties: %w", err)
	}

	result, err := db.conn.Exec(`
		UPDATE activities SET properties = json_patch(properties, ?) WHERE id = ?
	`, string(patch), id)
	if err != nil {
		return fmt.Errorf("failed to update properties: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteActivity removes an activity and, via cascade, its tiles
func (db *DB) DeleteActivity(id int64) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	result, err := db.conn.Exec(`DELETE FROM activities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete activity: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteActivityByStravaID removes the activity a Strava delete event
// refers to. Missing activities are not an error: we may never have
// ingested it.
func (db *DB) DeleteActivityByStravaID(stravaID int64) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if _, err := db.conn.Exec(`DELETE FROM activities WHERE strava_id = ?`, stravaID); err != nil {
		return fmt.Errorf("failed to delete activity: %w", err)
	}
	return nil
}

// HasActivityFile reports whether a file path has already been imported
func (db *DB) HasActivityFile(path string) (bool, error) {
	var one int
	err := db.conn.QueryRow(`SELECT 1 FROM activities WHERE file = ?`, path).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check file: %w", err)
	}
	return true, nil
}

// ActivityCount returns the number of stored activities
func (db *DB) ActivityCount() (int64, error) {
	var count int64
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM activities`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count activities: %w", err)
	}
	return count, nil
}

// PropertySummary describes one property key across all activities
type PropertySummary struct {
	Count int64    `json:"count"`
	Types []string `json:"types"`
}

// PropertiesSummary returns, for each property key, how many
// activities carry it and which JSON types were observed. Powers the
// filter help endpoint.
func (db *DB) PropertiesSummary() (map[string]PropertySummary, error) {
	rows, err := db.conn.Query(`
		SELECT j.key, json_type(j.value), COUNT(*)
		FROM activities, json_each(activities.properties) AS j
		GROUP BY j.key, json_type(j.value)
		ORDER BY j.key
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize properties: %w", err)
	}
	defer rows.Close()

	summary := make(map[string]PropertySummary)
	for rows.Next() {
		var key, jsonType string
		var count int64
		if err := rows.Scan(&key, &jsonType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}

		s := summary[key]
		s.Count += count
		s.Types = append(s.Types, jsonType)
		summary[key] = s
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating summary: %w", err)
	}
	return summary, nil
}
