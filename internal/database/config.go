package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// GetConfig retrieves a config value by key
func (db *DB) GetConfig(key string) (string, error) {
	var value string
	err := db.conn.QueryRow(`SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get config %q: %w", key, err)
	}
	return value, nil
}

// SetConfig inserts or updates a config value
func (db *DB) SetConfig(key, value string) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	_, err := db.conn.Exec(`
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set config %q: %w", key, err)
	}
	return nil
}

// TrimDist returns the meters trimmed from both ends of every track at
// ingest time. Zero when never configured.
func (db *DB) TrimDist() (float64, error) {
	value, err := db.GetConfig("trim_dist")
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	dist, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid trim_dist %q: %w", value, err)
	}
	return dist, nil
}

// SetTrimDist persists the ingest trim distance so later imports and
// uploads share it.
func (db *DB) SetTrimDist(meters float64) error {
	if meters < 0 {
		return fmt.Errorf("trim distance must not be negative")
	}
	return db.SetConfig("trim_dist", strconv.FormatFloat(meters, 'f', -1, 64))
}
