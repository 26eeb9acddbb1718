package database

import (
	"fmt"
	"time"
)

// Mask is a circular privacy area zeroed at render time
type Mask struct {
	Name      string
	Lat       float64
	Lon       float64
	RadiusM   float64
	CreatedAt int64
}

// AddMask inserts or replaces a named mask
func (db *DB) AddMask(m *Mask) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	m.CreatedAt = time.Now().Unix()
	_, err := db.conn.Exec(`
		INSERT INTO masks (name, lat, lon, radius_m, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			lat = excluded.lat,
			lon = excluded.lon,
			radius_m = excluded.radius_m
	`, m.Name, m.Lat, m.Lon, m.RadiusM, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add mask: %w", err)
	}
	return nil
}

// RemoveMask deletes a mask by name
func (db *DB) RemoveMask(name string) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	result, err := db.conn.Exec(`DELETE FROM masks WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to remove mask: %w", err)
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

// ListMasks returns all masks ordered by name
func (db *DB) ListMasks() ([]*Mask, error) {
	rows, err := db.conn.Query(`
		SELECT name, lat, lon, radius_m, created_at FROM masks ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list masks: %w", err)
	}
	defer rows.Close()

	var masks []*Mask
	for rows.Next() {
		var m Mask
		if err := rows.Scan(&m.Name, &m.Lat, &m.Lon, &m.RadiusM, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan mask: %w", err)
		}
		masks = append(masks, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating masks: %w", err)
	}
	return masks, nil
}
