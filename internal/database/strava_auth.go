package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// StravaAuth holds the OAuth tokens for the authorized athlete
type StravaAuth struct {
	AthleteID    int64
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64 // Unix timestamp
	CreatedAt    int64
	UpdatedAt    int64
}

// GetStravaAuth returns the stored tokens, or ErrNotFound when the
// athlete has not authorized yet.
func (db *DB) GetStravaAuth() (*StravaAuth, error) {
	var a StravaAuth
	err := db.conn.QueryRow(`
		SELECT athlete_id, access_token, refresh_token, expires_at, created_at, updated_at
		FROM strava_auth ORDER BY updated_at DESC LIMIT 1
	`).Scan(&a.AthleteID, &a.AccessToken, &a.RefreshToken, &a.ExpiresAt, &a.CreatedAt, &a.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get strava auth: %w", err)
	}
	return &a, nil
}

// SaveStravaAuth inserts or updates the tokens for an athlete
func (db *DB) SaveStravaAuth(a *StravaAuth) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	now := time.Now().Unix()
	a.UpdatedAt = now

	_, err := db.conn.Exec(`
		INSERT INTO strava_auth (athlete_id, access_token, refresh_token, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(athlete_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, a.AthleteID, a.AccessToken, a.RefreshToken, a.ExpiresAt, now, now)
	if err != nil {
		return fmt.Errorf("failed to save strava auth: %w", err)
	}
	return nil
}
