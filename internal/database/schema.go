package database

// Schema contains all SQL statements for creating tables and indexes
const Schema = `
-- Config table: grid settings and other key/value state
CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Activities table: one row per ingested track
CREATE TABLE IF NOT EXISTS activities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,

    -- Where the activity came from
    source TEXT NOT NULL CHECK (source IN ('file', 'upload', 'strava')),
    strava_id INTEGER UNIQUE,
    file TEXT UNIQUE,

    title TEXT,
    start_time INTEGER,  -- Unix timestamp

    -- Derived and joined properties (JSON object)
    properties TEXT NOT NULL DEFAULT '{}',

    created_at INTEGER NOT NULL
);

-- Activity tiles: encoded pixel visits per source-zoom tile
CREATE TABLE IF NOT EXISTS activity_tiles (
    activity_id INTEGER NOT NULL,
    z INTEGER NOT NULL,
    x INTEGER NOT NULL,
    y INTEGER NOT NULL,
    pixels BLOB NOT NULL,

    PRIMARY KEY (activity_id, z, x, y),
    FOREIGN KEY (activity_id) REFERENCES activities(id) ON DELETE CASCADE
);

-- Strava OAuth tokens (single athlete)
CREATE TABLE IF NOT EXISTS strava_auth (
    athlete_id INTEGER PRIMARY KEY,
    access_token TEXT NOT NULL,
    refresh_token TEXT NOT NULL,
    expires_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Privacy masks: circular areas zeroed at render time
CREATE TABLE IF NOT EXISTS masks (
    name TEXT PRIMARY KEY,
    lat REAL NOT NULL,
    lon REAL NOT NULL,
    radius_m REAL NOT NULL,
    created_at INTEGER NOT NULL
);

-- Webhook queue: raw Strava events awaiting processing
CREATE TABLE IF NOT EXISTS webhook_queue (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    data TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

-- Range scans over one tile's children stream directly from disk
CREATE INDEX IF NOT EXISTS idx_activity_tiles_zxy ON activity_tiles(z, x, y, activity_id);

CREATE INDEX IF NOT EXISTS idx_activities_start_time ON activities(start_time);
`
