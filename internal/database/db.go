package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"hotpot/internal/tile"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// DB wraps the SQLite database connection. WAL mode allows concurrent
// readers; writes are serialized through writeMu so importers, the
// webhook worker and the HTTP upload path never contend inside SQLite.
type DB struct {
	conn    *sql.DB
	writeMu sync.Mutex
}

// Open opens a connection to the SQLite database at the specified path
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer, several readers.
	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Init creates the schema and verifies the stored grid settings match
// this build. A database created with a different source zoom or tile
// extent cannot be read back correctly.
func (db *DB) Init() error {
	if _, err := db.conn.Exec(Schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := db.checkGridConfig("source_zoom", int64(tile.SourceZoom)); err != nil {
		return err
	}
	if err := db.checkGridConfig("tile_extent", int64(tile.TilePixels)); err != nil {
		return err
	}
	return nil
}

func (db *DB) checkGridConfig(key string, want int64) error {
	stored, err := db.GetConfig(key)
	if errors.Is(err, ErrNotFound) {
		return db.SetConfig(key, strconv.FormatInt(want, 10))
	}
	if err != nil {
		return err
	}

	got, err := strconv.ParseInt(stored, 10, 64)
	if err != nil || got != want {
		return fmt.Errorf("database %s is %q but this build expects %d", key, stored, want)
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying *sql.DB connection for direct use
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Health checks if the database connection is healthy
func (db *DB) Health() error {
	return db.conn.Ping()
}
