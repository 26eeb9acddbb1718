package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"hotpot/internal/codec"
	"hotpot/internal/filter"
	"hotpot/internal/tile"
)

// TileRow is one activity's visits within one source-zoom tile
type TileRow struct {
	Tile       tile.Tile
	ActivityID int64
	Pixels     []codec.PixelCount
}

// TimeRange restricts a tile scan to activities whose start time falls
// inside [After, Before). Nil bounds are open.
type TimeRange struct {
	After  *int64
	Before *int64
}

// TileIter streams matching tile rows. Close must be called.
type TileIter struct {
	rows *sql.Rows
}

// IterTiles streams the source-zoom tiles covering bounds for every
// activity matching the filter and time range, ordered by (x, y) so a
// renderer can process one tile's rows together. Rows are decoded
// lazily; the result set is never materialized in memory.
func (db *DB) IterTiles(ctx context.Context, bounds tile.TileBounds, f *filter.Filter, tr TimeRange) (*TileIter, error) {
	clause, args := f.SQL()

	var sb strings.Builder
	sb.WriteString(`
		SELECT t.z, t.x, t.y, t.activity_id, t.pixels
		FROM activity_tiles AS t
		JOIN activities ON activities.id = t.activity_id
		WHERE t.z = ? AND t.x >= ? AND t.x < ? AND t.y >= ? AND t.y < ?
		AND (`)
	sb.WriteString(clause)
	sb.WriteString(")")

	queryArgs := []any{bounds.Z, bounds.XMin, bounds.XMax, bounds.YMin, bounds.YMax}
	queryArgs = append(queryArgs, args...)

	if tr.After != nil {
		sb.WriteString(" AND activities.start_time >= ?")
		queryArgs = append(queryArgs, *tr.After)
	}
	if tr.Before != nil {
		sb.WriteString(" AND activities.start_time < ?")
		queryArgs = append(queryArgs, *tr.Before)
	}

	sb.WriteString(" ORDER BY t.x, t.y")

	rows, err := db.conn.QueryContext(ctx, sb.String(), queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tiles: %w", err)
	}
	return &TileIter{rows: rows}, nil
}

// Next returns the next row, or nil when the scan is exhausted
func (it *TileIter) Next() (*TileRow, error) {
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating tiles: %w", err)
		}
		return nil, nil
	}

	var row TileRow
	var encoded []byte
	if err := it.rows.Scan(&row.Tile.Z, &row.Tile.X, &row.Tile.Y, &row.ActivityID, &encoded); err != nil {
		return nil, fmt.Errorf("failed to scan tile row: %w", err)
	}

	pixels, err := codec.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tile %v for activity %d: %w", row.Tile, row.ActivityID, err)
	}
	row.Pixels = pixels
	return &row, nil
}

// Close releases the underlying result set
func (it *TileIter) Close() error {
	return it.rows.Close()
}
