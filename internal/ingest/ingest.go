// Package ingest turns decoded activities into stored tile rows and
// drives bulk imports from local directories.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync/atomic"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"hotpot/internal/codec"
	"hotpot/internal/database"
	"hotpot/internal/decode"
	"hotpot/internal/metrics"
	"hotpot/internal/track"
)

// ErrEmptyActivity marks tracks that produced no tile visits, like a
// recording with a single point or one fully consumed by trimming.
var ErrEmptyActivity = errors.New("activity produced no tiles")

// Meta describes where a decoded activity came from.
type Meta struct {
	Source   string
	File     *string
	StravaID *int64
	TrimDist float64
	// Extra properties merged after the decoder's, for CSV joins and
	// Strava metadata.
	Extra map[string]any
}

// StoreDecoded simplifies, encodes and stores one decoded activity.
// Computed statistics override decoder-provided property values.
func StoreDecoded(db *database.DB, a *decode.Activity, meta Meta) (int64, error) {
	visits := track.Simplify(a.Samples, meta.TrimDist)
	if len(visits) == 0 {
		return 0, ErrEmptyActivity
	}

	tiles := make([]database.TileData, 0, len(visits))
	for tl, pixels := range visits {
		counts := make(map[uint16]uint16, len(pixels))
		for idx := range pixels {
			counts[idx] = 1
		}
		encoded, err := codec.Encode(counts)
		if err != nil {
			return 0, fmt.Errorf("failed to encode tile %v: %w", tl, err)
		}
		tiles = append(tiles, database.TileData{Tile: tl, Pixels: encoded})
	}

	props := make(map[string]any)
	for k, v := range a.Properties {
		props[k] = v
	}
	for k, v := range meta.Extra {
		props[k] = v
	}
	for k, v := range track.Stats(a.Samples) {
		props[k] = v
	}

	activity := &database.Activity{
		Source:     meta.Source,
		StravaID:   meta.StravaID,
		File:       meta.File,
		Title:      a.Title,
		Properties: props,
	}
	if a.StartTime != nil {
		ts := a.StartTime.Unix()
		activity.StartTime = &ts
	}

	return db.PutActivity(activity, tiles)
}

// Options configure a directory import.
type Options struct {
	TrimDist float64
	JoinCSV  string
	Workers  int
	Progress bool
}

// Stats counts the outcome of a directory import.
type Stats struct {
	Imported atomic.Int64
	Skipped  atomic.Int64
	Failed   atomic.Int64
}

// ImportDirectory decodes every supported file under dir in parallel
// and stores the results. Per-file failures are logged and counted but
// never abort the scan.
func ImportDirectory(ctx context.Context, db *database.DB, dir string, opts Options, logger *slog.Logger) (*Stats, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && decode.SupportedFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}

	var join *joinTable
	if opts.JoinCSV != "" {
		if join, err = loadJoinTable(opts.JoinCSV); err != nil {
			return nil, err
		}
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var bar *progressbar.ProgressBar
	if opts.Progress {
		bar = progressbar.Default(int64(len(files)), "importing")
	}

	stats := &Stats{}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, path := range files {
		path := path
		g.Go(func() error {
			defer func() {
				if bar != nil {
					bar.Add(1)
				}
			}()
			if err := ctx.Err(); err != nil {
				return err
			}

			if err := importFile(db, path, opts.TrimDist, join); err != nil {
				switch {
				case errors.Is(err, errAlreadyImported):
					stats.Skipped.Add(1)
					metrics.IngestActivitiesTotal.WithLabelValues(metrics.ResultSkipped).Inc()
				case errors.Is(err, decode.ErrSkipped), errors.Is(err, ErrEmptyActivity):
					logger.Info("skipping file", "path", path, "reason", err)
					stats.Skipped.Add(1)
					metrics.IngestActivitiesTotal.WithLabelValues(metrics.ResultSkipped).Inc()
				default:
					logger.Error("failed to import file", "path", path, "error", err)
					stats.Failed.Add(1)
					metrics.IngestActivitiesTotal.WithLabelValues(metrics.ResultFailed).Inc()
				}
				return nil
			}

			stats.Imported.Add(1)
			metrics.IngestActivitiesTotal.WithLabelValues(metrics.ResultImported).Inc()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

var errAlreadyImported = errors.New("already imported")

func importFile(db *database.DB, path string, trimDist float64, join *joinTable) error {
	seen, err := db.HasActivityFile(path)
	if err != nil {
		return err
	}
	if seen {
		return errAlreadyImported
	}

	a, err := decode.File(path)
	if err != nil {
		return err
	}

	meta := Meta{
		Source:   database.SourceFile,
		File:     &path,
		TrimDist: trimDist,
	}
	if join != nil {
		meta.Extra = join.lookup(path)
	}

	_, err = StoreDecoded(db, a, meta)
	return err
}
