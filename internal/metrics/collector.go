package metrics

import (
	"context"
	"log/slog"
	"time"
)

// DB interface for gauge collection queries
type DB interface {
	GetQueueLength() (int, error)
	ActivityCount() (int64, error)
}

// StartCollector starts a background goroutine that periodically
// refreshes the queue depth and activity count gauges.
func StartCollector(ctx context.Context, db DB, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	collect(db, logger)

	for {
		select {
		case <-ctx.Done():
			logger.Info("metrics collector stopping")
			return
		case <-ticker.C:
			collect(db, logger)
		}
	}
}

func collect(db DB, logger *slog.Logger) {
	if depth, err := db.GetQueueLength(); err != nil {
		logger.Error("failed to get webhook queue length", "error", err)
	} else {
		QueueDepth.Set(float64(depth))
	}

	if count, err := db.ActivityCount(); err != nil {
		logger.Error("failed to count activities", "error", err)
	} else {
		ActivityCount.Set(float64(count))
	}
}
