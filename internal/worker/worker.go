// Package worker drains the webhook queue, turning Strava activity
// events into stored heatmap data.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"

	"hotpot/internal/database"
	"hotpot/internal/decode"
	"hotpot/internal/ingest"
	"hotpot/internal/metrics"
	"hotpot/internal/strava"
)

// webhookEvent is the payload Strava POSTs to the webhook callback.
type webhookEvent struct {
	ObjectType string `json:"object_type"`
	ObjectID   int64  `json:"object_id"`
	AspectType string `json:"aspect_type"`
	OwnerID    int64  `json:"owner_id"`
}

// Worker processes webhooks from the queue
type Worker struct {
	db           *database.DB
	stravaClient *strava.Client
	logger       *slog.Logger
	pollInterval time.Duration
	trimDist     float64
}

// NewWorker creates a new webhook worker
func NewWorker(db *database.DB, stravaClient *strava.Client, trimDist float64, logger *slog.Logger) *Worker {
	return &Worker{
		db:           db,
		stravaClient: stravaClient,
		logger:       logger,
		pollInterval: 5 * time.Second,
		trimDist:     trimDist,
	}
}

// SetPollInterval overrides the queue poll interval, for tests.
func (w *Worker) SetPollInterval(d time.Duration) { w.pollInterval = d }

// Start polls the queue until the context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("starting webhook worker", "poll_interval", w.pollInterval)
	metrics.WorkerActive.Set(1)
	defer metrics.WorkerActive.Set(0)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("stopping webhook worker")
			return ctx.Err()
		default:
		}

		item, err := w.db.DequeueWebhook()
		if err != nil {
			w.logger.Error("failed to dequeue webhook", "error", err)
			w.sleep(ctx)
			continue
		}
		if item == nil {
			w.sleep(ctx)
			continue
		}

		// Drain fast while events are queued, but ease off when the
		// API budget is nearly spent.
		if w.stravaClient.RateLimit().IsNearLimit(90) {
			w.logger.Warn("approaching strava rate limit, slowing down")
			w.sleep(ctx)
		}

		w.processItem(ctx, item)
	}
}

func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.pollInterval):
	}
}

// ProcessOne dequeues and processes a single event. Returns false when
// the queue is empty.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	item, err := w.db.DequeueWebhook()
	if err != nil {
		return false, err
	}
	if item == nil {
		return false, nil
	}
	w.processItem(ctx, item)
	return true, nil
}

func (w *Worker) processItem(ctx context.Context, item *database.WebhookQueueItem) {
	start := time.Now()

	var event webhookEvent
	if err := json.Unmarshal(item.Data, &event); err != nil {
		// Malformed events are not retryable; they are already gone
		// from the queue.
		w.logger.Error("failed to unmarshal webhook event", "id", item.ID, "error", err)
		metrics.WebhookProcessingDuration.WithLabelValues(metrics.ResultFailure).Observe(time.Since(start).Seconds())
		return
	}

	err := w.handleEvent(ctx, event)

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultFailure
		w.logger.Error("failed to process webhook event",
			"id", item.ID,
			"object_type", event.ObjectType,
			"object_id", event.ObjectID,
			"aspect_type", event.AspectType,
			"error", err)
	} else {
		w.logger.Info("processed webhook event",
			"id", item.ID,
			"object_type", event.ObjectType,
			"object_id", event.ObjectID,
			"aspect_type", event.AspectType)
	}
	metrics.WebhookProcessingDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
}

func (w *Worker) handleEvent(ctx context.Context, event webhookEvent) error {
	if event.ObjectType != "activity" {
		w.logger.Info("ignoring non-activity webhook event",
			"object_type", event.ObjectType, "object_id", event.ObjectID)
		return nil
	}

	switch event.AspectType {
	case "create", "update":
		return w.syncActivity(ctx, event.ObjectID)
	case "delete":
		if err := w.db.DeleteActivityByStravaID(event.ObjectID); err != nil {
			return fmt.Errorf("failed to delete activity %d: %w", event.ObjectID, err)
		}
		return nil
	default:
		w.logger.Warn("ignoring unknown aspect_type",
			"aspect_type", event.AspectType, "object_id", event.ObjectID)
		return nil
	}
}

// syncActivity fetches the activity from Strava and stores it,
// replacing any previously stored version.
func (w *Worker) syncActivity(ctx context.Context, activityID int64) error {
	activity, err := w.stravaClient.GetActivity(ctx, activityID)
	if err != nil {
		if errors.Is(err, strava.ErrNotAuthorized) {
			w.logger.Warn("no strava authorization, skipping activity", "activity_id", activityID)
			return nil
		}
		return fmt.Errorf("failed to fetch activity %d: %w", activityID, err)
	}

	samples, err := activity.Samples()
	if err != nil {
		return fmt.Errorf("failed to decode samples for activity %d: %w", activityID, err)
	}

	decoded := &decode.Activity{Samples: samples}
	if activity.Name != "" {
		decoded.Title = &activity.Name
	}
	if !activity.StartDate.IsZero() {
		startTime := activity.StartDate
		decoded.StartTime = &startTime
	}

	_, err = ingest.StoreDecoded(w.db, decoded, ingest.Meta{
		Source:   database.SourceStrava,
		StravaID: &activityID,
		TrimDist: w.trimDist,
		Extra:    activity.Properties(),
	})
	if errors.Is(err, ingest.ErrEmptyActivity) {
		w.logger.Info("activity produced no tiles, skipping", "activity_id", activityID)
		metrics.IngestActivitiesTotal.WithLabelValues(metrics.ResultSkipped).Inc()
		return nil
	}
	if err != nil {
		metrics.IngestActivitiesTotal.WithLabelValues(metrics.ResultFailed).Inc()
		return fmt.Errorf("failed to store activity %d: %w", activityID, err)
	}
	metrics.IngestActivitiesTotal.WithLabelValues(metrics.ResultImported).Inc()
	return nil
}
