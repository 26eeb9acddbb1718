package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	polyline "github.com/twpayne/go-polyline"

	"hotpot/internal/database"
	"hotpot/internal/strava"
)

func setupWorker(t *testing.T, handler http.Handler) (*Worker, *database.DB) {
	t.Helper()

	dbPath := t.TempDir() + "/test.db"
	db, err := database.Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := db.Init(); err != nil {
		t.Fatalf("Failed to init database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.SaveStravaAuth(&database.StravaAuth{
		AthleteID:    12345,
		AccessToken:  "token",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
	}); err != nil {
		t.Fatalf("SaveStravaAuth failed: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := strava.NewClient("id", "secret", db, logger)
	if handler != nil {
		server := httptest.NewServer(handler)
		t.Cleanup(server.Close)
		client.SetBaseURL(server.URL)
	}

	return NewWorker(db, client, 0, logger), db
}

func activityJSON(id int64) string {
	coords := [][]float64{
		{52.52, 13.405},
		{52.521, 13.406},
		{52.522, 13.407},
	}
	encoded := string(polyline.EncodeCoords(coords))
	return fmt.Sprintf(`{
		"id": %d,
		"name": "Evening Ride",
		"type": "Ride",
		"start_date": "2024-05-01T18:00:00Z",
		"distance": 1234.5,
		"map": {"polyline": %q}
	}`, id, encoded)
}

func TestProcessCreateEvent(t *testing.T) {
	w, db := setupWorker(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/activities/99" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(rw, activityJSON(99))
	}))

	if _, err := db.EnqueueWebhook([]byte(`{"object_type": "activity", "object_id": 99, "aspect_type": "create", "owner_id": 12345}`)); err != nil {
		t.Fatalf("EnqueueWebhook failed: %v", err)
	}

	processed, err := w.ProcessOne(context.Background())
	if err != nil {
		t.Fatalf("ProcessOne failed: %v", err)
	}
	if !processed {
		t.Fatal("Expected an event to be processed")
	}

	count, err := db.ActivityCount()
	if err != nil {
		t.Fatalf("ActivityCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 activity, got %d", count)
	}

	length, err := db.GetQueueLength()
	if err != nil {
		t.Fatalf("GetQueueLength failed: %v", err)
	}
	if length != 0 {
		t.Errorf("Expected empty queue, got %d", length)
	}
}

func TestProcessUpdateReplaces(t *testing.T) {
	w, db := setupWorker(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		fmt.Fprint(rw, activityJSON(99))
	}))

	for _, aspect := range []string{"create", "update"} {
		if _, err := db.EnqueueWebhook([]byte(fmt.Sprintf(
			`{"object_type": "activity", "object_id": 99, "aspect_type": "%s", "owner_id": 12345}`, aspect))); err != nil {
			t.Fatalf("EnqueueWebhook failed: %v", err)
		}
		if _, err := w.ProcessOne(context.Background()); err != nil {
			t.Fatalf("ProcessOne failed: %v", err)
		}
	}

	count, err := db.ActivityCount()
	if err != nil {
		t.Fatalf("ActivityCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected update to replace, got %d activities", count)
	}
}

func TestProcessDeleteEvent(t *testing.T) {
	w, db := setupWorker(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		fmt.Fprint(rw, activityJSON(99))
	}))

	if _, err := db.EnqueueWebhook([]byte(`{"object_type": "activity", "object_id": 99, "aspect_type": "create", "owner_id": 12345}`)); err != nil {
		t.Fatalf("EnqueueWebhook failed: %v", err)
	}
	if _, err := w.ProcessOne(context.Background()); err != nil {
		t.Fatalf("ProcessOne failed: %v", err)
	}

	if _, err := db.EnqueueWebhook([]byte(`{"object_type": "activity", "object_id": 99, "aspect_type": "delete", "owner_id": 12345}`)); err != nil {
		t.Fatalf("EnqueueWebhook failed: %v", err)
	}
	if _, err := w.ProcessOne(context.Background()); err != nil {
		t.Fatalf("ProcessOne failed: %v", err)
	}

	count, err := db.ActivityCount()
	if err != nil {
		t.Fatalf("ActivityCount failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0 activities after delete, got %d", count)
	}
}

func TestIgnoresNonActivityEvents(t *testing.T) {
	w, db := setupWorker(t, nil)

	if _, err := db.EnqueueWebhook([]byte(`{"object_type": "athlete", "object_id": 12345, "aspect_type": "update", "owner_id": 12345}`)); err != nil {
		t.Fatalf("EnqueueWebhook failed: %v", err)
	}

	processed, err := w.ProcessOne(context.Background())
	if err != nil {
		t.Fatalf("ProcessOne failed: %v", err)
	}
	if !processed {
		t.Fatal("Expected the event to be consumed")
	}

	length, err := db.GetQueueLength()
	if err != nil {
		t.Fatalf("GetQueueLength failed: %v", err)
	}
	if length != 0 {
		t.Errorf("Expected empty queue, got %d", length)
	}
}

func TestProcessOneEmptyQueue(t *testing.T) {
	w, _ := setupWorker(t, nil)

	processed, err := w.ProcessOne(context.Background())
	if err != nil {
		t.Fatalf("ProcessOne failed: %v", err)
	}
	if processed {
		t.Error("Expected no event to be processed")
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	w, _ := setupWorker(t, nil)
	w.SetPollInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Worker did not stop after cancel")
	}
}
