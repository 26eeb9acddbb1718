package handlers

import (
	"bytes"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/paulmach/orb"

	"hotpot/internal/config"
	"hotpot/internal/database"
	"hotpot/internal/decode"
	"hotpot/internal/ingest"
	"hotpot/internal/mask"
	"hotpot/internal/render"
	"hotpot/internal/tile"
	"hotpot/internal/track"
)

const sampleGPX = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="test">
  <trk>
    <name>Morning Walk</name>
    <type>walking</type>
    <trkseg>
      <trkpt lat="52.5200" lon="13.4050"><time>2024-05-01T07:30:00Z</time></trkpt>
      <trkpt lat="52.5210" lon="13.4060"><time>2024-05-01T07:31:00Z</time></trkpt>
      <trkpt lat="52.5220" lon="13.4070"><time>2024-05-01T07:32:00Z</time></trkpt>
    </trkseg>
  </trk>
</gpx>`

func setupServer(t *testing.T, opts Options, cfg *config.Config) (*Server, *database.DB) {
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

	masks, err := mask.NewRegistry(db)
	if err != nil {
		t.Fatalf("Failed to create mask registry: %v", err)
	}

	if cfg == nil {
		cfg = &config.Config{}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	renderer := render.New(db, masks)
	return NewServer(db, renderer, masks, nil, cfg, opts, logger), db
}

func storeSample(t *testing.T, db *database.DB) {
	t.Helper()

	start := time.Date(2024, 5, 1, 7, 30, 0, 0, time.UTC)
	activity := &decode.Activity{
		StartTime: &start,
		Samples: []track.Sample{
			{Point: orb.Point{13.4050, 52.5200}, Time: start},
			{Point: orb.Point{13.4060, 52.5210}, Time: start.Add(time.Minute)},
		},
		Properties: map[string]any{"activity_type": "walking"},
	}
	if _, err := ingest.StoreDecoded(db, activity, ingest.Meta{Source: database.SourceFile}); err != nil {
		t.Fatalf("StoreDecoded failed: %v", err)
	}
}

func get(t *testing.T, h http.Handler, url string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTileEndpoint(t *testing.T) {
	s, db := setupServer(t, Options{}, nil)
	storeSample(t, db)
	router := s.Router()

	berlin, _ := tile.ProjectToTile(52.5205, 13.4055, 12)
	rec := get(t, router, fmt.Sprintf("/tile/%d/%d/%d", berlin.Z, berlin.X, berlin.Y))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Expected image/png, got %s", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=0, stale-while-revalidate=86400" {
		t.Errorf("Unexpected Cache-Control: %s", cc)
	}
	if rec.Header().Get("ETag") == "" {
		t.Error("Expected ETag header")
	}

	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatalf("Response is not a valid PNG: %v", err)
	}
	if img.Bounds().Dx() != 256 {
		t.Errorf("Expected 256px tile, got %d", img.Bounds().Dx())
	}
}

func TestTileEndpointSize512(t *testing.T) {
	s, _ := setupServer(t, Options{}, nil)
	router := s.Router()

	rec := get(t, router, "/tile/10/550/335?size=512")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatalf("Response is not a valid PNG: %v", err)
	}
	if img.Bounds().Dx() != 512 {
		t.Errorf("Expected 512px tile, got %d", img.Bounds().Dx())
	}
}

func TestTileEndpointErrors(t *testing.T) {
	s, _ := setupServer(t, Options{}, nil)
	router := s.Router()

	tests := []struct {
		url  string
		code int
	}{
		{"/tile/17/0/0", http.StatusNotFound},
		{"/tile/abc/0/0", http.StatusBadRequest},
		{"/tile/10/550/335?size=300", http.StatusBadRequest},
		{"/tile/10/550/335?filter=%28broken", http.StatusBadRequest},
		{"/tile/10/550/335?gradient=nonsense", http.StatusBadRequest},
		{"/tile/10/550/335?color=nope", http.StatusBadRequest},
		{"/tile/10/550/335?color=red&gradient=1:fff", http.StatusBadRequest},
		{"/tile/10/550/335?before=May+1st", http.StatusBadRequest},
	}

	for _, tt := range tests {
		rec := get(t, router, tt.url)
		if rec.Code != tt.code {
			t.Errorf("%s: expected %d, got %d", tt.url, tt.code, rec.Code)
		}
	}
}

func TestTileEndpointNotModified(t *testing.T) {
	s, _ := setupServer(t, Options{}, nil)
	router := s.Router()

	first := get(t, router, "/tile/10/550/335")
	etag := first.Header().Get("ETag")
	if etag == "" {
		t.Fatal("Expected ETag")
	}

	req := httptest.NewRequest(http.MethodGet, "/tile/10/550/335", nil)
	req.Header.Set("If-None-Match", etag)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotModified {
		t.Errorf("Expected 304, got %d", rec.Code)
	}
}

func TestTileEtagChangesWithMasks(t *testing.T) {
	s, _ := setupServer(t, Options{}, nil)
	router := s.Router()

	first := get(t, router, "/tile/10/550/335")
	etag := first.Header().Get("ETag")
	if etag == "" {
		t.Fatal("Expected ETag")
	}

	if err := s.masks.Add("home", 52.52, 13.405, 500); err != nil {
		t.Fatalf("Failed to add mask: %v", err)
	}

	// The old validator must not revalidate a pre-mask rendering.
	req := httptest.NewRequest(http.MethodGet, "/tile/10/550/335", nil)
	req.Header.Set("If-None-Match", etag)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 after mask change, got %d", rec.Code)
	}
	if got := rec.Header().Get("ETag"); got == etag {
		t.Error("Expected a new ETag after mask change")
	}
}

func TestRenderEndpoint(t *testing.T) {
	s, db := setupServer(t, Options{}, nil)
	storeSample(t, db)
	router := s.Router()

	west, south, east, north := 13.40, 52.51, 13.42, 52.53
	u0, v0 := tile.Normalized(north, west)
	u1, v1 := tile.Normalized(south, east)
	width := 400
	height := int(math.Round(float64(width) * (v1 - v0) / (u1 - u0)))

	url := fmt.Sprintf("/render?bounds=%g,%g,%g,%g&width=%d&height=%d", west, south, east, north, width, height)
	rec := get(t, router, url)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatalf("Response is not a valid PNG: %v", err)
	}
	if img.Bounds().Dx() != width || img.Bounds().Dy() != height {
		t.Errorf("Expected %dx%d, got %dx%d", width, height, img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestRenderEndpointErrors(t *testing.T) {
	s, _ := setupServer(t, Options{}, nil)
	router := s.Router()

	tests := []struct {
		url  string
		code int
	}{
		{"/render?bounds=13.40,52.51,13.42&width=100&height=100", http.StatusBadRequest},
		{"/render?bounds=13.42,52.51,13.40,52.53&width=100&height=100", http.StatusBadRequest},
		{"/render?bounds=13.40,52.51,13.42,52.53&width=0&height=100", http.StatusBadRequest},
		{"/render?bounds=13.40,52.51,13.42,52.53&width=2500&height=100", http.StatusBadRequest},
		// 1:1 output for wide bounds distorts by far more than 1%.
		{"/render?bounds=13.00,52.51,13.90,52.53&width=100&height=100", http.StatusBadRequest},
		{"/render?bounds=13.40,52.51,13.42,52.53&width=abc&height=100", http.StatusBadRequest},
	}

	for _, tt := range tests {
		rec := get(t, router, tt.url)
		if rec.Code != tt.code {
			t.Errorf("%s: expected %d, got %d", tt.url, tt.code, rec.Code)
		}
	}
}

func uploadRequest(t *testing.T, url, token, filename string, body []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	fw.Write(body)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, url, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestUploadDisabled(t *testing.T) {
	s, _ := setupServer(t, Options{}, nil)
	router := s.Router()

	req := uploadRequest(t, "/upload", "", "track.gpx", []byte(sampleGPX))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 when uploads disabled, got %d", rec.Code)
	}
}

func TestUploadAuth(t *testing.T) {
	cfg := &config.Config{UploadToken: "abc"}
	s, db := setupServer(t, Options{Upload: true}, cfg)
	router := s.Router()

	req := uploadRequest(t, "/upload", "xyz", "track.gpx", []byte(sampleGPX))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for bad token, got %d", rec.Code)
	}

	req = uploadRequest(t, "/upload", "", "track.gpx", []byte(sampleGPX))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for missing token, got %d", rec.Code)
	}

	req = uploadRequest(t, "/upload", "abc", "track.gpx", []byte(sampleGPX))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 for good token, got %d: %s", rec.Code, rec.Body.String())
	}

	count, err := db.ActivityCount()
	if err != nil {
		t.Fatalf("ActivityCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 activity after upload, got %d", count)
	}
}

func TestUploadNoTokenConfigured(t *testing.T) {
	s, _ := setupServer(t, Options{Upload: true}, nil)
	router := s.Router()

	req := uploadRequest(t, "/upload", "", "track.gpx", []byte(sampleGPX))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for unauthenticated upload, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUploadAppliesTrimDist(t *testing.T) {
	s, db := setupServer(t, Options{Upload: true}, nil)
	router := s.Router()

	// A configured trim larger than the whole track consumes every
	// sample, so the upload stores nothing.
	if err := db.SetTrimDist(5000); err != nil {
		t.Fatalf("SetTrimDist failed: %v", err)
	}

	req := uploadRequest(t, "/upload", "", "track.gpx", []byte(sampleGPX))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for fully trimmed upload, got %d", rec.Code)
	}

	count, err := db.ActivityCount()
	if err != nil {
		t.Fatalf("ActivityCount failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected no stored activity, got %d", count)
	}
}

func TestUploadBadContent(t *testing.T) {
	s, _ := setupServer(t, Options{Upload: true}, nil)
	router := s.Router()

	req := uploadRequest(t, "/upload", "", "notes.txt", []byte("not a track"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("Expected 415 for unknown format, got %d", rec.Code)
	}

	req = uploadRequest(t, "/upload", "", "track.gpx", []byte("<gpx>truncated"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for undecodable file, got %d", rec.Code)
	}
}

func TestWebhookVerify(t *testing.T) {
	cfg := &config.Config{StravaWebhookSecret: "verify_me"}
	s, _ := setupServer(t, Options{Strava: true}, cfg)
	router := s.Router()

	rec := get(t, router, "/strava/webhook?hub.mode=subscribe&hub.challenge=ch123&hub.verify_token=verify_me")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["hub.challenge"] != "ch123" {
		t.Errorf("Expected challenge echo, got %v", resp)
	}

	rec = get(t, router, "/strava/webhook?hub.challenge=ch123&hub.verify_token=wrong")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for bad verify token, got %d", rec.Code)
	}
}

func TestWebhookEventEnqueues(t *testing.T) {
	cfg := &config.Config{StravaWebhookSecret: "verify_me"}
	s, db := setupServer(t, Options{Strava: true}, cfg)
	router := s.Router()

	body := `{"object_type": "activity", "object_id": 42, "aspect_type": "create", "owner_id": 1}`
	req := httptest.NewRequest(http.MethodPost, "/strava/webhook", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	length, err := db.GetQueueLength()
	if err != nil {
		t.Fatalf("GetQueueLength failed: %v", err)
	}
	if length != 1 {
		t.Errorf("Expected 1 queued event, got %d", length)
	}

	req = httptest.NewRequest(http.MethodPost, "/strava/webhook", bytes.NewBufferString("{broken"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid json, got %d", rec.Code)
	}
}

func TestActivityCountEndpoint(t *testing.T) {
	s, db := setupServer(t, Options{}, nil)
	router := s.Router()

	rec := get(t, router, "/api/activity-count")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "0" {
		t.Errorf("Expected 0, got %s", rec.Body.String())
	}

	storeSample(t, db)
	rec = get(t, router, "/api/activity-count")
	if rec.Body.String() != "1" {
		t.Errorf("Expected 1, got %s", rec.Body.String())
	}
}

func TestPropertiesEndpoint(t *testing.T) {
	s, db := setupServer(t, Options{}, nil)
	storeSample(t, db)
	router := s.Router()

	rec := get(t, router, "/api/properties")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var summary map[string]database.PropertySummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("Failed to decode summary: %v", err)
	}
	if summary["activity_type"].Count != 1 {
		t.Errorf("Expected activity_type count 1, got %+v", summary["activity_type"])
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := setupServer(t, Options{}, nil)
	router := s.Router()

	rec := get(t, router, "/health")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}
