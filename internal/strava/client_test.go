package strava

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"hotpot/internal/database"
)

func setupTestClient(t *testing.T) (*Client, *database.DB) {
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

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient("test_client_id", "test_client_secret", db, logger), db
}

func TestExchangeCode(t *testing.T) {
	client, db := setupTestClient(t)

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST request, got %s", r.Method)
		}

		var params map[string]string
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if params["code"] != "test_code" {
			t.Errorf("Expected code test_code, got %s", params["code"])
		}
		if params["grant_type"] != "authorization_code" {
			t.Errorf("Expected grant_type authorization_code, got %s", params["grant_type"])
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"access_token": "new_access",
			"refresh_token": "new_refresh",
			"expires_at": %d,
			"athlete": {"id": 12345}
		}`, time.Now().Add(6*time.Hour).Unix())
	}))
	defer tokenServer.Close()
	client.SetTokenURL(tokenServer.URL)

	auth, err := client.ExchangeCode(context.Background(), "test_code")
	if err != nil {
		t.Fatalf("ExchangeCode failed: %v", err)
	}
	if auth.AthleteID != 12345 {
		t.Errorf("Expected athlete ID 12345, got %d", auth.AthleteID)
	}
	if auth.AccessToken != "new_access" {
		t.Errorf("Expected access token new_access, got %s", auth.AccessToken)
	}

	stored, err := db.GetStravaAuth()
	if err != nil {
		t.Fatalf("GetStravaAuth failed: %v", err)
	}
	if stored.RefreshToken != "new_refresh" {
		t.Errorf("Expected stored refresh token new_refresh, got %s", stored.RefreshToken)
	}
}

func TestGetActivityNotAuthorized(t *testing.T) {
	client, _ := setupTestClient(t)

	_, err := client.GetActivity(context.Background(), 1)
	if err == nil {
		t.Fatal("Expected error when no athlete is authorized")
	}
}

func TestGetActivity(t *testing.T) {
	client, db := setupTestClient(t)

	if err := db.SaveStravaAuth(&database.StravaAuth{
		AthleteID:    12345,
		AccessToken:  "valid_token",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
	}); err != nil {
		t.Fatalf("SaveStravaAuth failed: %v", err)
	}

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer valid_token" {
			t.Errorf("Expected Bearer valid_token, got %s", got)
		}
		if r.URL.Path != "/activities/42" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		w.Header().Set("X-RateLimit-Limit", "200,2000")
		w.Header().Set("X-RateLimit-Usage", "10,50")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id": 42, "name": "Morning Ride", "type": "Ride", "distance": 1000.5}`)
	}))
	defer apiServer.Close()
	client.SetBaseURL(apiServer.URL)

	activity, err := client.GetActivity(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetActivity failed: %v", err)
	}
	if activity.ID != 42 {
		t.Errorf("Expected ID 42, got %d", activity.ID)
	}
	if activity.Name != "Morning Ride" {
		t.Errorf("Expected name Morning Ride, got %s", activity.Name)
	}

	status := client.RateLimit().Status()
	if status.Usage15Min != 10 || status.UsageDaily != 50 {
		t.Errorf("Expected rate limit usage 10/50, got %d/%d", status.Usage15Min, status.UsageDaily)
	}
}

func TestTokenRefresh(t *testing.T) {
	client, db := setupTestClient(t)

	// Token expiring within the buffer forces a refresh.
	if err := db.SaveStravaAuth(&database.StravaAuth{
		AthleteID:    12345,
		AccessToken:  "stale_token",
		RefreshToken: "old_refresh",
		ExpiresAt:    time.Now().Add(30 * time.Second).Unix(),
	}); err != nil {
		t.Fatalf("SaveStravaAuth failed: %v", err)
	}

	var refreshes atomic.Int64
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var params map[string]string
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if params["grant_type"] != "refresh_token" {
			t.Errorf("Expected grant_type refresh_token, got %s", params["grant_type"])
		}
		if params["refresh_token"] != "old_refresh" {
			t.Errorf("Expected refresh_token old_refresh, got %s", params["refresh_token"])
		}
		refreshes.Add(1)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"access_token": "fresh_token",
			"refresh_token": "fresh_refresh",
			"expires_at": %d
		}`, time.Now().Add(6*time.Hour).Unix())
	}))
	defer tokenServer.Close()
	client.SetTokenURL(tokenServer.URL)

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer fresh_token" {
			t.Errorf("Expected refreshed token, got %s", got)
		}
		fmt.Fprint(w, `{"id": 1}`)
	}))
	defer apiServer.Close()
	client.SetBaseURL(apiServer.URL)

	if _, err := client.GetActivity(context.Background(), 1); err != nil {
		t.Fatalf("GetActivity failed: %v", err)
	}
	if refreshes.Load() != 1 {
		t.Errorf("Expected 1 refresh, got %d", refreshes.Load())
	}

	// Second call reuses the stored token without another refresh.
	if _, err := client.GetActivity(context.Background(), 1); err != nil {
		t.Fatalf("GetActivity failed: %v", err)
	}
	if refreshes.Load() != 1 {
		t.Errorf("Expected no additional refresh, got %d", refreshes.Load())
	}

	stored, err := db.GetStravaAuth()
	if err != nil {
		t.Fatalf("GetStravaAuth failed: %v", err)
	}
	if stored.RefreshToken != "fresh_refresh" {
		t.Errorf("Expected stored refresh token fresh_refresh, got %s", stored.RefreshToken)
	}
}

func TestRetryOnUnauthorized(t *testing.T) {
	client, db := setupTestClient(t)

	if err := db.SaveStravaAuth(&database.StravaAuth{
		AthleteID:    12345,
		AccessToken:  "revoked_token",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
	}); err != nil {
		t.Fatalf("SaveStravaAuth failed: %v", err)
	}

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"access_token": "reissued_token",
			"refresh_token": "refresh2",
			"expires_at": %d
		}`, time.Now().Add(6*time.Hour).Unix())
	}))
	defer tokenServer.Close()
	client.SetTokenURL(tokenServer.URL)

	var calls atomic.Int64
	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer reissued_token" {
			t.Errorf("Expected reissued token on retry, got %s", got)
		}
		fmt.Fprint(w, `{"id": 7}`)
	}))
	defer apiServer.Close()
	client.SetBaseURL(apiServer.URL)

	activity, err := client.GetActivity(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetActivity failed: %v", err)
	}
	if activity.ID != 7 {
		t.Errorf("Expected ID 7, got %d", activity.ID)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 API calls, got %d", calls.Load())
	}
}

func TestAuthorizeURL(t *testing.T) {
	client, _ := setupTestClient(t)

	u := client.AuthorizeURL("localhost:8080")
	want := "https://www.strava.com/oauth/authorize?client_id=test_client_id&approval_prompt=force&scope=activity:read_all&response_type=code&redirect_uri=http://localhost:8080/strava/callback"
	if u != want {
		t.Errorf("AuthorizeURL mismatch:\n got %s\nwant %s", u, want)
	}
}
