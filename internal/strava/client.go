// Package strava talks to the Strava API: OAuth token lifecycle and
// activity fetches for webhook-driven sync.
package strava

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"hotpot/internal/database"
	"hotpot/internal/metrics"
)

const (
	defaultBaseURL  = "https://www.strava.com/api/v3"
	defaultTokenURL = "https://www.strava.com/oauth/token"

	// Refresh when less than a minute remains on the access token.
	tokenBuffer = 60 * time.Second
)

// ErrNotAuthorized is returned when no athlete has completed the OAuth
// flow yet.
var ErrNotAuthorized = errors.New("strava not authorized")

// Client is a Strava API client for a single authorized athlete.
// Tokens live in the database; refreshes are serialized so concurrent
// webhook processing never double-refreshes.
type Client struct {
	httpClient   *http.Client
	clientID     string
	clientSecret string
	db           *database.DB
	logger       *slog.Logger
	limiter      *RateLimiter
	baseURL      string
	tokenURL     string

	refreshMu sync.Mutex
}

// NewClient creates a new Strava API client
func NewClient(clientID, clientSecret string, db *database.DB, logger *slog.Logger) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		clientID:     clientID,
		clientSecret: clientSecret,
		db:           db,
		logger:       logger,
		limiter:      NewRateLimiter(),
		baseURL:      defaultBaseURL,
		tokenURL:     defaultTokenURL,
	}
}

// RateLimit exposes the tracked API rate limit state.
func (c *Client) RateLimit() *RateLimiter { return c.limiter }

// SetBaseURL overrides the API base URL, for tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// SetTokenURL overrides the OAuth token URL, for tests.
func (c *Client) SetTokenURL(u string) { c.tokenURL = u }

// AuthorizeURL builds the OAuth authorization redirect for the given
// callback host.
func (c *Client) AuthorizeURL(host string) string {
	return fmt.Sprintf(
		"https://www.strava.com/oauth/authorize?client_id=%s&approval_prompt=force&scope=activity:read_all&response_type=code&redirect_uri=http://%s/strava/callback",
		c.clientID, host,
	)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	Athlete      *struct {
		ID int64 `json:"id"`
	} `json:"athlete"`
}

// ExchangeCode trades an authorization code for tokens and stores
// them.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*database.StravaAuth, error) {
	resp, err := c.tokenRequest(ctx, metrics.OpExchangeCode, map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"code":          code,
		"grant_type":    "authorization_code",
	})
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	if resp.Athlete == nil {
		return nil, fmt.Errorf("token exchange response missing athlete")
	}

	auth := &database.StravaAuth{
		AthleteID:    resp.Athlete.ID,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    resp.ExpiresAt,
	}
	if err := c.db.SaveStravaAuth(auth); err != nil {
		return nil, err
	}

	c.logger.Info("strava authorized", "athlete_id", auth.AthleteID)
	return auth, nil
}

// accessToken returns a valid access token, refreshing if it expires
// within the buffer.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	auth, err := c.db.GetStravaAuth()
	if errors.Is(err, database.ErrNotFound) {
		return "", ErrNotAuthorized
	}
	if err != nil {
		return "", err
	}

	if time.Now().Add(tokenBuffer).Unix() < auth.ExpiresAt {
		return auth.AccessToken, nil
	}

	c.logger.Info("refreshing strava token", "athlete_id", auth.AthleteID)
	resp, err := c.tokenRequest(ctx, metrics.OpRefreshToken, map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"refresh_token": auth.RefreshToken,
		"grant_type":    "refresh_token",
	})
	if err != nil {
		return "", fmt.Errorf("token refresh failed: %w", err)
	}

	auth.AccessToken = resp.AccessToken
	auth.RefreshToken = resp.RefreshToken
	auth.ExpiresAt = resp.ExpiresAt
	if err := c.db.SaveStravaAuth(auth); err != nil {
		return "", err
	}
	return auth.AccessToken, nil
}

func (c *Client) tokenRequest(ctx context.Context, operation string, params map[string]string) (*tokenResponse, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	status := strconv.Itoa(resp.StatusCode)
	metrics.StravaAPIRequestsTotal.WithLabelValues(operation, status).Inc()
	metrics.StravaAPIRequestDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &token, nil
}

// apiGet performs an authenticated GET against the Strava API,
// retrying once through a token refresh on 401.
func (c *Client) apiGet(ctx context.Context, operation, path string) ([]byte, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		duration := time.Since(start)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}

		c.limiter.UpdateFromHeaders(resp.Header)
		metrics.StravaAPIRequestsTotal.WithLabelValues(operation, strconv.Itoa(resp.StatusCode)).Inc()
		metrics.StravaAPIRequestDuration.WithLabelValues(operation, strconv.Itoa(resp.StatusCode)).Observe(duration.Seconds())
		c.logger.Info("strava_api_request", "path", path, "status", resp.StatusCode, "duration_ms", duration.Milliseconds())

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if readErr != nil {
				return nil, fmt.Errorf("failed to read response: %w", readErr)
			}
			return body, nil

		case resp.StatusCode == http.StatusUnauthorized && attempt == 0:
			// The stored token may have been revoked or expired early.
			if token, err = c.forceRefresh(ctx); err != nil {
				return nil, err
			}

		default:
			return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
		}
	}
}

// forceRefresh refreshes regardless of the recorded expiry.
func (c *Client) forceRefresh(ctx context.Context) (string, error) {
	c.refreshMu.Lock()
	auth, err := c.db.GetStravaAuth()
	if err != nil {
		c.refreshMu.Unlock()
		if errors.Is(err, database.ErrNotFound) {
			return "", ErrNotAuthorized
		}
		return "", err
	}
	auth.ExpiresAt = 0
	err = c.db.SaveStravaAuth(auth)
	c.refreshMu.Unlock()
	if err != nil {
		return "", err
	}

	return c.accessToken(ctx)
}
