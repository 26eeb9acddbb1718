package handlers

import (
	"fmt"
	"io"
	"net/http"

	json "github.com/goccy/go-json"

	"hotpot/internal/metrics"
)

// HandleWebhookVerify answers Strava's subscription verification
// handshake by echoing hub.challenge when the verify token matches.
func (s *Server) HandleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge := q.Get("hub.challenge")
	verifyToken := q.Get("hub.verify_token")

	if verifyToken != s.config.StravaWebhookSecret {
		s.logger.Warn("webhook verification with bad verify token")
		http.Error(w, "bad verify token", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"hub.challenge": challenge}); err != nil {
		s.logger.Error("failed to write challenge response", "error", err)
	}
	s.logger.Info("webhook subscription verified")
}

// HandleWebhookEvent enqueues an incoming event for the background
// worker. Strava requires a fast 200; processing happens off the
// request path.
func (s *Server) HandleWebhookEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if !json.Valid(body) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	id, err := s.db.EnqueueWebhook(body)
	if err != nil {
		s.serverError(w, "failed to enqueue webhook event", err)
		return
	}

	metrics.QueueEnqueueTotal.Inc()
	s.logger.Info("enqueued webhook event", "queue_id", id)
	w.WriteHeader(http.StatusOK)
}

// HandleAuthStart redirects the browser into Strava's OAuth consent
// screen.
func (s *Server) HandleAuthStart(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, s.stravaClient.AuthorizeURL(r.Host), http.StatusFound)
}

// HandleAuthCallback completes the OAuth code exchange.
func (s *Server) HandleAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}

	auth, err := s.stravaClient.ExchangeCode(r.Context(), code)
	if err != nil {
		s.serverError(w, "failed to exchange oauth code", err)
		return
	}

	fmt.Fprintf(w, `Successfully authenticated with Strava (athlete %d).

Next, make sure the webhook is set up to be called for new activities:

    curl https://www.strava.com/api/v3/push_subscriptions \
         -F "client_id=%[2]s" \
         -F "client_secret=[redacted]" \
         -F "callback_url=https://[example.com]/strava/webhook" \
         -F "verify_token=[your STRAVA_WEBHOOK_SECRET]"

Confirm the webhook was set up correctly with:

    curl --get https://www.strava.com/api/v3/push_subscriptions \
         -d "client_id=%[2]s" \
         -d "client_secret=[redacted]"

More information: https://developers.strava.com/docs/getting-started
`, auth.AthleteID, s.config.StravaClientID)
}
