// Package handlers wires the HTTP surface: tile and viewport renders,
// uploads, the Strava webhook and OAuth flow, and small JSON APIs.
package handlers

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hotpot/internal/config"
	"hotpot/internal/database"
	"hotpot/internal/filter"
	"hotpot/internal/gradient"
	"hotpot/internal/mask"
	"hotpot/internal/metrics"
	"hotpot/internal/middleware"
	"hotpot/internal/render"
	"hotpot/internal/strava"
)

// Server holds the dependencies shared by all handlers.
type Server struct {
	db           *database.DB
	renderer     *render.Renderer
	masks        *mask.Registry
	stravaClient *strava.Client
	config       *config.Config
	logger       *slog.Logger

	uploadEnabled bool
	stravaEnabled bool
}

// Options toggle the optional route groups.
type Options struct {
	Upload bool
	Strava bool
}

func NewServer(db *database.DB, renderer *render.Renderer, masks *mask.Registry, stravaClient *strava.Client, cfg *config.Config, opts Options, logger *slog.Logger) *Server {
	return &Server{
		db:            db,
		renderer:      renderer,
		masks:         masks,
		stravaClient:  stravaClient,
		config:        cfg,
		logger:        logger,
		uploadEnabled: opts.Upload,
		stravaEnabled: opts.Strava,
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.With(middleware.Metrics(metrics.EndpointTile)).
		Get("/tile/{z}/{x}/{y}", s.HandleTile)
	r.With(middleware.Metrics(metrics.EndpointRender)).
		Get("/render", s.HandleRender)
	r.With(middleware.Metrics(metrics.EndpointActivityCount)).
		Get("/api/activity-count", s.HandleActivityCount)
	r.With(middleware.Metrics(metrics.EndpointProperties)).
		Get("/api/properties", s.HandleProperties)
	r.With(middleware.Metrics(metrics.EndpointHealth)).
		Get("/health", s.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())

	if s.uploadEnabled {
		r.With(middleware.Metrics(metrics.EndpointUpload)).
			Post("/upload", s.HandleUpload)
	}

	if s.stravaEnabled {
		r.Route("/strava", func(r chi.Router) {
			r.With(middleware.Metrics(metrics.EndpointWebhook)).
				Get("/webhook", s.HandleWebhookVerify)
			r.With(middleware.Metrics(metrics.EndpointWebhook)).
				Post("/webhook", s.HandleWebhookEvent)
			r.With(middleware.Metrics(metrics.EndpointOAuthStart)).
				Get("/auth", s.HandleAuthStart)
			r.With(middleware.Metrics(metrics.EndpointOAuthCallback)).
				Get("/callback", s.HandleAuthCallback)
		})
	}

	return r
}

// renderOptions are the styling params shared by the tile, render and
// activity-count endpoints.
func parseRenderOptions(q url.Values) (render.Options, error) {
	opts := render.Options{Gradient: gradient.Default()}

	colorName := q.Get("color")
	gradientSpec := q.Get("gradient")
	switch {
	case colorName != "" && gradientSpec != "":
		return opts, fmt.Errorf("cannot specify both gradient and color")
	case gradientSpec != "":
		g, err := gradient.Parse(gradientSpec)
		if err != nil {
			return opts, err
		}
		opts.Gradient = g
	case colorName != "":
		g, err := gradient.Preset(colorName)
		if err != nil {
			return opts, err
		}
		opts.Gradient = g
	}

	f, err := filter.Parse(q.Get("filter"))
	if err != nil {
		return opts, err
	}
	opts.Filter = f

	if opts.Range, err = parseTimeRange(q); err != nil {
		return opts, err
	}
	return opts, nil
}

func parseTimeRange(q url.Values) (database.TimeRange, error) {
	var tr database.TimeRange
	if v := q.Get("after"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return tr, fmt.Errorf("invalid after date: %q", v)
		}
		ts := t.Unix()
		tr.After = &ts
	}
	if v := q.Get("before"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return tr, fmt.Errorf("invalid before date: %q", v)
		}
		ts := t.Unix()
		tr.Before = &ts
	}
	return tr, nil
}

// etag derives a weak validator from the activity count, the mask set
// and the styling params. New data changes the count, mask edits
// change the fingerprint, and different styling is a different
// resource.
func (s *Server) etag(q url.Values) (string, error) {
	count, err := s.db.ActivityCount()
	if err != nil {
		return "", err
	}

	h := fnv.New64a()
	fmt.Fprintf(h, "%d;%x", count, s.masks.Fingerprint())
	for _, key := range []string{"color", "gradient", "filter", "before", "after", "size"} {
		fmt.Fprintf(h, ";%s=%s", key, q.Get(key))
	}
	return `"` + strconv.FormatUint(h.Sum64(), 16) + `"`, nil
}

// writeImage sends a PNG with the caching headers. Any cache may hold
// the response, but it must revalidate; stale content is acceptable
// for a day while revalidation happens in the background.
func writeImage(w http.ResponseWriter, etag string, png []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=0, stale-while-revalidate=86400")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// notModified reports whether the client's validator matches.
func notModified(r *http.Request, etag string) bool {
	return r.Header.Get("If-None-Match") == etag
}
