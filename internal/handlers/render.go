package handlers

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"hotpot/internal/metrics"
	"hotpot/internal/render"
	"hotpot/internal/tile"
)

// HandleTile renders one XYZ heatmap tile. Tiles with no matching
// data render as a fully transparent PNG.
func (s *Server) HandleTile(w http.ResponseWriter, r *http.Request) {
	t, err := tile.ParseTile(chi.URLParam(r, "z") + "/" + chi.URLParam(r, "x") + "/" + chi.URLParam(r, "y"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if t.Z > tile.SourceZoom {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()

	size := 256
	if v := q.Get("size"); v != "" {
		size, err = strconv.Atoi(v)
		if err != nil || (size != 256 && size != 512) {
			http.Error(w, "size must be 256 or 512", http.StatusBadRequest)
			return
		}
	}

	opts, err := parseRenderOptions(q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	etag, err := s.etag(q)
	if err != nil {
		s.serverError(w, "failed to compute etag", err)
		return
	}
	if notModified(r, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	start := time.Now()
	png, err := s.renderer.RenderTile(r.Context(), t, size, opts)
	metrics.RenderDuration.WithLabelValues(metrics.RenderKindTile).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RenderErrorsTotal.WithLabelValues(metrics.RenderKindTile).Inc()
		if errors.Is(err, render.ErrUnsupportedZoom) {
			http.NotFound(w, r)
			return
		}
		s.serverError(w, "failed to render tile", err)
		return
	}

	writeImage(w, etag, png)
}

// HandleRender renders an arbitrary bounding box to a PNG.
func (s *Server) HandleRender(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	west, south, east, north, err := parseBounds(q.Get("bounds"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	width, err := strconv.Atoi(q.Get("width"))
	if err != nil {
		http.Error(w, "invalid width", http.StatusBadRequest)
		return
	}
	height, err := strconv.Atoi(q.Get("height"))
	if err != nil {
		http.Error(w, "invalid height", http.StatusBadRequest)
		return
	}
	if width < 1 || height < 1 || width > render.MaxDimension || height > render.MaxDimension {
		http.Error(w, fmt.Sprintf("width/height must be in bounds [1, %d]", render.MaxDimension), http.StatusBadRequest)
		return
	}

	if err := checkAspectRatio(west, south, east, north, width, height); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	opts, err := parseRenderOptions(q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	etag, err := s.etag(q)
	if err != nil {
		s.serverError(w, "failed to compute etag", err)
		return
	}
	if notModified(r, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	start := time.Now()
	png, err := s.renderer.RenderBounds(r.Context(), west, south, east, north, width, height, opts)
	metrics.RenderDuration.WithLabelValues(metrics.RenderKindBounds).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RenderErrorsTotal.WithLabelValues(metrics.RenderKindBounds).Inc()
		s.serverError(w, "failed to render bounds", err)
		return
	}

	writeImage(w, etag, png)
}

func parseBounds(s string) (west, south, east, north float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("bounds must be west,south,east,north")
	}

	vals := make([]float64, 4)
	for i, p := range parts {
		vals[i], err = strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return 0, 0, 0, 0, fmt.Errorf("invalid bounds value: %q", p)
		}
	}

	west, south, east, north = vals[0], vals[1], vals[2], vals[3]
	if west >= east || south >= north {
		return 0, 0, 0, 0, fmt.Errorf("bounds are empty or inverted")
	}
	return west, south, east, north, nil
}

// checkAspectRatio rejects output dimensions that would distort the
// projected bounds by more than 1%.
func checkAspectRatio(west, south, east, north float64, width, height int) error {
	u0, v0 := tile.Normalized(north, west)
	u1, v1 := tile.Normalized(south, east)

	boundsRatio := (u1 - u0) / (v1 - v0)
	imageRatio := float64(width) / float64(height)
	if math.Abs(imageRatio/boundsRatio-1) > 0.01 {
		return fmt.Errorf("aspect ratio of width/height does not match bounds")
	}
	return nil
}

func (s *Server) serverError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, "error", err)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}
