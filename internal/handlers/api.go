package handlers

import (
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"
)

// HandleActivityCount returns the number of stored activities as
// plain text.
func (s *Server) HandleActivityCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.db.ActivityCount()
	if err != nil {
		s.serverError(w, "failed to count activities", err)
		return
	}
	fmt.Fprintf(w, "%d", count)
}

// HandleProperties returns the per-key property summary, useful for
// building filter expressions.
func (s *Server) HandleProperties(w http.ResponseWriter, r *http.Request) {
	summary, err := s.db.PropertiesSummary()
	if err != nil {
		s.serverError(w, "failed to summarize properties", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		s.logger.Error("failed to encode properties summary", "error", err)
	}
}

// HandleHealth reports liveness, pinging the database.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Health(); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	fmt.Fprint(w, "ok")
}
