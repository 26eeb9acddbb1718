package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"hotpot/internal/database"
	"hotpot/internal/decode"
	"hotpot/internal/ingest"
)

// Uploads larger than this are rejected while parsing the multipart
// form.
const maxUploadBytes = 64 << 20

// HandleUpload accepts a multipart track file upload. When
// HOTPOT_UPLOAD_TOKEN is set the request must carry it as a bearer
// token; otherwise uploads are unauthenticated.
func (s *Server) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.uploadAuthorized(r) {
		http.Error(w, "bad token", http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if header.Filename == "" {
		http.Error(w, "no filename", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read file", http.StatusBadRequest)
		return
	}

	activity, err := decode.Bytes(data)
	if errors.Is(err, decode.ErrUnknownFormat) {
		http.Error(w, "unrecognized file type", http.StatusUnsupportedMediaType)
		return
	}
	if err != nil {
		http.Error(w, "couldn't read file", http.StatusUnprocessableEntity)
		return
	}

	// Uploads trim the same distance the importer was configured with.
	trimDist, err := s.db.TrimDist()
	if err != nil {
		s.serverError(w, "failed to read trim distance", err)
		return
	}

	fileKey := "upload:" + header.Filename
	id, err := ingest.StoreDecoded(s.db, activity, ingest.Meta{
		Source:   database.SourceUpload,
		File:     &fileKey,
		TrimDist: trimDist,
	})
	if errors.Is(err, ingest.ErrEmptyActivity) {
		http.Error(w, "couldn't read file", http.StatusUnprocessableEntity)
		return
	}
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			http.Error(w, "already uploaded", http.StatusConflict)
			return
		}
		s.serverError(w, "failed to store upload", err)
		return
	}

	s.logger.Info("stored upload", "file", header.Filename, "activity_id", id)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "stored activity %d\n", id)
}

func (s *Server) uploadAuthorized(r *http.Request) bool {
	token := s.config.UploadToken
	if token == "" {
		return true
	}

	auth := r.Header.Get("Authorization")
	return strings.TrimPrefix(auth, "Bearer ") == token && strings.HasPrefix(auth, "Bearer ")
}
