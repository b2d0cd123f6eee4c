package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/pricing-arena/internal/models"
)

// Submission handlers

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	text, err := readUpload(w, r, s.config.SubmissionMaxBytes)
	if err != nil {
		respondUploadError(w, err)
		return
	}

	res, err := s.arena.Submit(r.Context(), user.Username, text)
	if err != nil && res == nil {
		respondDomainError(w, r, err, "score submission")
		return
	}

	body := models.SubmitResponse{
		ID:         res.Record.ID,
		Score:      res.Record.Score,
		CreatedAt:  res.Record.CreatedAt,
		Persisted:  res.Persisted,
		DemandText: res.Record.DemandText,
	}

	if err != nil {
		// Scored but not recorded: the caller still gets the score
		respondErrorWithData(w, http.StatusServiceUnavailable, "storage_unavailable",
			"submission was scored but could not be recorded", body)
		return
	}

	respondJSON(w, http.StatusCreated, body)
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	history, err := s.arena.History(r.Context(), user.Username)
	if err != nil {
		respondDomainError(w, r, err, "list submissions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"submissions": history,
		"total":       len(history),
	})
}

// handleDownload serves a stored artifact of the index-th most recent submission
func (s *Server) handleDownload(kind models.ArtifactKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := UserFromContext(r.Context())

		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			respondError(w, http.StatusBadRequest, "validation_error", "index must be an integer")
			return
		}

		artifact, err := s.arena.Artifact(r.Context(), user.Username, index, kind)
		if err != nil {
			respondDomainError(w, r, err, "load submission")
			return
		}

		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Filename))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(artifact.Content)); err != nil {
			slog.Debug("failed to write artifact", "error", err)
		}
	}
}
