package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/terra-clan/pricing-arena/internal/arena"
	"github.com/terra-clan/pricing-arena/internal/models"
	"github.com/terra-clan/pricing-arena/internal/pipeline"
	"github.com/terra-clan/pricing-arena/internal/storage"
)

// Response helpers

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondErrorWithData(w, status, code, message, nil)
}

// respondErrorWithData reports a failure that still produced a result
func respondErrorWithData(w http.ResponseWriter, status int, code, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: false,
		Data:    data,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// errorStatus maps domain errors to an HTTP status and error code
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, pipeline.ErrFormat):
		return http.StatusUnprocessableEntity, "invalid_format"
	case errors.Is(err, pipeline.ErrShape):
		return http.StatusUnprocessableEntity, "invalid_shape"
	case errors.Is(err, pipeline.ErrAlignment):
		return http.StatusUnprocessableEntity, "misaligned"
	case errors.Is(err, pipeline.ErrOverflow):
		return http.StatusUnprocessableEntity, "out_of_range"
	case errors.Is(err, pipeline.ErrNoPredictors):
		return http.StatusConflict, "no_predictors"
	case errors.Is(err, pipeline.ErrEstimation):
		return http.StatusUnprocessableEntity, "estimation_failed"
	case errors.Is(err, arena.ErrInvalidPredictor):
		return http.StatusUnprocessableEntity, "invalid_predictor"
	case errors.Is(err, arena.ErrInvalidUsername):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, arena.ErrUnknownArtifact), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, storage.ErrPersistence):
		return http.StatusServiceUnavailable, "storage_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// respondDomainError writes err using errorStatus; server faults are logged
// and their details hidden
func respondDomainError(w http.ResponseWriter, r *http.Request, err error, action string) {
	status, code := errorStatus(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		slog.Error("failed to "+action, "error", err, "path", r.URL.Path)
		message = "failed to " + action
	}
	respondError(w, status, code, message)
}

// readUpload returns the uploaded text, either the multipart "file" part or
// the raw request body, capped at limit bytes
func readUpload(w http.ResponseWriter, r *http.Request, limit int64) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	var src io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(limit); err != nil {
			return "", err
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return "", err
		}
		defer file.Close()
		src = file
	}

	data, err := io.ReadAll(src)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func respondUploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		respondError(w, http.StatusRequestEntityTooLarge, "too_large", "upload exceeds size limit")
		return
	}
	respondError(w, http.StatusBadRequest, "invalid_request", "could not read upload: "+err.Error())
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks, healthy := s.health.CheckAll(r.Context())
	if !healthy {
		respondErrorWithData(w, http.StatusServiceUnavailable, "not_ready", "service not ready", map[string]interface{}{
			"checks": checks,
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ready",
		"checks": checks,
	})
}

// User handlers

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req models.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if req.Username == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "username is required")
		return
	}

	resp, err := s.arena.Signup(r.Context(), req.Username)
	if err != nil {
		respondDomainError(w, r, err, "register user")
		return
	}

	respondJSON(w, http.StatusCreated, resp)
}
