package api

import "net/http"

// Predictor handlers

func (s *Server) handleRegisterPredictor(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	source, err := readUpload(w, r, s.config.SubmissionMaxBytes)
	if err != nil {
		respondUploadError(w, err)
		return
	}

	fn, err := s.arena.RegisterPredictor(r.Context(), user.Username, source)
	if err != nil {
		respondDomainError(w, r, err, "register predictor")
		return
	}

	respondJSON(w, http.StatusOK, fn)
}

func (s *Server) handleGetPredictor(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	fn, err := s.arena.GetPredictor(r.Context(), user.Username)
	if err != nil {
		respondDomainError(w, r, err, "load predictor")
		return
	}

	respondJSON(w, http.StatusOK, fn)
}
