package api

import (
	"net/http"

	"github.com/terra-clan/pricing-arena/internal/models"
)

// Catalog and leaderboard handlers

func (s *Server) handleGetCatalog(w http.ResponseWriter, r *http.Request) {
	cat := s.arena.Catalog()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": cat.Items(),
		"total": cat.Len(),
	})
}

func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.arena.Leaderboard(r.Context())
	if err != nil {
		respondDomainError(w, r, err, "load leaderboard")
		return
	}
	if entries == nil {
		entries = []*models.LeaderboardEntry{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   len(entries),
	})
}
