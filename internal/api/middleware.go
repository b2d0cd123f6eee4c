package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/terra-clan/pricing-arena/internal/arena"
	"github.com/terra-clan/pricing-arena/internal/models"
)

// AuthMiddleware handles API key authentication
type AuthMiddleware struct {
	manager arena.Manager
}

// NewAuthMiddleware creates new auth middleware
func NewAuthMiddleware(manager arena.Manager) *AuthMiddleware {
	return &AuthMiddleware{manager: manager}
}

// Authenticate resolves the caller from its API key.
// Supports "Bearer pa_xxx" or "pa_xxx" in Authorization, the X-API-Key header,
// and an api_key query parameter for browser websockets.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := extractAPIKey(r)
		if apiKey == "" {
			respondError(w, http.StatusUnauthorized, "missing_api_key",
				"provide Authorization header with Bearer token or X-API-Key header")
			return
		}

		user, err := m.manager.Authenticate(r.Context(), apiKey)
		if err != nil {
			if errors.Is(err, arena.ErrUnauthorized) {
				slog.Warn("invalid api key attempt", "key_prefix", models.MaskAPIKey(apiKey), "remote_addr", r.RemoteAddr)
				respondError(w, http.StatusUnauthorized, "invalid_api_key", "the provided api key is not valid")
				return
			}
			slog.Error("failed to lookup api key", "error", err, "key_prefix", models.MaskAPIKey(apiKey))
			respondError(w, http.StatusInternalServerError, "internal_error", "authentication error")
			return
		}

		slog.Debug("authenticated request", "username", user.Username)

		ctx := ContextWithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractAPIKey extracts API key from request headers or query
func extractAPIKey(r *http.Request) string {
	// Try Authorization header first
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		// Handle "Bearer pa_xxx" format
		if strings.HasPrefix(authHeader, "Bearer ") {
			return strings.TrimPrefix(authHeader, "Bearer ")
		}
		// Handle raw key in Authorization header
		return authHeader
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}

	return r.URL.Query().Get("api_key")
}
