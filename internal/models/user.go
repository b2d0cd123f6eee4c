package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"time"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// User is a contest participant identified by an API key
type User struct {
	Username   string    `json:"username"`
	APIKeyHash string    `json:"-"` // Never serialize
	CreatedAt  time.Time `json:"created_at"`
}

// ValidUsername reports whether name may be used as a username
func ValidUsername(name string) bool {
	return usernamePattern.MatchString(name)
}

// GenerateAPIKey creates a random key of the form "pa_<48 hex chars>"
func GenerateAPIKey() (string, error) {
	bytes := make([]byte, 24)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return "pa_" + hex.EncodeToString(bytes), nil
}

// HashAPIKey returns the stored form of an API key
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// MaskAPIKey returns first 8 characters of an API key for logging
func MaskAPIKey(key string) string {
	if len(key) < 8 {
		return "***"
	}
	return key[:8] + "..."
}

// SignupRequest represents a request to register a user
type SignupRequest struct {
	Username string `json:"username"`
}

// SignupResponse carries the API key, shown exactly once
type SignupResponse struct {
	Username string `json:"username"`
	APIKey   string `json:"api_key"`
}
