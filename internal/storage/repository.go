package storage

import (
	"context"
	"errors"

	"github.com/terra-clan/pricing-arena/internal/models"
)

// Storage errors
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("already exists")
	ErrPersistence = errors.New("persistence failure")
)

// Repository defines the interface for contest persistence
type Repository interface {
	// Users
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByAPIKeyHash(ctx context.Context, hash string) (*models.User, error)

	// Submissions (append-only)
	AppendSubmission(ctx context.Context, rec *models.SubmissionRecord) error
	ListSubmissionsByUser(ctx context.Context, username string) ([]*models.SubmissionRecord, error)
	GetSubmissionByIndex(ctx context.Context, username string, index int) (*models.SubmissionRecord, error)
	ListSubmissions(ctx context.Context) ([]*models.SubmissionRecord, error)
	Leaderboard(ctx context.Context) ([]*models.LeaderboardEntry, error)

	// Prediction functions, one per user
	UpsertPredictor(ctx context.Context, fn *models.PredictionFunction) error
	GetPredictor(ctx context.Context, username string) (*models.PredictionFunction, error)
	ListPredictors(ctx context.Context) ([]*models.PredictionFunction, error)

	// Health
	Ping(ctx context.Context) error
	Close() error
}

// rankEntries assigns competition ranks to entries sorted by score descending
func rankEntries(entries []*models.LeaderboardEntry) {
	for i, e := range entries {
		if i > 0 && e.Score == entries[i-1].Score {
			e.Rank = entries[i-1].Rank
			continue
		}
		e.Rank = i + 1
	}
}
