// Package arena coordinates the contest: it scores uploads through the
// pipeline, records them, and serves history, artifacts and the leaderboard.
package arena

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/terra-clan/pricing-arena/internal/cache"
	"github.com/terra-clan/pricing-arena/internal/catalog"
	"github.com/terra-clan/pricing-arena/internal/metrics"
	"github.com/terra-clan/pricing-arena/internal/models"
	"github.com/terra-clan/pricing-arena/internal/pipeline"
	"github.com/terra-clan/pricing-arena/internal/storage"
)

// Common errors
var (
	ErrInvalidUsername  = errors.New("invalid username")
	ErrUnauthorized     = errors.New("unknown api key")
	ErrInvalidPredictor = errors.New("invalid prediction function")
	ErrUnknownArtifact  = errors.New("unknown artifact kind")
)

// Manager defines the contest operations exposed to transports
type Manager interface {
	Signup(ctx context.Context, username string) (*models.SignupResponse, error)
	Authenticate(ctx context.Context, apiKey string) (*models.User, error)
	Catalog() *catalog.Catalog
	Submit(ctx context.Context, username, text string) (*SubmitResult, error)
	RegisterPredictor(ctx context.Context, username, source string) (*models.PredictionFunction, error)
	GetPredictor(ctx context.Context, username string) (*models.PredictionFunction, error)
	History(ctx context.Context, username string) ([]models.SubmissionSummary, error)
	Artifact(ctx context.Context, username string, index int, kind models.ArtifactKind) (*Artifact, error)
	Leaderboard(ctx context.Context) ([]*models.LeaderboardEntry, error)
	RefreshLeaderboard(ctx context.Context) (int, error)
	Subscribe(ctx context.Context) (<-chan *models.ScoreEvent, error)
	Ping(ctx context.Context) error
}

// SubmitResult is the outcome of a scored upload.
// When Persisted is false the score is valid but was not recorded.
type SubmitResult struct {
	Record    *models.SubmissionRecord
	Demands   []models.DemandRow
	Persisted bool
}

// Artifact is a stored CSV ready for download
type Artifact struct {
	Filename string
	Content  string
}

// Options tune the arena
type Options struct {
	MaxSourceBytes int
	RetryDelay     time.Duration
}

// Arena implements Manager
type Arena struct {
	pipeline *pipeline.Pipeline
	repo     storage.Repository
	cache    cache.LeaderboardCache
	opts     Options
	now      func() time.Time
}

// New creates an Arena
func New(p *pipeline.Pipeline, repo storage.Repository, lc cache.LeaderboardCache, opts Options) *Arena {
	if opts.MaxSourceBytes <= 0 {
		opts.MaxSourceBytes = 64 << 10
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 100 * time.Millisecond
	}

	return &Arena{
		pipeline: p,
		repo:     repo,
		cache:    lc,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Catalog returns the catalog submissions are scored against
func (a *Arena) Catalog() *catalog.Catalog {
	return a.pipeline.Catalog()
}

// Ping checks that the store is reachable
func (a *Arena) Ping(ctx context.Context) error {
	if err := a.repo.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// --- Users ---

// Signup registers username and returns its API key
func (a *Arena) Signup(ctx context.Context, username string) (*models.SignupResponse, error) {
	if !models.ValidUsername(username) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}

	key, err := models.GenerateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate api key: %w", err)
	}

	user := &models.User{
		Username:   username,
		APIKeyHash: models.HashAPIKey(key),
		CreatedAt:  a.now(),
	}
	if err := a.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	slog.Info("user registered", "username", username, "api_key", models.MaskAPIKey(key))

	return &models.SignupResponse{Username: username, APIKey: key}, nil
}

// Authenticate resolves an API key to its user
func (a *Arena) Authenticate(ctx context.Context, apiKey string) (*models.User, error) {
	if apiKey == "" {
		return nil, ErrUnauthorized
	}

	user, err := a.repo.GetUserByAPIKeyHash(ctx, models.HashAPIKey(apiKey))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	return user, nil
}

// --- Submissions ---

// Submit scores text with every registered predictor and records the result.
// Nothing is written unless the full score was computed.
func (a *Arena) Submit(ctx context.Context, username, text string) (*SubmitResult, error) {
	fns, err := a.repo.ListPredictors(ctx)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		return nil, fmt.Errorf("failed to load predictors: %w", err)
	}

	start := time.Now()
	result, err := a.pipeline.Run(ctx, text, fns)
	metrics.EstimationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(outcomeOf(err)).Inc()
		slog.Info("submission rejected", "username", username, "error", err)
		return nil, err
	}
	metrics.PredictorsActive.Set(float64(len(fns)))

	rec := &models.SubmissionRecord{
		Username:       username,
		SubmissionText: text,
		DemandText:     result.DemandText,
		Score:          float64(result.Score),
	}

	res := &SubmitResult{Record: rec, Demands: result.Demands}

	if err := a.appendWithRetry(ctx, rec); err != nil {
		metrics.SubmissionsTotal.WithLabelValues(metrics.OutcomeUnsaved).Inc()
		slog.Error("scored submission could not be recorded",
			"error", err,
			"username", username,
			"score", rec.Score,
		)
		return res, fmt.Errorf("failed to record submission: %w", err)
	}
	res.Persisted = true
	metrics.SubmissionsTotal.WithLabelValues(metrics.OutcomeScored).Inc()

	slog.Info("submission scored",
		"username", username,
		"submission_id", rec.ID,
		"score", rec.Score,
		"predictors", len(fns),
	)

	if err := a.cache.Invalidate(ctx); err != nil {
		slog.Warn("failed to invalidate leaderboard cache", "error", err)
	}
	if err := a.cache.Publish(ctx, &models.ScoreEvent{
		Username:     rec.Username,
		SubmissionID: rec.ID,
		Score:        rec.Score,
		SubmittedAt:  rec.CreatedAt,
	}); err != nil {
		slog.Warn("failed to publish score event", "error", err)
	}

	return res, nil
}

// appendWithRetry appends rec, retrying once after RetryDelay. rec is stamped
// on every attempt so its time follows append order.
func (a *Arena) appendWithRetry(ctx context.Context, rec *models.SubmissionRecord) error {
	rec.CreatedAt = a.now()
	err := a.repo.AppendSubmission(ctx, rec)
	if err == nil {
		return nil
	}

	metrics.PersistenceRetries.Inc()
	slog.Warn("append failed, retrying", "error", err, "username", rec.Username)

	select {
	case <-ctx.Done():
		return err
	case <-time.After(a.opts.RetryDelay):
	}

	rec.CreatedAt = a.now()
	return a.repo.AppendSubmission(ctx, rec)
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrNoPredictors):
		return metrics.OutcomeNoPredict
	case errors.Is(err, pipeline.ErrFormat),
		errors.Is(err, pipeline.ErrShape),
		errors.Is(err, pipeline.ErrAlignment),
		errors.Is(err, pipeline.ErrOverflow):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeFailed
	}
}

// History lists the user's submissions, newest first, with 1-based indexes
func (a *Arena) History(ctx context.Context, username string) ([]models.SubmissionSummary, error) {
	records, err := a.repo.ListSubmissionsByUser(ctx, username)
	if err != nil {
		return nil, err
	}

	summaries := make([]models.SubmissionSummary, len(records))
	for i, rec := range records {
		summaries[i] = models.SubmissionSummary{
			Index:     i + 1,
			ID:        rec.ID,
			CreatedAt: rec.CreatedAt,
			Score:     rec.Score,
		}
	}
	return summaries, nil
}

// Artifact returns the stored price list or demand result of the index-th
// most recent submission
func (a *Arena) Artifact(ctx context.Context, username string, index int, kind models.ArtifactKind) (*Artifact, error) {
	if kind != models.ArtifactPrices && kind != models.ArtifactDemands {
		return nil, fmt.Errorf("%w: %q", ErrUnknownArtifact, kind)
	}

	rec, err := a.repo.GetSubmissionByIndex(ctx, username, index)
	if err != nil {
		return nil, err
	}

	if kind == models.ArtifactPrices {
		return &Artifact{
			Filename: fmt.Sprintf("%s_submit_%02d.csv", username, index),
			Content:  rec.SubmissionText,
		}, nil
	}
	return &Artifact{
		Filename: fmt.Sprintf("%s_demand_%d.csv", username, index),
		Content:  rec.DemandText,
	}, nil
}

// --- Predictors ---

// RegisterPredictor validates source and makes it the user's prediction
// function, replacing any earlier one
func (a *Arena) RegisterPredictor(ctx context.Context, username, source string) (*models.PredictionFunction, error) {
	if len(source) > a.opts.MaxSourceBytes {
		metrics.PredictorRegistrations.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrInvalidPredictor, len(source), a.opts.MaxSourceBytes)
	}
	if strings.TrimSpace(source) == "" {
		metrics.PredictorRegistrations.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: empty source", ErrInvalidPredictor)
	}

	if err := a.pipeline.CheckPredictor(ctx, username, source); err != nil {
		metrics.PredictorRegistrations.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %w", ErrInvalidPredictor, err)
	}

	fn := &models.PredictionFunction{
		Username:  username,
		Source:    source,
		Revision:  uuid.New().String(),
		UpdatedAt: a.now(),
	}
	if err := a.repo.UpsertPredictor(ctx, fn); err != nil {
		metrics.PredictorRegistrations.WithLabelValues("failed").Inc()
		return nil, err
	}

	metrics.PredictorRegistrations.WithLabelValues("accepted").Inc()
	slog.Info("prediction function registered", "username", username, "revision", fn.Revision)

	return fn, nil
}

// GetPredictor returns the user's current prediction function
func (a *Arena) GetPredictor(ctx context.Context, username string) (*models.PredictionFunction, error) {
	return a.repo.GetPredictor(ctx, username)
}

// --- Leaderboard ---

// Leaderboard returns the ranking, served from cache when possible
func (a *Arena) Leaderboard(ctx context.Context) ([]*models.LeaderboardEntry, error) {
	entries, err := a.cache.GetLeaderboard(ctx)
	if err == nil {
		metrics.LeaderboardCacheLookups.WithLabelValues("hit").Inc()
		return entries, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		slog.Warn("leaderboard cache unavailable", "error", err)
	}
	metrics.LeaderboardCacheLookups.WithLabelValues("miss").Inc()

	// read before querying so a snapshot older than a concurrent append is never cached
	generation, genErr := a.cache.Generation(ctx)

	entries, err = a.repo.Leaderboard(ctx)
	if err != nil {
		return nil, err
	}

	if genErr != nil {
		slog.Warn("leaderboard cache unavailable", "error", genErr)
		return entries, nil
	}
	if err := a.cache.SetLeaderboard(ctx, entries, generation); err != nil && !errors.Is(err, cache.ErrStale) {
		slog.Warn("failed to cache leaderboard", "error", err)
	}
	return entries, nil
}

// RefreshLeaderboard recomputes the ranking and stores it in the cache
func (a *Arena) RefreshLeaderboard(ctx context.Context) (int, error) {
	generation, err := a.cache.Generation(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to cache leaderboard: %w", err)
	}

	entries, err := a.repo.Leaderboard(ctx)
	if err != nil {
		return 0, err
	}

	// a newer append already invalidated; the next read recomputes
	if err := a.cache.SetLeaderboard(ctx, entries, generation); err != nil && !errors.Is(err, cache.ErrStale) {
		return 0, fmt.Errorf("failed to cache leaderboard: %w", err)
	}
	return len(entries), nil
}

// Subscribe streams score events as submissions are recorded
func (a *Arena) Subscribe(ctx context.Context) (<-chan *models.ScoreEvent, error) {
	return a.cache.Subscribe(ctx)
}

var _ Manager = (*Arena)(nil)
