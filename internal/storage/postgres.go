package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/terra-clan/pricing-arena/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int32
	MaxIdleConns int32
	MaxLifetime  time.Duration
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	} else {
		poolConfig.MaxConns = 25 // default
	}

	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	} else {
		poolConfig.MinConns = 5 // default
	}

	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	} else {
		poolConfig.MaxConnLifetime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Migrate applies the embedded PostgreSQL migrations
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	return RunMigrations(ctx, r.pool, Migrations(DialectPostgres))
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// --- Users ---

// CreateUser inserts a new user
func (r *PostgresRepository) CreateUser(ctx context.Context, u *models.User) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (username, api_key_hash, created_at) VALUES ($1, $2, $3)`,
		u.Username, u.APIKeyHash, u.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("user %q: %w", u.Username, ErrConflict)
		}
		return fmt.Errorf("%w: failed to create user: %w", ErrPersistence, err)
	}
	return nil
}

// GetUserByAPIKeyHash looks up the owner of an API key
func (r *PostgresRepository) GetUserByAPIKeyHash(ctx context.Context, hash string) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx,
		`SELECT username, api_key_hash, created_at FROM users WHERE api_key_hash = $1`, hash,
	).Scan(&u.Username, &u.APIKeyHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: failed to get user: %w", ErrPersistence, err)
	}
	return &u, nil
}

// --- Submissions ---

// AppendSubmission inserts rec in a transaction and sets rec.ID
func (r *PostgresRepository) AppendSubmission(ctx context.Context, rec *models.SubmissionRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", ErrPersistence, err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO submissions (username, created_at, submission, demands, score)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, rec.Username, rec.CreatedAt, rec.SubmissionText, rec.DemandText, rec.Score).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("%w: failed to append submission: %w", ErrPersistence, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: failed to commit submission: %w", ErrPersistence, err)
	}
	return nil
}

const submissionColumns = `id, username, created_at, submission, demands, score`

// ListSubmissionsByUser returns a user's submissions, newest first
func (r *PostgresRepository) ListSubmissionsByUser(ctx context.Context, username string) ([]*models.SubmissionRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE username = $1
		ORDER BY id DESC
	`, username)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list submissions: %w", ErrPersistence, err)
	}
	return collectSubmissions(rows)
}

// GetSubmissionByIndex returns the index-th most recent submission (1 = newest)
func (r *PostgresRepository) GetSubmissionByIndex(ctx context.Context, username string, index int) (*models.SubmissionRecord, error) {
	if index < 1 {
		return nil, ErrNotFound
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE username = $1
		ORDER BY id DESC
		OFFSET $2 LIMIT 1
	`, username, index-1)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get submission: %w", ErrPersistence, err)
	}

	records, err := collectSubmissions(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return records[0], nil
}

// ListSubmissions returns every submission in id order
func (r *PostgresRepository) ListSubmissions(ctx context.Context) ([]*models.SubmissionRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+submissionColumns+` FROM submissions ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list submissions: %w", ErrPersistence, err)
	}
	return collectSubmissions(rows)
}

func collectSubmissions(rows pgx.Rows) ([]*models.SubmissionRecord, error) {
	defer rows.Close()

	var records []*models.SubmissionRecord
	for rows.Next() {
		var rec models.SubmissionRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.Username,
			&rec.CreatedAt,
			&rec.SubmissionText,
			&rec.DemandText,
			&rec.Score,
		); err != nil {
			return nil, fmt.Errorf("%w: failed to scan submission: %w", ErrPersistence, err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating submissions: %w", ErrPersistence, err)
	}
	return records, nil
}

// Leaderboard returns each user's latest submission, best score first
func (r *PostgresRepository) Leaderboard(ctx context.Context) ([]*models.LeaderboardEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.username, s.score, s.id, s.created_at
		FROM submissions s
		JOIN (
			SELECT username, MAX(id) AS id FROM submissions GROUP BY username
		) latest ON latest.id = s.id
		ORDER BY s.score DESC, s.username ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query leaderboard: %w", ErrPersistence, err)
	}
	defer rows.Close()

	var entries []*models.LeaderboardEntry
	for rows.Next() {
		var e models.LeaderboardEntry
		if err := rows.Scan(&e.Username, &e.Score, &e.SubmissionID, &e.SubmittedAt); err != nil {
			return nil, fmt.Errorf("%w: failed to scan leaderboard: %w", ErrPersistence, err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating leaderboard: %w", ErrPersistence, err)
	}

	rankEntries(entries)
	return entries, nil
}

// --- Prediction functions ---

// UpsertPredictor stores fn, replacing any previous function of the same user
func (r *PostgresRepository) UpsertPredictor(ctx context.Context, fn *models.PredictionFunction) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO predictors (username, source, revision, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (username) DO UPDATE
		SET source = EXCLUDED.source, revision = EXCLUDED.revision, updated_at = EXCLUDED.updated_at
	`, fn.Username, fn.Source, fn.Revision, fn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: failed to upsert predictor: %w", ErrPersistence, err)
	}
	return nil
}

// GetPredictor returns the function registered by username
func (r *PostgresRepository) GetPredictor(ctx context.Context, username string) (*models.PredictionFunction, error) {
	var fn models.PredictionFunction
	err := r.pool.QueryRow(ctx,
		`SELECT username, source, revision, updated_at FROM predictors WHERE username = $1`, username,
	).Scan(&fn.Username, &fn.Source, &fn.Revision, &fn.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: failed to get predictor: %w", ErrPersistence, err)
	}
	return &fn, nil
}

// ListPredictors returns every registered function ordered by owner
func (r *PostgresRepository) ListPredictors(ctx context.Context) ([]*models.PredictionFunction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT username, source, revision, updated_at FROM predictors ORDER BY username ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list predictors: %w", ErrPersistence, err)
	}
	defer rows.Close()

	var fns []*models.PredictionFunction
	for rows.Next() {
		var fn models.PredictionFunction
		if err := rows.Scan(&fn.Username, &fn.Source, &fn.Revision, &fn.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: failed to scan predictor: %w", ErrPersistence, err)
		}
		fns = append(fns, &fn)
	}

	return fns, rows.Err()
}
