package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/terra-clan/pricing-arena/internal/models"
)

// SQLiteRepository implements Repository on a single SQLite file.
// Timestamps are stored as Unix nanoseconds.
type SQLiteRepository struct {
	db   *sql.DB
	path string
}

// NewSQLiteRepository opens (creating if needed) the database at path and
// applies the embedded migrations.
func NewSQLiteRepository(ctx context.Context, path string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer at a time; SQLite serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runSQLiteMigrations(ctx, db, Migrations(DialectSQLite)); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteRepository{db: db, path: path}, nil
}

// Ping checks database connectivity
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// --- Users ---

// CreateUser inserts a new user
func (r *SQLiteRepository) CreateUser(ctx context.Context, u *models.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (username, api_key_hash, created_at) VALUES (?, ?, ?)`,
		u.Username, u.APIKeyHash, toNanos(u.CreatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("user %q: %w", u.Username, ErrConflict)
		}
		return fmt.Errorf("%w: failed to create user: %w", ErrPersistence, err)
	}
	return nil
}

// GetUserByAPIKeyHash looks up the owner of an API key
func (r *SQLiteRepository) GetUserByAPIKeyHash(ctx context.Context, hash string) (*models.User, error) {
	var u models.User
	var created int64
	err := r.db.QueryRowContext(ctx,
		`SELECT username, api_key_hash, created_at FROM users WHERE api_key_hash = ?`, hash,
	).Scan(&u.Username, &u.APIKeyHash, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: failed to get user: %w", ErrPersistence, err)
	}
	u.CreatedAt = fromNanos(created)
	return &u, nil
}

// --- Submissions ---

// AppendSubmission inserts rec in a transaction and sets rec.ID
func (r *SQLiteRepository) AppendSubmission(ctx context.Context, rec *models.SubmissionRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", ErrPersistence, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO submissions (username, created_at, submission, demands, score)
		VALUES (?, ?, ?, ?, ?)
	`, rec.Username, toNanos(rec.CreatedAt), rec.SubmissionText, rec.DemandText, rec.Score)
	if err != nil {
		return fmt.Errorf("%w: failed to append submission: %w", ErrPersistence, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: failed to read submission id: %w", ErrPersistence, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit submission: %w", ErrPersistence, err)
	}

	rec.ID = id
	return nil
}

// ListSubmissionsByUser returns a user's submissions, newest first
func (r *SQLiteRepository) ListSubmissionsByUser(ctx context.Context, username string) ([]*models.SubmissionRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE username = ?
		ORDER BY id DESC
	`, username)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list submissions: %w", ErrPersistence, err)
	}
	return scanSQLiteSubmissions(rows)
}

// GetSubmissionByIndex returns the index-th most recent submission (1 = newest)
func (r *SQLiteRepository) GetSubmissionByIndex(ctx context.Context, username string, index int) (*models.SubmissionRecord, error) {
	if index < 1 {
		return nil, ErrNotFound
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE username = ?
		ORDER BY id DESC
		LIMIT 1 OFFSET ?
	`, username, index-1)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get submission: %w", ErrPersistence, err)
	}

	records, err := scanSQLiteSubmissions(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return records[0], nil
}

// ListSubmissions returns every submission in id order
func (r *SQLiteRepository) ListSubmissions(ctx context.Context) ([]*models.SubmissionRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+submissionColumns+` FROM submissions ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list submissions: %w", ErrPersistence, err)
	}
	return scanSQLiteSubmissions(rows)
}

func scanSQLiteSubmissions(rows *sql.Rows) ([]*models.SubmissionRecord, error) {
	defer rows.Close()

	var records []*models.SubmissionRecord
	for rows.Next() {
		var rec models.SubmissionRecord
		var created int64
		if err := rows.Scan(
			&rec.ID,
			&rec.Username,
			&created,
			&rec.SubmissionText,
			&rec.DemandText,
			&rec.Score,
		); err != nil {
			return nil, fmt.Errorf("%w: failed to scan submission: %w", ErrPersistence, err)
		}
		rec.CreatedAt = fromNanos(created)
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating submissions: %w", ErrPersistence, err)
	}
	return records, nil
}

// Leaderboard returns each user's latest submission, best score first
func (r *SQLiteRepository) Leaderboard(ctx context.Context) ([]*models.LeaderboardEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
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
		var created int64
		if err := rows.Scan(&e.Username, &e.Score, &e.SubmissionID, &created); err != nil {
			return nil, fmt.Errorf("%w: failed to scan leaderboard: %w", ErrPersistence, err)
		}
		e.SubmittedAt = fromNanos(created)
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
func (r *SQLiteRepository) UpsertPredictor(ctx context.Context, fn *models.PredictionFunction) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO predictors (username, source, revision, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (username) DO UPDATE
		SET source = excluded.source, revision = excluded.revision, updated_at = excluded.updated_at
	`, fn.Username, fn.Source, fn.Revision, toNanos(fn.UpdatedAt))
	if err != nil {
		return fmt.Errorf("%w: failed to upsert predictor: %w", ErrPersistence, err)
	}
	return nil
}

// GetPredictor returns the function registered by username
func (r *SQLiteRepository) GetPredictor(ctx context.Context, username string) (*models.PredictionFunction, error) {
	var fn models.PredictionFunction
	var updated int64
	err := r.db.QueryRowContext(ctx,
		`SELECT username, source, revision, updated_at FROM predictors WHERE username = ?`, username,
	).Scan(&fn.Username, &fn.Source, &fn.Revision, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: failed to get predictor: %w", ErrPersistence, err)
	}
	fn.UpdatedAt = fromNanos(updated)
	return &fn, nil
}

// ListPredictors returns every registered function ordered by owner
func (r *SQLiteRepository) ListPredictors(ctx context.Context) ([]*models.PredictionFunction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT username, source, revision, updated_at FROM predictors ORDER BY username ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list predictors: %w", ErrPersistence, err)
	}
	defer rows.Close()

	var fns []*models.PredictionFunction
	for rows.Next() {
		var fn models.PredictionFunction
		var updated int64
		if err := rows.Scan(&fn.Username, &fn.Source, &fn.Revision, &updated); err != nil {
			return nil, fmt.Errorf("%w: failed to scan predictor: %w", ErrPersistence, err)
		}
		fn.UpdatedAt = fromNanos(updated)
		fns = append(fns, &fn)
	}

	return fns, rows.Err()
}
