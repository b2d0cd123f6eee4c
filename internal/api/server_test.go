package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/pricing-arena/internal/arena"
	"github.com/terra-clan/pricing-arena/internal/cache"
	"github.com/terra-clan/pricing-arena/internal/catalog"
	"github.com/terra-clan/pricing-arena/internal/config"
	"github.com/terra-clan/pricing-arena/internal/health"
	"github.com/terra-clan/pricing-arena/internal/models"
	"github.com/terra-clan/pricing-arena/internal/pipeline"
	"github.com/terra-clan/pricing-arena/internal/sandbox"
	"github.com/terra-clan/pricing-arena/internal/storage"
)

const constantFive = `package main

import "pricing"

func Predict(item pricing.Item) func(productID string, price int) int {
	return func(productID string, price int) int { return 5 }
}
`

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

func newTestServer(t *testing.T) (*Server, arena.Manager) {
	t.Helper()

	cat, err := catalog.New([]models.CatalogItem{
		{ProductID: "A", Price: 10, Cost: 4, ReviewScore: 4.5},
		{ProductID: "B", Price: 20, Cost: 15, ReviewScore: 3.0},
	})
	require.NoError(t, err)

	repo, err := storage.NewSQLiteRepository(context.Background(), filepath.Join(t.TempDir(), "arena.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	lc := cache.NewMemoryCache(0)
	t.Cleanup(func() { lc.Close() })

	evaluator := sandbox.NewEvaluator(sandbox.Config{CallTimeout: time.Second, CompileTimeout: 5 * time.Second})
	manager := arena.New(pipeline.New(cat, pipeline.NewEstimator(evaluator)), repo, lc, arena.Options{})

	registry := health.NewRegistry(time.Second)
	registry.Register("store", health.CheckFunc(manager.Ping))

	return NewServer(config.ServerConfig{SubmissionMaxBytes: 4096}, manager, registry), manager
}

func do(t *testing.T, s *Server, method, path, key string, body []byte, contentType string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func signup(t *testing.T, s *Server, username string) string {
	t.Helper()
	rec, env := do(t, s, http.MethodPost, "/api/v1/users", "", []byte(`{"username":"`+username+`"}`), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp models.SignupResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	return resp.APIKey
}

func multipartFile(t *testing.T, content string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "submission.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func TestHealthAndReady(t *testing.T) {
	s, _ := newTestServer(t)

	rec, env := do(t, s, http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	rec, env = do(t, s, http.MethodGet, "/ready", "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"store"`)

	s.health.Register("cache", health.CheckFunc(func(ctx context.Context) error { return errors.New("down") }))
	rec, env = do(t, s, http.MethodGet, "/ready", "", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", env.Error.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec, _ := do(t, s, http.MethodGet, "/metrics", "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestAuthentication(t *testing.T) {
	s, _ := newTestServer(t)

	rec, env := do(t, s, http.MethodGet, "/api/v1/catalog", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing_api_key", env.Error.Code)

	rec, env = do(t, s, http.MethodGet, "/api/v1/catalog", "pa_bogus", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_api_key", env.Error.Code)

	key := signup(t, s, "alice")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/catalog", nil)
	req.Header.Set("X-API-Key", key)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/catalog?api_key="+key, nil)
	rr = httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSignupValidation(t *testing.T) {
	s, _ := newTestServer(t)

	rec, env := do(t, s, http.MethodPost, "/api/v1/users", "", []byte(`not json`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", env.Error.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/users", "", []byte(`{"username":""}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/users", "", []byte(`{"username":"has space"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	signup(t, s, "alice")
	rec, env = do(t, s, http.MethodPost, "/api/v1/users", "", []byte(`{"username":"alice"}`), "application/json")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", env.Error.Code)
}

func TestSubmissionFlow(t *testing.T) {
	s, _ := newTestServer(t)
	key := signup(t, s, "alice")

	// No predictors yet
	rec, env := do(t, s, http.MethodPost, "/api/v1/submissions", key, []byte("A,12\nB,18"), "text/csv")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "no_predictors", env.Error.Code)

	rec, env = do(t, s, http.MethodPut, "/api/v1/predictor", key, []byte(constantFive), "text/plain")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var fn models.PredictionFunction
	require.NoError(t, json.Unmarshal(env.Data, &fn))
	assert.Equal(t, "alice", fn.Username)
	assert.NotEmpty(t, fn.Revision)

	rec, env = do(t, s, http.MethodGet, "/api/v1/predictor", key, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &fn))
	assert.Equal(t, constantFive, fn.Source)

	body, ct := multipartFile(t, "A,12\r\nB,18\r\n")
	rec, env = do(t, s, http.MethodPost, "/api/v1/submissions", key, body, ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var submitted models.SubmitResponse
	require.NoError(t, json.Unmarshal(env.Data, &submitted))
	assert.Equal(t, float64(55), submitted.Score)
	assert.True(t, submitted.Persisted)
	assert.Equal(t, "A,5\nB,5", submitted.DemandText)

	rec, env = do(t, s, http.MethodGet, "/api/v1/submissions", key, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Submissions []models.SubmissionSummary `json:"submissions"`
		Total       int                        `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &history))
	require.Equal(t, 1, history.Total)
	assert.Equal(t, 1, history.Submissions[0].Index)

	rec, _ = do(t, s, http.MethodGet, "/api/v1/submissions/1/prices", key, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="alice_submit_01.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "A,12\r\nB,18\r\n", rec.Body.String())

	rec, _ = do(t, s, http.MethodGet, "/api/v1/submissions/1/demands", key, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="alice_demand_1.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "A,5\nB,5", rec.Body.String())

	rec, env = do(t, s, http.MethodGet, "/api/v1/submissions/2/demands", key, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", env.Error.Code)

	rec, _ = do(t, s, http.MethodGet, "/api/v1/submissions/0/prices", key, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/api/v1/submissions/latest/prices", key, nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = do(t, s, http.MethodGet, "/api/v1/leaderboard", key, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var board struct {
		Entries []models.LeaderboardEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &board))
	require.Len(t, board.Entries, 1)
	assert.Equal(t, "alice", board.Entries[0].Username)
	assert.Equal(t, float64(55), board.Entries[0].Score)
}

func TestSubmissionErrors(t *testing.T) {
	s, manager := newTestServer(t)
	key := signup(t, s, "alice")
	_, err := manager.RegisterPredictor(context.Background(), "organizer", constantFive)
	require.NoError(t, err)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"format", "A;12\nB;18", "invalid_format"},
		{"shape", "A,12", "invalid_shape"},
		{"alignment", "B,12\nA,18", "misaligned"},
		{"overflow", "A,9223372036854775807\nB,18", "out_of_range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, s, http.MethodPost, "/api/v1/submissions", key, []byte(tt.body), "text/csv")
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}

	rec, env := do(t, s, http.MethodPost, "/api/v1/submissions", key, bytes.Repeat([]byte("A,1\n"), 2000), "text/csv")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "too_large", env.Error.Code)
}

func TestRegisterPredictorRejected(t *testing.T) {
	s, _ := newTestServer(t)
	key := signup(t, s, "alice")

	rec, env := do(t, s, http.MethodPut, "/api/v1/predictor", key, []byte("import \"os\"\n"), "text/plain")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_predictor", env.Error.Code)

	rec, env = do(t, s, http.MethodGet, "/api/v1/predictor", key, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", env.Error.Code)
}

// unsavedManager scores but cannot record
type unsavedManager struct {
	arena.Manager
}

func (m unsavedManager) Submit(ctx context.Context, username, text string) (*arena.SubmitResult, error) {
	return &arena.SubmitResult{
		Record: &models.SubmissionRecord{Username: username, Score: 55, DemandText: "A,5\nB,5"},
	}, fmt.Errorf("failed to record submission: %w", storage.ErrPersistence)
}

func TestSubmitStorageFailureCarriesScore(t *testing.T) {
	base, manager := newTestServer(t)
	key := signup(t, base, "alice")

	s := NewServer(config.ServerConfig{}, unsavedManager{Manager: manager}, health.NewRegistry(0))

	rec, env := do(t, s, http.MethodPost, "/api/v1/submissions", key, []byte("A,12\nB,18"), "text/csv")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "storage_unavailable", env.Error.Code)

	var body models.SubmitResponse
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, float64(55), body.Score)
	assert.False(t, body.Persisted)
}

func TestLiveLeaderboard(t *testing.T) {
	s, manager := newTestServer(t)
	key := signup(t, s, "alice")
	_, err := manager.RegisterPredictor(context.Background(), "organizer", constantFive)
	require.NoError(t, err)

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/leaderboard/live?api_key=" + key
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snapshot LiveMessage
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, "leaderboard", snapshot.Type)

	_, err = manager.Submit(context.Background(), "alice", "A,12\nB,18")
	require.NoError(t, err)

	var msg struct {
		Type string            `json:"type"`
		Data models.ScoreEvent `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "score", msg.Type)
	assert.Equal(t, "alice", msg.Data.Username)
	assert.Equal(t, float64(55), msg.Data.Score)
}
