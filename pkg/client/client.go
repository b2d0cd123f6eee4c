package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/terra-clan/pricing-arena/internal/models"
)

// Client is a Go SDK for the pricing-arena API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new pricing-arena client. apiKey may be empty for Signup.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError is a non-2xx response from the server
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s - %s", e.StatusCode, e.Code, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Signup registers a user and returns its API key
func (c *Client) Signup(ctx context.Context, username string) (*models.SignupResponse, error) {
	body, err := json.Marshal(models.SignupRequest{Username: username})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var out models.SignupResponse
	if err := c.call(ctx, http.MethodPost, "/api/v1/users", bytes.NewReader(body), "application/json", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Submit uploads a price list. If the server scored it but could not record
// it, both the response and an *APIError are returned.
func (c *Client) Submit(ctx context.Context, csv string) (*models.SubmitResponse, error) {
	var out models.SubmitResponse
	err := c.call(ctx, http.MethodPost, "/api/v1/submissions", strings.NewReader(csv), "text/csv", &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable && out.Score != 0 {
			return &out, err
		}
		return nil, err
	}
	return &out, nil
}

// RegisterPredictor uploads Go source as the caller's prediction function
func (c *Client) RegisterPredictor(ctx context.Context, source string) (*models.PredictionFunction, error) {
	var out models.PredictionFunction
	if err := c.call(ctx, http.MethodPut, "/api/v1/predictor", strings.NewReader(source), "text/plain", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPredictor returns the caller's current prediction function
func (c *Client) GetPredictor(ctx context.Context) (*models.PredictionFunction, error) {
	var out models.PredictionFunction
	if err := c.call(ctx, http.MethodGet, "/api/v1/predictor", nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History lists the caller's submissions, newest first
func (c *Client) History(ctx context.Context) ([]models.SubmissionSummary, error) {
	var out struct {
		Submissions []models.SubmissionSummary `json:"submissions"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/submissions", nil, "", &out); err != nil {
		return nil, err
	}
	return out.Submissions, nil
}

// Download fetches a stored artifact of the index-th most recent submission
// and returns its suggested filename and content
func (c *Client) Download(ctx context.Context, index int, kind models.ArtifactKind) (string, string, error) {
	status, header, body, err := c.doRequest(ctx, http.MethodGet,
		fmt.Sprintf("/api/v1/submissions/%d/%s", index, kind), nil, "")
	if err != nil {
		return "", "", err
	}
	if status >= 400 {
		return "", "", decodeError(status, body)
	}

	filename := ""
	if _, params, err := mime.ParseMediaType(header.Get("Content-Disposition")); err == nil {
		filename = params["filename"]
	}
	return filename, string(body), nil
}

// Leaderboard returns the current ranking
func (c *Client) Leaderboard(ctx context.Context) ([]models.LeaderboardEntry, error) {
	var out struct {
		Entries []models.LeaderboardEntry `json:"entries"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/leaderboard", nil, "", &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// Catalog returns the product catalog
func (c *Client) Catalog(ctx context.Context) ([]models.CatalogItem, error) {
	var out struct {
		Items []models.CatalogItem `json:"items"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/catalog", nil, "", &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Health checks if the service is healthy
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/health", nil, "", nil)
}

// call performs a request and decodes the envelope's data into out.
// Data is decoded even for error responses that carry it.
func (c *Client) call(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	status, _, respBody, err := c.doRequest(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		if status >= 400 {
			return &APIError{StatusCode: status, Code: "http_error", Message: string(respBody)}
		}
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to unmarshal data: %w", err)
		}
	}

	if status >= 400 || !env.Success {
		apiErr := &APIError{StatusCode: status}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}

	return nil
}

func decodeError(status int, body []byte) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil {
		return &APIError{StatusCode: status, Code: "http_error", Message: string(body)}
	}
	return &APIError{StatusCode: status, Code: env.Error.Code, Message: env.Error.Message}
}

// doRequest performs an HTTP request
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (int, http.Header, []byte, error) {
	url := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	return resp.StatusCode, resp.Header, respBody, nil
}
