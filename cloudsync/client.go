package cloudsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"taitest/models"
)

// Client calls the remote sync API. Authentication is an opaque gate: a
// client with an empty token is simply not authenticated and the reconciler
// will not attempt any remote work.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient returns a Client for the given API base URL and bearer token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Authenticated reports whether the client carries a token.
func (c *Client) Authenticated() bool {
	return c.token != ""
}

type apiError struct {
	Error string `json:"error"`
}

// do sends one JSON request and decodes the JSON response into out (when
// out is non-nil).
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response of %s %s: %w", method, path, err)
	}
	return nil
}

// CreateResult uploads one test result. The server keeps the client id, so
// repeating the call for the same result is harmless.
func (c *Client) CreateResult(ctx context.Context, result models.TestResult) error {
	req := models.CreateResultRequest{
		ID:             result.ID,
		Type:           result.Type,
		BlockID:        result.BlockID,
		BlockName:      result.BlockName,
		StartTime:      result.StartTime,
		EndTime:        result.EndTime,
		Score:          result.Score,
		TotalQuestions: result.TotalQuestions,
		Percentage:     result.Percentage,
		Duration:       result.Duration,
		UserAnswers:    result.UserAnswers,
		Questions:      result.Questions,
		CreatedAt:      result.CreatedAt,
	}
	var resp models.CreateResultResponse
	return c.do(ctx, http.MethodPost, "/api/v1/results", req, &resp)
}

// ListResults fetches the full remote result set for the authenticated user.
func (c *Client) ListResults(ctx context.Context) ([]models.TestResult, error) {
	var results []models.TestResult
	if err := c.do(ctx, http.MethodGet, "/api/v1/results", nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// RecordSyncEvent appends one entry to the remote sync ledger. Failures here
// are observational only and never abort a sync.
func (c *Client) RecordSyncEvent(ctx context.Context, req models.RecordSyncRequest) error {
	return c.do(ctx, http.MethodPost, "/api/v1/sync_events", req, nil)
}
