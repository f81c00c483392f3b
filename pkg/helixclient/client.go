// Package helixclient is a small HTTP client for the Helix practice service.
package helixclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to one Helix service.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// New creates a new Helix client
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("BaseURL is required")
	}

	// Set defaults
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		client: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// Ping checks connectivity to the service.
func (c *Client) Ping(ctx context.Context) error {
	var health Health
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &health); err != nil {
		return err
	}
	if health.Status != "ok" {
		return fmt.Errorf("service degraded: %s", health.Status)
	}
	return nil
}

// Health returns the service health report.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var health Health
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// StartSession starts a practice session for the user, or resumes the
// user's active one.
func (c *Client) StartSession(ctx context.Context, userID string) (*Session, error) {
	body := map[string]string{"user_id": userID}
	var sess Session
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions", body, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// NextQuestion fetches the next question to serve.
func (c *Client) NextQuestion(ctx context.Context, sessionID string) (*ServedQuestion, error) {
	var q ServedQuestion
	path := "/api/v1/sessions/" + sessionID + "/question"
	if err := c.do(ctx, http.MethodGet, path, nil, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// SubmitAnswer grades one answer.
func (c *Client) SubmitAnswer(ctx context.Context, sessionID string, answer Answer) (*AnswerResult, error) {
	var result AnswerResult
	path := "/api/v1/sessions/" + sessionID + "/answers"
	if err := c.do(ctx, http.MethodPost, path, answer, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CompleteSession finishes the session and returns its score.
func (c *Client) CompleteSession(ctx context.Context, sessionID string) (*Score, error) {
	var score Score
	path := "/api/v1/sessions/" + sessionID + "/complete"
	if err := c.do(ctx, http.MethodPost, path, nil, &score); err != nil {
		return nil, err
	}
	return &score, nil
}

// AbandonSession discards the session without committing progress.
func (c *Client) AbandonSession(ctx context.Context, sessionID string) error {
	path := "/api/v1/sessions/" + sessionID + "/abandon"
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// SessionScore returns the score of a completed session.
func (c *Client) SessionScore(ctx context.Context, sessionID string) (*Score, error) {
	var score Score
	path := "/api/v1/sessions/" + sessionID + "/score"
	if err := c.do(ctx, http.MethodGet, path, nil, &score); err != nil {
		return nil, err
	}
	return &score, nil
}

// UserSnapshotURL returns a presigned download URL for the user's latest
// state snapshot.
func (c *Client) UserSnapshotURL(ctx context.Context, userID string) (*SnapshotURL, error) {
	var snap SnapshotURL
	path := "/api/v1/users/" + userID + "/snapshot-url"
	if err := c.do(ctx, http.MethodGet, path, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// do sends an authenticated request and decodes the response into out.
// Non-2xx responses are returned as *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseProblem(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// parseProblem turns an error response into an *APIError, falling back to the
// raw body when it is not problem JSON.
func parseProblem(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		apiErr.Title = http.StatusText(resp.StatusCode)
		return apiErr
	}

	if jsonErr := json.Unmarshal(data, apiErr); jsonErr != nil || apiErr.Title == "" {
		apiErr.Title = http.StatusText(resp.StatusCode)
		apiErr.Detail = strings.TrimSpace(string(data))
	}
	apiErr.StatusCode = resp.StatusCode
	return apiErr
}
