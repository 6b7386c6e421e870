// Package api is the REST collaborator of the presentation orchestrator:
// status lookup, job start and the history snapshot.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/makeasinger/deckflow/internal/model"
)

// Client calls the presentation service over HTTP.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// New creates a client with the given base URL, bearer token and timeout.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// APIError represents a non-2xx response. It unwraps to model.ErrTransport.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return model.ErrTransport
}

// FetchStatus sends GET /presentation-status/{jobId}.
func (c *Client) FetchStatus(ctx context.Context, jobID string) (*model.StatusResponse, error) {
	body, err := c.do(ctx, http.MethodGet, "/presentation-status/"+url.PathEscape(jobID))
	if err != nil {
		return nil, err
	}

	var result model.StatusResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: failed to parse status response: %w", model.ErrTransport, err)
	}
	return &result, nil
}

// StartPresentation sends POST /start-presentation/{jobId}. The response is
// an acknowledgement only.
func (c *Client) StartPresentation(ctx context.Context, jobID string) error {
	_, err := c.do(ctx, http.MethodPost, "/start-presentation/"+url.PathEscape(jobID))
	return err
}

// FetchHistory sends GET /logs?p_id={jobId} and returns the raw payload for
// the history normalizer.
func (c *Client) FetchHistory(ctx context.Context, jobID string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/logs?p_id="+url.QueryEscape(jobID))
}

func (c *Client) do(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", model.ErrTransport, err)
	}
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	req.Header.Add("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %w", model.ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", model.ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}
	return respBody, nil
}
