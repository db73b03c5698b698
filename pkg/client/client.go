// Package client is a Go SDK for the tanda-engine API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/terra-clan/tanda-engine/internal/models"
)

// Client talks to one tanda-engine deployment
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	dialer     *websocket.Dialer
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

// NewClient creates a new tanda-engine client
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		dialer: websocket.DefaultDialer,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError is an error envelope returned by the server
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s - %s", e.Status, e.Code, e.Message)
}

// LiveMessage is a frame of the live tanda feed
type LiveMessage struct {
	Type           string            `json:"type"`
	View           *models.TandaView `json:"view,omitempty"`
	ElapsedSeconds float64           `json:"elapsed_seconds,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// CreateCompetition creates a live competition and its Eliminatoria bracket
func (c *Client) CreateCompetition(ctx context.Context, eventID string, req models.CreateCompetitionRequest) (*models.CompetitionView, error) {
	var view models.CompetitionView
	if err := c.call(ctx, http.MethodPost, competitionsPath(eventID), req, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// ListCompetitions returns the live competitions of an event
func (c *Client) ListCompetitions(ctx context.Context, eventID string) ([]*models.LiveCompetition, error) {
	var data struct {
		Competitions []*models.LiveCompetition `json:"competitions"`
	}
	if err := c.call(ctx, http.MethodGet, competitionsPath(eventID), nil, &data); err != nil {
		return nil, err
	}
	return data.Competitions, nil
}

// GetCompetition returns a live competition with its tandas
func (c *Client) GetCompetition(ctx context.Context, eventID, liveCompetitionID string) (*models.CompetitionView, error) {
	var view models.CompetitionView
	if err := c.call(ctx, http.MethodGet, competitionsPath(eventID)+"/"+url.PathEscape(liveCompetitionID), nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// RunTransition re-drives the competition flow for a finished tanda
func (c *Client) RunTransition(ctx context.Context, eventID, liveCompetitionID string, tandaIndex int) (*models.LiveCompetition, error) {
	var lc models.LiveCompetition
	path := fmt.Sprintf("%s/%s/transitions/%d", competitionsPath(eventID), url.PathEscape(liveCompetitionID), tandaIndex)
	if err := c.call(ctx, http.MethodPost, path, nil, &lc); err != nil {
		return nil, err
	}
	return &lc, nil
}

// GetTanda returns the current view of a tanda
func (c *Client) GetTanda(ctx context.Context, key models.TandaKey) (*models.TandaView, error) {
	return c.tandaCall(ctx, http.MethodGet, key, "", nil)
}

// Play starts or resumes a tanda
func (c *Client) Play(ctx context.Context, key models.TandaKey) (*models.TandaView, error) {
	return c.tandaCall(ctx, http.MethodPost, key, "/play", nil)
}

// Pause holds the clock of a playing tanda
func (c *Client) Pause(ctx context.Context, key models.TandaKey) (*models.TandaView, error) {
	return c.tandaCall(ctx, http.MethodPost, key, "/pause", nil)
}

// OpenVoting moves a playing tanda to waiting for scores
func (c *Client) OpenVoting(ctx context.Context, key models.TandaKey) (*models.TandaView, error) {
	return c.tandaCall(ctx, http.MethodPost, key, "/open-voting", nil)
}

// Finish closes a tanda
func (c *Client) Finish(ctx context.Context, key models.TandaKey) (*models.TandaView, error) {
	return c.tandaCall(ctx, http.MethodPost, key, "/finish", nil)
}

// SubmitScore records a judge vote. Judge-bound API keys may leave JudgeID empty.
func (c *Client) SubmitScore(ctx context.Context, key models.TandaKey, req models.SubmitScoreRequest) (*models.TandaView, error) {
	return c.tandaCall(ctx, http.MethodPost, key, "/scores", req)
}

// Live streams the live feed of a tanda to fn until ctx ends or the
// connection drops. A nil error is returned when ctx ends.
func (c *Client) Live(ctx context.Context, key models.TandaKey, fn func(LiveMessage)) error {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + tandaPath(key) + "/live?api_key=" + url.QueryEscape(c.apiKey)

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect live feed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	for {
		var msg LiveMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("live feed closed: %w", err)
		}
		fn(msg)
	}
}

// Health checks if the service is healthy
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/health", nil, nil)
}

func competitionsPath(eventID string) string {
	return "/api/v1/events/" + url.PathEscape(eventID) + "/competitions"
}

func tandaPath(key models.TandaKey) string {
	return competitionsPath(key.EventID) + "/" + url.PathEscape(key.LiveCompetitionID) + "/tandas/" + url.PathEscape(key.TandaID)
}

func (c *Client) tandaCall(ctx context.Context, method string, key models.TandaKey, suffix string, body interface{}) (*models.TandaView, error) {
	var view models.TandaView
	if err := c.call(ctx, method, tandaPath(key)+suffix, body, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// call performs a request and decodes the data of the response envelope into out
func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var result struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *APIError       `json:"error"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("HTTP %d: failed to unmarshal response: %w", resp.StatusCode, err)
	}

	if !result.Success || resp.StatusCode >= 400 {
		apiErr := result.Error
		if apiErr == nil {
			apiErr = &APIError{Code: "unknown", Message: string(respBody)}
		}
		apiErr.Status = resp.StatusCode
		return apiErr
	}

	if out == nil || len(result.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(result.Data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response data: %w", err)
	}
	return nil
}
