// Package client talks to the growth HTTP API on behalf of the viewer.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/louisbranch/rockettree/internal/platform/httpx"
	"github.com/louisbranch/rockettree/internal/platform/timeouts"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/action"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/growth"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/progression"
)

const maxResponseBytes = 4 << 20

// ErrStateNotFound is returned when the user has no growth state yet.
var ErrStateNotFound = errors.New("growth state not found")

// StatusError reports an unexpected HTTP status from the growth API.
type StatusError struct {
	Status int
	Code   string
	Msg    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("growth api status %d (%s): %s", e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("growth api status %d: %s", e.Status, e.Msg)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	// Token is the bearer token sent with every request.
	Token string
	// Timeout bounds one request. Zero uses timeouts.HTTPRequest.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client is a growth API client scoped to one user token.
type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	logger *zap.Logger
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("base url is required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url scheme %q is not supported", base.Scheme)
	}
	base.Path = strings.TrimSuffix(base.Path, "/")
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("token is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = timeouts.HTTPRequest
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{base: base, token: cfg.Token, http: httpClient, logger: logger}, nil
}

// ListEvents returns the user's events with occurredAt at or after since.
func (c *Client) ListEvents(ctx context.Context, since *time.Time) ([]progression.Event, error) {
	query := url.Values{}
	if since != nil {
		query.Set("sinceUtc", since.UTC().Format(time.RFC3339Nano))
	}
	var events []progression.Event
	if err := c.do(ctx, http.MethodGet, "/progression/events", query, nil, http.StatusOK, &events); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

type stateBody struct {
	UserID        string    `json:"userId"`
	Mass          float64   `json:"mass"`
	Structure     float64   `json:"structure"`
	Vitality      float64   `json:"vitality"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
	Version       uint64    `json:"version"`
}

// GetGrowthState fetches the authoritative growth state.
func (c *Client) GetGrowthState(ctx context.Context) (growth.State, error) {
	var body stateBody
	err := c.do(ctx, http.MethodGet, "/tree/state", nil, nil, http.StatusOK, &body)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Status == http.StatusNotFound {
			return growth.State{}, fmt.Errorf("get growth state: %w", ErrStateNotFound)
		}
		return growth.State{}, fmt.Errorf("get growth state: %w", err)
	}
	return growth.State{
		UserID:        body.UserID,
		Mass:          body.Mass,
		Structure:     body.Structure,
		Vitality:      body.Vitality,
		LastUpdatedAt: body.LastUpdatedAt,
		Version:       body.Version,
	}, nil
}

// CreateAccount registers the token's user. An existing account is not an
// error.
func (c *Client) CreateAccount(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/accounts", nil, struct{}{}, http.StatusCreated, nil)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Status == http.StatusConflict {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// NewTask describes a task to create.
type NewTask struct {
	ProjectID      string `json:"projectId,omitempty"`
	Title          string `json:"title"`
	Notes          string `json:"notes,omitempty"`
	EstimatedDepth string `json:"estimatedDepth,omitempty"`
}

// CreateTask creates an open task.
func (c *Client) CreateTask(ctx context.Context, task NewTask) (action.Task, error) {
	var created action.Task
	if err := c.do(ctx, http.MethodPost, "/tasks", nil, task, http.StatusCreated, &created); err != nil {
		return action.Task{}, fmt.Errorf("create task: %w", err)
	}
	return created, nil
}

// CompleteTask marks a task completed. It reports false on any failure,
// including cancellation.
func (c *Client) CompleteTask(ctx context.Context, taskID string) bool {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return false
	}
	status := string(action.TaskCompleted)
	body := struct {
		Status *string `json:"status"`
	}{Status: &status}
	err := c.do(ctx, http.MethodPatch, "/tasks/"+url.PathEscape(taskID), nil, body, http.StatusOK, nil)
	if err != nil {
		c.logSubmitFailure(ctx, "complete task", err, zap.String("task_id", taskID))
		return false
	}
	return true
}

// Reflection describes a reflection to submit.
type Reflection struct {
	Text           string   `json:"text"`
	RelatedTaskIDs []string `json:"relatedTaskIds,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

// SubmitReflection stores a reflection. It reports false on any failure,
// including cancellation.
func (c *Client) SubmitReflection(ctx context.Context, reflection Reflection) bool {
	if strings.TrimSpace(reflection.Text) == "" {
		return false
	}
	if err := c.do(ctx, http.MethodPost, "/reflections", nil, reflection, http.StatusCreated, nil); err != nil {
		c.logSubmitFailure(ctx, "submit reflection", err)
		return false
	}
	return true
}

func (c *Client) logSubmitFailure(ctx context.Context, op string, err error, fields ...zap.Field) {
	if ctx.Err() != nil {
		return
	}
	c.logger.Warn(op+" failed", append(fields, zap.Error(err))...)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in any, want int, out any) error {
	if c == nil {
		return errors.New("client is not configured")
	}
	target := *c.base
	target.Path = c.base.Path + path
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	limited := io.LimitReader(resp.Body, maxResponseBytes)

	if resp.StatusCode != want {
		statusErr := &StatusError{Status: resp.StatusCode, Msg: http.StatusText(resp.StatusCode)}
		var errBody httpx.ErrorBody
		if json.NewDecoder(limited).Decode(&errBody) == nil {
			statusErr.Code = errBody.Code
			if errBody.Error != "" {
				statusErr.Msg = errBody.Error
			}
		}
		return statusErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, limited)
		return nil
	}
	if err := json.NewDecoder(limited).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
