/*
client.go - Client for the payout provider's task-status API

PURPOSE:
  The engine only needs one payout call: fetch a task by id and decide
  whether it is a completed withdrawal. Completion is defined strictly
  as type == "withdrawal" AND root status == "paid" - no other field
  combination counts.

SEE ALSO:
  - ../worker/withdrawal.go: the idempotent completion poller
*/
package payout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"resty.dev/v3"
)

// ErrTaskNotFound is returned when the provider knows no such task.
var ErrTaskNotFound = errors.New("payout: task not found")

// TransientError wraps failures worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("payout: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Task is the subset of the provider's task payload the engine reads.
type Task struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Status string `json:"status"` // root status
	PaidAt string `json:"paidAt,omitempty"`
}

// Completed reports the strict completion condition.
func (t Task) Completed() bool {
	return t.Type == "withdrawal" && t.Status == "paid"
}

// Config holds payout API endpoint and credentials.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the payout provider. Safe for concurrent use.
type Client struct {
	http *resty.Client
}

// New creates a payout client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	h := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.Token)
	return &Client{http: h}
}

// Close releases the underlying HTTP client.
func (c *Client) Close() error { return c.http.Close() }

// GetTask fetches one task by id.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	res, err := c.http.R().
		SetContext(ctx).
		Get("/tasks/" + taskID)
	if err != nil {
		return Task{}, &TransientError{Err: err}
	}
	switch {
	case res.StatusCode() == http.StatusNotFound:
		return Task{}, ErrTaskNotFound
	case res.StatusCode() >= 500:
		return Task{}, &TransientError{Err: fmt.Errorf("provider returned %d", res.StatusCode())}
	case !res.IsSuccess():
		return Task{}, fmt.Errorf("payout: provider returned %d", res.StatusCode())
	}
	var t Task
	if err := json.Unmarshal(res.Bytes(), &t); err != nil {
		return Task{}, fmt.Errorf("payout: malformed task payload: %w", err)
	}
	return t, nil
}
