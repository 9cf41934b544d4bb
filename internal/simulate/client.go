package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/okian/jasselo/internal/domain/model"
	"github.com/okian/jasselo/internal/domain/rebuild"
	"github.com/okian/jasselo/internal/domain/types"
)

// Client errors.
var (
	ErrNotFound   = errors.New("not found")
	ErrRetry      = errors.New("retry later")
	ErrStatus     = errors.New("unexpected status")
	ErrOutOfOrder = errors.New("completed before a rated session of a participant")
)

// defaultRetryAfter applies when a 503 carries no Retry-After header.
const defaultRetryAfter = time.Second

// RetryError asks the caller to resubmit after Wait.
type RetryError struct {
	Status int
	Wait   time.Duration
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("status %d: retry after %s", e.Status, e.Wait)
}

// Unwrap lets errors.Is match ErrRetry.
func (e *RetryError) Unwrap() error { return ErrRetry }

// Client talks to the rating service API.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{base: baseURL, http: &http.Client{Timeout: timeout}}
}

// Submit posts a session and returns the acknowledgement. 429 and 503 are
// reported as *RetryError.
func (c *Client) Submit(ctx context.Context, p model.SessionPayload) (types.Ack, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return types.Ack{}, fmt.Errorf("marshal session: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/sessions", bytes.NewReader(body))
	if err != nil {
		return types.Ack{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var ack types.Ack
	err = c.do(req, &ack, http.StatusAccepted, http.StatusOK)
	return ack, err
}

// Health checks the metrics endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/healthz", nil)
}

// Stats returns the service statistics.
func (c *Client) Stats(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.get(ctx, "/stats", &out)
	return out, err
}

// Leaderboard returns the top limit entries.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]types.Entry, error) {
	var out []types.Entry
	err := c.get(ctx, "/leaderboard?limit="+strconv.Itoa(limit), &out)
	return out, err
}

// Rating returns one player's rating view.
func (c *Client) Rating(ctx context.Context, playerID string) (types.RatingView, error) {
	var out types.RatingView
	err := c.get(ctx, "/ratings/"+url.PathEscape(playerID), &out)
	return out, err
}

// PlayerHistory returns the whole timeline of a player.
func (c *Client) PlayerHistory(ctx context.Context, playerID string) (types.History, error) {
	var out types.History
	err := c.get(ctx, "/ratings/"+url.PathEscape(playerID)+"/history", &out)
	return out, err
}

// SessionHistory returns the entries one session wrote.
func (c *Client) SessionHistory(ctx context.Context, sessionID string) (types.History, error) {
	var out types.History
	err := c.get(ctx, "/sessions/"+url.PathEscape(sessionID)+"/history", &out)
	return out, err
}

// StartRebuild triggers a rebuild of scope and returns its run id.
func (c *Client) StartRebuild(ctx context.Context, scope rebuild.Scope) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base+"/admin/rebuild?scope="+url.QueryEscape(scope.String()), http.NoBody)
	if err != nil {
		return "", err
	}
	var out struct {
		RunID string `json:"runId"`
	}
	err = c.do(req, &out, http.StatusAccepted)
	return out.RunID, err
}

// RebuildStatus returns the state of the current or last rebuild.
func (c *Client) RebuildStatus(ctx context.Context) (types.RebuildStatus, error) {
	var out types.RebuildStatus
	err := c.get(ctx, "/admin/rebuild", &out)
	return out, err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, http.NoBody)
	if err != nil {
		return err
	}
	return c.do(req, out, http.StatusOK)
}

// do sends req and decodes the body into out when the status is one of ok.
func (c *Client) do(req *http.Request, out any, ok ...int) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", req.URL.Path, err)
	}
	for _, code := range ok {
		if resp.StatusCode != code {
			continue
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode %s: %w", req.URL.Path, err)
		}
		return nil
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", req.URL.Path, ErrNotFound)
	case http.StatusConflict:
		return fmt.Errorf("%s: %w: %s", req.URL.Path, ErrOutOfOrder, bytes.TrimSpace(body))
	case http.StatusTooManyRequests:
		return &RetryError{Status: resp.StatusCode, Wait: defaultRetryAfter / 10}
	case http.StatusServiceUnavailable:
		wait := defaultRetryAfter
		if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && s > 0 {
			wait = time.Duration(s) * time.Second
		}
		return &RetryError{Status: resp.StatusCode, Wait: wait}
	default:
		return fmt.Errorf("%w: %s %s: %d %s", ErrStatus, req.Method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(body))
	}
}
