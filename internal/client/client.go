// Package client provides an HTTP and WebSocket client for the maigret-api server.
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
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/maigret-api/internal/catalog"
	"github.com/raphaelgruber/maigret-api/internal/metrics"
	"github.com/raphaelgruber/maigret-api/internal/models"
)

// Sentinel errors matched by APIError.
var (
	ErrNotFound = errors.New("search session not found")
	ErrNotReady = errors.New("search not completed")
	ErrInvalid  = errors.New("invalid request")
)

// APIError is a non-success reply from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
}

// Unwrap maps the status code to a sentinel so callers can use errors.Is.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusBadRequest:
		return ErrNotReady
	case http.StatusUnprocessableEntity:
		return ErrInvalid
	default:
		return nil
	}
}

// Client talks to one maigret-api server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for baseURL (e.g. http://localhost:8000).
// A non-positive timeout defaults to 30s.
func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

// do sends a request and decodes the envelope's data into result.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !env.Success {
		msg := env.Error
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if result != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return fmt.Errorf("unmarshal data: %w", err)
		}
	}
	return nil
}

// =============================================================================
// TYPES
// =============================================================================

// Health is the reply of the health endpoint.
type Health struct {
	Status           string `json:"status"`
	MaigretAvailable bool   `json:"maigret_available"`
}

// Sites is the searchable site list.
type Sites struct {
	Sites []catalog.Site `json:"sites"`
	Total int            `json:"total"`
	Tags  []string       `json:"tags"`
}

// SessionSummary is one row of the session list.
type SessionSummary struct {
	models.StatusView
	Usernames   []string   `json:"usernames"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Stats is the server's runtime statistics.
type Stats struct {
	Sessions  map[models.Status]int `json:"sessions"`
	Observers int                   `json:"observers"`
	Metrics   metrics.Snapshot      `json:"metrics"`
}

// =============================================================================
// REST
// =============================================================================

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Sites lists the searchable sites.
func (c *Client) Sites(ctx context.Context) (*Sites, error) {
	var s Sites
	if err := c.do(ctx, http.MethodGet, "/api/sites", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Tags lists the known site tags.
func (c *Client) Tags(ctx context.Context) ([]string, error) {
	var tags []string
	if err := c.do(ctx, http.MethodGet, "/api/tags", nil, &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

// Submit starts a search and returns the pending session.
func (c *Client) Submit(ctx context.Context, req models.SearchRequest) (*models.Session, error) {
	var sess models.Session
	if err := c.do(ctx, http.MethodPost, "/api/search", req, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Status returns the current status of a session.
func (c *Client) Status(ctx context.Context, id string) (*models.StatusView, error) {
	var v models.StatusView
	if err := c.do(ctx, http.MethodGet, "/api/search/"+url.PathEscape(id), nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Results returns a completed session. It fails with ErrNotReady before completion.
func (c *Client) Results(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	if err := c.do(ctx, http.MethodGet, "/api/results/"+url.PathEscape(id), nil, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Sessions lists all sessions, newest first.
func (c *Client) Sessions(ctx context.Context) ([]SessionSummary, error) {
	var out []SessionSummary
	if err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats returns the server's runtime statistics.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// =============================================================================
// WEBSOCKET
// =============================================================================

// keepAliveInterval is how often Watch sends a text keep-alive.
const keepAliveInterval = 15 * time.Second

// Watch streams the events of one session. onEvent is invoked for each
// event; return an error from onEvent to abort. Watch returns nil after a
// terminal event.
func (c *Client) Watch(ctx context.Context, id string, onEvent func(models.Event) error) error {
	wsURL := c.baseURL
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)

	u, err := url.Parse(wsURL + "/ws/search/" + url.PathEscape(id))
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			var env envelope
			if json.NewDecoder(resp.Body).Decode(&env) == nil && env.Error != "" {
				return &APIError{StatusCode: resp.StatusCode, Message: env.Error}
			}
			return &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
		}
		return fmt.Errorf("websocket connect: %w", err)
	}

	var (
		mu     sync.Mutex
		closed bool
	)
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				closeConn()
				return
			case <-ticker.C:
				mu.Lock()
				if !closed {
					_ = conn.WriteMessage(websocket.TextMessage, []byte("ping"))
				}
				mu.Unlock()
			case <-done:
				return
			}
		}
	}()

	for {
		var ev models.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return fmt.Errorf("stream closed before the search finished")
			}
			return fmt.Errorf("read message: %w", err)
		}

		if err := onEvent(ev); err != nil {
			return err
		}
		if ev.Terminal() {
			return nil
		}
	}
}
