// Package client is a Go SDK for the studytrack REST API.
//
// # Heartbeat contract
//
// The server abandons a RUNNING or PAUSED interval once no ping has arrived
// for the configured abandon threshold (90s by default). A client therefore
// pings every DefaultPingInterval while an interval is live, paused included,
// so that several consecutive pings can be lost before the interval is cut
// off. An abandoned interval keeps the active time accrued up to its last
// ping; nothing after it is counted.
//
// Heartbeat implements this loop. It returns once the interval is no longer
// live, whether it was completed by the user or abandoned by the server.
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

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a single API request.
const DefaultTimeout = 15 * time.Second

// Interval types.
const (
	TypeStudy = "STUDY"
	TypeBreak = "BREAK"
)

// Interval statuses.
const (
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusPaused    = "PAUSED"
	StatusCompleted = "COMPLETED"
	StatusAbandoned = "ABANDONED"
)

// Session is a study session.
type Session struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Timezone      string     `json:"timezone"`
	CreatedAt     time.Time  `json:"created_at"`
	IntervalCount int        `json:"interval_count"`
	Closed        bool       `json:"closed"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	Cancelled     bool       `json:"cancelled"`
}

// Interval is one timed block of a session.
type Interval struct {
	ID            string     `json:"id"`
	SessionID     string     `json:"session_id"`
	UserID        string     `json:"user_id"`
	Type          string     `json:"type"`
	OrderIndex    int        `json:"order_index"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	PingedAt      *time.Time `json:"pinged_at,omitempty"`
	Duration      int64      `json:"duration"`
	ActiveSeconds int64      `json:"active_seconds"`
}

// Live reports whether the interval still needs heartbeats.
func (iv *Interval) Live() bool {
	return iv.Status == StatusRunning || iv.Status == StatusPaused
}

// TypeTotals holds seconds and interval count for one interval type.
type TypeTotals struct {
	Seconds int64 `json:"seconds"`
	Count   int64 `json:"count"`
}

// Summary is the aggregated view of a session.
type Summary struct {
	Session      Session               `json:"session"`
	Intervals    []Interval            `json:"intervals"`
	TotalSeconds int64                 `json:"total_seconds"`
	ByType       map[string]TypeTotals `json:"by_type"`
	Current      *Interval             `json:"current,omitempty"`
	Complete     bool                  `json:"complete"`
}

// StatBucket is a rolled-up statistics period.
type StatBucket struct {
	UserID        string                `json:"user_id"`
	Granularity   string                `json:"granularity"`
	Period        string                `json:"period"`
	TotalSeconds  int64                 `json:"total_seconds"`
	IntervalCount int64                 `json:"interval_count"`
	ByType        map[string]TypeTotals `json:"by_type"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Reason     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("studytrack: %d %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("studytrack: %d %s: %s", e.StatusCode, e.Reason, e.Message)
}

// HasReason reports whether err is an APIError with the given reason.
func HasReason(err error, reason string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Reason == reason
}

// Client talks to a studytrack server on behalf of one bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger used by Heartbeat.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger.With().Str("component", "studytrack-client").Logger()
	}
}

// New creates a client for the server at baseURL.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateSession opens a session in the token's time zone.
func (c *Client) CreateSession(ctx context.Context) (*Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodPost, "/sessions", nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSession returns the session summary.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*Summary, error) {
	return c.summary(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID))
}

// CloseSession closes the session to new intervals.
func (c *Client) CloseSession(ctx context.Context, sessionID string) (*Summary, error) {
	return c.summary(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/close")
}

// AbandonSession cancels the session, abandoning its open intervals.
func (c *Client) AbandonSession(ctx context.Context, sessionID string) (*Summary, error) {
	return c.summary(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/abandon")
}

// CreateInterval appends an interval of type typ to the session.
func (c *Client) CreateInterval(ctx context.Context, sessionID, typ string) (*Interval, error) {
	var iv Interval
	path := "/sessions/" + url.PathEscape(sessionID) + "/intervals"
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"type": typ}, &iv); err != nil {
		return nil, err
	}
	return &iv, nil
}

// GetInterval returns an interval with its provisional active time.
func (c *Client) GetInterval(ctx context.Context, intervalID string) (*Interval, error) {
	var iv Interval
	if err := c.do(ctx, http.MethodGet, "/intervals/"+url.PathEscape(intervalID), nil, &iv); err != nil {
		return nil, err
	}
	return &iv, nil
}

// Start starts a pending interval.
func (c *Client) Start(ctx context.Context, intervalID string) (*Interval, error) {
	return c.operate(ctx, intervalID, "start")
}

// Pause pauses a running interval.
func (c *Client) Pause(ctx context.Context, intervalID string) (*Interval, error) {
	return c.operate(ctx, intervalID, "pause")
}

// Resume resumes a paused interval.
func (c *Client) Resume(ctx context.Context, intervalID string) (*Interval, error) {
	return c.operate(ctx, intervalID, "resume")
}

// Ping sends one heartbeat.
func (c *Client) Ping(ctx context.Context, intervalID string) (*Interval, error) {
	return c.operate(ctx, intervalID, "ping")
}

// Complete finalizes a live interval.
func (c *Client) Complete(ctx context.Context, intervalID string) (*Interval, error) {
	return c.operate(ctx, intervalID, "complete")
}

// Stats returns the bucket for granularity (daily, monthly or yearly). An
// empty period selects the current one in the caller's time zone.
func (c *Client) Stats(ctx context.Context, granularity, period string) (*StatBucket, error) {
	params := map[string]string{"daily": "date", "monthly": "month", "yearly": "year"}
	param, ok := params[granularity]
	if !ok {
		return nil, fmt.Errorf("invalid granularity: %s", granularity)
	}

	path := "/stats/" + granularity
	if period != "" {
		path += "?" + url.Values{param: {period}}.Encode()
	}

	var bucket StatBucket
	if err := c.do(ctx, http.MethodGet, path, nil, &bucket); err != nil {
		return nil, err
	}
	return &bucket, nil
}

func (c *Client) operate(ctx context.Context, intervalID, op string) (*Interval, error) {
	var iv Interval
	path := "/intervals/" + url.PathEscape(intervalID) + "/" + op
	if err := c.do(ctx, http.MethodPost, path, nil, &iv); err != nil {
		return nil, err
	}
	return &iv, nil
}

func (c *Client) summary(ctx context.Context, method, path string) (*Summary, error) {
	var summary Summary
	if err := c.do(ctx, method, path, nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Reason  string `json:"reason"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &payload) == nil {
			apiErr.Reason = payload.Reason
			apiErr.Message = payload.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
