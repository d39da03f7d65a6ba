package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/matthew-salter/panny-panface/internal/delivery"
	"github.com/matthew-salter/panny-panface/internal/session"
	"github.com/matthew-salter/panny-panface/internal/store"
)

const beaconTimeout = 5 * time.Second

// StatusError is a non-2xx answer from the service.
type StatusError struct {
	Code    int
	Message string
	Details string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("server returned %d", e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

func (e *StatusError) HTTPStatus() int { return e.Code }

// Client talks to the panface HTTP routes.
type Client struct {
	baseURL string
	http    *http.Client
	beacons sync.WaitGroup
}

var _ session.TranscriptSender = (*Client)(nil)

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type sessionResponse struct {
	ClientSecret *struct {
		Value string `json:"value"`
	} `json:"client_secret"`
}

// FetchEphemeralCredential reads client_secret.value from /api/session.
func (c *Client) FetchEphemeralCredential(ctx context.Context) (string, error) {
	var resp sessionResponse
	if err := c.do(ctx, http.MethodGet, "/api/session", nil, &resp); err != nil {
		return "", err
	}
	if resp.ClientSecret == nil || resp.ClientSecret.Value == "" {
		return "", session.ErrNoCredential
	}
	return resp.ClientSecret.Value, nil
}

// Save posts the transcript and waits for the service's answer.
func (c *Client) Save(ctx context.Context, req delivery.SaveRequest) error {
	return c.do(ctx, http.MethodPost, "/api/save-transcript", req, nil)
}

// Beacon posts the transcript in the background and never reports back.
func (c *Client) Beacon(req delivery.SaveRequest) {
	c.beacons.Add(1)
	go func() {
		defer c.beacons.Done()
		ctx, cancel := context.WithTimeout(context.Background(), beaconTimeout)
		defer cancel()
		if err := c.Save(ctx, req); err != nil {
			slog.Debug("transcript beacon failed", "conversation_id", req.ConversationID, "error", err)
		}
	}()
}

// Flush waits for outstanding beacons. Processes that exit right after
// Close call it so the last transcript is not lost.
func (c *Client) Flush() {
	c.beacons.Wait()
}

type messageResponse struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

func (c *Client) Retry(ctx context.Context, conversationID string) (string, error) {
	var resp messageResponse
	err := c.do(ctx, http.MethodPost, "/api/retry-transcript", map[string]string{"conversationId": conversationID}, &resp)
	return resp.Message, err
}

func (c *Client) Transcript(ctx context.Context, conversationID string) (store.Transcript, error) {
	var t store.Transcript
	err := c.do(ctx, http.MethodGet, "/api/transcript-status?conversationId="+url.QueryEscape(conversationID), nil, &t)
	return t, err
}

func (c *Client) Summary(ctx context.Context) (delivery.Summary, error) {
	var s delivery.Summary
	err := c.do(ctx, http.MethodGet, "/api/transcript-status", nil, &s)
	return s, err
}

func (c *Client) Cleanup(ctx context.Context) (int, error) {
	var resp messageResponse
	err := c.do(ctx, http.MethodPost, "/api/cleanup-transcripts", nil, &resp)
	return resp.Count, err
}

// AgentSets is the /api/agents answer: set keys mapped to agent names.
type AgentSets struct {
	Default string              `json:"default"`
	Sets    map[string][]string `json:"sets"`
}

func (c *Client) Agents(ctx context.Context) (AgentSets, error) {
	var a AgentSets
	err := c.do(ctx, http.MethodGet, "/api/agents", nil, &a)
	return a, err
}

type errorEnvelope struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var env errorEnvelope
		_ = json.Unmarshal(raw, &env)
		return &StatusError{Code: resp.StatusCode, Message: env.Error, Details: env.Details}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
