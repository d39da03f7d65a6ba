package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const maxResponseBody = 64 << 10

// Payload is the normalized body delivered to the automation webhook.
type Payload struct {
	FileName         string `json:"fileName"`
	TextContent      string `json:"textContent"`
	ConversationID   string `json:"conversationId"`
	EventTimestamp   string `json:"eventTimestamp"`
	IsRetry          bool   `json:"isRetry,omitempty"`
	PreviousAttempts *int   `json:"previousAttempts,omitempty"`
	DeliveryID       string `json:"deliveryId,omitempty"`
}

// Response captures what the webhook answered.
type Response struct {
	StatusCode int    `json:"status"`
	StatusText string `json:"statusText"`
	Body       string `json:"body,omitempty"`
}

// OK reports a 2xx answer.
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client posts payloads to a single webhook URL.
type Client struct {
	url    string
	client *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Configured reports whether a target URL is set.
func (c *Client) Configured() bool {
	return c != nil && c.url != ""
}

// Post sends p and returns the webhook's answer. A non-2xx answer is not an
// error here; err is set only when no answer was received.
func (c *Client) Post(ctx context.Context, p Payload) (Response, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return Response{}, fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Response{}, fmt.Errorf("read webhook response: %w", err)
	}

	out := Response{
		StatusCode: resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Body:       string(raw),
	}
	slog.Info("webhook responded",
		"conversation_id", p.ConversationID,
		"status", out.StatusCode,
		"retry", p.IsRetry,
	)
	return out, nil
}
