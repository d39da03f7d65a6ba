package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/matthew-salter/panny-panface/internal/session"
)

// CredentialSource fetches the ephemeral key used to open a connection.
type CredentialSource interface {
	FetchEphemeralCredential(ctx context.Context) (string, error)
}

type TransportConfig struct {
	BaseURL string
	Model   string
}

// Transport implements session.Transport over the speech API's websocket
// endpoint.
type Transport struct {
	creds  CredentialSource
	cfg    TransportConfig
	dialer *websocket.Dialer
}

var _ session.Transport = (*Transport)(nil)

func NewTransport(creds CredentialSource, cfg TransportConfig) *Transport {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Transport{creds: creds, cfg: cfg, dialer: websocket.DefaultDialer}
}

func (t *Transport) FetchEphemeralCredential(ctx context.Context) (string, error) {
	return t.creds.FetchEphemeralCredential(ctx)
}

func (t *Transport) Open(ctx context.Context, credential string, h session.Handlers) (session.Conn, error) {
	wsURL, err := buildRealtimeURL(t.cfg.BaseURL, t.cfg.Model)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+credential)
	headers.Set("OpenAI-Beta", "realtime=v1")

	ws, _, err := t.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to realtime websocket: %w", err)
	}

	c := &conn{ws: ws}
	c.audio = &Track{send: c.Send}
	go c.readLoop(h)
	return c, nil
}

type conn struct {
	ws    *websocket.Conn
	audio *Track

	writeMu   sync.Mutex
	closeOnce sync.Once
	closedMu  sync.Mutex
	closed    bool
}

func (c *conn) Send(event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal client event: %w", err)
	}

	if c.isClosed() {
		return errors.New("connection closed")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to send client event: %w", err)
	}
	return nil
}

// Close does not wait for the read loop to exit.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closedMu.Lock()
		c.closed = true
		c.closedMu.Unlock()
		c.audio.Stop()
		err = c.ws.Close()
	})
	return err
}

func (c *conn) Audio() session.AudioTrack { return c.audio }

func (c *conn) isClosed() bool {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()
	return c.closed
}

func (c *conn) readLoop(h session.Handlers) {
	if h.OnOpen != nil {
		h.OnOpen(c)
	}

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if c.isClosed() || websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				if h.OnClose != nil {
					h.OnClose()
				}
				return
			}
			if h.OnError != nil {
				h.OnError(fmt.Errorf("failed to read server event: %w", err))
			}
			return
		}
		if h.OnMessage != nil {
			h.OnMessage(payload)
		}
	}
}

// Track gates outbound pcm16 audio. Writes while disabled are dropped.
type Track struct {
	mu      sync.Mutex
	enabled bool
	stopped bool
	send    func(any) error
}

type audioAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.enabled = enabled
}

func (t *Track) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.enabled = false
}

// Write implements io.Writer for pcm16 chunks.
func (t *Track) Write(pcm []byte) (int, error) {
	t.mu.Lock()
	live := t.enabled && !t.stopped
	t.mu.Unlock()
	if !live || len(pcm) == 0 {
		return len(pcm), nil
	}

	err := t.send(audioAppendEvent{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
	if err != nil {
		return 0, err
	}
	return len(pcm), nil
}

func buildRealtimeURL(base, model string) (string, error) {
	base = strings.TrimSpace(base)
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	u, err := url.Parse(base + "/realtime")
	if err != nil {
		return "", fmt.Errorf("invalid realtime base URL: %w", err)
	}
	q := u.Query()
	q.Set("model", model)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
