package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-realtime-preview-2024-12-17"
	DefaultVoice   = "coral"
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("OPENAI_API_KEY is not configured")

// Minter obtains ephemeral realtime credentials from the speech API.
type Minter struct {
	apiKey  string
	model   string
	voice   string
	baseURL string
	client  *http.Client
}

type MinterConfig struct {
	APIKey  string
	Model   string
	Voice   string
	BaseURL string
}

func NewMinter(cfg MinterConfig) *Minter {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Minter{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		voice:   cfg.Voice,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Mint creates a realtime session and returns the upstream body and status
// unchanged. The body carries client_secret.value.
func (m *Minter) Mint(ctx context.Context) ([]byte, int, error) {
	if strings.TrimSpace(m.apiKey) == "" {
		return nil, 0, ErrNotConfigured
	}

	body, err := json.Marshal(map[string]string{"model": m.model, "voice": m.voice})
	if err != nil {
		return nil, 0, fmt.Errorf("marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/realtime/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("mint session: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("read session response: %w", err)
	}
	return raw, resp.StatusCode, nil
}
