package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthew-salter/panny-panface/internal/agents"
	"github.com/matthew-salter/panny-panface/internal/delivery"
	"github.com/matthew-salter/panny-panface/internal/realtime"
	"github.com/matthew-salter/panny-panface/internal/store"
	"github.com/matthew-salter/panny-panface/internal/testutil"
	"github.com/matthew-salter/panny-panface/internal/webhook"
)

type stubMinter struct {
	body   []byte
	status int
	err    error
}

func (m *stubMinter) Mint(context.Context) ([]byte, int, error) {
	return m.body, m.status, m.err
}

// hookRecorder answers every webhook call with status and keeps the payloads.
type hookRecorder struct {
	mu       sync.Mutex
	status   int
	body     string
	payloads []webhook.Payload
}

func (h *hookRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var p webhook.Payload
	json.NewDecoder(r.Body).Decode(&p)
	h.mu.Lock()
	h.payloads = append(h.payloads, p)
	status, body := h.status, h.body
	h.mu.Unlock()
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func (h *hookRecorder) calls() []webhook.Payload {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]webhook.Payload(nil), h.payloads...)
}

type fixture struct {
	srv   *Server
	store *testutil.MockStore
	hook  *hookRecorder
}

func setupServer(t *testing.T, hookStatus int) *fixture {
	t.Helper()
	hook := &hookRecorder{status: hookStatus}
	hs := httptest.NewServer(hook)
	t.Cleanup(hs.Close)
	return setupServerWithURL(t, hook, hs.URL)
}

func setupServerWithURL(t *testing.T, hook *hookRecorder, url string) *fixture {
	t.Helper()
	ms := testutil.NewMockStore()
	p := delivery.New(ms, webhook.NewClient(url, time.Second))
	sets, err := agents.Default()
	require.NoError(t, err)
	minter := &stubMinter{body: []byte(`{"client_secret":{"value":"ek_1"}}`), status: http.StatusOK}
	return &fixture{srv: NewServer(p, minter, sets, 8080), store: ms, hook: hook}
}

func do(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestHealthEndpoint(t *testing.T) {
	f := setupServer(t, http.StatusOK)

	w := do(f.srv, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestSaveTranscript_Forwarded(t *testing.T) {
	f := setupServer(t, http.StatusOK)

	w := do(f.srv, "POST", "/api/save-transcript",
		`{"fileName":"t.txt","content":"hello","conversationId":"conv-1","timestamp":"2025-05-14T10:30:00.000Z"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Transcript successfully forwarded to Zapier.", decode(t, w)["message"])

	calls := f.hook.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "t.txt", calls[0].FileName)
	assert.Equal(t, "hello", calls[0].TextContent)
	assert.Equal(t, "conv-1", calls[0].ConversationID)

	tr, err := f.store.GetTranscript(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusSent, tr.Metadata.Status)
}

func TestSaveTranscript_PlainTextBody(t *testing.T) {
	f := setupServer(t, http.StatusOK)

	req := httptest.NewRequest("POST", "/api/save-transcript",
		strings.NewReader(`{"fileName":"t.txt","content":"bye","conversationId":"conv-2"}`))
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	w := httptest.NewRecorder()
	f.srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestSaveTranscript_InvalidBody(t *testing.T) {
	f := setupServer(t, http.StatusOK)

	cases := []string{
		`not json`,
		`{"fileName":"t.txt"}`,
		`{"fileName":3,"content":"x"}`,
		`{"fileName":"","content":"x"}`,
	}
	for _, body := range cases {
		w := do(f.srv, "POST", "/api/save-transcript", body)
		if !assert.Equal(t, http.StatusBadRequest, w.Code, body) {
			continue
		}
		assert.Equal(t, "Invalid request body: fileName (string) and content (string) are required.", decode(t, w)["error"], body)
	}
	assert.Zero(t, f.store.GetSaveCalls())
}

func TestSaveTranscript_OversizedBody(t *testing.T) {
	f := setupServer(t, http.StatusOK)

	big := `{"fileName":"t.txt","content":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	w := do(f.srv, "POST", "/api/save-transcript", big)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, decode(t, w)["error"], "Request body too large")
	assert.Zero(t, f.store.GetSaveCalls())

	w = do(f.srv, "POST", "/api/retry-transcript", `{"conversationId":"`+strings.Repeat("a", maxBodyBytes)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestSaveTranscript_NotConfigured(t *testing.T) {
	f := setupServerWithURL(t, &hookRecorder{}, "")

	w := do(f.srv, "POST", "/api/save-transcript", `{"fileName":"t.txt","content":"hello","conversationId":"conv-1"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Server configuration error: Zapier webhook URL missing.", decode(t, w)["error"])

	assert.Zero(t, f.store.GetSaveCalls())
	_, err := f.store.GetTranscript(context.Background(), "conv-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSaveTranscript_UpstreamFailure(t *testing.T) {
	f := setupServer(t, http.StatusBadGateway)
	f.hook.body = "zap down"

	w := do(f.srv, "POST", "/api/save-transcript", `{"fileName":"t.txt","content":"hello","conversationId":"conv-1"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Failed to forward transcript to Zapier.", body["error"])
	assert.Equal(t, "zap down", body["details"])

	tr, err := f.store.GetTranscript(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, tr.Metadata.Status)
	assert.Equal(t, "hello", tr.Content.Text, "content survives a failed forward")
}

func TestRetryTranscript(t *testing.T) {
	f := setupServer(t, http.StatusOK)
	f.store.SetTranscript("conv-9", "again", "t.txt", store.StatusFailed)

	w := do(f.srv, "POST", "/api/retry-transcript", `{"conversationId":"conv-9"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Transcript successfully resent to Zapier", decode(t, w)["message"])

	calls := f.hook.calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].IsRetry)
	assert.Equal(t, "conv-9-1", calls[0].DeliveryID)
}

func TestRetryTranscript_Errors(t *testing.T) {
	f := setupServer(t, http.StatusOK)

	w := do(f.srv, "POST", "/api/retry-transcript", `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "conversationId is required", decode(t, w)["error"])

	w = do(f.srv, "POST", "/api/retry-transcript", `{"conversationId":"ghost"}`)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Transcript not found", decode(t, w)["error"])
}

func TestRetryTranscript_UpstreamFailure(t *testing.T) {
	f := setupServer(t, http.StatusServiceUnavailable)
	f.store.SetTranscript("conv-9", "again", "t.txt", store.StatusFailed)

	w := do(f.srv, "POST", "/api/retry-transcript", `{"conversationId":"conv-9"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Retry failed", decode(t, w)["error"])
}

func TestTranscriptStatus(t *testing.T) {
	f := setupServer(t, http.StatusOK)
	f.store.SetTranscript("a", "x", "a.txt", store.StatusPending)
	f.store.SetTranscript("b", "y", "b.txt", store.StatusFailed)
	f.store.SetTranscript("c", "z", "c.txt", store.StatusSent)

	w := do(f.srv, "GET", "/api/transcript-status", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	for key, want := range map[string]float64{"pending": 1, "failed": 1, "sent": 1, "total": 3} {
		assert.Equal(t, want, body[key], key)
	}

	w = do(f.srv, "GET", "/api/transcript-status?conversationId=b", "")
	require.Equal(t, http.StatusOK, w.Code)
	var tr store.Transcript
	require.NoError(t, json.NewDecoder(w.Body).Decode(&tr))
	assert.Equal(t, "b", tr.Metadata.ConversationID)
	assert.Equal(t, "y", tr.Content.Text)

	w = do(f.srv, "GET", "/api/transcript-status?conversationId=nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTranscriptStatus_StoreError(t *testing.T) {
	f := setupServer(t, http.StatusOK)
	f.store.IndexErr = errors.New("kv offline")

	w := do(f.srv, "GET", "/api/transcript-status", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to retrieve transcript status", decode(t, w)["error"])
}

func TestCleanupTranscripts(t *testing.T) {
	f := setupServer(t, http.StatusOK)

	w := do(f.srv, "POST", "/api/cleanup-transcripts", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Successfully cleaned up 0 old transcripts", body["message"])
	assert.Equal(t, float64(0), body["count"])

	f.store.CleanupErr = errors.New("kv offline")
	w = do(f.srv, "POST", "/api/cleanup-transcripts", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSessionEndpoint(t *testing.T) {
	f := setupServer(t, http.StatusOK)

	w := do(f.srv, "GET", "/api/session", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ek_1", "minted body passes through")

	f.srv.minter = &stubMinter{body: []byte(`{"error":{"message":"bad key"}}`), status: http.StatusUnauthorized}
	w = do(f.srv, "GET", "/api/session", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	f.srv.minter = &stubMinter{err: realtime.ErrNotConfigured}
	w = do(f.srv, "GET", "/api/session", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAgentsEndpoint(t *testing.T) {
	f := setupServer(t, http.StatusOK)

	w := do(f.srv, "GET", "/api/agents", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body agentSets
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, agents.DefaultSetKey, body.Default)
	names := body.Sets[agents.DefaultSetKey]
	require.NotEmpty(t, names)
	assert.Equal(t, "Panelitix Voice Assistant", names[0])
}

func TestStart_ShutsDownOnCancel(t *testing.T) {
	f := setupServer(t, http.StatusOK)
	f.srv.port = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
