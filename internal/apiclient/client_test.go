package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthew-salter/panny-panface/internal/delivery"
	"github.com/matthew-salter/panny-panface/internal/session"
)

func newServer(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", time.Second)
}

func TestFetchEphemeralCredential(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/session", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"client_secret":{"value":"ek_123"}}`))
	})
	c := newServer(t, mux)

	key, err := c.FetchEphemeralCredential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ek_123", key)
}

func TestFetchEphemeralCredential_Missing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/session", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"upstream said no"}`))
	})
	c := newServer(t, mux)

	_, err := c.FetchEphemeralCredential(context.Background())
	assert.ErrorIs(t, err, session.ErrNoCredential)
}

func TestSave_ErrorEnvelope(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/save-transcript", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Failed to forward transcript to Zapier.","details":"zap paused"}`))
	})
	c := newServer(t, mux)

	err := c.Save(context.Background(), delivery.SaveRequest{FileName: "t.txt", Content: "User: hi"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 500, se.HTTPStatus())
	assert.Equal(t, "Failed to forward transcript to Zapier.", se.Message)
	assert.Equal(t, "zap paused", se.Details)
	assert.Contains(t, se.Error(), "zap paused")
}

func TestBeacon_DoesNotBlock(t *testing.T) {
	got := make(chan delivery.SaveRequest, 1)
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/save-transcript", func(w http.ResponseWriter, r *http.Request) {
		var req delivery.SaveRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		got <- req
		<-release
	})
	c := newServer(t, mux)
	defer close(release)

	start := time.Now()
	c.Beacon(delivery.SaveRequest{FileName: "t.txt", Content: "User: hi", ConversationID: "session-1"})
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	select {
	case req := <-got:
		assert.Equal(t, "session-1", req.ConversationID)
	case <-time.After(2 * time.Second):
		t.Fatal("beacon never reached the server")
	}
}

func TestFlush_WaitsForBeacon(t *testing.T) {
	var handled atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/save-transcript", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		handled.Store(true)
		w.Write([]byte(`{"message":"ok"}`))
	})
	c := newServer(t, mux)

	c.Beacon(delivery.SaveRequest{FileName: "t.txt", Content: "User: hi", ConversationID: "session-1"})
	c.Flush()
	assert.True(t, handled.Load())
}

func TestOperatorCalls(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/retry-transcript", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["conversationId"] != "abc" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"Transcript not found"}`))
			return
		}
		w.Write([]byte(`{"message":"Transcript successfully resent to Zapier"}`))
	})
	mux.HandleFunc("GET /api/transcript-status", func(w http.ResponseWriter, r *http.Request) {
		if id := r.URL.Query().Get("conversationId"); id != "" {
			w.Write([]byte(`{"metadata":{"conversationId":"` + id + `","status":"sent"},"content":{"text":"User: hi"}}`))
			return
		}
		w.Write([]byte(`{"pending":1,"failed":0,"sent":2,"total":3,"pendingIds":["p"],"failedIds":[]}`))
	})
	mux.HandleFunc("POST /api/cleanup-transcripts", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"Successfully cleaned up 4 old transcripts","count":4}`))
	})
	mux.HandleFunc("GET /api/agents", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"default":"simpleExample","sets":{"simpleExample":["Panelitix Voice Assistant"]}}`))
	})
	c := newServer(t, mux)
	ctx := context.Background()

	msg, err := c.Retry(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "Transcript successfully resent to Zapier", msg)

	_, err = c.Retry(ctx, "nope")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)

	tr, err := c.Transcript(ctx, "session 1")
	require.NoError(t, err)
	assert.Equal(t, "session 1", tr.Metadata.ConversationID)
	assert.Equal(t, "User: hi", tr.Content.Text)

	sum, err := c.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, []string{"p"}, sum.PendingIDs)

	n, err := c.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	sets, err := c.Agents(ctx)
	require.NoError(t, err)
	assert.Equal(t, "simpleExample", sets.Default)
	assert.Equal(t, []string{"Panelitix Voice Assistant"}, sets.Sets["simpleExample"])
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := New(url, time.Second).Save(context.Background(), delivery.SaveRequest{})
	require.Error(t, err)
	var se *StatusError
	assert.False(t, errors.As(err, &se), "transport failures carry no HTTP status")
}
