package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/matthew-salter/panny-panface/internal/agents"
	"github.com/matthew-salter/panny-panface/internal/delivery"
	"github.com/matthew-salter/panny-panface/internal/realtime"
)

const maxBodyBytes = 4 << 20

// SessionMinter issues ephemeral realtime credentials.
type SessionMinter interface {
	Mint(ctx context.Context) (body []byte, status int, err error)
}

type Server struct {
	pipeline *delivery.Pipeline
	minter   SessionMinter
	agents   agents.Sets
	router   chi.Router
	port     int
}

func NewServer(p *delivery.Pipeline, m SessionMinter, sets agents.Sets, port int) *Server {
	srv := &Server{
		pipeline: p,
		minter:   m,
		agents:   sets,
		port:     port,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", srv.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/session", srv.handleSession)
		r.Get("/agents", srv.handleAgents)
		r.Post("/save-transcript", srv.handleSaveTranscript)
		r.Post("/retry-transcript", srv.handleRetryTranscript)
		r.Get("/transcript-status", srv.handleTranscriptStatus)
		r.Post("/cleanup-transcripts", srv.handleCleanup)
	})

	srv.router = r
	return srv
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	hs := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting HTTP API", "addr", addr)
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	body, status, err := s.minter.Mint(r.Context())
	if errors.Is(err, realtime.ErrNotConfigured) {
		slog.Error("OPENAI_API_KEY is not configured")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Server configuration error: OpenAI API key missing."})
		return
	}
	if err != nil {
		slog.Error("mint realtime session failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal Server Error"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

type agentSets struct {
	Default string              `json:"default"`
	Sets    map[string][]string `json:"sets"`
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	out := agentSets{Default: agents.DefaultSetKey, Sets: make(map[string][]string, len(s.agents))}
	for _, key := range s.agents.Keys() {
		names := make([]string, 0, len(s.agents[key]))
		for _, a := range s.agents[key] {
			names = append(names, a.Name)
		}
		out.Sets[key] = names
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSaveTranscript(w http.ResponseWriter, r *http.Request) {
	if !s.pipeline.Configured() {
		writeError(w, delivery.ErrNotConfigured, errorMessages{})
		return
	}

	// Beacons arrive as text/plain, so the body is decoded whatever the
	// declared content type.
	var req delivery.SaveRequest
	if err := decodeBody(w, r, &req); err != nil {
		if writeTooLarge(w, err) {
			return
		}
		writeError(w, &delivery.ValidationError{
			Message: "Invalid request body: fileName (string) and content (string) are required.",
		}, errorMessages{})
		return
	}

	if _, err := s.pipeline.SaveAndForward(r.Context(), req); err != nil {
		writeError(w, err, errorMessages{
			Upstream: "Failed to forward transcript to Zapier.",
			Network:  "Failed to forward transcript to Zapier.",
			Internal: "Failed to process the request.",
		})
		return
	}

	writeJSON(w, http.StatusOK, messageBody{Message: "Transcript successfully forwarded to Zapier."})
}

func (s *Server) handleRetryTranscript(w http.ResponseWriter, r *http.Request) {
	if !s.pipeline.Configured() {
		writeError(w, delivery.ErrNotConfigured, errorMessages{})
		return
	}

	var req struct {
		ConversationID string `json:"conversationId"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		if writeTooLarge(w, err) {
			return
		}
		writeError(w, &delivery.ValidationError{Message: "conversationId is required"}, errorMessages{})
		return
	}

	if _, err := s.pipeline.Retry(r.Context(), req.ConversationID); err != nil {
		writeError(w, err, errorMessages{
			Upstream: "Retry failed",
			Network:  "Network error during retry",
			Internal: "Failed to process retry request",
		})
		return
	}

	writeJSON(w, http.StatusOK, messageBody{Message: "Transcript successfully resent to Zapier"})
}

func (s *Server) handleTranscriptStatus(w http.ResponseWriter, r *http.Request) {
	msgs := errorMessages{Internal: "Failed to retrieve transcript status"}

	if id := r.URL.Query().Get("conversationId"); id != "" {
		t, err := s.pipeline.Transcript(r.Context(), id)
		if err != nil {
			writeError(w, err, msgs)
			return
		}
		writeJSON(w, http.StatusOK, t)
		return
	}

	sum, err := s.pipeline.Summary(r.Context())
	if err != nil {
		writeError(w, err, msgs)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	n, err := s.pipeline.Cleanup(r.Context())
	if err != nil {
		writeError(w, err, errorMessages{Internal: "Failed to clean up transcripts"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Successfully cleaned up %d old transcripts", n),
		"count":   n,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// writeTooLarge answers 413 when err came from the body size limit.
func writeTooLarge(w http.ResponseWriter, err error) bool {
	var mbe *http.MaxBytesError
	if !errors.As(err, &mbe) {
		return false
	}
	writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{
		Error: fmt.Sprintf("Request body too large: limit is %d bytes.", mbe.Limit),
	})
	return true
}

type messageBody struct {
	Message string `json:"message"`
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// errorMessages are the route-specific texts for failures that have no
// fixed wording.
type errorMessages struct {
	Upstream string
	Network  string
	Internal string
}

// writeError maps pipeline errors to status codes and the error envelope.
func writeError(w http.ResponseWriter, err error, msgs errorMessages) {
	var (
		ve *delivery.ValidationError
		ue *delivery.UpstreamError
		ne *delivery.NetworkError
	)

	switch {
	case errors.Is(err, delivery.ErrNotConfigured):
		slog.Error("ZAPIER_WEBHOOK_URL is not configured")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Server configuration error: Zapier webhook URL missing."})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ve.Message})
	case errors.Is(err, delivery.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Transcript not found"})
	case errors.As(err, &ue):
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: msgs.Upstream, Details: ue.Body})
	case errors.As(err, &ne):
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: msgs.Network, Details: ne.Err.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: msgs.Internal, Details: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
