package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/matthew-salter/panny-panface/internal/events"
	"github.com/matthew-salter/panny-panface/internal/store"
	"github.com/matthew-salter/panny-panface/internal/webhook"
)

const (
	DefaultMaxAge = 24 * time.Hour

	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Forwarder delivers payloads to the automation webhook. *webhook.Client
// satisfies it.
type Forwarder interface {
	Configured() bool
	Post(ctx context.Context, p webhook.Payload) (webhook.Response, error)
}

// SaveRequest is the input of SaveAndForward.
type SaveRequest struct {
	FileName       string `json:"fileName"`
	Content        string `json:"content"`
	ConversationID string `json:"conversationId,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
}

// Summary aggregates the status indexes.
type Summary struct {
	Pending    int      `json:"pending"`
	Failed     int      `json:"failed"`
	Sent       int      `json:"sent"`
	Total      int      `json:"total"`
	PendingIDs []string `json:"pendingIds"`
	FailedIDs  []string `json:"failedIds"`
	Timestamp  string   `json:"timestamp"`
}

// attempt is what gets recorded as lastZapierResponse.
type attempt struct {
	Status     int    `json:"status,omitempty"`
	StatusText string `json:"statusText,omitempty"`
	Body       string `json:"body,omitempty"`
	ErrorType  string `json:"errorType,omitempty"`
	Message    string `json:"message,omitempty"`
	IsRetry    bool   `json:"isRetry"`
	DeliveryID string `json:"deliveryId,omitempty"`
}

type Pipeline struct {
	store     store.DataStore
	hook      Forwarder
	publisher events.Publisher
	now       func() time.Time
	maxAge    time.Duration
}

type Option func(*Pipeline)

func WithPublisher(p events.Publisher) Option {
	return func(pl *Pipeline) { pl.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(pl *Pipeline) { pl.now = now }
}

// WithMaxAge sets how old a sent transcript must be before Cleanup removes it.
func WithMaxAge(d time.Duration) Option {
	return func(pl *Pipeline) {
		if d > 0 {
			pl.maxAge = d
		}
	}
}

func New(s store.DataStore, hook Forwarder, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:     s,
		hook:      hook,
		publisher: events.Nop{},
		now:       time.Now,
		maxAge:    DefaultMaxAge,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Configured reports whether a webhook target is set.
func (p *Pipeline) Configured() bool {
	return p.hook != nil && p.hook.Configured()
}

// SaveAndForward persists the transcript as pending and posts it to the
// webhook once. The outcome is recorded but never retried automatically.
func (p *Pipeline) SaveAndForward(ctx context.Context, req SaveRequest) (store.Metadata, error) {
	if !p.Configured() {
		return store.Metadata{}, ErrNotConfigured
	}
	if req.FileName == "" || req.Content == "" {
		return store.Metadata{}, &ValidationError{
			Message: "Invalid request body: fileName (string) and content (string) are required.",
		}
	}

	meta, err := p.store.SaveTranscript(ctx, req.ConversationID, req.Content, req.FileName)
	if err != nil {
		return store.Metadata{}, fmt.Errorf("save transcript: %w", err)
	}
	p.emit(ctx, events.TypeTranscriptSaved, meta)

	eventTS := req.Timestamp
	if eventTS == "" {
		eventTS = p.timestamp()
	}

	slog.Info("forwarding transcript", "conversation_id", meta.ConversationID, "file_name", meta.FileName)
	return p.forward(ctx, meta, webhook.Payload{
		FileName:       meta.FileName,
		TextContent:    req.Content,
		ConversationID: meta.ConversationID,
		EventTimestamp: eventTS,
	}, false)
}

// Retry resends a stored transcript with an idempotency marker derived from
// the number of previous retries.
func (p *Pipeline) Retry(ctx context.Context, conversationID string) (store.Metadata, error) {
	if !p.Configured() {
		return store.Metadata{}, ErrNotConfigured
	}
	if conversationID == "" {
		return store.Metadata{}, &ValidationError{Message: "conversationId is required"}
	}

	t, err := p.load(ctx, conversationID)
	if err != nil {
		return store.Metadata{}, err
	}

	attempts := t.Metadata.ZapierAttempts
	payload := webhook.Payload{
		FileName:         t.Metadata.FileName,
		TextContent:      t.Content.Text,
		ConversationID:   conversationID,
		EventTimestamp:   p.timestamp(),
		IsRetry:          true,
		PreviousAttempts: &attempts,
		DeliveryID:       fmt.Sprintf("%s-%d", conversationID, attempts+1),
	}

	slog.Info("retrying transcript", "conversation_id", conversationID, "delivery_id", payload.DeliveryID)
	return p.forward(ctx, t.Metadata, payload, true)
}

func (p *Pipeline) forward(ctx context.Context, meta store.Metadata, payload webhook.Payload, retry bool) (store.Metadata, error) {
	rec := attempt{IsRetry: retry, DeliveryID: payload.DeliveryID}
	status := store.StatusSent
	var deliveryErr error

	resp, err := p.hook.Post(ctx, payload)
	switch {
	case err != nil:
		status = store.StatusFailed
		rec.ErrorType = "NETWORK"
		rec.Message = err.Error()
		deliveryErr = &NetworkError{Err: err}
	case !resp.OK():
		status = store.StatusFailed
		rec.Status = resp.StatusCode
		rec.StatusText = resp.StatusText
		rec.Body = resp.Body
		deliveryErr = &UpstreamError{StatusCode: resp.StatusCode, Status: resp.StatusText, Body: resp.Body}
	default:
		rec.Status = resp.StatusCode
		rec.StatusText = resp.StatusText
	}

	// Record against a detached context so a cancelled request still leaves
	// the outcome behind.
	recordCtx := context.WithoutCancel(ctx)
	updated, err := p.store.UpdateStatus(recordCtx, meta.ConversationID, store.StatusUpdate{
		Status:       status,
		Response:     rec,
		CountAttempt: retry,
	})
	if err != nil {
		slog.Error("failed to record delivery outcome",
			"conversation_id", meta.ConversationID,
			"status", status,
			"error", err,
		)
		if deliveryErr != nil {
			return meta, deliveryErr
		}
		return meta, fmt.Errorf("record delivery outcome: %w", err)
	}

	if deliveryErr != nil {
		slog.Warn("transcript delivery failed",
			"conversation_id", meta.ConversationID,
			"retry", retry,
			"error", deliveryErr,
		)
		p.emit(recordCtx, events.TypeTranscriptFailed, updated)
		return updated, deliveryErr
	}

	p.emit(recordCtx, events.TypeTranscriptSent, updated)
	return updated, nil
}

// Transcript returns the stored record for one conversation.
func (p *Pipeline) Transcript(ctx context.Context, conversationID string) (store.Transcript, error) {
	return p.load(ctx, conversationID)
}

// Summary counts the pending, failed and sent buckets.
func (p *Pipeline) Summary(ctx context.Context) (Summary, error) {
	pending, err := p.store.IDsByStatus(ctx, store.StatusPending)
	if err != nil {
		return Summary{}, fmt.Errorf("read pending index: %w", err)
	}
	failed, err := p.store.IDsByStatus(ctx, store.StatusFailed)
	if err != nil {
		return Summary{}, fmt.Errorf("read failed index: %w", err)
	}
	sent, err := p.store.IDsByStatus(ctx, store.StatusSent)
	if err != nil {
		return Summary{}, fmt.Errorf("read sent index: %w", err)
	}

	if pending == nil {
		pending = []string{}
	}
	if failed == nil {
		failed = []string{}
	}

	return Summary{
		Pending:    len(pending),
		Failed:     len(failed),
		Sent:       len(sent),
		Total:      len(pending) + len(failed) + len(sent),
		PendingIDs: pending,
		FailedIDs:  failed,
		Timestamp:  p.timestamp(),
	}, nil
}

// Cleanup removes sent transcripts older than the configured max age.
func (p *Pipeline) Cleanup(ctx context.Context) (int, error) {
	cutoff := p.now().Add(-p.maxAge)
	n, err := p.store.CleanupSent(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("cleanup transcripts: %w", err)
	}

	if n > 0 {
		e := events.New(events.TypeTranscriptCleaned, "")
		e.Metadata = []byte(fmt.Sprintf(`{"count":%d}`, n))
		events.Emit(ctx, p.publisher, e)
	}
	slog.Info("cleaned up transcripts", "count", n, "cutoff", cutoff)
	return n, nil
}

func (p *Pipeline) load(ctx context.Context, conversationID string) (store.Transcript, error) {
	t, err := p.store.GetTranscript(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Transcript{}, ErrNotFound
	}
	if err != nil {
		return store.Transcript{}, fmt.Errorf("get transcript: %w", err)
	}
	return t, nil
}

func (p *Pipeline) timestamp() string {
	return p.now().UTC().Format(timestampLayout)
}

func (p *Pipeline) emit(ctx context.Context, eventType string, meta store.Metadata) {
	e := events.New(eventType, meta.ConversationID)
	e.Status = string(meta.Status)
	e.Attempts = meta.ZapierAttempts
	if len(meta.LastZapierResponse) > 0 {
		e.Metadata = meta.LastZapierResponse
	}
	events.Emit(ctx, p.publisher, e)
}
