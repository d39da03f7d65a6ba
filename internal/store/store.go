package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matthew-salter/panny-panface/internal/kv"
)

// ErrNotFound is returned when a transcript's metadata or content is missing.
var ErrNotFound = errors.New("transcript not found")

const indexAll = "all"

func metadataKey(id string) string { return "transcript:" + id + ":metadata" }
func contentKey(id string) string  { return "transcript:" + id + ":content" }
func indexKey(name string) string  { return "transcript:index:" + name }

type Store struct {
	kv  kv.Store
	now func() time.Time

	// indexMu serializes index read-modify-write within this process only.
	// Writers in other processes sharing the backend can still race.
	indexMu sync.Mutex
}

type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(backend kv.Store, opts ...Option) *Store {
	s := &Store{kv: backend, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Close() error {
	return s.kv.Close()
}

// SaveTranscript persists content then metadata with status pending and adds
// the id to the all and pending indexes. An empty conversationID gets a new
// UUID. Saving an existing id moves it back to pending, keeping its creation
// time and attempt count.
func (s *Store) SaveTranscript(ctx context.Context, conversationID, text, fileName string) (Metadata, error) {
	id := conversationID
	if id == "" {
		id = uuid.New().String()
	}
	now := s.now().UTC()

	meta := Metadata{
		ConversationID: id,
		FileName:       fileName,
		CreatedAt:      now,
		UpdatedAt:      now,
		Status:         StatusPending,
	}

	prev, err := s.getMetadata(ctx, id)
	switch {
	case err == nil:
		meta.CreatedAt = prev.CreatedAt
		meta.ZapierAttempts = prev.ZapierAttempts
		meta.LastZapierAttempt = prev.LastZapierAttempt
	case !errors.Is(err, ErrNotFound):
		return Metadata{}, err
	}

	if err := s.putJSON(ctx, contentKey(id), Content{Text: text, Timestamp: now}); err != nil {
		return Metadata{}, fmt.Errorf("save content: %w", err)
	}
	if err := s.putJSON(ctx, metadataKey(id), meta); err != nil {
		return Metadata{}, fmt.Errorf("save metadata: %w", err)
	}

	if err := s.addToIndex(ctx, indexAll, id); err != nil {
		return Metadata{}, err
	}
	if prev.Status != "" && prev.Status != StatusPending {
		if err := s.removeFromIndex(ctx, string(prev.Status), id); err != nil {
			return Metadata{}, err
		}
	}
	if err := s.addToIndex(ctx, string(StatusPending), id); err != nil {
		return Metadata{}, err
	}

	slog.Info("transcript saved", "conversation_id", id, "file_name", fileName)
	return meta, nil
}

// UpdateStatus records a delivery outcome on the metadata and moves the id
// between status indexes when the status changes.
func (s *Store) UpdateStatus(ctx context.Context, conversationID string, u StatusUpdate) (Metadata, error) {
	if !u.Status.Valid() {
		return Metadata{}, fmt.Errorf("invalid status %q", u.Status)
	}

	meta, err := s.getMetadata(ctx, conversationID)
	if err != nil {
		return Metadata{}, err
	}
	prevStatus := meta.Status

	now := s.now().UTC()
	meta.Status = u.Status
	meta.UpdatedAt = now
	meta.LastZapierAttempt = &now
	if u.CountAttempt {
		meta.ZapierAttempts++
	}
	meta.LastZapierResponse = nil
	if u.Response != nil {
		raw, err := json.Marshal(u.Response)
		if err != nil {
			return Metadata{}, fmt.Errorf("marshal response details: %w", err)
		}
		meta.LastZapierResponse = raw
	}

	if err := s.putJSON(ctx, metadataKey(conversationID), meta); err != nil {
		return Metadata{}, fmt.Errorf("save metadata: %w", err)
	}

	if prevStatus != u.Status {
		if err := s.removeFromIndex(ctx, string(prevStatus), conversationID); err != nil {
			return Metadata{}, err
		}
		if err := s.addToIndex(ctx, string(u.Status), conversationID); err != nil {
			return Metadata{}, err
		}
	}

	slog.Info("transcript status updated", "conversation_id", conversationID, "status", u.Status)
	return meta, nil
}

// GetTranscript returns ErrNotFound unless both metadata and content exist.
func (s *Store) GetTranscript(ctx context.Context, conversationID string) (Transcript, error) {
	meta, err := s.getMetadata(ctx, conversationID)
	if err != nil {
		return Transcript{}, err
	}
	var content Content
	if err := s.getJSON(ctx, contentKey(conversationID), &content); err != nil {
		return Transcript{}, err
	}
	return Transcript{Metadata: meta, Content: content}, nil
}

func (s *Store) IDsByStatus(ctx context.Context, status Status) ([]string, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid status %q", status)
	}
	return s.readIndex(ctx, string(status))
}

// CleanupSent deletes sent transcripts last updated before cutoff and
// returns how many were removed. Pending and failed entries are untouched.
func (s *Store) CleanupSent(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.readIndex(ctx, string(StatusSent))
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, id := range ids {
		meta, err := s.getMetadata(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return cleaned, err
		}
		if meta.Status != StatusSent || !meta.UpdatedAt.Before(cutoff) {
			continue
		}

		if err := s.kv.Delete(ctx, metadataKey(id)); err != nil {
			return cleaned, fmt.Errorf("delete metadata: %w", err)
		}
		if err := s.kv.Delete(ctx, contentKey(id)); err != nil {
			return cleaned, fmt.Errorf("delete content: %w", err)
		}
		if err := s.removeFromIndex(ctx, string(StatusSent), id); err != nil {
			return cleaned, err
		}
		if err := s.removeFromIndex(ctx, indexAll, id); err != nil {
			return cleaned, err
		}

		slog.Info("cleaned up transcript", "conversation_id", id)
		cleaned++
	}
	return cleaned, nil
}

func (s *Store) getMetadata(ctx context.Context, id string) (Metadata, error) {
	var meta Metadata
	if err := s.getJSON(ctx, metadataKey(id), &meta); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	raw, err := s.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) putJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, key, raw)
}

func (s *Store) readIndex(ctx context.Context, name string) ([]string, error) {
	raw, err := s.kv.Get(ctx, indexKey(name))
	if errors.Is(err, kv.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index %s: %w", name, err)
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("decode index %s: %w", name, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (s *Store) addToIndex(ctx context.Context, name, id string) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	ids, err := s.readIndex(ctx, name)
	if err != nil {
		return err
	}
	if slices.Contains(ids, id) {
		return nil
	}
	if err := s.putJSON(ctx, indexKey(name), append(ids, id)); err != nil {
		return fmt.Errorf("write index %s: %w", name, err)
	}
	return nil
}

func (s *Store) removeFromIndex(ctx context.Context, name, id string) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	ids, err := s.readIndex(ctx, name)
	if err != nil {
		return err
	}
	if !slices.Contains(ids, id) {
		return nil
	}
	ids = slices.DeleteFunc(ids, func(v string) bool { return v == id })
	if err := s.putJSON(ctx, indexKey(name), ids); err != nil {
		return fmt.Errorf("write index %s: %w", name, err)
	}
	return nil
}
