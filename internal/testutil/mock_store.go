package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/matthew-salter/panny-panface/internal/kv"
	"github.com/matthew-salter/panny-panface/internal/store"
)

// MockStore is a thread-safe implementation of store.DataStore for testing.
// It delegates to a real store over in-memory KV and lets tests inject errors.
type MockStore struct {
	mu    sync.Mutex
	inner *store.Store

	SaveErr    error
	UpdateErr  error
	GetErr     error
	IndexErr   error
	CleanupErr error

	SaveCalls    int
	UpdateCalls  int
	CleanupCalls int
}

func NewMockStore(opts ...store.Option) *MockStore {
	return &MockStore{inner: store.New(kv.NewMemory(), opts...)}
}

func (m *MockStore) SaveTranscript(ctx context.Context, conversationID, text, fileName string) (store.Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls++
	if m.SaveErr != nil {
		return store.Metadata{}, m.SaveErr
	}
	return m.inner.SaveTranscript(ctx, conversationID, text, fileName)
}

func (m *MockStore) UpdateStatus(ctx context.Context, conversationID string, u store.StatusUpdate) (store.Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateCalls++
	if m.UpdateErr != nil {
		return store.Metadata{}, m.UpdateErr
	}
	return m.inner.UpdateStatus(ctx, conversationID, u)
}

func (m *MockStore) GetTranscript(ctx context.Context, conversationID string) (store.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return store.Transcript{}, m.GetErr
	}
	return m.inner.GetTranscript(ctx, conversationID)
}

func (m *MockStore) IDsByStatus(ctx context.Context, status store.Status) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.IndexErr != nil {
		return nil, m.IndexErr
	}
	return m.inner.IDsByStatus(ctx, status)
}

func (m *MockStore) CleanupSent(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CleanupCalls++
	if m.CleanupErr != nil {
		return 0, m.CleanupErr
	}
	return m.inner.CleanupSent(ctx, cutoff)
}

func (m *MockStore) Close() error { return nil }

// SetTranscript seeds a transcript with the given status for testing.
func (m *MockStore) SetTranscript(id, text, fileName string, status store.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx := context.Background()
	if _, err := m.inner.SaveTranscript(ctx, id, text, fileName); err != nil {
		panic(err)
	}
	if status != store.StatusPending {
		if _, err := m.inner.UpdateStatus(ctx, id, store.StatusUpdate{Status: status}); err != nil {
			panic(err)
		}
	}
}

// GetSaveCalls returns how many times SaveTranscript was called.
func (m *MockStore) GetSaveCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SaveCalls
}

// GetUpdateCalls returns how many times UpdateStatus was called.
func (m *MockStore) GetUpdateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.UpdateCalls
}

// GetCleanupCalls returns how many times CleanupSent was called.
func (m *MockStore) GetCleanupCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CleanupCalls
}
