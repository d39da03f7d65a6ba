package store

import (
	"context"
	"time"
)

// DataStore is the interface consumed by the delivery pipeline and the API.
// The concrete implementation is *Store (kv-backed).
type DataStore interface {
	SaveTranscript(ctx context.Context, conversationID, text, fileName string) (Metadata, error)
	UpdateStatus(ctx context.Context, conversationID string, u StatusUpdate) (Metadata, error)
	GetTranscript(ctx context.Context, conversationID string) (Transcript, error)
	IDsByStatus(ctx context.Context, status Status) ([]string, error)
	CleanupSent(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}
