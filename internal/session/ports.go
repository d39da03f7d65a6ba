package session

import (
	"context"
	"io"
	"time"

	"github.com/matthew-salter/panny-panface/internal/delivery"
)

// Handlers are the transport callbacks the controller reacts to. OnOpen
// receives the live connection, which may happen before Open returns.
type Handlers struct {
	OnOpen    func(conn Conn)
	OnMessage func(raw []byte)
	OnClose   func()
	OnError   func(err error)
}

// Conn is an open realtime connection.
type Conn interface {
	Send(event any) error
	Close() error
	// Audio returns the outbound audio track, or nil for text-only sessions.
	Audio() AudioTrack
}

// AudioTrack is the outbound microphone track. Write takes pcm16 chunks and
// drops them while the track is disabled or stopped.
type AudioTrack interface {
	io.Writer
	SetEnabled(enabled bool)
	Stop()
}

// Transport establishes realtime connections. Negotiation details stay
// behind this boundary.
type Transport interface {
	FetchEphemeralCredential(ctx context.Context) (string, error)
	Open(ctx context.Context, credential string, h Handlers) (Conn, error)
}

// TranscriptSender delivers a finished transcript. Save blocks for the
// answer; Beacon is fire-and-forget and must not block.
type TranscriptSender interface {
	Save(ctx context.Context, req delivery.SaveRequest) error
	Beacon(req delivery.SaveRequest)
}

// Scheduler runs fn every d until the returned stop func is called. Stop
// must be safe to call from inside fn and must not wait for fn to return.
type Scheduler interface {
	Every(d time.Duration, fn func()) (stop func())
}
