package events

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishSubscribe(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bus, err := Connect(ctx, url)
	require.NoError(t, err)
	defer bus.Close()

	got := make(chan Event, 1)
	require.NoError(t, bus.Subscribe(ctx, func(e Event) { got <- e }))

	sent := New(TypeTranscriptSent, "integration-conv")
	require.NoError(t, bus.Publish(ctx, sent))

	select {
	case e := <-got:
		assert.Equal(t, sent.EventID, e.EventID)
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}
