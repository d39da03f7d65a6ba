package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const streamName = "PANFACE_TRANSCRIPTS"

// Publisher emits lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// HandlerFunc receives decoded events from a subscription.
type HandlerFunc func(e Event)

// Bus publishes and consumes events over NATS JetStream.
type Bus struct {
	nc   *nats.Conn
	js   jetstream.JetStream
	subs []jetstream.ConsumeContext
}

func Connect(ctx context.Context, natsURL string) (*Bus, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("panface"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	b := &Bus{nc: nc, js: js}
	if err := b.ensureStream(ctx); err != nil {
		// Core NATS publish still works without the stream.
		slog.Warn("transcript stream not available", "error", err)
	}
	return b, nil
}

func (b *Bus) ensureStream(ctx context.Context) error {
	if _, err := b.js.Stream(ctx, streamName); err == nil {
		return nil
	}

	_, err := b.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{SubjectPrefix + "transcript.>"},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   jetstream.FileStorage,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", streamName, err)
	}

	slog.Info("created stream", "name", streamName)
	return nil
}

func (b *Bus) Publish(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.nc.Publish(Subject(e.EventType), data); err != nil {
		return fmt.Errorf("publish %s: %w", e.EventType, err)
	}
	return nil
}

// Subscribe attaches an ephemeral consumer that delivers new events to fn.
func (b *Bus) Subscribe(ctx context.Context, fn HandlerFunc) error {
	consumer, err := b.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		e, err := Normalize(msg.Data())
		if err != nil {
			slog.Warn("malformed event, skipping", "subject", msg.Subject(), "error", err)
			_ = msg.Term()
			return
		}
		fn(e)
		_ = msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	b.subs = append(b.subs, cc)
	return nil
}

func (b *Bus) Close() {
	for _, s := range b.subs {
		s.Stop()
	}
	_ = b.nc.Drain()
}

// Emit publishes e and logs instead of failing.
func Emit(ctx context.Context, p Publisher, e Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		slog.Warn("event publish failed", "event_type", e.EventType, "error", err)
	}
}
