package events

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event is a transcript lifecycle notification.
type Event struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Status         string          `json:"status,omitempty"`
	Attempts       int             `json:"attempts,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Metadata       json.RawMessage `json:"metadata"`
}

const (
	TypeTranscriptSaved   = "transcript.saved"
	TypeTranscriptSent    = "transcript.sent"
	TypeTranscriptFailed  = "transcript.failed"
	TypeTranscriptCleaned = "transcript.cleaned"
)

// SubjectPrefix namespaces every subject published by the service.
const SubjectPrefix = "panface."

// Subject returns the NATS subject for an event type.
func Subject(eventType string) string {
	return SubjectPrefix + eventType
}

// New builds an event with an id and timestamp filled in.
func New(eventType, conversationID string) Event {
	return Event{
		EventID:        uuid.New().String(),
		EventType:      eventType,
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC(),
		Metadata:       json.RawMessage(`{}`),
	}
}

// Normalize decodes raw and fills in missing fields. It never drops an
// event that parses.
func Normalize(raw []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, err
	}

	if e.EventID == "" {
		e.EventID = uuid.New().String()
	}

	if e.Timestamp.IsZero() {
		slog.Warn("event missing timestamp, using receive time", "event_id", e.EventID)
		e.Timestamp = time.Now().UTC()
	}

	if e.Metadata == nil {
		e.Metadata = json.RawMessage(`{}`)
	}

	return e, nil
}
