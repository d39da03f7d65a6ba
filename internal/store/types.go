package store

import (
	"encoding/json"
	"time"
)

// Status is the delivery state of a persisted transcript.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Statuses lists the mutually exclusive status buckets.
var Statuses = []Status{StatusPending, StatusSent, StatusFailed}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed:
		return true
	}
	return false
}

// Metadata is stored under transcript:<id>:metadata.
type Metadata struct {
	ConversationID     string          `json:"conversationId"`
	FileName           string          `json:"fileName"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
	Status             Status          `json:"status"`
	ZapierAttempts     int             `json:"zapierAttempts"`
	LastZapierAttempt  *time.Time      `json:"lastZapierAttempt"`
	LastZapierResponse json.RawMessage `json:"lastZapierResponse,omitempty"`
}

// Content is stored under transcript:<id>:content.
type Content struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type Transcript struct {
	Metadata Metadata `json:"metadata"`
	Content  Content  `json:"content"`
}

// StatusUpdate describes the outcome of one delivery attempt.
type StatusUpdate struct {
	Status   Status
	Response any
	// CountAttempt increments ZapierAttempts. Retries count, the initial
	// forward does not.
	CountAttempt bool
}
