// Package events fans inbox events out to a message broker as a
// fire-and-forget side channel. Publish failures never affect the request
// that produced the event.
package events

import (
	"context"
	"time"
)

// Event types carried on the exchange routing key and envelope meta.
const (
	TypeMessageReceived      = "inbox.message.received.v1"
	TypeMessageStatusChanged = "inbox.message.status.v1"
	TypeConversationAssigned = "conversation.assigned.v1"
)

type Meta struct {
	// Trace / request correlation id.
	CorrelationID string `json:"correlation_id,omitempty"`
	// Unique event id.
	ID string `json:"id"`
	// Emitting service.
	Producer string `json:"producer,omitempty"`
	// Timestamp when the event was emitted.
	Time time.Time `json:"time"`
	// Event name and version, e.g. inbox.message.received.v1.
	Type string `json:"type"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

type Publisher interface {
	Publish(ctx context.Context, key string, msg Envelope) error
	Close() error
}
