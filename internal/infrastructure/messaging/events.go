// Package messaging announces committed store calls and clears to other
// systems. Publishing is best-effort and never affects the store.
package messaging

import (
	"context"
	"time"
)

// Event types
const (
	EventGraphStored  = "GraphStored"
	EventGraphCleared = "GraphCleared"
)

// SourceGraphSync is the event source name.
const SourceGraphSync = "graphsync"

// Event describes one committed change to the store.
type Event struct {
	Type       string    `json:"type"`
	CallID     string    `json:"callId,omitempty"`
	Backend    string    `json:"backend"`
	Generation uint64    `json:"generation"`
	Nodes      int       `json:"nodes,omitempty"`
	Edges      int       `json:"edges,omitempty"`
	Roots      []string  `json:"roots,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

// Publish implements Publisher.
func (NoopPublisher) Publish(context.Context, ...Event) error {
	return nil
}
