// Package publisher delivers per-target results to downstream collaborators.
package publisher

import "context"

// Publisher sends a payload to a topic and returns the broker's message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Attributed payloads carry broker message attributes.
type Attributed interface {
	Attributes() map[string]string
}
