// Package queue dispatches incoming chat messages to worker goroutines.
package queue

import (
	"context"

	"github.com/Veraticus/jarvis/internal/chat"
)

// MessageHandler processes a single chat message.
type MessageHandler interface {
	Handle(ctx context.Context, msg chat.IncomingMessage) error
}

// MessageHandlerFunc adapts an ordinary function to the MessageHandler interface.
type MessageHandlerFunc func(ctx context.Context, msg chat.IncomingMessage) error

// Handle calls f.
func (f MessageHandlerFunc) Handle(ctx context.Context, msg chat.IncomingMessage) error {
	return f(ctx, msg)
}

// RateLimiter controls how often an author may be served.
type RateLimiter interface {
	// Allow returns true if the key can be served now.
	Allow(key string) bool
}
