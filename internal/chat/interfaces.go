// Package chat connects the relay to the chat platform.
package chat

import (
	"context"
	"time"
)

// Messenger abstracts the chat platform.
type Messenger interface {
	// Send posts a plain text message to a channel.
	Send(ctx context.Context, channelID string, message string) error

	// SendTypingIndicator shows that a reply is being prepared in a channel.
	SendTypingIndicator(ctx context.Context, channelID string) error

	// Subscribe returns a channel of incoming messages.
	// The channel is closed when the context is canceled.
	Subscribe(ctx context.Context) (<-chan IncomingMessage, error)

	// SelfID returns the bot's own user ID, or "" before the connection is ready.
	SelfID() string
}

// IncomingMessage represents a message posted in a chat channel.
type IncomingMessage struct {
	Timestamp  time.Time
	ID         string
	AuthorID   string
	AuthorName string
	ChannelID  string
	Text       string
}
