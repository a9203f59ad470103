package queue

import "errors"

// Common queue errors.
var (
	// ErrQueueFull indicates the dispatcher has no room for another message.
	ErrQueueFull = errors.New("queue full")

	// ErrQueueStopped indicates the dispatcher has been stopped.
	ErrQueueStopped = errors.New("queue stopped")

	// ErrRateLimited indicates the author sent too many messages.
	ErrRateLimited = errors.New("rate limited")
)
