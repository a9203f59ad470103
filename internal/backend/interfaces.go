// Package backend talks to the Home Assistant conversation API.
package backend

import (
	"context"
)

// Backend abstracts the conversation service.
type Backend interface {
	// Send delivers a request and returns the backend's reply.
	// Failures are reported as *TransportError.
	Send(ctx context.Context, req Request) (*Reply, error)
}
