// Package mocks provides mock implementations for testing.
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/Veraticus/jarvis/internal/backend"
	"github.com/Veraticus/jarvis/internal/chat"
	"github.com/Veraticus/jarvis/internal/conversation"
)

// incomingChannelSize is the buffer size for incoming message channels.
const incomingChannelSize = 100

// Compile-time checks to ensure mocks implement their interfaces.
var (
	_ backend.Backend    = (*MockBackend)(nil)
	_ chat.Messenger     = (*MockMessenger)(nil)
	_ conversation.Clock = (*FakeClock)(nil)
)

// MockBackend is a test implementation of the Backend interface.
type MockBackend struct {
	err   error
	reply string
	calls []backend.Request
	mu    sync.Mutex

	// SendFunc allows tests to provide custom send behavior.
	SendFunc func(ctx context.Context, req backend.Request) (*backend.Reply, error)
}

// NewMockBackend creates a backend that answers every request with reply.
func NewMockBackend(reply string) *MockBackend {
	return &MockBackend{reply: reply}
}

// Send implements the Backend interface.
func (m *MockBackend) Send(ctx context.Context, req backend.Request) (*backend.Reply, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	fn, err, reply := m.SendFunc, m.err, m.reply
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return &backend.Reply{Text: reply}, nil
}

// SetError makes subsequent calls fail with err.
func (m *MockBackend) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetReply changes the reply text for subsequent calls.
func (m *MockBackend) SetReply(reply string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reply = reply
}

// Calls returns a copy of all requests received.
func (m *MockBackend) Calls() []backend.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]backend.Request(nil), m.calls...)
}

// SentMessage records a message delivered through MockMessenger.
type SentMessage struct {
	ChannelID string
	Text      string
}

// MockMessenger is a test implementation of the Messenger interface.
type MockMessenger struct {
	sendErr  error
	incoming chan chat.IncomingMessage
	selfID   string
	sent     []SentMessage
	typing   []string
	mu       sync.Mutex
}

// NewMockMessenger creates a messenger whose bot user ID is selfID.
func NewMockMessenger(selfID string) *MockMessenger {
	return &MockMessenger{
		selfID:   selfID,
		incoming: make(chan chat.IncomingMessage, incomingChannelSize),
	}
}

// Send implements the Messenger interface.
func (m *MockMessenger) Send(_ context.Context, channelID string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, SentMessage{ChannelID: channelID, Text: message})
	return nil
}

// SendTypingIndicator implements the Messenger interface.
func (m *MockMessenger) SendTypingIndicator(_ context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typing = append(m.typing, channelID)
	return nil
}

// Subscribe implements the Messenger interface.
func (m *MockMessenger) Subscribe(_ context.Context) (<-chan chat.IncomingMessage, error) {
	return m.incoming, nil
}

// SelfID implements the Messenger interface.
func (m *MockMessenger) SelfID() string {
	return m.selfID
}

// Inject simulates a message arriving from the chat platform.
func (m *MockMessenger) Inject(msg chat.IncomingMessage) {
	m.incoming <- msg
}

// SetSendError makes subsequent sends fail with err.
func (m *MockMessenger) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// Sent returns a copy of all delivered messages.
func (m *MockMessenger) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

// Typing returns the channels a typing indicator was sent to.
func (m *MockMessenger) Typing() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.typing...)
}

// FakeClock is a manually advanced clock.
type FakeClock struct {
	now time.Time
	mu  sync.Mutex
}

// NewFakeClock creates a clock stopped at now.
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

// Now implements the Clock interface.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
