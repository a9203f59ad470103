package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockMessenger implements the Messenger interface for testing.
type mockMessenger struct {
	messages       chan IncomingMessage
	subscribeError error
	mu             sync.Mutex
}

func newMockMessenger() *mockMessenger {
	return &mockMessenger{
		messages: make(chan IncomingMessage, 10),
	}
}

func (m *mockMessenger) Subscribe(_ context.Context) (<-chan IncomingMessage, error) {
	if m.subscribeError != nil {
		return nil, m.subscribeError
	}
	return m.messages, nil
}

func (m *mockMessenger) Send(_ context.Context, _ string, _ string) error {
	return nil
}

func (m *mockMessenger) SendTypingIndicator(_ context.Context, _ string) error {
	return nil
}

func (m *mockMessenger) SelfID() string {
	return "bot"
}

// mockQueue implements the MessageEnqueuer interface for testing.
type mockQueue struct {
	enqueueError error
	messages     []IncomingMessage
	attempts     int
	mu           sync.Mutex
}

func (q *mockQueue) Enqueue(msg IncomingMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.attempts++
	if q.enqueueError != nil {
		return q.enqueueError
	}
	q.messages = append(q.messages, msg)
	return nil
}

func (q *mockQueue) setError(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueueError = err
}

func (q *mockQueue) attemptCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.attempts
}

func (q *mockQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

func startHandler(t *testing.T, h *Handler) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.Start(ctx)
	}()
	require.Eventually(t, h.IsRunning, time.Second, 5*time.Millisecond)

	t.Cleanup(cancel)
	return cancel, errCh
}

func TestNewHandler(t *testing.T) {
	tests := []struct {
		messenger Messenger
		queue     MessageEnqueuer
		name      string
		errMsg    string
	}{
		{name: "valid dependencies", messenger: newMockMessenger(), queue: &mockQueue{}},
		{name: "nil messenger", queue: &mockQueue{}, errMsg: "messenger is required"},
		{name: "nil queue", messenger: newMockMessenger(), errMsg: "queue is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, err := NewHandler(tt.messenger, tt.queue)
			if tt.errMsg != "" {
				require.EqualError(t, err, tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, handler)
		})
	}
}

func TestHandlerWithLogger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handler, err := NewHandler(newMockMessenger(), &mockQueue{}, WithLogger(logger))
	require.NoError(t, err)
	assert.Same(t, logger, handler.logger)

	handler, err = NewHandler(newMockMessenger(), &mockQueue{}, WithLogger(nil))
	require.NoError(t, err)
	assert.NotNil(t, handler.logger)
}

func TestHandlerStart(t *testing.T) {
	t.Run("messages are enqueued", func(t *testing.T) {
		messenger := newMockMessenger()
		q := &mockQueue{}
		handler, err := NewHandler(messenger, q)
		require.NoError(t, err)

		cancel, errCh := startHandler(t, handler)

		messenger.messages <- IncomingMessage{ID: "1", AuthorID: "123", Text: "!hello"}
		messenger.messages <- IncomingMessage{ID: "2", AuthorID: "456", Text: "!world"}

		assert.Eventually(t, func() bool { return q.count() == 2 }, time.Second, 5*time.Millisecond)

		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("handler did not stop within timeout")
		}
		assert.False(t, handler.IsRunning())
	})

	t.Run("subscribe error", func(t *testing.T) {
		messenger := newMockMessenger()
		messenger.subscribeError = errors.New("subscribe failed")

		handler, err := NewHandler(messenger, &mockQueue{})
		require.NoError(t, err)

		err = handler.Start(context.Background())
		require.EqualError(t, err, "failed to subscribe to messages: subscribe failed")
		assert.False(t, handler.IsRunning())
	})

	t.Run("already running", func(t *testing.T) {
		handler, err := NewHandler(newMockMessenger(), &mockQueue{})
		require.NoError(t, err)

		startHandler(t, handler)

		err = handler.Start(context.Background())
		require.EqualError(t, err, "handler already running")
	})
}

func TestHandlerEnqueueErrorDoesNotStopProcessing(t *testing.T) {
	messenger := newMockMessenger()
	q := &mockQueue{}
	handler, err := NewHandler(messenger, q)
	require.NoError(t, err)

	startHandler(t, handler)

	messenger.messages <- IncomingMessage{ID: "1", Text: "!one"}
	require.Eventually(t, func() bool { return q.count() == 1 }, time.Second, 5*time.Millisecond)

	q.setError(errors.New("queue full"))
	messenger.messages <- IncomingMessage{ID: "2", Text: "!two"}
	require.Eventually(t, func() bool { return q.attemptCount() == 2 }, time.Second, 5*time.Millisecond)
	q.setError(nil)

	messenger.messages <- IncomingMessage{ID: "3", Text: "!three"}
	assert.Eventually(t, func() bool { return q.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), handler.Dropped())
}

func TestHandlerFilterRunsBeforeQueue(t *testing.T) {
	messenger := newMockMessenger()
	q := &mockQueue{}
	commands := MessageFilterFunc(func(msg IncomingMessage) bool {
		return strings.HasPrefix(msg.Text, "!")
	})

	handler, err := NewHandler(messenger, q, WithFilter(commands))
	require.NoError(t, err)

	startHandler(t, handler)

	messenger.messages <- IncomingMessage{ID: "1", AuthorID: "7", Text: "just chatting"}
	messenger.messages <- IncomingMessage{ID: "2", AuthorID: "7", Text: "still chatting"}
	messenger.messages <- IncomingMessage{ID: "3", AuthorID: "7", Text: "!turn on lights"}

	require.Eventually(t, func() bool { return q.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, q.attemptCount(), "filtered messages never reach the queue")
	assert.Equal(t, int64(2), handler.Skipped())
	assert.Zero(t, handler.Dropped())

	q.mu.Lock()
	assert.Equal(t, "3", q.messages[0].ID)
	q.mu.Unlock()
}

func TestHandlerChannelClosed(t *testing.T) {
	messenger := newMockMessenger()
	handler, err := NewHandler(messenger, &mockQueue{})
	require.NoError(t, err)

	cancel, errCh := startHandler(t, handler)

	close(messenger.messages)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("handler did not stop after context canceled")
	}
}
