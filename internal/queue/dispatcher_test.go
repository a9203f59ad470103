package queue_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/jarvis/internal/chat"
	"github.com/Veraticus/jarvis/internal/queue"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// recordingHandler collects handled messages.
type recordingHandler struct {
	fn      func(msg chat.IncomingMessage) error
	handled []string
	mu      sync.Mutex
}

func (h *recordingHandler) Handle(_ context.Context, msg chat.IncomingMessage) error {
	h.mu.Lock()
	h.handled = append(h.handled, msg.ID)
	fn := h.fn
	h.mu.Unlock()

	if fn != nil {
		return fn(msg)
	}
	return nil
}

func (h *recordingHandler) ids() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.handled...)
}

// denyAuthor rate limits a single author.
type denyAuthor string

func (d denyAuthor) Allow(key string) bool {
	return key != string(d)
}

func startDispatcher(t *testing.T, d *queue.Dispatcher) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()
	t.Cleanup(cancel)

	return cancel, errCh
}

func TestNewDispatcher(t *testing.T) {
	_, err := queue.NewDispatcher(queue.Config{})
	require.EqualError(t, err, "handler is required")

	d, err := queue.NewDispatcher(queue.Config{Handler: &recordingHandler{}})
	require.NoError(t, err)

	stats := d.Stats()
	assert.Equal(t, queue.DefaultWorkers, stats.Workers)
	assert.Zero(t, stats.Pending)
}

func TestDispatcher_ProcessesMessages(t *testing.T) {
	h := &recordingHandler{}
	d, err := queue.NewDispatcher(queue.Config{Handler: h, Logger: quietLogger})
	require.NoError(t, err)

	cancel, errCh := startDispatcher(t, d)

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, d.Enqueue(chat.IncomingMessage{ID: id, AuthorID: "123"}))
	}

	require.Eventually(t, func() bool { return len(h.ids()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"1", "2", "3"}, h.ids(), "a single worker keeps arrival order")

	cancel()
	require.NoError(t, <-errCh)

	stats := d.Stats()
	assert.EqualValues(t, 3, stats.Enqueued)
	assert.EqualValues(t, 3, stats.Processed)
	assert.Zero(t, stats.Failed)
}

func TestDispatcher_ConcurrentWorkers(t *testing.T) {
	const workers = 3

	release := make(chan struct{})
	var running sync.WaitGroup
	running.Add(workers)

	h := &recordingHandler{fn: func(chat.IncomingMessage) error {
		running.Done()
		<-release
		return nil
	}}
	d, err := queue.NewDispatcher(queue.Config{Handler: h, Workers: workers, Logger: quietLogger})
	require.NoError(t, err)
	startDispatcher(t, d)

	for i := range workers {
		require.NoError(t, d.Enqueue(chat.IncomingMessage{ID: string(rune('a' + i))}))
	}

	done := make(chan struct{})
	go func() {
		running.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("messages were not handled concurrently")
	}
	close(release)
}

func TestDispatcher_HandlerErrorsAndPanics(t *testing.T) {
	var panics []any
	var mu sync.Mutex

	h := &recordingHandler{fn: func(msg chat.IncomingMessage) error {
		switch msg.ID {
		case "fail":
			return errors.New("send failed")
		case "panic":
			panic("boom")
		}
		return nil
	}}
	d, err := queue.NewDispatcher(queue.Config{
		Handler: h,
		Logger:  quietLogger,
		PanicHandler: panicRecorder(func(_ string, v any) {
			mu.Lock()
			panics = append(panics, v)
			mu.Unlock()
		}),
	})
	require.NoError(t, err)
	startDispatcher(t, d)

	for _, id := range []string{"fail", "panic", "ok"} {
		require.NoError(t, d.Enqueue(chat.IncomingMessage{ID: id}))
	}

	require.Eventually(t, func() bool { return d.Stats().Processed == 1 }, time.Second, 5*time.Millisecond)

	stats := d.Stats()
	assert.EqualValues(t, 2, stats.Failed)
	assert.EqualValues(t, 1, stats.Panics)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []any{"boom"}, panics)
}

func TestDispatcher_RateLimited(t *testing.T) {
	d, err := queue.NewDispatcher(queue.Config{
		Handler:     &recordingHandler{},
		RateLimiter: denyAuthor("spammer"),
		Logger:      quietLogger,
	})
	require.NoError(t, err)

	err = d.Enqueue(chat.IncomingMessage{ID: "1", AuthorID: "spammer"})
	require.ErrorIs(t, err, queue.ErrRateLimited)
	require.NoError(t, d.Enqueue(chat.IncomingMessage{ID: "2", AuthorID: "123"}))

	stats := d.Stats()
	assert.EqualValues(t, 1, stats.RateLimited)
	assert.EqualValues(t, 1, stats.Enqueued)
}

func TestDispatcher_QueueFull(t *testing.T) {
	d, err := queue.NewDispatcher(queue.Config{Handler: &recordingHandler{}, QueueSize: 2, Logger: quietLogger})
	require.NoError(t, err)

	require.NoError(t, d.Enqueue(chat.IncomingMessage{ID: "1"}))
	require.NoError(t, d.Enqueue(chat.IncomingMessage{ID: "2"}))
	require.ErrorIs(t, d.Enqueue(chat.IncomingMessage{ID: "3"}), queue.ErrQueueFull)

	stats := d.Stats()
	assert.Equal(t, 2, stats.Pending)
	assert.EqualValues(t, 1, stats.Dropped)
}

func TestDispatcher_StoppedRejectsMessages(t *testing.T) {
	d, err := queue.NewDispatcher(queue.Config{Handler: &recordingHandler{}, Logger: quietLogger})
	require.NoError(t, err)

	cancel, errCh := startDispatcher(t, d)
	cancel()
	require.NoError(t, <-errCh)

	require.ErrorIs(t, d.Enqueue(chat.IncomingMessage{ID: "late"}), queue.ErrQueueStopped)
}

func TestDispatcher_InFlightTaskSurvivesShutdown(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	ctxErr := make(chan error, 1)

	h := queue.MessageHandlerFunc(func(ctx context.Context, _ chat.IncomingMessage) error {
		close(started)
		<-release
		ctxErr <- ctx.Err()
		return nil
	})
	d, err := queue.NewDispatcher(queue.Config{Handler: h, Logger: quietLogger})
	require.NoError(t, err)

	cancel, errCh := startDispatcher(t, d)
	require.NoError(t, d.Enqueue(chat.IncomingMessage{ID: "1"}))
	<-started

	cancel()
	close(release)

	assert.NoError(t, <-ctxErr)
	assert.NoError(t, <-errCh)
	assert.EqualValues(t, 1, d.Stats().Processed)
}

// panicRecorder adapts a function to the PanicHandler interface.
type panicRecorder func(workerID string, v any)

func (p panicRecorder) HandlePanic(workerID string, v any, _ []byte) {
	p(workerID, v)
}
