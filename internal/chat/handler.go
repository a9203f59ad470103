package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// MessageEnqueuer accepts messages for asynchronous processing. Enqueue must
// not block; a refused message is dropped by the handler.
type MessageEnqueuer interface {
	Enqueue(msg IncomingMessage) error
}

// MessageFilter decides whether a message is worth queueing at all. It runs
// on the receive path, so it must be cheap and must not block.
type MessageFilter interface {
	Accepts(msg IncomingMessage) bool
}

// MessageFilterFunc adapts an ordinary function to the MessageFilter interface.
type MessageFilterFunc func(msg IncomingMessage) bool

// Accepts calls f.
func (f MessageFilterFunc) Accepts(msg IncomingMessage) bool {
	return f(msg)
}

// Handler moves messages from the messenger subscription into the queue.
// Messages rejected by the filter never reach the queue, so they cannot
// use up rate limit tokens or queue capacity.
type Handler struct {
	messenger Messenger
	queue     MessageEnqueuer
	filter    MessageFilter
	logger    *slog.Logger
	wg        sync.WaitGroup
	running   atomic.Bool

	skipped atomic.Int64
	dropped atomic.Int64
}

// HandlerOption configures the handler.
type HandlerOption func(*Handler)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithFilter sets the filter applied before messages are queued.
// Without one every message is queued.
func WithFilter(filter MessageFilter) HandlerOption {
	return func(h *Handler) {
		h.filter = filter
	}
}

// NewHandler creates a new chat handler.
func NewHandler(messenger Messenger, queue MessageEnqueuer, opts ...HandlerOption) (*Handler, error) {
	if messenger == nil {
		return nil, fmt.Errorf("messenger is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("queue is required")
	}

	h := &Handler{
		messenger: messenger,
		queue:     queue,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}

	return h, nil
}

// Start subscribes to the messenger and forwards messages until ctx is canceled.
func (h *Handler) Start(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return fmt.Errorf("handler already running")
	}
	defer h.running.Store(false)

	messages, err := h.messenger.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to messages: %w", err)
	}

	h.logger.InfoContext(ctx, "chat handler started", slog.Bool("filtered", h.filter != nil))

	h.wg.Add(1)
	go h.receive(ctx, messages)

	<-ctx.Done()
	h.wg.Wait()

	h.logger.Info("chat handler stopped",
		slog.Int64("skipped", h.skipped.Load()),
		slog.Int64("dropped", h.dropped.Load()))
	return nil
}

func (h *Handler) receive(ctx context.Context, messages <-chan IncomingMessage) {
	defer h.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				h.logger.Debug("message channel closed")
				return
			}
			h.forward(msg)
		}
	}
}

// forward queues msg if the filter accepts it.
func (h *Handler) forward(msg IncomingMessage) {
	if h.filter != nil && !h.filter.Accepts(msg) {
		h.skipped.Add(1)
		return
	}

	if err := h.queue.Enqueue(msg); err != nil {
		h.dropped.Add(1)
		h.logger.Warn("dropping message",
			slog.String("message_id", msg.ID),
			slog.String("author_id", msg.AuthorID),
			slog.String("channel_id", msg.ChannelID),
			slog.Any("error", err))
		return
	}

	h.logger.Debug("queued message",
		slog.String("message_id", msg.ID),
		slog.String("author_id", msg.AuthorID))
}

// IsRunning reports whether Start is active.
func (h *Handler) IsRunning() bool {
	return h.running.Load()
}

// Skipped returns how many messages the filter rejected.
func (h *Handler) Skipped() int64 {
	return h.skipped.Load()
}

// Dropped returns how many accepted messages the queue refused.
func (h *Handler) Dropped() int64 {
	return h.dropped.Load()
}
