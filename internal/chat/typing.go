package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultTypingInterval refreshes the indicator before Discord clears it,
// which happens about ten seconds after the last trigger.
const DefaultTypingInterval = 8 * time.Second

// TypingIndicator keeps the "bot is typing" indicator visible in a channel
// while replies are being prepared.
type TypingIndicator struct {
	messenger Messenger
	logger    *slog.Logger
	active    map[string]*typingLoop
	interval  time.Duration
	mu        sync.Mutex
}

type typingLoop struct {
	cancel context.CancelFunc
	refs   int
}

// TypingOption configures a TypingIndicator.
type TypingOption func(*TypingIndicator)

// WithTypingInterval sets how often the indicator is refreshed.
func WithTypingInterval(interval time.Duration) TypingOption {
	return func(t *TypingIndicator) {
		if interval > 0 {
			t.interval = interval
		}
	}
}

// WithTypingLogger sets the logger.
func WithTypingLogger(logger *slog.Logger) TypingOption {
	return func(t *TypingIndicator) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTypingIndicator creates a typing indicator for messenger.
func NewTypingIndicator(messenger Messenger, opts ...TypingOption) *TypingIndicator {
	t := &TypingIndicator{
		messenger: messenger,
		logger:    slog.Default(),
		active:    make(map[string]*typingLoop),
		interval:  DefaultTypingInterval,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start shows the indicator in channelID until the returned function is
// called or ctx is done. The first indicator is sent before Start returns.
// Overlapping callers for the same channel share one refresh loop, which
// stops when the last of them calls stop.
func (t *TypingIndicator) Start(ctx context.Context, channelID string) (stop func()) {
	t.mu.Lock()
	if loop, ok := t.active[channelID]; ok {
		loop.refs++
		t.mu.Unlock()
		return t.releaser(channelID, loop)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	loop := &typingLoop{cancel: cancel, refs: 1}
	t.active[channelID] = loop
	t.mu.Unlock()

	t.send(loopCtx, channelID)
	go t.run(loopCtx, channelID)

	return t.releaser(channelID, loop)
}

// Active returns the number of channels currently showing the indicator.
func (t *TypingIndicator) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

func (t *TypingIndicator) releaser(channelID string, loop *typingLoop) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()

			loop.refs--
			if loop.refs > 0 {
				return
			}
			loop.cancel()
			if t.active[channelID] == loop {
				delete(t.active, channelID)
			}
		})
	}
}

func (t *TypingIndicator) run(ctx context.Context, channelID string) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.send(ctx, channelID)
		}
	}
}

// send is best effort; a missing indicator never fails a reply.
func (t *TypingIndicator) send(ctx context.Context, channelID string) {
	if err := t.messenger.SendTypingIndicator(ctx, channelID); err != nil && ctx.Err() == nil {
		t.logger.DebugContext(ctx, "typing indicator failed",
			slog.String("channel_id", channelID),
			slog.Any("error", err))
	}
}
