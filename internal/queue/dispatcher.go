package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Veraticus/jarvis/internal/chat"
)

const (
	// DefaultWorkers is the number of messages handled at once by default.
	DefaultWorkers = 1

	// DefaultQueueSize is how many messages may wait for a worker.
	DefaultQueueSize = 100

	// staleLimiterAge is how long an idle author keeps a rate limit bucket.
	staleLimiterAge = time.Hour
)

// staleCleaner is implemented by rate limiters that accumulate per-key state.
type staleCleaner interface {
	CleanupStale(maxAge time.Duration) int
}

// Config holds configuration for a Dispatcher.
type Config struct {
	Handler      MessageHandler
	RateLimiter  RateLimiter  // optional
	PanicHandler PanicHandler // optional, logs by default
	Logger       *slog.Logger
	Workers      int
	QueueSize    int
}

// Stats is a point-in-time view of dispatcher activity.
type Stats struct {
	Enqueued    int64 `json:"enqueued"`
	Processed   int64 `json:"processed"`
	Failed      int64 `json:"failed"`
	Panics      int64 `json:"panics"`
	RateLimited int64 `json:"rate_limited"`
	Dropped     int64 `json:"dropped"`
	Pending     int   `json:"pending"`
	Workers     int   `json:"workers"`
}

// Dispatcher runs each incoming message as its own task on a fixed set of
// worker goroutines. Enqueue never blocks.
type Dispatcher struct {
	handler      MessageHandler
	limiter      RateLimiter
	panicHandler PanicHandler
	logger       *slog.Logger
	tasks        chan chat.IncomingMessage
	workers      int
	stopped      bool
	mu           sync.RWMutex

	enqueued    atomic.Int64
	processed   atomic.Int64
	failed      atomic.Int64
	panics      atomic.Int64
	rateLimited atomic.Int64
	dropped     atomic.Int64
}

// NewDispatcher creates a dispatcher. Call Start to begin processing.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PanicHandler == nil {
		cfg.PanicHandler = NewDefaultPanicHandler(cfg.Logger)
	}

	d := &Dispatcher{
		handler: cfg.Handler,
		limiter: cfg.RateLimiter,
		logger:  cfg.Logger,
		tasks:   make(chan chat.IncomingMessage, cfg.QueueSize),
		workers: cfg.Workers,
	}
	d.panicHandler = NewMetricsPanicHandler(cfg.PanicHandler, func(string, any) {
		d.panics.Add(1)
	})

	return d, nil
}

// Enqueue submits a message for processing.
func (d *Dispatcher) Enqueue(msg chat.IncomingMessage) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.dropped.Add(1)
		return ErrQueueStopped
	}

	if d.limiter != nil && !d.limiter.Allow(msg.AuthorID) {
		d.rateLimited.Add(1)
		return fmt.Errorf("author %s: %w", msg.AuthorID, ErrRateLimited)
	}

	select {
	case d.tasks <- msg:
		d.enqueued.Add(1)
		return nil
	default:
		d.dropped.Add(1)
		return ErrQueueFull
	}
}

// Start runs the workers until ctx is canceled. Messages already handed to a
// worker run to completion; messages still waiting are dropped.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.InfoContext(ctx, "dispatcher starting", slog.Int("workers", d.workers))

	// Tasks outlive shutdown so a reply in flight is still delivered.
	taskCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i := range d.workers {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.runWorker(ctx, taskCtx, fmt.Sprintf("worker-%d", id))
		}(i)
	}

	if cleaner, ok := d.limiter.(staleCleaner); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.cleanupLimiter(ctx, cleaner)
		}()
	}

	<-ctx.Done()

	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	wg.Wait()

	if pending := len(d.tasks); pending > 0 {
		d.dropped.Add(int64(pending))
		d.logger.Warn("dispatcher stopped with pending messages", slog.Int("pending", pending))
	}
	d.logger.Info("dispatcher stopped")
	return nil
}

func (d *Dispatcher) runWorker(ctx, taskCtx context.Context, workerID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-d.tasks:
			d.process(taskCtx, workerID, msg)
		}
	}
}

// process handles one message, recovering from panics.
func (d *Dispatcher) process(ctx context.Context, workerID string, msg chat.IncomingMessage) {
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			handleRecoveredPanic(workerID, r, d.panicHandler)
		}
	}()

	if err := d.handler.Handle(ctx, msg); err != nil {
		d.failed.Add(1)
		d.logger.ErrorContext(ctx, "failed to handle message",
			slog.String("worker_id", workerID),
			slog.String("message_id", msg.ID),
			slog.Any("error", err))
		return
	}

	d.processed.Add(1)
}

func (d *Dispatcher) cleanupLimiter(ctx context.Context, cleaner staleCleaner) {
	ticker := time.NewTicker(staleLimiterAge / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := cleaner.CleanupStale(staleLimiterAge); removed > 0 {
				d.logger.DebugContext(ctx, "removed idle rate limit buckets", slog.Int("removed", removed))
			}
		}
	}
}

// Stats returns current dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Enqueued:    d.enqueued.Load(),
		Processed:   d.processed.Load(),
		Failed:      d.failed.Load(),
		Panics:      d.panics.Load(),
		RateLimited: d.rateLimited.Load(),
		Dropped:     d.dropped.Load(),
		Pending:     len(d.tasks),
		Workers:     d.workers,
	}
}
