package queue

import (
	"context"
	"log/slog"
	"runtime/debug"
)

// PanicHandler defines how to handle panics raised while processing a message.
type PanicHandler interface {
	// HandlePanic is called with the recovered value and stack trace.
	HandlePanic(workerID string, panicValue any, stackTrace []byte)
}

// DefaultPanicHandler logs panics with stack traces.
type DefaultPanicHandler struct {
	logger *slog.Logger
}

// NewDefaultPanicHandler returns the default panic handler.
func NewDefaultPanicHandler(logger *slog.Logger) *DefaultPanicHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultPanicHandler{logger: logger}
}

// HandlePanic logs the panic with its stack trace.
func (h *DefaultPanicHandler) HandlePanic(workerID string, panicValue any, stackTrace []byte) {
	h.logger.ErrorContext(context.Background(), "PANIC in worker",
		slog.String("worker_id", workerID),
		slog.Any("panic", panicValue),
		slog.String("stack_trace", string(stackTrace)))
}

// MetricsPanicHandler wraps another handler to count panics.
type MetricsPanicHandler struct {
	wrapped PanicHandler
	onPanic func(workerID string, panicValue any)
}

// NewMetricsPanicHandler wraps another handler to add metrics tracking.
func NewMetricsPanicHandler(wrapped PanicHandler, onPanic func(string, any)) *MetricsPanicHandler {
	return &MetricsPanicHandler{
		wrapped: wrapped,
		onPanic: onPanic,
	}
}

// HandlePanic calls the metrics callback and delegates to the wrapped handler.
func (h *MetricsPanicHandler) HandlePanic(workerID string, panicValue any, stackTrace []byte) {
	if h.onPanic != nil {
		h.onPanic(workerID, panicValue)
	}
	if h.wrapped != nil {
		h.wrapped.HandlePanic(workerID, panicValue, stackTrace)
	}
}

// handleRecoveredPanic passes a recovered panic to handler.
func handleRecoveredPanic(workerID string, panicValue any, handler PanicHandler) {
	if handler == nil {
		handler = NewDefaultPanicHandler(nil)
	}
	handler.HandlePanic(workerID, panicValue, debug.Stack())
}
