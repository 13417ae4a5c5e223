package logger

import (
	"context"
	"log/slog"
)

type asyncEntry struct {
	handler slog.Handler
	record  slog.Record
}

// AsyncHandler buffers records on a channel and hands them to the next
// handler from a single background goroutine, so callers never block on I/O.
// Derived handlers (via WithAttrs/WithGroup) share the same channel and
// background goroutine but carry their own derived `next`, so each record is
// replayed against the handler that produced it.
type AsyncHandler struct {
	next    slog.Handler
	entries chan asyncEntry
	drop    bool
}

// NewAsyncHandler wraps next with a buffered async pipeline of the given
// size. When drop is true, a full buffer causes the record to be discarded
// instead of blocking the caller.
func NewAsyncHandler(next slog.Handler, bufSize int, drop bool) *AsyncHandler {
	h := &AsyncHandler{
		next:    next,
		entries: make(chan asyncEntry, bufSize),
		drop:    drop,
	}
	go h.run()
	return h
}

func (h *AsyncHandler) run() {
	for e := range h.entries {
		_ = e.handler.Handle(context.Background(), e.record)
	}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *AsyncHandler) Handle(_ context.Context, r slog.Record) error {
	e := asyncEntry{handler: h.next, record: r}
	if h.drop {
		select {
		case h.entries <- e:
		default:
			// buffer full, drop rather than block the producer
		}
		return nil
	}
	h.entries <- e
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{next: h.next.WithAttrs(attrs), entries: h.entries, drop: h.drop}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{next: h.next.WithGroup(name), entries: h.entries, drop: h.drop}
}
