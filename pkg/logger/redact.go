package logger

import (
	"context"
	"log/slog"
	"regexp"
)

var (
	emailPattern    = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	cardPattern     = regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)
	redactedValue   = "[REDACTED]"
	sensitiveKeySet = map[string]struct{}{
		"email": {}, "cc": {}, "card": {}, "auth_signature": {}, "password": {}, "token": {},
	}
)

// RedactHandler scrubs attribute values that look like PII (emails, card
// numbers) or whose key is on a known-sensitive list, before handing the
// record to next.
type RedactHandler struct {
	next slog.Handler
}

// NewRedactHandler wraps next with PII redaction.
func NewRedactHandler(next slog.Handler) *RedactHandler {
	return &RedactHandler{next: next}
}

func (h *RedactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *RedactHandler) Handle(ctx context.Context, r slog.Record) error {
	nr := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		nr.AddAttrs(redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, nr)
}

func redactAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString {
		return a
	}
	if _, sensitive := sensitiveKeySet[a.Key]; sensitive {
		return slog.String(a.Key, redactedValue)
	}
	s := a.Value.String()
	if emailPattern.MatchString(s) || cardPattern.MatchString(s) {
		return slog.String(a.Key, redactedValue)
	}
	return a
}

func (h *RedactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &RedactHandler{next: h.next.WithAttrs(redacted)}
}

func (h *RedactHandler) WithGroup(name string) slog.Handler {
	return &RedactHandler{next: h.next.WithGroup(name)}
}
