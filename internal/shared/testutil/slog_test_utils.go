package testutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// LogRecord is one captured log call with its attributes flattened
type LogRecord struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// BufferedSlogHandler captures every record at every level. Loggers derived
// with With share the capture.
type BufferedSlogHandler struct {
	capture *capture
	attrs   []slog.Attr
}

type capture struct {
	mu      sync.Mutex
	records []LogRecord
	t       *testing.T
}

// NewTestLogger returns a logger and the handler capturing its output. Each
// record is also echoed through t.Logf so failing tests show their logs.
func NewTestLogger(t *testing.T) (*slog.Logger, *BufferedSlogHandler) {
	h := &BufferedSlogHandler{capture: &capture{t: t}}
	return slog.New(h), h
}

func (h *BufferedSlogHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *BufferedSlogHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	c := h.capture
	c.mu.Lock()
	c.records = append(c.records, LogRecord{Level: r.Level, Message: r.Message, Attrs: attrs})
	c.mu.Unlock()

	c.t.Logf("[%s] %s %v", r.Level, r.Message, attrs)
	return nil
}

func (h *BufferedSlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &BufferedSlogHandler{capture: h.capture, attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...)}
}

// WithGroup flattens groups; tests match on attribute keys only.
func (h *BufferedSlogHandler) WithGroup(string) slog.Handler { return h }

// GetRecords returns a copy of the captured records
func (h *BufferedSlogHandler) GetRecords() []LogRecord {
	h.capture.mu.Lock()
	defer h.capture.mu.Unlock()
	return append([]LogRecord(nil), h.capture.records...)
}

// Count returns the number of captured records
func (h *BufferedSlogHandler) Count() int {
	return len(h.GetRecords())
}

func (h *BufferedSlogHandler) find(match func(LogRecord) bool) bool {
	for _, r := range h.GetRecords() {
		if match(r) {
			return true
		}
	}
	return false
}

// ContainsMessage reports whether any record message contains message
func (h *BufferedSlogHandler) ContainsMessage(message string) bool {
	return h.find(func(r LogRecord) bool { return strings.Contains(r.Message, message) })
}

// HasLevel reports whether any record was logged at level
func (h *BufferedSlogHandler) HasLevel(level slog.Level) bool {
	return h.find(func(r LogRecord) bool { return r.Level == level })
}

// AssertLogContains fails t unless a record at level contains message
func AssertLogContains(t *testing.T, h *BufferedSlogHandler, level slog.Level, message string) {
	t.Helper()
	if !h.find(func(r LogRecord) bool { return r.Level == level && strings.Contains(r.Message, message) }) {
		t.Errorf("no %s log containing %q", level, message)
	}
}

// AssertLogAttr fails t unless some record carries key=expected
func AssertLogAttr(t *testing.T, h *BufferedSlogHandler, key string, expected any) {
	t.Helper()
	if !h.find(func(r LogRecord) bool { v, ok := r.Attrs[key]; return ok && v == expected }) {
		t.Errorf("no log with attribute %s=%v", key, expected)
	}
}
