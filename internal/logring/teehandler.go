package logring

import (
	"context"
	"log/slog"
)

// TeeHandler wraps the server's base slog.Handler and also captures each
// record into a RingBuffer for the admin log viewer. Top-level "path"
// and "session" attrs — the keys the server's hosts and session managers
// log with — are promoted into the entry's Service/Session tags instead
// of the attrs map, so Tail can filter on them.
type TeeHandler struct {
	inner  slog.Handler
	ring   *RingBuffer
	attrs  []slog.Attr
	groups []string
}

// NewTeeHandler creates a handler that forwards to inner and captures to ring.
func NewTeeHandler(inner slog.Handler, ring *RingBuffer) *TeeHandler {
	return &TeeHandler{inner: inner, ring: ring}
}

// Enabled delegates to the inner handler.
func (h *TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle captures the record into the ring buffer, then forwards it to
// the inner handler. Capture happens regardless of the inner result.
func (h *TeeHandler) Handle(ctx context.Context, r slog.Record) error {
	entry := LogEntry{
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
	}

	attrs := make(map[string]any)
	prefix := groupPrefix(h.groups)
	absorb := func(a slog.Attr) {
		if prefix == "" {
			switch a.Key {
			case "path":
				if s, ok := a.Value.Any().(string); ok {
					entry.Service = s
					return
				}
			case "session":
				if s, ok := a.Value.Any().(string); ok {
					entry.Session = s
					return
				}
			}
		}
		attrs[prefix+a.Key] = a.Value.Any()
	}

	// Pre-set attrs from WithAttrs, then the record's own attrs.
	for _, a := range h.attrs {
		absorb(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		absorb(a)
		return true
	})

	if len(attrs) > 0 {
		entry.Attrs = attrs
	}
	h.ring.Add(entry)

	return h.inner.Handle(ctx, r)
}

// WithAttrs returns a new handler with the given attributes pre-set.
func (h *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TeeHandler{
		inner:  h.inner.WithAttrs(attrs),
		ring:   h.ring,
		attrs:  append(cloneAttrs(h.attrs), attrs...),
		groups: h.groups,
	}
}

// WithGroup returns a new handler with the given group name.
func (h *TeeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &TeeHandler{
		inner:  h.inner.WithGroup(name),
		ring:   h.ring,
		attrs:  cloneAttrs(h.attrs),
		groups: append(append([]string{}, h.groups...), name),
	}
}

func cloneAttrs(attrs []slog.Attr) []slog.Attr {
	if attrs == nil {
		return nil
	}
	c := make([]slog.Attr, len(attrs))
	copy(c, attrs)
	return c
}

func groupPrefix(groups []string) string {
	if len(groups) == 0 {
		return ""
	}
	var p string
	for _, g := range groups {
		p += g + "."
	}
	return p
}
