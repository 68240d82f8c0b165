package logging

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"
)

// LogCallback is called with every buffered entry.
type LogCallback func(entry LogEntry)

// BufferHandler records entries into the package ring buffer. Attributes
// bound with With are resolved once, when the logger is derived. The module
// and camera attributes fill the entry's own fields.
type BufferHandler struct {
	level  slog.Leveler
	module string
	camera *int
	bound  map[string]any
	prefix string
}

// NewBufferHandler creates a buffer handler filtering at level.
func NewBufferHandler(level slog.Leveler) *BufferHandler {
	return &BufferHandler{level: level, module: "main"}
}

// Enabled implements slog.Handler.
func (h *BufferHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *BufferHandler) Handle(_ context.Context, r slog.Record) error {
	entry := LogEntry{
		Timestamp: r.Time,
		Level:     levelName(r.Level),
		Module:    h.module,
		Camera:    h.camera,
		Message:   r.Message,
	}
	attrs := make(map[string]any, len(h.bound)+r.NumAttrs())
	maps.Copy(attrs, h.bound)
	r.Attrs(func(a slog.Attr) bool {
		collect(&entry, attrs, h.prefix, a)
		return true
	})
	if len(attrs) > 0 {
		entry.Attributes = attrs
	}

	mutex.RLock()
	buffer, callback := logBuffer, logCallback
	mutex.RUnlock()

	entry = buffer.Write(entry)
	if callback != nil {
		callback(entry)
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (h *BufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := *h
	next.bound = make(map[string]any, len(h.bound)+len(attrs))
	maps.Copy(next.bound, h.bound)

	scope := LogEntry{Module: h.module, Camera: h.camera}
	for _, a := range attrs {
		collect(&scope, next.bound, h.prefix, a)
	}
	next.module, next.camera = scope.Module, scope.Camera
	return &next
}

// WithGroup implements slog.Handler.
func (h *BufferHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

// collect stores a under prefix, with groups flattened into dotted keys.
// Ungrouped module and camera attributes go to the entry instead.
func collect(entry *LogEntry, attrs map[string]any, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	if prefix == "" {
		switch {
		case a.Key == "module":
			entry.Module = a.Value.String()
			return
		case a.Key == "camera" && a.Value.Kind() == slog.KindInt64:
			camera := int(a.Value.Int64())
			entry.Camera = &camera
			return
		}
	}

	if a.Value.Kind() == slog.KindGroup {
		inner := prefix
		if a.Key != "" {
			inner = prefix + a.Key + "."
		}
		for _, g := range a.Value.Group() {
			collect(entry, attrs, inner, g)
		}
		return
	}
	attrs[prefix+a.Key] = plainValue(a.Value)
}

// plainValue converts v into a value that encodes cleanly as JSON.
func plainValue(v slog.Value) any {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindAny:
		switch x := v.Any().(type) {
		case error:
			return x.Error()
		case fmt.Stringer:
			return x.String()
		}
	}
	return v.Any()
}

// levelName maps a slog level onto the four names the log API filters on.
func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	}
	return "debug"
}
