package logging

import (
	"context"
	"log/slog"

	"github.com/rendis/catalyst/internal/runctx"
)

type ctxKey int

const pluginKey ctxKey = iota

// WithPlugin returns a context tagged with the plugin currently being
// initialized or resolved.
func WithPlugin(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, pluginKey, name)
}

// PluginName extracts the plugin name from the context, or "" if absent.
func PluginName(ctx context.Context) string {
	v, _ := ctx.Value(pluginKey).(string)
	return v
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if s, ok := runctx.SessionFromContext(ctx); ok && s.ID != "" {
		logger = logger.With(slog.String("session_id", s.ID))
	}
	if r, ok := runctx.RunFromContext(ctx); ok {
		logger = logger.With(slog.String("run_id", r.ID), slog.String("action_key", r.Key))
	}
	if p := PluginName(ctx); p != "" {
		logger = logger.With(slog.String("plugin", p))
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if s, ok := runctx.SessionFromContext(ctx); ok && s.ID != "" {
		r.AddAttrs(slog.String("session_id", s.ID))
	}
	if run, ok := runctx.RunFromContext(ctx); ok {
		r.AddAttrs(slog.String("run_id", run.ID), slog.String("action_key", run.Key))
	}
	if p := PluginName(ctx); p != "" {
		r.AddAttrs(slog.String("plugin", p))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
