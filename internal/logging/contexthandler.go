package logging

import (
	"context"
	"log/slog"
	"strconv"
)

// ContextProvider returns attributes evaluated at the moment a record is
// handled, such as the live number of remote players.
type ContextProvider func() []slog.Attr

// SessionContext reports the local player id and whatever counters the
// session exposes. The counters are read on every record, so they must be
// safe to call from any goroutine.
func SessionContext(playerID string, counters map[string]func() int64) ContextProvider {
	return func() []slog.Attr {
		attrs := make([]slog.Attr, 0, len(counters)+1)
		attrs = append(attrs, slog.String("player", playerID))
		for name, fn := range counters {
			attrs = append(attrs, slog.String(name, strconv.FormatInt(fn(), 10)))
		}
		return attrs
	}
}

// ContextHandler adds the provider's attributes to each record.
type ContextHandler struct {
	inner    slog.Handler
	provider ContextProvider
}

func NewContextHandler(inner slog.Handler, provider ContextProvider) *ContextHandler {
	return &ContextHandler{inner: inner, provider: provider}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.provider != nil {
		r.AddAttrs(h.provider()...)
	}
	return h.inner.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs), provider: h.provider}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &ContextHandler{inner: h.inner.WithGroup(name), provider: h.provider}
}
