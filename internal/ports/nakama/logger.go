package nakama

import (
	"context"
	"log/slog"

	"github.com/heroiclabs/nakama-common/runtime"
)

// runtimeHandler forwards slog records to the Nakama runtime logger.
type runtimeHandler struct {
	logger runtime.Logger
	level  slog.Level
	attrs  []slog.Attr
	group  string
}

// NewSlogLogger returns a slog.Logger that writes through logger.
func NewSlogLogger(logger runtime.Logger, level slog.Level) *slog.Logger {
	return slog.New(&runtimeHandler{logger: logger, level: level})
}

func (h *runtimeHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *runtimeHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make(map[string]interface{}, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		fields[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		fields[h.key(a.Key)] = a.Value.Any()
		return true
	})

	l := h.logger
	if len(fields) > 0 {
		l = l.WithFields(fields)
	}
	switch {
	case r.Level >= slog.LevelError:
		l.Error("%s", r.Message)
	case r.Level >= slog.LevelWarn:
		l.Warn("%s", r.Message)
	case r.Level >= slog.LevelInfo:
		l.Info("%s", r.Message)
	default:
		l.Debug("%s", r.Message)
	}
	return nil
}

func (h *runtimeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		a.Key = h.key(a.Key)
		cp.attrs = append(cp.attrs, a)
	}
	return &cp
}

func (h *runtimeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cp := *h
	cp.group = h.key(name)
	return &cp
}

func (h *runtimeHandler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}
