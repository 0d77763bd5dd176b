package logging

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// SlogHandler routes log/slog records into zerolog. Used for libraries that
// only speak slog (the suture supervisor event hook).
type SlogHandler struct {
	logger zerolog.Logger
	attrs  []slog.Attr
	group  string
}

// NewSlogLogger returns a slog.Logger backed by the global zerolog logger
func NewSlogLogger() *slog.Logger {
	return slog.New(&SlogHandler{logger: Logger()})
}

func (h *SlogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.logger.GetLevel() <= toZerologLevel(level) && zerolog.GlobalLevel() <= toZerologLevel(level)
}

func (h *SlogHandler) Handle(_ context.Context, record slog.Record) error {
	event := h.logger.WithLevel(toZerologLevel(record.Level))
	for _, a := range h.attrs {
		event = event.Interface(h.key(a.Key), a.Value.Any())
	}
	record.Attrs(func(a slog.Attr) bool {
		event = event.Interface(h.key(a.Key), a.Value.Any())
		return true
	})
	event.Msg(record.Message)
	return nil
}

func (h *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &SlogHandler{logger: h.logger, attrs: merged, group: h.group}
}

func (h *SlogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &SlogHandler{logger: h.logger, attrs: h.attrs, group: h.key(name)}
}

func (h *SlogHandler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}

func toZerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level < slog.LevelInfo:
		return zerolog.DebugLevel
	case level < slog.LevelWarn:
		return zerolog.InfoLevel
	case level < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}
