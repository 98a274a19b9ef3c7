package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// TerminalHandler renders records as aligned single-line text for terminals.
type TerminalHandler struct {
	mu    sync.Mutex
	wr    io.Writer
	lvl   slog.Level
	color bool
	attrs []slog.Attr
}

// NewTerminalHandlerWithLevel returns a handler that only emits records at or
// above the given verbosity.
func NewTerminalHandlerWithLevel(wr io.Writer, lvl slog.Level, color bool) *TerminalHandler {
	return &TerminalHandler{
		wr:    wr,
		lvl:   lvl,
		color: color,
	}
}

func (h *TerminalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.lvl
}

func (h *TerminalHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var sb strings.Builder
	lvl := LevelAlignedString(r.Level)
	if h.color {
		sb.WriteString(colorize(r.Level, lvl))
	} else {
		sb.WriteString(lvl)
	}
	sb.WriteByte('[')
	sb.WriteString(r.Time.Format("01-02|15:04:05.000"))
	sb.WriteString("] ")
	sb.WriteString(r.Message)

	writeAttr := func(a slog.Attr) bool {
		sb.WriteByte(' ')
		sb.WriteString(a.Key)
		sb.WriteByte('=')
		sb.WriteString(fmt.Sprint(a.Value.Any()))
		return true
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	r.Attrs(writeAttr)
	sb.WriteByte('\n')

	_, err := io.WriteString(h.wr, sb.String())
	return err
}

func (h *TerminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TerminalHandler{
		wr:    h.wr,
		lvl:   h.lvl,
		color: h.color,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *TerminalHandler) WithGroup(name string) slog.Handler {
	return h
}

func colorize(level slog.Level, s string) string {
	switch {
	case level >= LevelCrit:
		return "\x1b[35m" + s + "\x1b[0m"
	case level >= LevelError:
		return "\x1b[31m" + s + "\x1b[0m"
	case level >= LevelWarn:
		return "\x1b[33m" + s + "\x1b[0m"
	case level >= LevelInfo:
		return "\x1b[32m" + s + "\x1b[0m"
	default:
		return "\x1b[36m" + s + "\x1b[0m"
	}
}

type discardHandler struct{}

// DiscardHandler returns a no-op handler
func DiscardHandler() slog.Handler {
	return &discardHandler{}
}

func (h *discardHandler) Handle(_ context.Context, r slog.Record) error {
	return nil
}

func (h *discardHandler) Enabled(_ context.Context, level slog.Level) bool {
	return false
}

func (h *discardHandler) WithGroup(name string) slog.Handler {
	return h
}

func (h *discardHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}
