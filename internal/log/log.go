package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/voenkogel/Nautilus/internal/model"
)

type slogKeyT struct{}

var slogKey slogKeyT

// ContextHandler is a slog.Handler which adds the attributes stored in the
// context via ContextAttrs to every record it handles.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(handler slog.Handler) ContextHandler {
	return ContextHandler{
		Handler: handler,
	}
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if a, ok := ctx.Value(slogKey).([]slog.Attr); ok {
		r.AddAttrs(a...)
	}

	return h.Handler.Handle(ctx, r)
}

// ContextAttrs stores attrs in the context, so every slog *Context call
// carries them. Attrs accumulate over nested calls.
func ContextAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	a, ok := ctx.Value(slogKey).([]slog.Attr)
	if !ok || a == nil {
		a = make([]slog.Attr, 0, len(attrs))
	}
	a = append(a, attrs...)
	return context.WithValue(ctx, slogKey, a)
}

// New builds a JSON logger writing to w, wrapped in a ContextHandler.
func New(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	base := slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: false,
		Level:     level,
	})
	return slog.New(NewContextHandler(base))
}

// Sink resolves the configured log destination. The returned close function
// is a no-op for the process-wide sinks.
func Sink(name string) (io.Writer, func() error, error) {
	nop := func() error { return nil }
	switch name {
	case "", model.LogStderr:
		return os.Stderr, nop, nil
	case model.LogStdout:
		return os.Stdout, nop, nil
	case model.LogDiscard:
		return io.Discard, nop, nil
	}

	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file %s: %w", name, err)
	}
	return f, f.Close, nil
}
