package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Key constants for structured log fields.
const (
	KeyComponent  = "component"
	KeyPort       = "port"
	KeyProcess    = "process"
	KeyPID        = "pid"
	KeyDurationMs = "durationMs"
	KeyError      = "error"
)

// Verbosity bounds accepted by LevelForVerbosity.
const (
	MinVerbosity = 0
	MaxVerbosity = 4

	// DefaultVerbosity applies until InitVerbosity is called.
	DefaultVerbosity = MaxVerbosity
)

// LevelTrace sits below debug and is only enabled at MaxVerbosity.
const LevelTrace = slog.LevelDebug - 4

// handlerRef boxes the root handler so text and JSON handlers can be
// swapped through one atomic pointer type.
type handlerRef struct {
	h slog.Handler
}

// switchableHandler lets package-level loggers created before InitLevel
// pick up the configured handler once it runs.
type switchableHandler struct {
	current *atomic.Pointer[handlerRef]
	attrs   []slog.Attr
	groups  []string
}

func newSwitchableHandler(h slog.Handler) *switchableHandler {
	p := &atomic.Pointer[handlerRef]{}
	p.Store(&handlerRef{h: h})
	return &switchableHandler{current: p}
}

func (h *switchableHandler) set(handler slog.Handler) {
	h.current.Store(&handlerRef{h: handler})
}

func (h *switchableHandler) materialize() slog.Handler {
	handler := h.current.Load().h
	for _, group := range h.groups {
		handler = handler.WithGroup(group)
	}
	if len(h.attrs) > 0 {
		handler = handler.WithAttrs(h.attrs)
	}
	return handler
}

func (h *switchableHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.materialize().Enabled(ctx, level)
}

func (h *switchableHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.materialize().Handle(ctx, record)
}

func (h *switchableHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)

	return &switchableHandler{
		current: h.current,
		attrs:   merged,
		groups:  append([]string(nil), h.groups...),
	}
}

func (h *switchableHandler) WithGroup(name string) slog.Handler {
	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)

	return &switchableHandler{
		current: h.current,
		attrs:   append([]slog.Attr(nil), h.attrs...),
		groups:  groups,
	}
}

var (
	rootHandler = newSwitchableHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: LevelForVerbosity(DefaultVerbosity),
	}))
	defaultLogger = slog.New(rootHandler)
)

func init() {
	slog.SetDefault(defaultLogger)
}

// InitVerbosity initializes the global logger from a 0..4 verbosity value.
// Call once after config is loaded. format is "json" or "text" (default);
// a nil output means os.Stderr.
func InitVerbosity(format string, verbosity int, output io.Writer) {
	InitLevel(format, LevelForVerbosity(verbosity), output)
}

// InitLevel is InitVerbosity with an explicit slog level.
func InitLevel(format string, lvl slog.Level, output io.Writer) {
	if output == nil {
		output = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	rootHandler.set(handler)
	slog.SetDefault(defaultLogger)
}

// LevelForVerbosity maps the 0 (errors only) .. 4 (most verbose) scale onto
// slog levels. Values outside the range are clamped.
func LevelForVerbosity(verbosity int) slog.Level {
	switch {
	case verbosity <= 0:
		return slog.LevelError
	case verbosity == 1:
		return slog.LevelWarn
	case verbosity == 2:
		return slog.LevelInfo
	case verbosity == 3:
		return slog.LevelDebug
	default:
		return LevelTrace
	}
}

// L returns a logger tagged with the given component name.
func L(component string) *slog.Logger {
	return defaultLogger.With(slog.String(KeyComponent, component))
}

// WithPort returns a child logger carrying the port and process names.
func WithPort(logger *slog.Logger, port, process string) *slog.Logger {
	return logger.With(
		slog.String(KeyPort, port),
		slog.String(KeyProcess, process),
	)
}

// levelFilter drops records below min before they reach the wrapped handler.
type levelFilter struct {
	min   slog.Level
	inner slog.Handler
}

func (h levelFilter) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.min && h.inner.Enabled(ctx, level)
}

func (h levelFilter) Handle(ctx context.Context, record slog.Record) error {
	return h.inner.Handle(ctx, record)
}

func (h levelFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return levelFilter{min: h.min, inner: h.inner.WithAttrs(attrs)}
}

func (h levelFilter) WithGroup(name string) slog.Handler {
	return levelFilter{min: h.min, inner: h.inner.WithGroup(name)}
}

// WithVerbosity returns a logger that additionally suppresses records the
// given 0..4 verbosity would not show, whatever the global level is.
func WithVerbosity(logger *slog.Logger, verbosity int) *slog.Logger {
	return slog.New(levelFilter{min: LevelForVerbosity(verbosity), inner: logger.Handler()})
}
