// Package logger builds the *slog.Logger every core package accepts,
// fanning out to stdout and an optional per-run log file through
// github.com/samber/slog-multi, mirroring the teacher's split between a
// quiet/debug/format option set and an independent log-file destination.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// Format selects the stdout handler's rendering.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Options configures Build. A zero Options builds a text logger at Info
// level writing only to stdout.
type Options struct {
	Quiet    bool      // suppress stdout output entirely
	Debug    bool      // Debug level instead of Info
	Format   Format    // FormatText (default) or FormatJSON
	FilePath string    // "" disables the file sink
	Stdout   io.Writer // os.Stdout if nil
}

// Build constructs the fan-out logger described by opts. The returned
// closer flushes and closes the file sink, if one was opened; callers
// should defer it from server init/teardown (spec §9 "global state").
func Build(opts Options) (*slog.Logger, func() error, error) {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	var handlers []slog.Handler
	closer := func() error { return nil }

	if !opts.Quiet {
		out := opts.Stdout
		if out == nil {
			out = os.Stdout
		}
		handlers = append(handlers, newHandler(opts.Format, out, level))
	}

	if opts.FilePath != "" {
		f, err := openFile(opts.FilePath)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, newHandler(opts.Format, f, level))
		closer = f.Close
	}

	switch len(handlers) {
	case 0:
		return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: level})), closer, nil
	case 1:
		return slog.New(handlers[0]), closer, nil
	default:
		return slog.New(slogmulti.Fanout(handlers...)), closer, nil
	}
}

func newHandler(format Format, w io.Writer, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func openFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

type ctxKey struct{}

// WithContext attaches l to ctx for packages that thread a logger through
// context.Context rather than an explicit parameter (e.g. process-scoped
// call chains reached via the runtime proxy).
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger attached by WithContext, or slog.Default()
// if none was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
