package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// RedactPredicate selects attributes whose values must not reach the sink.
type RedactPredicate func(groups []string, a slog.Attr) bool

// ImageData matches the payload of image parts (key "data" inside an "image" group).
func ImageData(groups []string, a slog.Attr) bool {
	return a.Key == "data" && len(groups) > 0 && groups[len(groups)-1] == "image"
}

// RedactAttrs returns a ReplaceAttr hook that swaps matching values for a size marker.
func RedactAttrs(pred RedactPredicate) func(groups []string, a slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if pred == nil || !pred(groups, a) {
			return a
		}
		n := 0
		switch v := a.Value.Any().(type) {
		case []byte:
			n = len(v)
		case string:
			n = len(v)
		}
		return slog.String(a.Key, fmt.Sprintf("[redacted %d bytes]", n))
	}
}

type LoggerOptions struct {
	Level  slog.Level
	Format string // json or console
	Dir    string // when set, a timestamped JSON log file at debug level is written here
	Output io.Writer
	Redact RedactPredicate
}

// SetupLogger builds the process logger, installs it as the slog default and
// returns a close function for the optional file sink.
func SetupLogger(opts LoggerOptions) (*slog.Logger, func() error, error) {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.Redact == nil {
		opts.Redact = ImageData
	}
	redact := RedactAttrs(opts.Redact)

	var console slog.Handler
	switch opts.Format {
	case FormatConsole:
		console = tint.NewHandler(out, &tint.Options{
			Level:       opts.Level,
			TimeFormat:  time.TimeOnly,
			ReplaceAttr: redact,
		})
	case FormatJSON, "":
		console = slog.NewJSONHandler(out, &slog.HandlerOptions{
			Level:       opts.Level,
			ReplaceAttr: chain(timestampAttr, redact),
		})
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	closeFn := func() error { return nil }
	handler := console
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		name := filepath.Join(opts.Dir, time.Now().Format("2006-01-02_15-04-05")+".log")
		f, err := os.Create(name)
		if err != nil {
			return nil, nil, fmt.Errorf("create log file: %w", err)
		}
		file := slog.NewJSONHandler(f, &slog.HandlerOptions{
			Level:       slog.LevelDebug,
			ReplaceAttr: chain(timestampAttr, redact),
		})
		handler = teeHandler{console, file}
		closeFn = f.Close
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, closeFn, nil
}

func timestampAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		a.Key = "timestamp"
		a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339))
	}
	return a
}

func chain(fns ...func([]string, slog.Attr) slog.Attr) func([]string, slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		for _, fn := range fns {
			a = fn(groups, a)
		}
		return a
	}
}

// teeHandler fans records out to every handler that accepts the level.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}
