// Package logx sets up the process logger on log/slog and carries a
// request-scoped logger through context.
//
//	log := logx.FromContext(r.Context())
//	log.Info("order placed", "order_id", o.ID)
//	// → level=INFO msg="order placed" request_id=host/abc-000001 order_id=...
package logx

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level      string // debug | info | warn | error
	Format     string // json | text; empty picks json in production, text otherwise
	File       string // kalau diisi, log juga ditulis ke file dengan rotasi
	Production bool
}

var base atomic.Pointer[slog.Logger]

func init() { base.Store(slog.Default()) }

// L returns the process logger.
func L() *slog.Logger { return base.Load() }

// Setup builds the process logger and installs it as slog's default. The
// returned closer flushes the rotating file, if any.
func Setup(o Options) (*slog.Logger, io.Closer) {
	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if o.File != "" {
		lj := &lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    100, // MB
			MaxBackups: 10,
			MaxAge:     30, // hari
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, lj)
		closer = lj
	}

	opts := &slog.HandlerOptions{Level: parseLevel(o.Level)}
	format := strings.ToLower(o.Format)
	if format == "" {
		format = "text"
		if o.Production {
			format = "json"
		}
	}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}

	l := slog.New(h)
	base.Store(l)
	slog.SetDefault(l)
	return l, closer
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type ctxKey struct{}

func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the request logger, or the process logger outside a request.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return L()
}
