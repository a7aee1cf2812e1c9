// Package logging installs the structured JSON logger used by the CLI.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/chainguard-dev/clog"
)

// Setup opens path for appending and returns ctx carrying a JSON logger that
// writes to it. An empty path logs to stderr. The returned func closes the
// file.
func Setup(ctx context.Context, path string, verbose bool) (context.Context, func() error, error) {
	var (
		w       io.Writer = os.Stderr
		closeFn           = func() error { return nil }
	)
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return ctx, nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return ctx, nil, fmt.Errorf("opening log file: %w", err)
		}
		w, closeFn = f, f.Close
	}
	return WithWriter(ctx, w, verbose), closeFn, nil
}

// WithWriter returns ctx carrying a JSON logger writing to w.
func WithWriter(ctx context.Context, w io.Writer, verbose bool) context.Context {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(h))
	return clog.WithLogger(ctx, clog.New(h))
}
