// Package logging builds the process's slog.Logger per internal/config's
// LoggingConfig, optionally mirroring lines into an in-memory ring buffer
// the admin server can tail.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gatetun/gatetun/internal/config"
)

// Runtime owns the process logger and any associated resources (an output
// file handle, an optional in-memory admin buffer).
type Runtime struct {
	logger *slog.Logger
	level  slog.LevelVar

	closer io.Closer
	store  *TunnelLogTail
}

// NewRuntime builds a Runtime from cfg.
func NewRuntime(cfg config.LoggingConfig) (*Runtime, error) {
	cfg = normalizeConfig(cfg)

	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	r := &Runtime{}
	r.level.Set(level)

	out, closer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	r.closer = closer

	var w io.Writer = out
	if cfg.AdminBuffer.Enabled {
		size := cfg.AdminBuffer.Size
		if size <= 0 {
			size = 1000
		}
		r.store = NewTunnelLogTail(size)
		w = io.MultiWriter(out, r.store)
	}

	hopts := &slog.HandlerOptions{Level: &r.level, AddSource: cfg.AddSource}
	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "text":
		h = slog.NewTextHandler(w, hopts)
	case "json", "":
		h = slog.NewJSONHandler(w, hopts)
	default:
		return nil, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}

	r.logger = slog.New(h).With(slog.String("app", "gatetun"))
	return r, nil
}

// Logger returns the configured logger, falling back to slog.Default() on a
// nil Runtime so callers never need a nil check.
func (r *Runtime) Logger() *slog.Logger {
	if r == nil || r.logger == nil {
		return slog.Default()
	}
	return r.logger
}

// Store returns the in-memory ring buffer, or nil if it was disabled.
func (r *Runtime) Store() *TunnelLogTail { return r.store }

func (r *Runtime) Close() error {
	if r == nil || r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

func normalizeConfig(cfg config.LoggingConfig) config.LoggingConfig {
	if strings.TrimSpace(cfg.Level) == "" {
		cfg.Level = "info"
	}
	if strings.TrimSpace(cfg.Format) == "" {
		cfg.Format = "json"
	}
	if strings.TrimSpace(cfg.Output) == "" {
		cfg.Output = "stderr"
	}
	return cfg
}

func parseLevel(s string) (slog.Level, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging: unknown level %q", s)
	}
}

func openOutput(output string) (io.Writer, io.Closer, error) {
	o := strings.TrimSpace(output)
	switch strings.ToLower(o) {
	case "stderr", "":
		return os.Stderr, nil, nil
	case "stdout":
		return os.Stdout, nil, nil
	case "discard", "none", "null":
		return io.Discard, nil, nil
	default:
		path := filepath.Clean(o)
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: open %s: %w", path, err)
		}
		return f, f, nil
	}
}
