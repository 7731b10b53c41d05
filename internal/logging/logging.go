// Package logging builds the process logger: log/slog on top of a
// charmbracelet/log handler.
package logging

import (
    "io"
    "log/slog"
    "os"
    "time"

    "github.com/charmbracelet/log"

    "fxprovider/internal/config"
)

var formatters = map[string]log.Formatter{
    "json":   log.JSONFormatter,
    "text":   log.TextFormatter,
    "logfmt": log.LogfmtFormatter,
}

// New returns a slog.Logger writing to stderr and installs it as the default.
func New(cfg config.Log) *slog.Logger {
    l := NewWithWriter(os.Stderr, cfg)
    slog.SetDefault(l)
    return l
}

// NewWithWriter is New without touching the process default.
func NewWithWriter(w io.Writer, cfg config.Log) *slog.Logger {
    level, err := log.ParseLevel(cfg.Level)
    if err != nil { level = log.InfoLevel }
    formatter := log.TextFormatter
    if f, ok := formatters[cfg.Format]; ok { formatter = f }

    handler := log.NewWithOptions(w, log.Options{
        ReportTimestamp: true,
        TimeFormat:      time.RFC3339,
        Level:           level,
        Prefix:          cfg.Prefix,
        Formatter:       formatter,
    })
    return slog.New(handler)
}

// Or returns l, or slog.Default() when l is nil.
func Or(l *slog.Logger) *slog.Logger {
    if l == nil { return slog.Default() }
    return l
}
