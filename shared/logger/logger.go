// Package logger builds the process-wide slog logger: tint on a terminal,
// JSON for log shippers, either one writing to stdout, stderr or a file.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Redacted replaces the value of any attribute whose key names a credential.
const Redacted = "[redacted]"

var secretKeys = []string{"password", "token", "secret", "api_key"}

// Config holds logger configuration
type Config struct {
	Level        string // debug, info, warn, error; case-insensitive
	Format       string // json, console
	Output       string // stdout, stderr, or file path
	EnableSource bool
	TimeFormat   string // console only
	// Service is attached to every record as "service" when set
	Service string

	writer io.Writer // overrides Output
}

// Logger is the service logger. Close releases the log file, if any.
type Logger struct {
	*slog.Logger
	file *os.File
}

// New builds a logger from config. An unknown format falls back to JSON.
func New(config *Config) (*Logger, error) {
	writer, file, err := openOutput(config)
	if err != nil {
		return nil, err
	}
	level := parseLevel(config.Level)

	var handler slog.Handler
	switch config.Format {
	case "console", "":
		timeFormat := config.TimeFormat
		if timeFormat == "" {
			timeFormat = time.RFC3339
		}
		handler = tint.NewHandler(writer, &tint.Options{
			Level:       level,
			AddSource:   config.EnableSource,
			TimeFormat:  timeFormat,
			NoColor:     file != nil,
			ReplaceAttr: redact,
		})
	default:
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{
			Level:       level,
			AddSource:   config.EnableSource,
			ReplaceAttr: redact,
		})
	}

	l := slog.New(handler)
	if config.Service != "" {
		l = l.With(slog.String("service", config.Service))
	}
	return &Logger{Logger: l, file: file}, nil
}

func openOutput(config *Config) (io.Writer, *os.File, error) {
	switch {
	case config.writer != nil:
		return config.writer, nil, nil
	case config.Output == "stderr":
		return os.Stderr, nil, nil
	case config.Output == "stdout" || config.Output == "":
		return os.Stdout, nil, nil
	}
	f, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, f, nil
}

func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// parseLevel accepts slog's level names, including offsets such as
// "debug+2", plus "warning". Anything else is info.
func parseLevel(level string) slog.Level {
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func redact(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, s := range secretKeys {
		if strings.Contains(key, s) {
			return slog.String(a.Key, Redacted)
		}
	}
	return a
}
