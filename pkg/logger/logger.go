package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Config describes how the application logger should behave.
type Config struct {
	Level       string      `yaml:"level" json:"level"`
	Format      string      `yaml:"format" json:"format"`
	OutputPaths []string    `yaml:"output_paths" json:"output_paths"`
	AddSource   bool        `yaml:"add_source" json:"add_source"`
	Audit       AuditConfig `yaml:"audit" json:"audit"`
}

// AuditConfig controls audit log output behaviour. Admission decisions and
// dispatch alerts go to the audit logger.
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}

// Logger bundles the application logger, the audit logger and the files
// they own. Components receive the *slog.Logger values they need; nothing
// reads a process-wide instance.
type Logger struct {
	*slog.Logger
	audit   *slog.Logger
	level   *slog.LevelVar
	closers []io.Closer
}

// New builds the loggers described by cfg.
func New(cfg Config) (*Logger, error) {
	level := new(slog.LevelVar)
	level.Set(ParseLevel(cfg.Level))
	handlerOpts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}

	l := &Logger{level: level}
	handler, err := l.buildHandler(cfg.Format, cfg.OutputPaths, handlerOpts)
	if err != nil {
		_ = l.Close()
		return nil, err
	}
	l.Logger = slog.New(handler)
	l.audit = l.Logger

	if cfg.Audit.Enabled {
		audit, err := l.buildAuditLogger(cfg.Audit)
		if err != nil {
			_ = l.Close()
			return nil, err
		}
		l.audit = audit
	}
	return l, nil
}

// Discard returns a logger that drops every record, used by tests.
func Discard() *Logger {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &Logger{Logger: logger, audit: logger, level: new(slog.LevelVar)}
}

func (l *Logger) buildHandler(format string, outputs []string, opts *slog.HandlerOptions) (slog.Handler, error) {
	writers := make([]io.Writer, 0, len(outputs))
	if len(outputs) == 0 {
		writers = append(writers, os.Stdout)
	}
	for _, out := range outputs {
		writer, closer, err := openWriter(out)
		if err != nil {
			return nil, err
		}
		if closer != nil {
			l.closers = append(l.closers, closer)
		}
		writers = append(writers, writer)
	}

	writer := writers[0]
	if len(writers) > 1 {
		writer = io.MultiWriter(writers...)
	}

	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(writer, opts), nil
	}
	return slog.NewJSONHandler(writer, opts), nil
}

func (l *Logger) buildAuditLogger(cfg AuditConfig) (*slog.Logger, error) {
	if cfg.Path == "" {
		return nil, errors.New("audit log path cannot be empty when enabled")
	}
	writer, err := newRotatingWriter(rotateOptions{
		Path:       cfg.Path,
		MaxBytes:   int64(cfg.MaxSizeMB) * 1024 * 1024,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
	})
	if err != nil {
		return nil, err
	}
	l.closers = append(l.closers, writer)
	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(handler).With(slog.String("stream", "audit")), nil
}

func openWriter(path string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(path)) {
	case "stdout", "":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	default:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %s: %w", path, err)
		}
		return file, file, nil
	}
}

// ParseLevel maps a textual level to slog.Level; unknown values mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel changes the application log level at runtime.
func (l *Logger) SetLevel(level string) {
	l.level.Set(ParseLevel(level))
}

// Audit returns the audit logger.
func (l *Logger) Audit() *slog.Logger {
	if l.audit == nil {
		return l.Logger
	}
	return l.audit
}

// Named returns a child logger tagged with the component name.
func (l *Logger) Named(name string) *slog.Logger {
	return l.Logger.With(slog.String("component", name))
}

// Close flushes and closes every file the loggers write to.
func (l *Logger) Close() error {
	var err error
	for _, closer := range l.closers {
		err = errors.Join(err, closer.Close())
	}
	l.closers = nil
	return err
}
