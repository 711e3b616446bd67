package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// backupLayout is appended to the file name of rotated audit logs. It sorts
// lexically in chronological order.
const backupLayout = "20060102T150405.000"

type rotateOptions struct {
	Path       string
	MaxBytes   int64
	MaxBackups int
	MaxAgeDays int
}

func (o *rotateOptions) applyDefaults() {
	if o.MaxBytes <= 0 {
		o.MaxBytes = 100 * 1024 * 1024
	}
	if o.MaxBackups <= 0 {
		o.MaxBackups = 7
	}
	if o.MaxAgeDays <= 0 {
		o.MaxAgeDays = 30
	}
}

// rotatingWriter appends to a file and renames it with a timestamp suffix once
// it would grow past MaxBytes. Old backups are pruned by count and age.
type rotatingWriter struct {
	mu   sync.Mutex
	opts rotateOptions
	file *os.File
	size int64
	now  func() time.Time
}

func newRotatingWriter(opts rotateOptions) (*rotatingWriter, error) {
	if opts.Path == "" {
		return nil, errors.New("path is required")
	}
	opts.applyDefaults()
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &rotatingWriter{opts: opts, now: time.Now}, nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.open(); err != nil {
		return 0, err
	}
	if w.size > 0 && w.size+int64(len(p)) > w.opts.MaxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.size = 0
	return err
}

func (w *rotatingWriter) open() error {
	if w.file != nil {
		return nil
	}
	file, err := os.OpenFile(w.opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

func (w *rotatingWriter) rotate() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	w.size = 0
	backup := w.opts.Path + "." + w.now().UTC().Format(backupLayout)
	if err := os.Rename(w.opts.Path, backup); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rotate audit log: %w", err)
	}
	w.prune()
	return nil
}

// backups lists rotated files, newest first.
func (w *rotatingWriter) backups() []string {
	matches, err := filepath.Glob(w.opts.Path + ".*")
	if err != nil {
		return nil
	}
	prefix := w.opts.Path + "."
	out := matches[:0]
	for _, match := range matches {
		if _, err := time.Parse(backupLayout, strings.TrimPrefix(match, prefix)); err == nil {
			out = append(out, match)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out
}

func (w *rotatingWriter) prune() {
	cutoff := w.now().Add(-time.Duration(w.opts.MaxAgeDays) * 24 * time.Hour)
	prefix := w.opts.Path + "."
	for i, path := range w.backups() {
		if i >= w.opts.MaxBackups {
			_ = os.Remove(path)
			continue
		}
		stamp, _ := time.Parse(backupLayout, strings.TrimPrefix(path, prefix))
		if stamp.Before(cutoff) {
			_ = os.Remove(path)
		}
	}
}
