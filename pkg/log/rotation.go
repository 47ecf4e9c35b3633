// Size based log file rotation
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	// Filename is the path to the log file.
	Filename string

	// MaxSize is the size in megabytes at which the file is rotated.
	// Default is 10 MB.
	MaxSize int

	// MaxBackups is the number of rotated files to keep. Default is 5.
	MaxBackups int

	// Compress gzips rotated files.
	Compress bool
}

// RotatingFileWriter is an io.Writer that rotates its file once it grows
// past MaxSize. Rotated files are named <base>.<YYYYMMDD-HHMMSS><ext>.
type RotatingFileWriter struct {
	mu         sync.Mutex
	cfg        RotationConfig
	maxBytes   int64
	size       int64
	file       *os.File
	now        func() time.Time
	lastRotate string
}

// NewRotatingFileWriter opens (or creates) the log file for appending.
func NewRotatingFileWriter(cfg RotationConfig) (*RotatingFileWriter, error) {
	if cfg.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	w := &RotatingFileWriter{
		cfg:      cfg,
		maxBytes: int64(cfg.MaxSize) * 1024 * 1024,
		now:      time.Now,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingFileWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(w.cfg.Filename), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(w.cfg.Filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// Write implements io.Writer.
func (w *RotatingFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size > 0 && w.size+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log file: %w", err)
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingFileWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close current file: %w", err)
	}

	stamp := w.now().Format("20060102-150405")
	// two rotations within the same second must not overwrite each other
	if stamp == w.lastRotate {
		stamp = w.now().Format("20060102-150405.000")
	}
	w.lastRotate = stamp

	ext := filepath.Ext(w.cfg.Filename)
	rotated := strings.TrimSuffix(w.cfg.Filename, ext) + "." + stamp + ext
	if err := os.Rename(w.cfg.Filename, rotated); err != nil {
		w.open()
		return fmt.Errorf("rename log file: %w", err)
	}
	if w.cfg.Compress {
		if err := gzipFile(rotated); err != nil {
			return err
		}
	}
	w.prune()
	return w.open()
}

func gzipFile(name string) error {
	src, err := os.Open(name)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(name + ".gz")
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		dst.Close()
		os.Remove(name + ".gz")
		return err
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}

// Backups lists rotated files, oldest first.
func (w *RotatingFileWriter) Backups() []string {
	dir := filepath.Dir(w.cfg.Filename)
	base := filepath.Base(w.cfg.Filename)
	prefix := strings.TrimSuffix(base, filepath.Ext(base)) + "."

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var backups []string
	for _, e := range entries {
		name := e.Name()
		if name != base && strings.HasPrefix(name, prefix) && len(name) > len(prefix) && name[len(prefix)] >= '0' && name[len(prefix)] <= '9' {
			backups = append(backups, filepath.Join(dir, name))
		}
	}
	// timestamps sort lexically
	sort.Strings(backups)
	return backups
}

func (w *RotatingFileWriter) prune() {
	backups := w.Backups()
	for len(backups) > w.cfg.MaxBackups {
		os.Remove(backups[0])
		backups = backups[1:]
	}
}

// Close closes the current file.
func (w *RotatingFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// LogToFile sends the default logger's output to both stderr and a rotating
// file. Colors are disabled so the file stays plain text.
func LogToFile(cfg RotationConfig) (*RotatingFileWriter, error) {
	w, err := NewRotatingFileWriter(cfg)
	if err != nil {
		return nil, err
	}
	l := Default()
	l.SetWriter(io.MultiWriter(os.Stderr, w))
	l.SetColorize(false)
	return w, nil
}
