// Log rotation tests
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRotatingFileWriterRequiresName(t *testing.T) {
	if _, err := NewRotatingFileWriter(RotationConfig{}); err == nil {
		t.Error("expected error for empty filename")
	}
}

func TestRotatingFileWriterRotates(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "plotbot.log")
	w, err := NewRotatingFileWriter(RotationConfig{Filename: name, MaxSize: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewRotatingFileWriter: %v", err)
	}
	defer w.Close()

	clock := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	chunk := []byte(strings.Repeat("x", 700*1024))
	for i := 0; i < 5; i++ {
		if _, err := w.Write(chunk); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	backups := w.Backups()
	if len(backups) != 2 {
		t.Fatalf("backups = %v, want 2 entries", backups)
	}
	info, err := os.Stat(name)
	if err != nil {
		t.Fatalf("stat current: %v", err)
	}
	if info.Size() != int64(len(chunk)) {
		t.Errorf("current size = %d, want %d", info.Size(), len(chunk))
	}
}

func TestRotatingFileWriterCompress(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "plot.log")
	w, err := NewRotatingFileWriter(RotationConfig{Filename: name, MaxSize: 1, Compress: true})
	if err != nil {
		t.Fatalf("NewRotatingFileWriter: %v", err)
	}
	defer w.Close()

	chunk := []byte(strings.Repeat("y", 600*1024))
	w.Write(chunk)
	w.Write(chunk)

	backups := w.Backups()
	if len(backups) != 1 || !strings.HasSuffix(backups[0], ".log.gz") {
		t.Errorf("backups = %v, want one .log.gz", backups)
	}
}
