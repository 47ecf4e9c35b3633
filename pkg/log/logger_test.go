// Structured logging tests
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func newTestLogger(prefix string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := New(prefix)
	l.SetWriter(&buf)
	l.SetColorize(false)
	l.SetLevel(DEBUG)
	return l, &buf
}

func TestLoggerBasic(t *testing.T) {
	logger, buf := newTestLogger("pacer")
	logger.Info("sent %s", "SM,833,0,0")

	output := buf.String()
	if !strings.Contains(output, "[INFO ]") {
		t.Errorf("expected INFO level, got: %s", output)
	}
	if !strings.Contains(output, "pacer:") {
		t.Errorf("expected prefix 'pacer:', got: %s", output)
	}
	if !strings.Contains(output, "sent SM,833,0,0") {
		t.Errorf("expected formatted message, got: %s", output)
	}
}

func TestLoggerLevels(t *testing.T) {
	logger, buf := newTestLogger("test")
	logger.SetLevel(WARN)

	logger.Debug("debug message")
	logger.Info("info message")
	if buf.Len() != 0 {
		t.Errorf("expected DEBUG and INFO to be filtered, got: %s", buf.String())
	}

	logger.Warn("warn message")
	logger.Error("error message")
	if !strings.Contains(buf.String(), "warn message") || !strings.Contains(buf.String(), "error message") {
		t.Errorf("expected WARN and ERROR to pass, got: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{" error ", ERROR},
		{"bogus", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestEntryFieldsSorted(t *testing.T) {
	logger, buf := newTestLogger("homing")
	logger.WithFields(Fields{"axis": "Y", "phase": "CHECK_LIMIT_RESPONSE"}).
		WithError(errors.New("short read")).
		Warn("unexpected reply")

	out := buf.String()
	want := "{axis=Y, error=short read, phase=CHECK_LIMIT_RESPONSE}"
	if !strings.Contains(out, want) {
		t.Errorf("expected %q in %q", want, out)
	}
}

func TestWithPrefixSharesSink(t *testing.T) {
	root, buf := newTestLogger("plotbot")
	child := root.WithPrefix("setup")

	root.SetLevel(ERROR)
	child.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("child should follow parent level, got: %s", buf.String())
	}

	root.SetLevel(DEBUG)
	child.Debug("visible")
	if !strings.Contains(buf.String(), "setup: visible") {
		t.Errorf("expected child output, got: %s", buf.String())
	}
}

func TestPersistentFields(t *testing.T) {
	logger, buf := newTestLogger("link")
	dev := logger.With(Fields{"device": "/dev/ttyACM0"})
	dev.Info("opened")
	if !strings.Contains(buf.String(), "device=/dev/ttyACM0") {
		t.Errorf("expected persistent field, got: %s", buf.String())
	}
}

func TestJSONFormat(t *testing.T) {
	logger, buf := newTestLogger("queue")
	logger.SetFormat(FormatJSON)
	logger.WithField("depth", 3).Info("pushed")

	var line jsonLine
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("invalid JSON %q: %v", buf.String(), err)
	}
	if line.Level != "INFO" || line.Logger != "queue" || line.Message != "pushed" {
		t.Errorf("unexpected line: %+v", line)
	}
	if line.Fields["depth"] != float64(3) {
		t.Errorf("depth = %v, want 3", line.Fields["depth"])
	}
}

func TestCallerInfo(t *testing.T) {
	logger, buf := newTestLogger("test")
	logger.SetCaller(true)
	logger.Info("where")
	if !strings.Contains(buf.String(), "logger_test.go:") {
		t.Errorf("expected caller to point at the test file, got: %s", buf.String())
	}
}

func TestConfigureFromEnv(t *testing.T) {
	t.Setenv("PLOTBOT_LOG_LEVEL", "error")
	t.Setenv("PLOTBOT_LOG_FORMAT", "json")
	logger, buf := newTestLogger("env")
	ConfigureFromEnv(logger)

	if logger.GetLevel() != ERROR {
		t.Errorf("level = %s, want ERROR", logger.GetLevel())
	}
	logger.Error("boom")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("expected JSON output, got: %s", buf.String())
	}
}
