package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLoggerFormats(t *testing.T) {
	tests := []struct {
		name   string
		format string
		check  func(t *testing.T, out string)
	}{
		{
			name:   "text",
			format: "text",
			check: func(t *testing.T, out string) {
				if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "job_id=j1") {
					t.Errorf("text output = %q", out)
				}
			},
		},
		{
			name:   "json",
			format: "json",
			check: func(t *testing.T, out string) {
				var m map[string]any
				if err := json.Unmarshal([]byte(out), &m); err != nil {
					t.Fatalf("json output %q: %v", out, err)
				}
				if m["msg"] != "hello" || m["job_id"] != "j1" {
					t.Errorf("json output = %v", m)
				}
			},
		},
		{
			name:   "pretty",
			format: "pretty",
			check: func(t *testing.T, out string) {
				if !strings.Contains(out, "hello") || !strings.Contains(out, "j1") {
					t.Errorf("pretty output = %q", out)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := newLogger(&buf, tt.format, "info")
			if err != nil {
				t.Fatalf("newLogger: %v", err)
			}
			logger.Info("hello", "job_id", "j1")
			tt.check(t, buf.String())
		})
	}
}

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		level   string
		logFunc func(*slog.Logger)
		wantLog bool
	}{
		{"info at info level", "text", "info", func(l *slog.Logger) { l.Info("test") }, true},
		{"debug at info level", "text", "info", func(l *slog.Logger) { l.Debug("test") }, false},
		{"debug at debug level", "json", "debug", func(l *slog.Logger) { l.Debug("test") }, true},
		{"warn at error level", "pretty", "error", func(l *slog.Logger) { l.Warn("test") }, false},
		{"debug at debug level pretty", "pretty", "debug", func(l *slog.Logger) { l.Debug("test") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := newLogger(&buf, tt.format, tt.level)
			if err != nil {
				t.Fatalf("newLogger: %v", err)
			}
			tt.logFunc(logger)
			if got := buf.Len() > 0; got != tt.wantLog {
				t.Errorf("got log output = %v, want %v", got, tt.wantLog)
			}
		})
	}
}

func TestNewLoggerRejectsBadInput(t *testing.T) {
	var buf bytes.Buffer
	if _, err := newLogger(&buf, "xml", "info"); err == nil {
		t.Error("expected error for unknown format")
	}
	if l, err := newLogger(&buf, "text", "loud"); err == nil || l == nil {
		t.Errorf("expected fallback logger and error, got %v, %v", l, err)
	}
}

func TestLoggerContext(t *testing.T) {
	if loggerFromContext(context.Background()) != slog.Default() {
		t.Error("empty context should yield slog.Default")
	}
	l := slog.New(slog.DiscardHandler)
	if loggerFromContext(withLogger(context.Background(), l)) != l {
		t.Error("attached logger not returned")
	}
}
