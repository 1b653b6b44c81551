package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jo-hoe/morphportal/internal/config"
	"github.com/jo-hoe/morphportal/internal/transforms"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func advanceWhenArmed(t *testing.T, clock *clockwork.FakeClock, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("no timer armed: %v", err)
	}
	clock.Advance(d)
}

func TestRunDemo_PrintsToastAndRecord(t *testing.T) {
	cfg := config.Default()
	cfg.Gallery.Backend = "sqlite"
	cfg.Server.ShutdownGrace = time.Second
	clock := clockwork.NewFakeClock()

	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- runDemo(context.Background(), cfg, discardLogger(), clock, &out, "https://example.com/demo.jpg")
	}()

	advanceWhenArmed(t, clock, 500*time.Millisecond)
	advanceWhenArmed(t, clock, 3*time.Second)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runDemo: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("demo did not finish")
	}

	text := out.String()
	if !strings.HasPrefix(text, "✨ Transformation complete\nYou have moved into this body!\n") {
		t.Fatalf("output = %q", text)
	}
	var rec transforms.Record
	if err := json.Unmarshal([]byte(text[strings.Index(text, "{"):]), &rec); err != nil {
		t.Fatalf("record json: %v", err)
	}
	if rec.Image.URI != "https://example.com/demo.jpg" || rec.ID == "" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestRunDemo_FailurePrintsFailureToast(t *testing.T) {
	cfg := config.Default()
	cfg.Transform.Mock.Fail = true
	cfg.Server.ShutdownGrace = time.Second
	clock := clockwork.NewFakeClock()

	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- runDemo(context.Background(), cfg, discardLogger(), clock, &out, "")
	}()

	advanceWhenArmed(t, clock, 500*time.Millisecond)
	advanceWhenArmed(t, clock, 3*time.Second)

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("demo did not finish")
	}
	if !strings.HasPrefix(out.String(), cfg.Notifications.FailureTitle) {
		t.Fatalf("output = %q", out.String())
	}
}

func TestRunDemo_RejectsBadURL(t *testing.T) {
	err := runDemo(context.Background(), config.Default(), discardLogger(), clockwork.NewFakeClock(), io.Discard, "file:///etc/passwd")
	if err == nil {
		t.Fatal("expected error for non-http url")
	}
}

func TestNewApp_UnknownProvider(t *testing.T) {
	cfg := config.Default()
	cfg.Transform.Provider = "oracle"
	if _, err := newApp(cfg, discardLogger(), nil); err == nil {
		t.Fatal("expected provider error")
	}
}

func TestNewApp_EffectsToggle(t *testing.T) {
	cfg := config.Default()
	a, err := newApp(cfg, discardLogger(), clockwork.NewFakeClock())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.stop(time.Second)
	if a.emitter == nil || a.webhook != nil {
		t.Fatalf("defaults: emitter=%v webhook=%v", a.emitter, a.webhook)
	}

	cfg.Effects.Disabled = true
	cfg.Notifications.CallbackURL = "https://example.com/hook"
	b, err := newApp(cfg, discardLogger(), clockwork.NewFakeClock())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer b.stop(time.Second)
	if b.emitter != nil || b.webhook == nil {
		t.Fatalf("toggled: emitter=%v webhook=%v", b.emitter, b.webhook)
	}
}

func TestRootCommand_Version(t *testing.T) {
	SetVersion("v1.2.3", "abc123", "2026-01-01")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), "morphportal v1.2.3") || !strings.Contains(out.String(), "abc123") {
		t.Fatalf("version output = %q", out.String())
	}
}
