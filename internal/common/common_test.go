package common

import (
	"strings"
	"testing"
)

func TestConstantsValues(t *testing.T) {
	if ContentTypeJSON != "application/json" {
		t.Fatalf("ContentTypeJSON = %q", ContentTypeJSON)
	}
	if HeaderAPIKey != "X-API-Key" {
		t.Fatalf("HeaderAPIKey = %q", HeaderAPIKey)
	}
	if HeaderPrefer != "Prefer" || PreferRespondAsync != "respond-async" {
		t.Fatalf("prefer constants mismatch")
	}
	if PathHealthz != "/healthz" || PathSession != "/v1/session" {
		t.Fatalf("paths mismatch: %q, %q", PathHealthz, PathSession)
	}
	for _, p := range []string{PathView, PathImage, PathQuickPick, PathTransform, PathCancel} {
		if !strings.HasPrefix(p, PathSession+"/") {
			t.Fatalf("session sub path %q not under %q", p, PathSession)
		}
	}
	if DefaultQueueCapacity <= 0 || DefaultWorkerCount <= 0 {
		t.Fatalf("defaults should be positive")
	}
	if MimeImagePNG != "image/png" || MimeImageJPEG != "image/jpeg" || MimeImageJPG != "image/jpg" {
		t.Fatalf("mime constants mismatch")
	}
	if !strings.HasPrefix(EnvConfigPath, EnvPrefix) {
		t.Fatalf("config env var should carry the env prefix")
	}
}
