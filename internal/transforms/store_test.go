package transforms

import (
	"errors"
	"testing"
	"time"
)

func storeBackends(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := NewSQLiteStore()
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sq,
	}
}

func TestStore_NewestFirst(t *testing.T) {
	base := time.Date(2025, 12, 26, 22, 51, 3, 0, time.UTC)
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			for i, uri := range []string{"t1.png", "t2.png", "t3.png"} {
				rec := Record{
					ID:          uri + "-id",
					JobID:       "job-" + uri,
					Image:       ImageRef{URI: uri, MimeType: "image/png", Source: "upload", Width: 4, Height: 2, Size: 7},
					StartedAt:   base.Add(time.Duration(i) * time.Second),
					CompletedAt: base.Add(time.Duration(i)*time.Second + 3*time.Second),
				}
				if err := store.Prepend(rec); err != nil {
					t.Fatalf("Prepend %s: %v", uri, err)
				}
			}

			got, err := store.List()
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			want := []string{"t3.png", "t2.png", "t1.png"}
			if len(got) != len(want) {
				t.Fatalf("len = %d, want %d", len(got), len(want))
			}
			for i := range want {
				if got[i].Image.URI != want[i] {
					t.Fatalf("got[%d] = %q, want %q", i, got[i].Image.URI, want[i])
				}
			}
			if got[0].Image.Width != 4 || got[0].Image.Height != 2 || got[0].Image.Size != 7 || got[0].Image.Source != "upload" {
				t.Fatalf("image metadata not round-tripped: %+v", got[0].Image)
			}
			if !got[0].CompletedAt.Equal(base.Add(5 * time.Second)) {
				t.Fatalf("completedAt = %v", got[0].CompletedAt)
			}

			n, err := store.Count()
			if err != nil || n != 3 {
				t.Fatalf("Count = %d, %v", n, err)
			}
		})
	}
}

func TestStore_GetAndNotFound(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			rec := Record{ID: "r1", JobID: "j1", Image: ImageRef{URI: "A.png"}, CompletedAt: time.Now().UTC()}
			if err := store.Prepend(rec); err != nil {
				t.Fatalf("Prepend: %v", err)
			}
			got, err := store.Get("r1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Image.URI != "A.png" || got.JobID != "j1" {
				t.Fatalf("unexpected record: %+v", got)
			}
			if !got.StartedAt.IsZero() {
				t.Fatalf("startedAt should stay zero, got %v", got.StartedAt)
			}
			if _, err := store.Get("missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get missing = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_RejectsInvalidAndDuplicate(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Now().UTC()
			if err := store.Prepend(Record{Image: ImageRef{URI: "x"}, CompletedAt: now}); err == nil {
				t.Fatalf("expected error for missing id")
			}
			if err := store.Prepend(Record{ID: "x", CompletedAt: now}); err == nil {
				t.Fatalf("expected error for missing image")
			}
			rec := Record{ID: "dup", Image: ImageRef{URI: "x"}, CompletedAt: now}
			if err := store.Prepend(rec); err != nil {
				t.Fatalf("Prepend: %v", err)
			}
			if err := store.Prepend(rec); err == nil {
				t.Fatalf("expected error for duplicate id")
			}
			if n, _ := store.Count(); n != 1 {
				t.Fatalf("count = %d after rejected inserts", n)
			}
		})
	}
}

func TestStore_ListReturnsCopies(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Prepend(Record{ID: "r", Image: ImageRef{URI: "orig"}, CompletedAt: time.Now().UTC()}); err != nil {
				t.Fatalf("Prepend: %v", err)
			}
			list, _ := store.List()
			list[0].Image.URI = "mutated"
			again, _ := store.List()
			if again[0].Image.URI != "orig" {
				t.Fatalf("stored record mutated through List result")
			}
		})
	}
}

func TestOpenStore(t *testing.T) {
	for _, backend := range []string{"", "memory", "SQLite"} {
		s, err := OpenStore(backend)
		if err != nil {
			t.Fatalf("OpenStore(%q): %v", backend, err)
		}
		_ = s.Close()
	}
	if _, err := OpenStore("redis"); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
