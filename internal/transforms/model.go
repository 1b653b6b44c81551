package transforms

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by a Store when no record has the requested ID.
var ErrNotFound = errors.New("record not found")

// ImageRef is an immutable reference to image content. URI is either a
// data URL (uploads) or a remote URL (quick-pick); the core treats it as opaque.
type ImageRef struct {
	URI      string `json:"uri"`
	MimeType string `json:"mime_type,omitempty"`
	Source   string `json:"source,omitempty"` // upload|remote
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Size     int64  `json:"size,omitempty"` // bytes, uploads only
}

// IsZero reports whether the reference points at nothing.
func (r ImageRef) IsZero() bool {
	return r.URI == ""
}

// Stage represents the lifecycle stage of a transformation flight.
type Stage string

const (
	StageQueued     Stage = "queued"      // accepted, waiting out the quick-pick pre-delay
	StageInProgress Stage = "in_progress" // transformation work running
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
	StageCancelled  Stage = "cancelled"
)

// Job describes a single scheduled transformation.
type Job struct {
	ID       string        // UUIDv4
	Image    ImageRef      // staged image the flight was started with
	PreDelay time.Duration // wait before the flight enters progress (quick-pick)
	Delay    time.Duration // simulated work duration
	Stage    Stage
	QueuedAt time.Time
}

// Record is an immutable gallery entry created when a transformation completes.
type Record struct {
	ID          string    `json:"id"`
	JobID       string    `json:"job_id"`
	Image       ImageRef  `json:"image"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Store is the gallery: an append-only sequence of records, newest first.
// Implementations hand out copies; nothing returned aliases stored state.
type Store interface {
	Prepend(rec Record) error
	List() ([]Record, error)
	Get(id string) (Record, error)
	Count() (int, error)
	Close() error
}

// OpenStore returns the gallery backend named by the configuration.
func OpenStore(backend string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore()
	default:
		return nil, fmt.Errorf("unsupported gallery backend %q", backend)
	}
}
