package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

// Kind classifies a toast.
type Kind string

const (
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
	KindCancelled Kind = "cancelled"
)

// Event is a transient notification fired once per finished flight.
type Event struct {
	Kind        Kind
	Title       string
	Description string
	Duration    time.Duration // how long a toast stays visible
	JobID       string
	RecordID    string
	Error       string
	At          time.Time
}

// Expired reports whether the toast is no longer visible at now.
func (e Event) Expired(now time.Time) bool {
	return e.Duration > 0 && !now.Before(e.At.Add(e.Duration))
}

// MarshalJSON renders the duration in milliseconds.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind        Kind      `json:"kind"`
		Title       string    `json:"title"`
		Description string    `json:"description,omitempty"`
		DurationMS  int64     `json:"duration_ms"`
		JobID       string    `json:"job_id,omitempty"`
		RecordID    string    `json:"record_id,omitempty"`
		Error       string    `json:"error,omitempty"`
		At          time.Time `json:"at"`
	}{e.Kind, e.Title, e.Description, e.Duration.Milliseconds(), e.JobID, e.RecordID, e.Error, e.At})
}

// Notifier consumes toasts.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Multi fans an event out to every registered sink.
type Multi struct {
	log   *slog.Logger
	sinks []Notifier
}

var _ Notifier = (*Multi)(nil)

func NewMulti(log *slog.Logger, sinks ...Notifier) *Multi {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	m := &Multi{log: log}
	for _, s := range sinks {
		m.Add(s)
	}
	return m
}

// Add registers a sink; nil sinks are ignored.
func (m *Multi) Add(n Notifier) {
	if n == nil {
		return
	}
	m.sinks = append(m.sinks, n)
}

// Len returns the number of registered sinks.
func (m *Multi) Len() int {
	return len(m.sinks)
}

func (m *Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Notify(ctx, ev); err != nil {
			m.log.Warn("notification sink failed", "kind", ev.Kind, "job_id", ev.JobID, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes toasts to the structured log.
type LogSink struct {
	Log *slog.Logger
}

func (l LogSink) Notify(_ context.Context, ev Event) error {
	if l.Log == nil {
		return nil
	}
	attrs := []any{"kind", ev.Kind, "title", ev.Title, "job_id", ev.JobID}
	if ev.RecordID != "" {
		attrs = append(attrs, "record_id", ev.RecordID)
	}
	if ev.Kind == KindFailed {
		l.Log.Warn("toast", append(attrs, "error", ev.Error)...)
		return nil
	}
	l.Log.Info("toast", attrs...)
	return nil
}
