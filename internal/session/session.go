// Package session owns the transformation lifecycle: the staged image, the
// single in-flight transformation, the current view and the gallery.
//
// All state changes go through one mutex, so user actions and flight
// completions are applied in arrival order. A flight is identified by its
// job ID; a completion for any other ID is rejected, which is what keeps a
// flight from producing more than one record.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jo-hoe/morphportal/internal/notify"
	"github.com/jo-hoe/morphportal/internal/transforms"
	"github.com/jo-hoe/morphportal/internal/util"
)

var (
	ErrEmptyImage           = errors.New("image is empty")
	ErrNoImageStaged        = errors.New("no image staged")
	ErrAlreadyInProgress    = errors.New("transformation already in progress")
	ErrNothingToCancel      = errors.New("no transformation to cancel")
	ErrStaleFlight          = errors.New("flight is no longer current")
	ErrTransformationFailed = errors.New("transformation failed")
	ErrCancelled            = errors.New("transformation cancelled")
	ErrUnknownView          = errors.New("unknown view")
)

// State is the lifecycle state reported to callers.
type State string

const (
	StateIdle       State = "idle"
	StateStaged     State = "staged"
	StateInProgress State = "in_progress"
)

// View is one of the three mutually exclusive screens.
type View string

const (
	ViewHome      View = "home"
	ViewTransform View = "transform"
	ViewGallery   View = "gallery"
)

// ParseView validates a view name.
func ParseView(s string) (View, error) {
	switch v := View(s); v {
	case ViewHome, ViewTransform, ViewGallery:
		return v, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownView, s)
}

// Dispatcher schedules flights for execution and cancels them by job ID.
type Dispatcher interface {
	Enqueue(item transforms.WorkItem) error
	Cancel(jobID string)
}

// Timing holds the simulated durations.
type Timing struct {
	Delay          time.Duration // work once in progress
	QuickPickDelay time.Duration // before a quick-pick enters progress
}

// Messages are the toast texts fired when a flight ends.
type Messages struct {
	Title        string
	Description  string
	FailureTitle string
	CancelTitle  string
	Duration     time.Duration
}

// Options configures a Session. Store and Dispatcher are required.
type Options struct {
	Log        *slog.Logger
	Clock      clockwork.Clock
	Store      transforms.Store
	Dispatcher Dispatcher
	Notifier   notify.Notifier
	Timing     Timing
	Messages   Messages
	NewID      func() (string, error)
}

// Snapshot is a point-in-time copy of the session state.
type Snapshot struct {
	View       View                 `json:"view"`
	State      State                `json:"state"`
	InProgress bool                 `json:"in_progress"`
	Scheduled  bool                 `json:"scheduled"` // a quick-pick is waiting out its pre-delay
	Staged     *transforms.ImageRef `json:"staged,omitempty"`
	JobID      string               `json:"job_id,omitempty"`
	Gallery    int                  `json:"gallery_size"`
}

// Session is the transformation lifecycle state machine.
type Session struct {
	mu       sync.Mutex
	log      *slog.Logger
	clock    clockwork.Clock
	store    transforms.Store
	dispatch Dispatcher
	notifier notify.Notifier
	timing   Timing
	messages Messages
	newID    func() (string, error)

	view   View
	staged *transforms.ImageRef
	flight *flight
}

type flight struct {
	job       transforms.Job
	ticket    *Ticket
	startedAt time.Time
}

// New creates an idle session on the home view.
func New(opts Options) (*Session, error) {
	if opts.Store == nil {
		return nil, errors.New("session: store is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("session: dispatcher is required")
	}
	if opts.Log == nil {
		opts.Log = slog.New(slog.DiscardHandler)
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewMulti(opts.Log)
	}
	if opts.NewID == nil {
		opts.NewID = util.NewID
	}
	return &Session{
		log:      opts.Log,
		clock:    opts.Clock,
		store:    opts.Store,
		dispatch: opts.Dispatcher,
		notifier: opts.Notifier,
		timing:   opts.Timing,
		messages: opts.Messages,
		newID:    opts.NewID,
		view:     ViewHome,
	}, nil
}

func (s *Session) stateLocked() State {
	switch {
	case s.flight != nil && s.flight.job.Stage == transforms.StageInProgress:
		return StateInProgress
	case s.staged != nil:
		return StateStaged
	default:
		return StateIdle
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		View:  s.view,
		State: s.stateLocked(),
	}
	if s.staged != nil {
		img := *s.staged
		snap.Staged = &img
	}
	if s.flight != nil {
		snap.JobID = s.flight.job.ID
		snap.Scheduled = s.flight.job.Stage == transforms.StageQueued
	}
	// Counted under the lock so the size matches the state; stores never call back in.
	if n, err := s.store.Count(); err == nil {
		snap.Gallery = n
	} else {
		s.log.Warn("count gallery", "err", err)
	}
	s.mu.Unlock()

	snap.InProgress = snap.State == StateInProgress
	return snap
}

// SetView switches the visible screen.
func (s *Session) SetView(v View) error {
	if _, err := ParseView(string(v)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = v
	return nil
}

// Stage sets the pending image, replacing any previously staged one.
// It is ignored while a flight is scheduled or running.
func (s *Session) Stage(img transforms.ImageRef) error {
	if img.IsZero() {
		return ErrEmptyImage
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flight != nil {
		return ErrAlreadyInProgress
	}
	s.staged = &img
	return nil
}

// ClearStaged discards the pending image.
func (s *Session) ClearStaged() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flight != nil {
		return ErrAlreadyInProgress
	}
	s.staged = nil
	return nil
}

// Begin starts transforming the staged image. Calling it with nothing
// staged, or while a flight exists, changes nothing.
func (s *Session) Begin() (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flight != nil {
		return nil, ErrAlreadyInProgress
	}
	if s.staged == nil {
		return nil, ErrNoImageStaged
	}
	return s.launchLocked(*s.staged, 0)
}

// QuickPick stages img and starts a flight that enters progress after the
// quick-pick pre-delay.
func (s *Session) QuickPick(img transforms.ImageRef) (*Ticket, error) {
	if img.IsZero() {
		return nil, ErrEmptyImage
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flight != nil {
		return nil, ErrAlreadyInProgress
	}
	prev := s.staged
	s.staged = &img
	t, err := s.launchLocked(img, s.timing.QuickPickDelay)
	if err != nil {
		s.staged = prev
		return nil, err
	}
	return t, nil
}

func (s *Session) launchLocked(img transforms.ImageRef, preDelay time.Duration) (*Ticket, error) {
	now := s.clock.Now().UTC()
	job := transforms.Job{
		ID:       util.NewJobID(),
		Image:    img,
		PreDelay: preDelay,
		Delay:    s.timing.Delay,
		Stage:    transforms.StageInProgress,
		QueuedAt: now,
	}
	if preDelay > 0 {
		job.Stage = transforms.StageQueued
	}
	f := &flight{job: job, ticket: newTicket(job.ID)}
	if job.Stage == transforms.StageInProgress {
		f.startedAt = now
	}

	if err := s.dispatch.Enqueue(transforms.WorkItem{Job: job}); err != nil {
		return nil, fmt.Errorf("schedule transformation: %w", err)
	}
	s.flight = f
	s.view = ViewTransform
	s.log.Info("transformation scheduled", "job_id", job.ID, "pre_delay", preDelay, "delay", job.Delay, "source", img.Source)
	return f.ticket, nil
}

// Start moves a scheduled flight into progress. It reports false when jobID
// is not the current flight (it was cancelled or already finished).
func (s *Session) Start(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flight == nil || s.flight.job.ID != jobID {
		return false
	}
	if s.flight.job.Stage == transforms.StageQueued {
		s.flight.job.Stage = transforms.StageInProgress
		s.flight.startedAt = s.clock.Now().UTC()
		s.log.Info("transformation started", "job_id", jobID)
	}
	return true
}

// Complete finishes the flight jobID. With a nil cause it prepends a new
// record for result to the gallery; otherwise the gallery is left alone.
// Either way the staged image is cleared and the session returns to idle.
// Completing anything but the current flight returns ErrStaleFlight.
func (s *Session) Complete(jobID string, result transforms.ImageRef, cause error) (transforms.Record, error) {
	s.mu.Lock()
	f := s.flight
	if f == nil || f.job.ID != jobID {
		s.mu.Unlock()
		return transforms.Record{}, ErrStaleFlight
	}

	now := s.clock.Now().UTC()
	var rec transforms.Record
	if cause == nil && result.IsZero() {
		cause = ErrEmptyImage
	}
	if cause == nil {
		id, err := s.newID()
		if err != nil {
			cause = err
		} else {
			rec = transforms.Record{
				ID:          id,
				JobID:       jobID,
				Image:       result,
				StartedAt:   f.startedAt,
				CompletedAt: now,
			}
			if err := s.store.Prepend(rec); err != nil {
				cause = fmt.Errorf("store record: %w", err)
			}
		}
	}

	s.flight = nil
	s.staged = nil

	var ev notify.Event
	var outErr error
	if cause != nil {
		outErr = fmt.Errorf("%w: %w", ErrTransformationFailed, cause)
		rec = transforms.Record{}
		f.ticket.resolve(rec, outErr)
		ev = s.event(notify.KindFailed, s.messages.FailureTitle, cause.Error(), jobID, now)
		ev.Error = cause.Error()
		s.log.Warn("transformation failed", "job_id", jobID, "err", cause)
	} else {
		f.ticket.resolve(rec, nil)
		ev = s.event(notify.KindCompleted, s.messages.Title, s.messages.Description, jobID, now)
		ev.RecordID = rec.ID
		s.log.Info("transformation completed", "job_id", jobID, "record_id", rec.ID)
	}
	s.mu.Unlock()

	s.publish(ev)
	return rec, outErr
}

// Cancel abandons the current flight. No record is produced; the staged
// image is discarded and the session returns to idle.
func (s *Session) Cancel() error {
	s.mu.Lock()
	f := s.flight
	if f == nil {
		s.mu.Unlock()
		return ErrNothingToCancel
	}
	s.flight = nil
	s.staged = nil
	now := s.clock.Now().UTC()
	f.ticket.resolve(transforms.Record{}, ErrCancelled)
	s.dispatch.Cancel(f.job.ID)
	ev := s.event(notify.KindCancelled, s.messages.CancelTitle, "", f.job.ID, now)
	s.log.Info("transformation cancelled", "job_id", f.job.ID)
	s.mu.Unlock()

	s.publish(ev)
	return nil
}

// Gallery lists completed records, newest first.
func (s *Session) Gallery() ([]transforms.Record, error) {
	return s.store.List()
}

// Record returns one gallery entry.
func (s *Session) Record(id string) (transforms.Record, error) {
	return s.store.Get(id)
}

func (s *Session) event(kind notify.Kind, title, desc, jobID string, at time.Time) notify.Event {
	return notify.Event{
		Kind:        kind,
		Title:       title,
		Description: desc,
		Duration:    s.messages.Duration,
		JobID:       jobID,
		At:          at,
	}
}

func (s *Session) publish(ev notify.Event) {
	if err := s.notifier.Notify(context.Background(), ev); err != nil {
		s.log.Warn("notify", "kind", ev.Kind, "job_id", ev.JobID, "err", err)
	}
}
