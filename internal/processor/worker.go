package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jo-hoe/morphportal/internal/morph"
	"github.com/jo-hoe/morphportal/internal/session"
	"github.com/jo-hoe/morphportal/internal/transforms"
)

// Lifecycle is the part of the session a flight reports back to.
type Lifecycle interface {
	Start(jobID string) bool
	Complete(jobID string, result transforms.ImageRef, cause error) (transforms.Record, error)
}

// Worker implements transforms.Processor: it waits out the flight's delays
// and runs the transformer.
type Worker struct {
	Log       *slog.Logger
	Clock     clockwork.Clock
	Session   Lifecycle
	Transform morph.Transformer
}

// Ensure Worker implements transforms.Processor
var _ transforms.Processor = (*Worker)(nil)

func New(log *slog.Logger, clock clockwork.Clock, s Lifecycle, t morph.Transformer) *Worker {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Worker{
		Log:       log,
		Clock:     clock,
		Session:   s,
		Transform: t,
	}
}

func (w *Worker) Process(ctx context.Context, item transforms.WorkItem) error {
	job := item.Job

	if err := w.sleep(ctx, job.PreDelay); err != nil {
		return w.abort(job.ID, err)
	}
	if !w.Session.Start(job.ID) {
		w.Log.Debug("flight superseded before start", "job_id", job.ID)
		return nil
	}

	if err := w.sleep(ctx, job.Delay); err != nil {
		return w.abort(job.ID, err)
	}

	result, err := w.Transform.Transform(ctx, job.Image)
	if err != nil {
		if ctx.Err() != nil {
			return w.abort(job.ID, ctx.Err())
		}
		err = fmt.Errorf("transform: %w", err)
	}

	if _, err := w.Session.Complete(job.ID, result, err); err != nil && !errors.Is(err, session.ErrStaleFlight) {
		return err
	}
	return nil
}

// abort reports a flight that ended because its context did. A cancelled
// flight has already been reset by the session, so the completion is
// rejected as stale there; on shutdown it surfaces as a failure.
func (w *Worker) abort(jobID string, cause error) error {
	_, err := w.Session.Complete(jobID, transforms.ImageRef{}, cause)
	if errors.Is(err, session.ErrStaleFlight) {
		w.Log.Debug("cancelled flight stopped", "job_id", jobID)
		return nil
	}
	return cause
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := w.Clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}
