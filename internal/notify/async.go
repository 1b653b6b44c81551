package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Async delivers to a slow sink (such as a webhook) off the caller's
// goroutine. Each delivery gets its own timeout and failures are only logged.
type Async struct {
	Sink    Notifier
	Timeout time.Duration
	Log     *slog.Logger

	wg sync.WaitGroup
}

var _ Notifier = (*Async)(nil)

func NewAsync(log *slog.Logger, sink Notifier, timeout time.Duration) *Async {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Async{Sink: sink, Timeout: timeout, Log: log}
}

func (a *Async) Notify(ctx context.Context, ev Event) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		dctx := context.WithoutCancel(ctx)
		if a.Timeout > 0 {
			var cancel context.CancelFunc
			dctx, cancel = context.WithTimeout(dctx, a.Timeout)
			defer cancel()
		}
		if err := a.Sink.Notify(dctx, ev); err != nil {
			a.Log.Warn("async notification failed", "kind", ev.Kind, "job_id", ev.JobID, "err", err)
		}
	}()
	return nil
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (a *Async) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
