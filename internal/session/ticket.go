package session

import (
	"context"
	"sync"

	"github.com/jo-hoe/morphportal/internal/transforms"
)

// Ticket tracks one flight until it completes, fails or is cancelled.
type Ticket struct {
	JobID string

	once   sync.Once
	done   chan struct{}
	record transforms.Record
	err    error
}

func newTicket(jobID string) *Ticket {
	return &Ticket{JobID: jobID, done: make(chan struct{})}
}

func (t *Ticket) resolve(rec transforms.Record, err error) {
	t.once.Do(func() {
		t.record = rec
		t.err = err
		close(t.done)
	})
}

// Done is closed once the flight has ended.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the flight ends or ctx is done.
func (t *Ticket) Wait(ctx context.Context) (transforms.Record, error) {
	select {
	case <-ctx.Done():
		return transforms.Record{}, ctx.Err()
	case <-t.done:
		return t.record, t.err
	}
}
