package transforms

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jo-hoe/morphportal/internal/common"
)

var (
	ErrQueueNotStarted = errors.New("queue not started")
	ErrQueueFull       = errors.New("queue is full")
)

// WorkItem carries a copy of the job data needed for processing.
type WorkItem struct {
	Job Job
}

// Processor defines how to process a WorkItem.
type Processor interface {
	Process(ctx context.Context, item WorkItem) error
}

// Queue is an in-memory bounded queue for WorkItems with a worker pool.
// Items are processed in arrival order when the pool has a single worker.
// Each item runs under its own context so it can be cancelled by job ID.
type Queue struct {
	log        *slog.Logger
	ch         chan WorkItem
	workers    int
	wg         sync.WaitGroup
	cancelOnce sync.Once
	cancel     context.CancelFunc
	started    bool
	closed     bool
	mu         sync.Mutex
	running    map[string]context.CancelFunc
	skipped    map[string]struct{}
}

// NewQueue creates a new Queue with the given capacity and worker count.
func NewQueue(logger *slog.Logger, capacity int, workers int) *Queue {
	if capacity <= 0 {
		capacity = common.DefaultQueueCapacity
	}
	if workers <= 0 {
		workers = common.DefaultWorkerCount
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Queue{
		log:     logger,
		ch:      make(chan WorkItem, capacity),
		workers: workers,
		running: make(map[string]context.CancelFunc),
		skipped: make(map[string]struct{}),
	}
}

// Start launches worker goroutines that consume WorkItems and process them using the provided Processor.
func (q *Queue) Start(ctx context.Context, p Processor) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return errors.New("queue already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, p, i)
	}
	q.started = true
	return nil
}

func (q *Queue) worker(ctx context.Context, p Processor, idx int) {
	defer q.wg.Done()
	log := q.log.With("worker", idx)
	for {
		select {
		case <-ctx.Done():
			log.Debug("worker stopping due to context cancellation")
			return
		case item, ok := <-q.ch:
			if !ok {
				log.Debug("queue closed, worker exiting")
				return
			}
			q.run(ctx, p, item, log.With("job_id", item.Job.ID))
		}
	}
}

func (q *Queue) run(ctx context.Context, p Processor, item WorkItem, log *slog.Logger) {
	itemCtx, cancelItem := context.WithCancel(ctx)
	defer cancelItem()

	q.mu.Lock()
	if _, skip := q.skipped[item.Job.ID]; skip {
		delete(q.skipped, item.Job.ID)
		q.mu.Unlock()
		log.Info("skipping cancelled job")
		return
	}
	q.running[item.Job.ID] = cancelItem
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		delete(q.running, item.Job.ID)
		q.mu.Unlock()
	}()

	log.Info("processing job", "stage", item.Job.Stage)
	start := time.Now()
	if err := p.Process(itemCtx, item); err != nil {
		log.Error("job processing failed", "err", err, "duration", time.Since(start))
		return
	}
	log.Info("job processed", "duration", time.Since(start))
}

// Enqueue adds a WorkItem to the queue (non-blocking if capacity allows).
func (q *Queue) Enqueue(item WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started || q.closed {
		return ErrQueueNotStarted
	}
	select {
	case q.ch <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

// Cancel stops the job with the given ID. A running job has its context
// cancelled; a job still waiting in the queue is removed so it no longer
// holds a slot. A job a worker has just taken is skipped when it runs.
func (q *Queue) Cancel(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if cancel, ok := q.running[jobID]; ok {
		cancel()
		return
	}
	if !q.closed && q.removeQueuedLocked(jobID) {
		return
	}
	q.skipped[jobID] = struct{}{}
}

// removeQueuedLocked drops jobID from the channel, keeping the order of the
// remaining items. Enqueue is locked out by q.mu, so re-queueing never blocks.
func (q *Queue) removeQueuedLocked(jobID string) bool {
	found := false
	var kept []WorkItem
	for n := len(q.ch); n > 0; n-- {
		select {
		case item := <-q.ch:
			if item.Job.ID == jobID {
				found = true
				continue
			}
			kept = append(kept, item)
		default:
			// A worker took the rest.
			n = 1
		}
	}
	for _, item := range kept {
		q.ch <- item
	}
	return found
}

// Shutdown gracefully stops accepting work and waits for workers to finish current items up to the provided deadline.
func (q *Queue) Shutdown(deadline time.Duration) {
	q.cancelOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		// stop workers
		if q.cancel != nil {
			q.cancel()
		}
		// close channel to unblock workers if they are waiting on receive
		close(q.ch)
		q.mu.Unlock()

		// wait with deadline
		done := make(chan struct{})
		go func() {
			defer close(done)
			q.wg.Wait()
		}()

		if deadline <= 0 {
			<-done
			return
		}

		timer := time.NewTimer(deadline)
		defer timer.Stop()
		select {
		case <-done:
			return
		case <-timer.C:
			q.log.Warn("queue shutdown deadline reached; workers may still be running")
		}
	})
}
