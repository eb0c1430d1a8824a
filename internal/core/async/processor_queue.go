package async

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/tender-docs/internal/async"
	"github.com/joseph-ayodele/tender-docs/internal/common"
	"github.com/joseph-ayodele/tender-docs/internal/metrics"
)

// ProcessorQueue is a fixed pool of workers draining a buffered channel.
type ProcessorQueue struct {
	proc    async.Processor
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan async.Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

var _ async.Queue = (*ProcessorQueue)(nil)

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan async.Job, n)
		}
	}
}
func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewProcessorQueue(proc async.Processor, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		proc:    proc,
		logger:  logger,
		workers: 2,
		timeout: 5 * time.Minute,
		ch:      make(chan async.Job, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

// TimeoutError is the context cause attached to a job whose deadline passed.
func TimeoutError(d time.Duration) error {
	return fmt.Errorf("ocr timed out after %s: %w", d, common.ErrTimeout)
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)

				for job := range q.ch {
					metrics.SetQueueDepth(len(q.ch))
					q.run(workerID, job)
				}

				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ProcessorQueue) run(workerID int, job async.Job) {
	logger := q.logger.With("worker_id", workerID, "document_id", job.DocumentID)
	if job.BatchID != nil {
		logger = logger.With("batch_id", *job.BatchID)
	}
	ctx, cancel := context.WithTimeoutCause(common.WithLogger(context.Background(), logger), q.timeout, TimeoutError(q.timeout))
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker panic", "panic", r)
		}
	}()

	started := time.Now()
	if err := q.proc.Process(ctx, job); err != nil {
		logger.Error("processing failed", "error", err)
		return
	}
	logger.Info("processed document", "queued_for", started.Sub(job.SubmittedAt), "took", time.Since(started))
}

// Enqueue blocks while the buffer is full, until ctx is done.
func (q *ProcessorQueue) Enqueue(ctx context.Context, job async.Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "document_id", job.DocumentID)
		return async.ErrQueueClosed
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	select {
	case q.ch <- job:
	default:
		q.logger.Warn("queue full, applying backpressure", "document_id", job.DocumentID)
		select {
		case q.ch <- job:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	metrics.SetQueueDepth(len(q.ch))
	q.logger.Debug("queued document for ocr", "document_id", job.DocumentID)
	return nil
}

// Shutdown stops accepting jobs and waits for queued ones until ctx is done.
func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
