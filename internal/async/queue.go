package async

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrQueueClosed is returned by Enqueue once shutdown has started.
var ErrQueueClosed = errors.New("queue is shutting down")

// Job is one claimed OCR job waiting for a worker. BatchID is set for jobs
// submitted through a bulk request.
type Job struct {
	DocumentID  uuid.UUID
	BatchID     *string
	SubmittedAt time.Time
}

// Queue accepts claimed jobs and runs them in the background.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}

// Processor runs a single job to a terminal state. The context carries the
// per-job deadline.
type Processor interface {
	Process(ctx context.Context, job Job) error
}
