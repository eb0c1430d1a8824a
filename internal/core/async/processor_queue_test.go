package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/tender-docs/internal/async"
	"github.com/joseph-ayodele/tender-docs/internal/common"
)

type processorFunc func(ctx context.Context, job async.Job) error

func (f processorFunc) Process(ctx context.Context, job async.Job) error { return f(ctx, job) }

func TestProcessorQueueRunsEveryJob(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[uuid.UUID]bool{}
		busy atomic.Int32
		peak atomic.Int32
	)
	q := NewProcessorQueue(processorFunc(func(ctx context.Context, job async.Job) error {
		n := busy.Add(1)
		defer busy.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		seen[job.DocumentID] = true
		mu.Unlock()
		return nil
	}), nil, WithWorkers(2), WithQueueSize(4))

	ids := make([]uuid.UUID, 10)
	for i := range ids {
		ids[i] = uuid.New()
		require.NoError(t, q.Enqueue(context.Background(), async.Job{DocumentID: ids[i]}))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Shutdown(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, len(ids))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestProcessorQueueAppliesTimeout(t *testing.T) {
	got := make(chan error, 1)
	q := NewProcessorQueue(processorFunc(func(ctx context.Context, job async.Job) error {
		<-ctx.Done()
		got <- context.Cause(ctx)
		return nil
	}), nil, WithProcessTimeout(20*time.Millisecond))
	defer q.Shutdown(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), async.Job{DocumentID: uuid.New()}))
	select {
	case err := <-got:
		assert.ErrorIs(t, err, common.ErrTimeout)
		assert.Contains(t, err.Error(), "ocr timed out after 20ms")
	case <-time.After(2 * time.Second):
		t.Fatal("job never timed out")
	}
}

func TestProcessorQueueSurvivesFailures(t *testing.T) {
	var calls atomic.Int32
	q := NewProcessorQueue(processorFunc(func(context.Context, async.Job) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return errors.New("engine failed")
	}), nil, WithWorkers(1))

	for range 3 {
		require.NoError(t, q.Enqueue(context.Background(), async.Job{DocumentID: uuid.New()}))
	}
	q.Shutdown(context.Background())
	assert.EqualValues(t, 3, calls.Load())
}

func TestProcessorQueueRejectsAfterShutdown(t *testing.T) {
	q := NewProcessorQueue(processorFunc(func(context.Context, async.Job) error { return nil }), nil)
	q.Shutdown(context.Background())
	q.Shutdown(context.Background())

	err := q.Enqueue(context.Background(), async.Job{DocumentID: uuid.New()})
	assert.ErrorIs(t, err, async.ErrQueueClosed)
}
