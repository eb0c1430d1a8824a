package core

import "sync"

// BatchTracker wakes waiters when a batch makes progress. It holds no batch
// state; the batch repository is the source of truth.
type BatchTracker struct {
	mu      sync.Mutex
	waiters map[string]chan struct{}
}

func NewBatchTracker() *BatchTracker {
	return &BatchTracker{waiters: make(map[string]chan struct{})}
}

// Changed returns a channel closed on the next Notify for batchID.
func (t *BatchTracker) Changed(batchID string) <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.waiters[batchID]
	if !ok {
		ch = make(chan struct{})
		t.waiters[batchID] = ch
	}
	return ch
}

// Notify wakes everyone currently waiting on batchID.
func (t *BatchTracker) Notify(batchID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.waiters[batchID]; ok {
		close(ch)
		delete(t.waiters, batchID)
	}
}
