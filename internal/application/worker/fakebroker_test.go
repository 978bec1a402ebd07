package worker_test

import (
	"context"
	"sync"
	"time"
)

// fakeBroker is a minimal in-process Dispatch Layer double for exercising
// the worker's coordination loop without a real substrate.
type fakeBroker struct {
	mu       sync.Mutex
	ready    map[string][]int64
	acked    []int64
	nacked   []int64
	nackWait map[int64]time.Duration
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{ready: make(map[string][]int64), nackWait: make(map[int64]time.Duration)}
}

func (b *fakeBroker) IsAvailable(ctx context.Context) bool { return true }

func (b *fakeBroker) Enqueue(ctx context.Context, queue string, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ready[queue] = append(b.ready[queue], id)
	return nil
}

func (b *fakeBroker) Dequeue(ctx context.Context, queue string, timeout time.Duration) (int64, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.ready[queue]
	if len(q) == 0 {
		return 0, false, nil
	}
	id := q[0]
	b.ready[queue] = q[1:]
	return id, true, nil
}

func (b *fakeBroker) Ack(ctx context.Context, queue string, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acked = append(b.acked, id)
	return nil
}

func (b *fakeBroker) Nack(ctx context.Context, queue string, id int64, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nacked = append(b.nacked, id)
	b.nackWait[id] = delay
	b.ready[queue] = append(b.ready[queue], id)
	return nil
}
