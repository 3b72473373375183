package orchestrator

import (
	"context"
	"sync"
	"time"
)

// Expiry reports one connection closed by a batch timeout.
type Expiry struct {
	NodeID string
	// Removed is false when the node had already been disconnected.
	Removed bool
	At      time.Time
}

// Batch is the outcome of one ConnectMany call.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Batch struct {
	order   []string
	errs    map[string]error
	timeout time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	expired  []Expiry
	done     chan struct{}
	finished bool
}

func newBatch(order []string) *Batch {
	return &Batch{
		order: order,
		errs:  make(map[string]error, len(order)),
		done:  make(chan struct{}),
	}
}

// Results reports per node whether it connected.
func (b *Batch) Results() map[string]bool {
	results := make(map[string]bool, len(b.order))
	for _, nodeID := range b.order {
		results[nodeID] = b.errs[nodeID] == nil
	}
	return results
}

// Err returns the failure for nodeID, or nil if it connected.
func (b *Batch) Err(nodeID string) error {
	return b.errs[nodeID]
}

// Nodes returns the requested node ids in input order.
func (b *Batch) Nodes() []string {
	return append([]string(nil), b.order...)
}

// Connected returns the nodes that connected, in input order.
func (b *Batch) Connected() []string {
	var ids []string
	for _, nodeID := range b.order {
		if b.errs[nodeID] == nil {
			ids = append(ids, nodeID)
		}
	}
	return ids
}

// Timeout is the expiry delay, or zero when the batch does not expire.
func (b *Batch) Timeout() time.Duration {
	return b.timeout
}

// Expired returns the expiry reports gathered so far.
func (b *Batch) Expired() []Expiry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Expiry(nil), b.expired...)
}

// Done is closed once the batch has expired, or immediately when there is
// nothing to expire.
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the batch expires or ctx ends. It returns ctx.Err()
// when interrupted; the connections are then left registered.
func (b *Batch) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels a pending expiry. It reports whether the timer was stopped
// before firing.
func (b *Batch) Stop() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer == nil || b.finished {
		return false
	}
	stopped := b.timer.Stop()
	if stopped {
		b.finishLocked()
	}
	return stopped
}

// Interrupt cancels a pending expiry. If the expiry has already started it
// waits for it to finish, so no removal runs after Interrupt returns. It
// reports whether the connections were left registered.
func (b *Batch) Interrupt() bool {
	if b.Stop() {
		return true
	}
	<-b.done
	return false
}

func (b *Batch) schedule(timeout time.Duration, expire func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timeout = timeout
	b.timer = time.AfterFunc(timeout, expire)
}

func (b *Batch) record(e Expiry) {
	b.mu.Lock()
	b.expired = append(b.expired, e)
	b.mu.Unlock()
}

func (b *Batch) finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finishLocked()
}

func (b *Batch) finishLocked() {
	if b.finished {
		return
	}
	b.finished = true
	close(b.done)
}
