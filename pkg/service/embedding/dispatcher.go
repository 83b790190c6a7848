package embedding

import (
	"container/list"
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/model"
)

type waiter struct {
	id      uint64
	ready   chan struct{}
	granted bool
}

// dispatcher bounds in-flight provider calls. Requests beyond maxActive wait in a FIFO
// queue of at most capacity entries; the rest are rejected immediately. A finishing
// request hands its slot directly to the head of the queue.
type dispatcher struct {
	mu        sync.Mutex
	active    int
	maxActive int
	capacity  int
	queue     *list.List
	nextID    uint64
}

func newDispatcher(maxActive, capacity int) *dispatcher {
	if maxActive < 1 {
		maxActive = 1
	}
	if capacity < 0 {
		capacity = 0
	}
	return &dispatcher{
		maxActive: maxActive,
		capacity:  capacity,
		queue:     list.New(),
	}
}

// acquire blocks until a slot is available. Canceling ctx while queued removes the
// request from the queue.
func (d *dispatcher) acquire(ctx context.Context) (func(), error) {
	d.mu.Lock()
	if d.active < d.maxActive && d.queue.Len() == 0 {
		d.active++
		d.mu.Unlock()
		return d.releaseOnce(), nil
	}
	if d.queue.Len() >= d.capacity {
		queued := d.queue.Len()
		d.mu.Unlock()
		return nil, goerr.Wrap(model.ErrBackpressure, "embedding queue is at capacity",
			goerr.V("queued", queued),
			goerr.V("capacity", d.capacity))
	}

	d.nextID++
	w := &waiter{id: d.nextID, ready: make(chan struct{})}
	elem := d.queue.PushBack(w)
	d.mu.Unlock()

	select {
	case <-w.ready:
		return d.releaseOnce(), nil

	case <-ctx.Done():
		d.mu.Lock()
		if w.granted {
			// the slot arrived together with the cancellation; pass it on
			d.mu.Unlock()
			d.release()
		} else {
			d.queue.Remove(elem)
			d.mu.Unlock()
		}
		return nil, goerr.Wrap(ctx.Err(), "embedding request canceled while queued", goerr.V("request_id", w.id))
	}
}

func (d *dispatcher) releaseOnce() func() {
	var once sync.Once
	return func() { once.Do(d.release) }
}

func (d *dispatcher) release() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if front := d.queue.Front(); front != nil {
		w := d.queue.Remove(front).(*waiter)
		w.granted = true
		close(w.ready)
		return
	}
	d.active--
}

func (d *dispatcher) stats() (active, queued int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active, d.queue.Len()
}
