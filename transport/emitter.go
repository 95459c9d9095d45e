package transport

import (
	"sync"

	"github.com/atoy40/kapton"
)

// emitter delivers the callbacks of one observer in order, on a goroutine
// that lives while the queue is not empty. Callbacks never run under the
// lock of the observable that produced them.
type emitter struct {
	observer kapton.Observer

	mu      sync.Mutex
	queue   []func()
	running bool
	closed  bool
}

func newEmitter(observer kapton.Observer) *emitter {
	return &emitter{observer: observer}
}

func (e *emitter) next(r kapton.Result) {
	if e.observer.Next == nil {
		return
	}
	e.push(func() { e.observer.Next(r) })
}

func (e *emitter) fail(err error) {
	if e.observer.Error == nil {
		return
	}
	e.push(func() { e.observer.Error(err) })
}

func (e *emitter) complete() {
	if e.observer.Complete == nil {
		return
	}
	e.push(func() { e.observer.Complete() })
}

func (e *emitter) push(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.queue = append(e.queue, fn)
	if !e.running {
		e.running = true
		go e.drain()
	}
}

func (e *emitter) drain() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 || e.closed {
			e.queue = nil
			e.running = false
			e.mu.Unlock()
			return
		}
		fn := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()
		fn()
	}
}

// close drops pending callbacks. A callback already running completes.
func (e *emitter) close() {
	e.mu.Lock()
	e.closed = true
	e.queue = nil
	e.mu.Unlock()
}
