// Package parallel provides the worker pool that records frame graph chunks
// concurrently and runs CPU-side data-dependency tasks.
package parallel

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// ErrPoolClosed is returned when work is handed to a closed pool.
var ErrPoolClosed = errors.New("parallel: worker pool closed")

// WorkerPool is a pool of goroutines for parallel command recording.
//
// Each worker owns a queue. Workers steal from other queues when their own
// is empty, which balances chunks whose nodes record at different speeds.
//
// Thread safety: WorkerPool is safe for concurrent use.
type WorkerPool struct {
	queues []chan func()
	done   chan struct{}
	wg     sync.WaitGroup

	// mu guards closed. enqueue holds it shared across the send.
	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool creates a new worker pool with the specified number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	p := &WorkerPool{
		queues: make([]chan func(), workers),
		done:   make(chan struct{}),
	}
	depth := max(workers*4, 8)
	for i := range p.queues {
		p.queues[i] = make(chan func(), depth)
	}

	p.wg.Add(workers)
	for i := range workers {
		go p.loop(i)
	}
	return p
}

func (p *WorkerPool) loop(id int) {
	defer p.wg.Done()
	own := p.queues[id]
	for {
		fn := p.steal(id)
		if fn == nil {
			select {
			case fn = <-own:
			case <-p.done:
				for {
					select {
					case fn := <-own:
						fn()
					default:
						return
					}
				}
			}
		}
		fn()
	}
}

// steal returns queued work from the worker's own queue or, failing that,
// from any other queue. It returns nil when every queue is empty.
func (p *WorkerPool) steal(id int) func() {
	n := len(p.queues)
	for i := range n {
		select {
		case fn := <-p.queues[(id+i)%n]:
			return fn
		default:
		}
	}
	return nil
}

// enqueue sends fn to queue q unless the pool is closed.
func (p *WorkerPool) enqueue(q int, fn func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	p.queues[q] <- fn
	return true
}

// Run executes every item on the pool, blocks until all return, and joins
// their errors. Item i starts on worker i % Workers(). A panicking item is
// reported as an error instead of crashing the worker. Items the pool
// could not accept because it was closed report ErrPoolClosed.
func (p *WorkerPool) Run(work []func() error) error {
	if len(work) == 0 {
		return nil
	}

	errs := make([]error, len(work))
	var wg sync.WaitGroup
	wg.Add(len(work))
	for i, fn := range work {
		item := func() {
			defer wg.Done()
			errs[i] = guard(fn)
		}
		if !p.enqueue(i%len(p.queues), item) {
			errs[i] = ErrPoolClosed
			wg.Done()
		}
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Submit sends a single work item to the worker with the shortest queue.
// It reports whether the item was queued; a closed pool accepts nothing.
func (p *WorkerPool) Submit(fn func()) bool {
	if fn == nil {
		return false
	}
	shortest := 0
	for i := 1; i < len(p.queues); i++ {
		if len(p.queues[i]) < len(p.queues[shortest]) {
			shortest = i
		}
	}
	return p.enqueue(shortest, fn)
}

// Close stops accepting work, runs everything already queued, and stops
// the workers. Close is safe to call multiple times.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()
}

// Workers returns the number of workers in the pool.
func (p *WorkerPool) Workers() int {
	return len(p.queues)
}

// guard runs fn and converts a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parallel: task panicked: %v", r)
		}
	}()
	return fn()
}
