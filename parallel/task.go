package parallel

import (
	"context"
	"errors"
)

// ErrNilTask is returned by Wait on a nil *Task.
var ErrNilTask = errors.New("parallel: nil task")

var closed = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Task is a future for one unit of CPU work, such as culling or uploading
// per-frame constants, that a frame must wait for before submission.
//
// Task is safe for concurrent use.
type Task struct {
	done chan struct{}
	err  error
}

// Go schedules fn on the pool and returns its Task. When the pool is nil or
// closed, fn runs on a fresh goroutine instead so the Task still completes.
func Go(p *WorkerPool, fn func() error) *Task {
	t := &Task{done: make(chan struct{})}
	run := func() {
		defer close(t.done)
		t.err = guard(fn)
	}
	if p == nil || !p.Submit(run) {
		go run()
	}
	return t
}

// Completed returns a Task that has already finished with err.
func Completed(err error) *Task {
	t := &Task{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

// Done returns a channel closed when the task finishes. A nil Task is
// always done.
func (t *Task) Done() <-chan struct{} {
	if t == nil {
		return closed
	}
	return t.done
}

// Wait blocks until the task finishes or ctx is done. It returns
// ErrNilTask on a nil Task.
func (t *Task) Wait(ctx context.Context) error {
	if t == nil {
		return ErrNilTask
	}
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
