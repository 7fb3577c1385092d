package parallel

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// WorkerPool Creation Tests
// =============================================================================

func TestWorkerPool_Create(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	if pool.Workers() != 4 {
		t.Errorf("Workers() = %d, want 4", pool.Workers())
	}
	done := make(chan struct{})
	if !pool.Submit(func() { close(done) }) {
		t.Fatal("Submit() on new pool = false, want true")
	}
	<-done
}

func TestWorkerPool_CreateZeroWorkers(t *testing.T) {
	pool := NewWorkerPool(0)
	defer pool.Close()

	expected := runtime.GOMAXPROCS(0)
	if pool.Workers() != expected {
		t.Errorf("Workers() = %d, want %d (GOMAXPROCS)", pool.Workers(), expected)
	}
}

// =============================================================================
// Run Tests
// =============================================================================

func TestWorkerPool_Run(t *testing.T) {
	pool := NewWorkerPool(3)
	defer pool.Close()

	var mu sync.Mutex
	seen := make(map[int]bool)
	work := make([]func() error, 10)
	for i := range work {
		work[i] = func() error {
			mu.Lock()
			seen[i] = true
			mu.Unlock()
			return nil
		}
	}

	if err := pool.Run(work); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for i := range work {
		if !seen[i] {
			t.Errorf("item %d did not run", i)
		}
	}
}

func TestWorkerPool_RunMany(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	var counter atomic.Int64
	work := make([]func() error, 100)
	for i := range work {
		work[i] = func() error {
			counter.Add(1)
			return nil
		}
	}

	if err := pool.Run(work); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if counter.Load() != int64(len(work)) {
		t.Errorf("counter = %d, want %d", counter.Load(), len(work))
	}
	if err := pool.Run(nil); err != nil {
		t.Errorf("Run(nil) error = %v", err)
	}
}

func TestWorkerPool_RunJoinsErrors(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Close()

	errA := errors.New("chunk a failed")
	errB := errors.New("chunk b failed")

	err := pool.Run([]func() error{
		func() error { return errA },
		func() error { return nil },
		func() error { return errB },
	})
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Run() error = %v, want both chunk errors", err)
	}
}

func TestWorkerPool_RunRecoversPanic(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Close()

	err := pool.Run([]func() error{
		func() error { panic("boom") },
	})
	if err == nil {
		t.Fatal("Run() error = nil, want panic converted to error")
	}

	// The pool must keep working after a panicking item.
	if err := pool.Run([]func() error{func() error { return nil }}); err != nil {
		t.Errorf("Run() after panic error = %v", err)
	}
}

func TestWorkerPool_RunClosed(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Close()

	var executed atomic.Bool
	err := pool.Run([]func() error{
		func() error { executed.Store(true); return nil },
	})
	if !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Run() error = %v, want ErrPoolClosed", err)
	}
	if executed.Load() {
		t.Error("work ran on a closed pool")
	}
}

// =============================================================================
// Submit / Close Tests
// =============================================================================

func TestWorkerPool_Submit(t *testing.T) {
	pool := NewWorkerPool(4)

	var counter atomic.Int64
	numTasks := 20
	done := make(chan struct{})

	for i := 0; i < numTasks; i++ {
		pool.Submit(func() {
			if counter.Add(1) == int64(numTasks) {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Errorf("timeout waiting for submitted work, counter = %d", counter.Load())
	}

	pool.Close()
}

func TestWorkerPool_SubmitRejected(t *testing.T) {
	pool := NewWorkerPool(2)

	if pool.Submit(nil) {
		t.Error("Submit(nil) = true, want false")
	}
	pool.Close()
	if pool.Submit(func() {}) {
		t.Error("Submit() on closed pool = true, want false")
	}
}

func TestWorkerPool_CloseIdempotent(t *testing.T) {
	pool := NewWorkerPool(4)

	pool.Close()
	pool.Close()
	pool.Close()

	if pool.Submit(func() {}) {
		t.Error("Submit() after Close = true, want false")
	}
}

// =============================================================================
// Task Tests
// =============================================================================

func TestTask_Go(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Close()

	want := errors.New("upload failed")
	task := Go(pool, func() error { return want })

	if err := task.Wait(context.Background()); !errors.Is(err, want) {
		t.Errorf("Wait() = %v, want %v", err, want)
	}
}

func TestTask_GoWithoutPool(t *testing.T) {
	var ran atomic.Bool
	task := Go(nil, func() error { ran.Store(true); return nil })

	if err := task.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if !ran.Load() {
		t.Error("task did not run")
	}

	closed := NewWorkerPool(1)
	closed.Close()
	if err := Go(closed, func() error { return nil }).Wait(context.Background()); err != nil {
		t.Errorf("Wait() on closed-pool task = %v", err)
	}
}

func TestTask_WaitContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	task := Go(nil, func() error { <-block; return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := task.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() = %v, want DeadlineExceeded", err)
	}
}

func TestTask_Nil(t *testing.T) {
	var task *Task
	if err := task.Wait(context.Background()); !errors.Is(err, ErrNilTask) {
		t.Errorf("Wait() = %v, want ErrNilTask", err)
	}
	select {
	case <-task.Done():
	default:
		t.Error("nil task is not done")
	}
}

func TestTask_Completed(t *testing.T) {
	task := Completed(nil)
	select {
	case <-task.Done():
	default:
		t.Fatal("Completed task is not done")
	}
	if err := task.Wait(context.Background()); err != nil {
		t.Errorf("Wait() = %v, want nil", err)
	}
}
