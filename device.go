package framegraph

import (
	"context"

	"github.com/gogpu/framegraph/transient"
)

// CommandBuffer is a finished, backend-specific command buffer.
type CommandBuffer any

// Barrier is one state transition replayed on a Recorder.
type Barrier struct {
	// Handle identifies the resource in the frame.
	Handle Handle

	// Resource is the backend object (persistent native or transient).
	Resource any

	// Kind is the resource kind, letting backends pick texture or buffer
	// barriers.
	Kind Kind

	// Before and After are the states on either side of the barrier.
	Before State
	After  State

	// Alias marks the first use of memory that backed another resource.
	Alias bool
}

// Recorder records commands for one chunk on one worker goroutine.
// A Recorder is never shared between goroutines.
type Recorder interface {
	// Barrier records a batch of state transitions.
	Barrier(barriers []Barrier)

	// Finish ends recording and returns the command buffer.
	Finish() (CommandBuffer, error)

	// Discard abandons recording. Safe to call after a failed Finish.
	Discard()
}

// Queue is the device queue a frame is submitted to.
type Queue interface {
	// NewRecorder begins a recorder. It is called concurrently, once per chunk.
	NewRecorder(label string) (Recorder, error)

	// Submit submits command buffers in order as one batch and signals
	// the queue fence with value once they complete.
	Submit(bufs []CommandBuffer, signal uint64) error

	// Discard frees finished command buffers that will not be submitted.
	Discard(bufs []CommandBuffer)

	// Completed returns the highest signal value the GPU has finished.
	Completed() uint64
}

// TransientFactory creates backend objects for transient resources placed
// in the transient pool.
type TransientFactory interface {
	// CreateTransient creates (or recycles) the backend object for desc
	// placed at alloc.
	CreateTransient(desc ResourceDesc, alloc transient.Allocation) (any, error)

	// DestroyTransient hands the object back. The GPU may use it until the
	// queue completes fence.
	DestroyTransient(native any, fence uint64)
}

// PipelineSource resolves pipeline state objects by logical identifier.
type PipelineSource interface {
	// Pipeline returns the pipeline and whether it is ready.
	Pipeline(id string) (any, bool)
}

// Executor runs chunk recording work across worker goroutines.
// *parallel.WorkerPool implements Executor.
type Executor interface {
	// Workers returns how many chunks the frame is split into.
	Workers() int

	// Run executes every item, blocks until all return, and joins errors.
	Run(work []func() error) error
}

// DataDependency is CPU work a frame waits for before recording starts.
// *parallel.Task implements DataDependency.
type DataDependency interface {
	Wait(ctx context.Context) error
}
