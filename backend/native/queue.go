package native

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph"
)

// Backend errors.
var (
	// ErrNilDevice is returned when no HAL device or queue is supplied.
	ErrNilDevice = errors.New("native: HAL device or queue is nil")

	// ErrNoHAL is returned by NewFromProvider when the provider does not
	// expose HAL objects.
	ErrNoHAL = errors.New("native: provider does not expose HAL types")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("native: queue closed")

	// ErrForeignBuffer is returned when a command buffer was not produced
	// by a Recorder of this package.
	ErrForeignBuffer = errors.New("native: command buffer is not a HAL command buffer")

	// ErrSignalOrder is returned when a submission does not advance the
	// fence.
	ErrSignalOrder = errors.New("native: fence signal value must increase")

	// ErrTimeout is returned when the GPU does not reach a fence value in time.
	ErrTimeout = errors.New("native: GPU timeout")
)

// DefaultTimeout bounds WaitIdle during Close.
const DefaultTimeout = 5 * time.Second

// inflight is one submitted frame whose command buffers are freed once the
// fence reaches signal.
type inflight struct {
	signal uint64
	bufs   []hal.CommandBuffer
}

// Queue submits frame graph command buffers to a HAL queue.
//
// All frames share one fence; each submission signals a larger value, so
// completion is a single comparison. Queue is safe for concurrent use.
type Queue struct {
	device hal.Device
	queue  hal.Queue

	mu        sync.Mutex
	fence     hal.Fence
	submitted uint64
	completed uint64
	inflight  []inflight
	closed    bool
}

var _ framegraph.Queue = (*Queue)(nil)

// NewQueue creates a queue and its fence.
func NewQueue(device hal.Device, queue hal.Queue) (*Queue, error) {
	if device == nil || queue == nil {
		return nil, ErrNilDevice
	}
	fence, err := device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("native: create fence: %w", err)
	}
	return &Queue{device: device, queue: queue, fence: fence}, nil
}

// NewRecorder creates a command encoder and begins encoding.
func (q *Queue) NewRecorder(label string) (framegraph.Recorder, error) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return newRecorder(q.device, label)
}

// Submit submits bufs as one batch signalling the fence with signal.
// On error the buffers still belong to the caller.
func (q *Queue) Submit(bufs []framegraph.CommandBuffer, signal uint64) error {
	cbs, err := halBuffers(bufs)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	switch {
	case q.closed:
		return ErrClosed
	case signal <= q.submitted:
		return fmt.Errorf("%w: %d after %d", ErrSignalOrder, signal, q.submitted)
	}
	if err := q.queue.Submit(cbs, q.fence, signal); err != nil {
		return fmt.Errorf("native: submit: %w", err)
	}
	q.submitted = signal
	q.inflight = append(q.inflight, inflight{signal: signal, bufs: cbs})

	framegraph.Logger().Debug("native: submitted", "signal", signal, "buffers", len(cbs))
	return nil
}

// Discard frees finished command buffers that were never submitted.
func (q *Queue) Discard(bufs []framegraph.CommandBuffer) {
	for _, b := range bufs {
		if cb, ok := b.(hal.CommandBuffer); ok && cb != nil {
			q.device.FreeCommandBuffer(cb)
		}
	}
}

// Completed polls the fence and returns the highest finished signal value.
// Command buffers of finished frames are freed.
func (q *Queue) Completed() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reapLocked()
	return q.completed
}

// Submitted returns the last signalled value.
func (q *Queue) Submitted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submitted
}

// InFlight returns the number of frames the GPU has not finished.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// WaitIdle blocks until every submitted frame has finished or timeout
// elapses.
func (q *Queue) WaitIdle(timeout time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waitIdleLocked(timeout)
}

func (q *Queue) waitIdleLocked(timeout time.Duration) error {
	if len(q.inflight) == 0 {
		return nil
	}
	last := q.inflight[len(q.inflight)-1].signal
	ok, err := q.device.Wait(q.fence, last, timeout)
	if err != nil {
		return fmt.Errorf("native: wait for GPU: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w after %v waiting for %d", ErrTimeout, timeout, last)
	}
	q.reapLocked()
	return nil
}

// reapLocked frees every frame the fence has passed. Frames complete in
// submission order, so the scan stops at the first unfinished one.
func (q *Queue) reapLocked() {
	n := 0
	for _, in := range q.inflight {
		ok, err := q.device.Wait(q.fence, in.signal, 0)
		if err != nil {
			framegraph.Logger().Warn("native: fence poll failed", "signal", in.signal, "err", err)
			break
		}
		if !ok {
			break
		}
		for _, cb := range in.bufs {
			q.device.FreeCommandBuffer(cb)
		}
		q.completed = in.signal
		n++
	}
	if n > 0 {
		q.inflight = append(q.inflight[:0], q.inflight[n:]...)
	}
}

// Close waits for the GPU, frees outstanding command buffers and destroys
// the fence. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true

	if err := q.waitIdleLocked(DefaultTimeout); err != nil {
		framegraph.Logger().Warn("native: closing with frames in flight", "frames", len(q.inflight), "err", err)
	}
	for _, in := range q.inflight {
		for _, cb := range in.bufs {
			q.device.FreeCommandBuffer(cb)
		}
	}
	q.inflight = nil
	q.device.DestroyFence(q.fence)
}

func halBuffers(bufs []framegraph.CommandBuffer) ([]hal.CommandBuffer, error) {
	cbs := make([]hal.CommandBuffer, 0, len(bufs))
	for i, b := range bufs {
		cb, ok := b.(hal.CommandBuffer)
		if !ok || cb == nil {
			return nil, fmt.Errorf("%w: buffer %d is %T", ErrForeignBuffer, i, b)
		}
		cbs = append(cbs, cb)
	}
	return cbs, nil
}
