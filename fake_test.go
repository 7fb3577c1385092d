package framegraph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/transient"
)

var errFake = errors.New("fake failure")

// fakeBuffer is the command buffer produced by fakeRecorder.
type fakeBuffer struct {
	label    string
	barriers []Barrier
}

type fakeRecorder struct {
	q        *fakeQueue
	label    string
	barriers []Barrier
	batches  int
	done     bool
}

func (r *fakeRecorder) Barrier(barriers []Barrier) {
	r.barriers = append(r.barriers, barriers...)
	r.batches++
}

func (r *fakeRecorder) Finish() (CommandBuffer, error) {
	if r.q.failFinish {
		return nil, errFake
	}
	r.done = true
	return &fakeBuffer{label: r.label, barriers: r.barriers}, nil
}

func (r *fakeRecorder) Discard() {
	r.q.mu.Lock()
	r.q.discardedRecorders++
	r.q.mu.Unlock()
}

// fakeQueue records everything submitted to it. Completed reports the
// value set in completed, or the last signal when autoComplete is set.
type fakeQueue struct {
	mu sync.Mutex

	failSubmit   bool
	failFinish   bool
	autoComplete bool

	recorders          []*fakeRecorder
	submitted          [][]CommandBuffer
	signals            []uint64
	discarded          []CommandBuffer
	discardedRecorders int
	completed          uint64
}

func (q *fakeQueue) NewRecorder(label string) (Recorder, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r := &fakeRecorder{q: q, label: label}
	q.recorders = append(q.recorders, r)
	return r, nil
}

func (q *fakeQueue) Submit(bufs []CommandBuffer, signal uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failSubmit {
		return errFake
	}
	q.submitted = append(q.submitted, bufs)
	q.signals = append(q.signals, signal)
	if q.autoComplete {
		q.completed = signal
	}
	return nil
}

func (q *fakeQueue) Discard(bufs []CommandBuffer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.discarded = append(q.discarded, bufs...)
}

func (q *fakeQueue) Completed() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.completed
}

// barriers returns every barrier of the last submission in submit order.
func (q *fakeQueue) barriers() []Barrier {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.submitted) == 0 {
		return nil
	}
	var out []Barrier
	for _, b := range q.submitted[len(q.submitted)-1] {
		out = append(out, b.(*fakeBuffer).barriers...)
	}
	return out
}

// fakeFactory hands out string objects named after the allocation.
type fakeFactory struct {
	mu        sync.Mutex
	created   int
	allocs    []transient.Allocation
	trims     int
	destroyed map[string]uint64
	fail      bool
}

func (f *fakeFactory) CreateTransient(desc ResourceDesc, alloc transient.Allocation) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errFake
	}
	f.created++
	f.allocs = append(f.allocs, alloc)
	return fmt.Sprintf("%s@%d:%d", desc.Label, alloc.Heap, alloc.Offset), nil
}

func (f *fakeFactory) DestroyTransient(native any, fence uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed == nil {
		f.destroyed = make(map[string]uint64)
	}
	f.destroyed[native.(string)] = fence
}

func (f *fakeFactory) Trim() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trims++
	return 0
}

type fakePipelines map[string]any

func (p fakePipelines) Pipeline(id string) (any, bool) {
	v, ok := p[id]
	return v, ok
}

// fakeExecutor runs work items on goroutines, like a worker pool.
type fakeExecutor struct{ workers int }

func (e fakeExecutor) Workers() int { return e.workers }

func (e fakeExecutor) Run(work []func() error) error {
	errs := make([]error, len(work))
	var wg sync.WaitGroup
	for i, w := range work {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = w()
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func colorDesc(label string, w, h uint32) ResourceDesc {
	return ResourceDesc{
		Label:  label,
		Kind:   KindRenderTarget,
		Width:  w,
		Height: h,
		Format: gputypes.TextureFormatRGBA8Unorm,
	}
}
