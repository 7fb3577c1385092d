package transient

import (
	"errors"
	"fmt"
	"sort"
)

// Pool errors.
var (
	// ErrBudgetExceeded is returned when growing the pool would exceed MaxBytes.
	ErrBudgetExceeded = errors.New("transient: pool budget exceeded")

	// ErrDoubleRelease is returned when an allocation is released twice.
	ErrDoubleRelease = errors.New("transient: allocation already released")

	// ErrUnknownAllocation is returned for allocations this pool never issued.
	ErrUnknownAllocation = errors.New("transient: allocation not owned by pool")

	// ErrInvalidSize is returned for zero sizes or malformed alignments.
	ErrInvalidSize = errors.New("transient: invalid allocation size")
)

// Default pool parameters.
const (
	// DefaultHeapSize is the size of each heap the pool grows by (64 MB).
	DefaultHeapSize uint64 = 64 << 20

	// DefaultAlignment is the granularity every allocation is rounded to.
	DefaultAlignment uint64 = 256
)

// Config holds configuration for creating a Pool.
type Config struct {
	// HeapSize is the size of each new heap. Requests larger than HeapSize
	// get a dedicated heap of exactly their size.
	// Defaults to DefaultHeapSize if 0.
	HeapSize uint64

	// MaxBytes caps the total bytes reserved across all heaps.
	// Zero means unlimited.
	MaxBytes uint64

	// Alignment is the allocation granularity. Must be a power of two.
	// Defaults to DefaultAlignment if 0.
	Alignment uint64
}

// Allocation is a byte range inside one of the pool's heaps.
type Allocation struct {
	// ID identifies the allocation for Release. Zero is never issued.
	ID uint64

	// Heap identifies the heap the range lives in.
	Heap uint32

	// Offset is the byte offset of the range inside the heap.
	Offset uint64

	// Size is the byte size of the range, rounded to the pool alignment.
	Size uint64

	// Aliased reports that some part of the range previously backed
	// another allocation. The first access must be preceded by an
	// aliasing barrier.
	Aliased bool
}

// End returns the first byte past the range.
func (a Allocation) End() uint64 { return a.Offset + a.Size }

// IsZero reports whether a is the zero Allocation.
func (a Allocation) IsZero() bool { return a.ID == 0 }

// Overlaps reports whether a and b share any byte of the same heap.
func (a Allocation) Overlaps(b Allocation) bool {
	return a.Heap == b.Heap && a.Offset < b.End() && b.Offset < a.End()
}

// String returns a compact description of the allocation.
func (a Allocation) String() string {
	return fmt.Sprintf("alloc#%d[heap=%d off=%d size=%d aliased=%t]", a.ID, a.Heap, a.Offset, a.Size, a.Aliased)
}

// span is a free range. fence is the frame fence value that released it,
// or zero when the range carries no in-flight consumer.
type span struct {
	offset uint64
	size   uint64
	fence  uint64
}

func (s span) end() uint64 { return s.offset + s.size }

// heap is one contiguous block carved by the free list.
type heap struct {
	id   uint32
	size uint64

	// free is sorted by offset; neighbours with equal fences are merged.
	free []span

	// touched holds the merged ranges that have ever backed an allocation.
	touched []span

	live int
}

// Pool is a best-fit aliasing allocator for transient resources.
//
// Pool is not safe for concurrent use.
type Pool struct {
	cfg Config

	heaps    []*heap
	nextHeap uint32
	nextID   uint64
	live     map[uint64]Allocation

	reserved uint64

	// frame is the fence value the frame under construction will signal.
	frame uint64

	// completed is the highest fence value the queue reported finished.
	completed uint64
}

// NewPool creates an empty pool. No memory is reserved until the first Acquire.
func NewPool(cfg Config) *Pool {
	if cfg.HeapSize == 0 {
		cfg.HeapSize = DefaultHeapSize
	}
	if cfg.Alignment == 0 || cfg.Alignment&(cfg.Alignment-1) != 0 {
		cfg.Alignment = DefaultAlignment
	}
	return &Pool{
		cfg:    cfg,
		nextID: 1,
		live:   make(map[uint64]Allocation),
	}
}

// Config returns the effective configuration.
func (p *Pool) Config() Config { return p.cfg }

// BeginFrame records the fence value the next frame will signal and the
// highest value the queue has completed. Ranges whose stamp is complete
// become unconditionally reusable.
func (p *Pool) BeginFrame(fence, completed uint64) {
	p.frame = fence
	if completed > p.completed {
		p.completed = completed
	}
	for _, h := range p.heaps {
		for i := range h.free {
			if h.free[i].fence != 0 && h.free[i].fence <= p.completed {
				h.free[i].fence = 0
			}
		}
		h.coalesce()
	}
}

// Completed returns the highest completed fence value the pool has seen.
func (p *Pool) Completed() uint64 { return p.completed }

// eligible reports whether a free range may be handed out now.
func (p *Pool) eligible(s span) bool {
	return s.fence == 0 || s.fence <= p.completed || s.fence == p.frame
}

// Acquire returns a range of at least size bytes aligned to align (or the
// pool alignment when align is 0). The smallest eligible free range that
// fits is chosen, so an exact fit always wins. When nothing fits the pool
// grows by one heap.
func (p *Pool) Acquire(size, align uint64) (Allocation, error) {
	if size == 0 {
		return Allocation{}, ErrInvalidSize
	}
	if align == 0 {
		align = p.cfg.Alignment
	}
	if align&(align-1) != 0 {
		return Allocation{}, fmt.Errorf("%w: alignment %d is not a power of two", ErrInvalidSize, align)
	}
	size = alignUp(size, p.cfg.Alignment)

	hi, si, start, ok := p.bestFit(size, align)
	if !ok {
		if err := p.grow(size); err != nil {
			return Allocation{}, err
		}
		hi, si, start = len(p.heaps)-1, 0, 0
	}

	h := p.heaps[hi]
	h.carve(si, start, size)
	a := Allocation{
		ID:      p.nextID,
		Heap:    h.id,
		Offset:  start,
		Size:    size,
		Aliased: h.wasTouched(start, size),
	}
	p.nextID++
	h.touch(start, size)
	h.live++
	p.live[a.ID] = a

	slogger().Debug("transient: acquire", "alloc", a.String())
	return a, nil
}

// bestFit scans every eligible free range and returns the one leaving the
// least unused space.
func (p *Pool) bestFit(size, align uint64) (hi, si int, start uint64, ok bool) {
	bestWaste := ^uint64(0)
	for i, h := range p.heaps {
		for j, s := range h.free {
			if !p.eligible(s) {
				continue
			}
			at := alignUp(s.offset, align)
			pad := at - s.offset
			if pad > s.size || s.size-pad < size {
				continue
			}
			waste := s.size - pad - size
			if !ok || waste < bestWaste {
				hi, si, start, bestWaste, ok = i, j, at, waste, true
				if waste == 0 {
					return hi, si, start, ok
				}
			}
		}
	}
	return hi, si, start, ok
}

// grow appends a heap large enough for size bytes.
func (p *Pool) grow(size uint64) error {
	heapSize := max(p.cfg.HeapSize, size)
	if p.cfg.MaxBytes > 0 && p.reserved+heapSize > p.cfg.MaxBytes {
		if p.reserved+size > p.cfg.MaxBytes {
			return fmt.Errorf("%w: need %d bytes, %d of %d reserved",
				ErrBudgetExceeded, size, p.reserved, p.cfg.MaxBytes)
		}
		heapSize = p.cfg.MaxBytes - p.reserved
	}

	h := &heap{
		id:   p.nextHeap,
		size: heapSize,
		free: []span{{offset: 0, size: heapSize}},
	}
	p.nextHeap++
	p.heaps = append(p.heaps, h)
	p.reserved += heapSize

	slogger().Debug("transient: heap created", "heap", h.id, "bytes", heapSize, "reserved", p.reserved)
	return nil
}

// Release returns an allocation's range to the free list. Unless immediate
// is set, the range is stamped with the current frame's fence value and
// later frames only reuse it once that value has completed.
func (p *Pool) Release(a Allocation, immediate bool) error {
	live, ok := p.live[a.ID]
	if !ok {
		if a.ID != 0 && a.ID < p.nextID {
			return fmt.Errorf("%w: %s", ErrDoubleRelease, a)
		}
		return fmt.Errorf("%w: %s", ErrUnknownAllocation, a)
	}
	h := p.heap(live.Heap)
	if h == nil {
		return fmt.Errorf("%w: heap %d", ErrUnknownAllocation, live.Heap)
	}
	delete(p.live, a.ID)

	var fence uint64
	if !immediate {
		fence = p.frame
	}
	h.insert(span{offset: live.Offset, size: live.Size, fence: fence})
	h.live--

	slogger().Debug("transient: release", "alloc", live.String(), "fence", fence)
	return nil
}

// Trim drops heaps that hold no live allocation and no in-flight range.
// It returns the number of bytes given back.
func (p *Pool) Trim() uint64 {
	var freed uint64
	kept := p.heaps[:0]
	for _, h := range p.heaps {
		if h.live == 0 && p.settled(h) {
			freed += h.size
			p.reserved -= h.size
			continue
		}
		kept = append(kept, h)
	}
	for i := len(kept); i < len(p.heaps); i++ {
		p.heaps[i] = nil
	}
	p.heaps = kept
	if freed > 0 {
		slogger().Debug("transient: trimmed heaps", "bytes", freed, "reserved", p.reserved)
	}
	return freed
}

// settled reports whether every free range of h has completed on the GPU.
func (p *Pool) settled(h *heap) bool {
	for _, s := range h.free {
		if s.fence != 0 && s.fence > p.completed {
			return false
		}
	}
	return true
}

func (p *Pool) heap(id uint32) *heap {
	for _, h := range p.heaps {
		if h.id == id {
			return h
		}
	}
	return nil
}

// Live returns the live allocation with the given ID.
func (p *Pool) Live(id uint64) (Allocation, bool) {
	a, ok := p.live[id]
	return a, ok
}

// Stats contains pool usage statistics.
type Stats struct {
	Heaps           int
	ReservedBytes   uint64
	LiveBytes       uint64
	LiveAllocations int
	FreeRanges      int

	// PendingBytes are free bytes still waiting on a GPU fence.
	PendingBytes uint64
}

// String returns a human-readable string of pool stats.
func (s Stats) String() string {
	return fmt.Sprintf("Transient[%d heaps, %d/%d KB live, %d allocs, %d free ranges, %d KB pending]",
		s.Heaps, s.LiveBytes/1024, s.ReservedBytes/1024, s.LiveAllocations, s.FreeRanges, s.PendingBytes/1024)
}

// Stats returns current usage statistics.
func (p *Pool) Stats() Stats {
	st := Stats{
		Heaps:           len(p.heaps),
		ReservedBytes:   p.reserved,
		LiveAllocations: len(p.live),
	}
	for _, a := range p.live {
		st.LiveBytes += a.Size
	}
	for _, h := range p.heaps {
		st.FreeRanges += len(h.free)
		for _, s := range h.free {
			if s.fence != 0 && s.fence > p.completed {
				st.PendingBytes += s.size
			}
		}
	}
	return st
}

// Validate checks that no two live allocations share bytes and that no
// live allocation overlaps a free range.
func (p *Pool) Validate() error {
	byHeap := make(map[uint32][]Allocation)
	for _, a := range p.live {
		byHeap[a.Heap] = append(byHeap[a.Heap], a)
	}
	for id, list := range byHeap {
		sort.Slice(list, func(i, j int) bool { return list[i].Offset < list[j].Offset })
		for i := 1; i < len(list); i++ {
			if list[i-1].Overlaps(list[i]) {
				return fmt.Errorf("transient: heap %d: %s overlaps %s", id, list[i-1], list[i])
			}
		}
		h := p.heap(id)
		if h == nil {
			return fmt.Errorf("%w: heap %d", ErrUnknownAllocation, id)
		}
		for _, a := range list {
			for _, s := range h.free {
				if a.Offset < s.end() && s.offset < a.End() {
					return fmt.Errorf("transient: heap %d: %s overlaps free range [%d,%d)", id, a, s.offset, s.end())
				}
			}
		}
	}
	return nil
}

// carve removes [start, start+size) from free range si, keeping the
// leading padding and the trailing remainder as free ranges.
func (h *heap) carve(si int, start, size uint64) {
	s := h.free[si]
	parts := make([]span, 0, 2)
	if start > s.offset {
		parts = append(parts, span{offset: s.offset, size: start - s.offset, fence: s.fence})
	}
	if end := start + size; end < s.end() {
		parts = append(parts, span{offset: end, size: s.end() - end, fence: s.fence})
	}
	h.free = append(h.free[:si], append(parts, h.free[si+1:]...)...)
}

// insert adds a free range in offset order and merges it with neighbours.
func (h *heap) insert(s span) {
	i := sort.Search(len(h.free), func(i int) bool { return h.free[i].offset >= s.offset })
	h.free = append(h.free, span{})
	copy(h.free[i+1:], h.free[i:])
	h.free[i] = s
	h.coalesce()
}

// coalesce merges adjacent free ranges that carry the same fence stamp.
// Ranges with different stamps stay apart so gating remains exact.
func (h *heap) coalesce() {
	if len(h.free) < 2 {
		return
	}
	out := h.free[:1]
	for _, s := range h.free[1:] {
		last := &out[len(out)-1]
		if last.end() == s.offset && last.fence == s.fence {
			last.size += s.size
			continue
		}
		out = append(out, s)
	}
	h.free = out
}

// wasTouched reports whether [off, off+size) overlaps any range that has
// backed an allocation before.
func (h *heap) wasTouched(off, size uint64) bool {
	end := off + size
	for _, t := range h.touched {
		if off < t.end() && t.offset < end {
			return true
		}
	}
	return false
}

// touch records [off, off+size) as having backed an allocation.
func (h *heap) touch(off, size uint64) {
	i := sort.Search(len(h.touched), func(i int) bool { return h.touched[i].offset >= off })
	h.touched = append(h.touched, span{})
	copy(h.touched[i+1:], h.touched[i:])
	h.touched[i] = span{offset: off, size: size}

	out := h.touched[:1]
	for _, t := range h.touched[1:] {
		last := &out[len(out)-1]
		if t.offset <= last.end() {
			if t.end() > last.end() {
				last.size = t.end() - last.offset
			}
			continue
		}
		out = append(out, t)
	}
	h.touched = out
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}
