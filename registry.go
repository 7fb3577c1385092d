package framegraph

import (
	"fmt"

	"github.com/gogpu/framegraph/transient"
)

// record is the single registry entry of a resource for one frame.
// It is mutated in place while nodes are built.
type record struct {
	handle Handle
	desc   ResourceDesc
	state  State

	native     any
	persistent *Resource

	virtual  bool
	released bool

	// aliasPending is set for a virtual resource whose memory backed
	// another resource; its first access carries an aliasing barrier.
	aliasPending bool
	alloc        transient.Allocation
}

type slot struct {
	gen uint32
	rec *record
}

// Registry is the authoritative table of every resource known to the
// current frame. It is an arena of generation-checked slots: slots are
// recycled between frames and every recycle bumps the generation so stale
// handles fail lookup.
//
// Registry is mutated only while a frame is built. During execution it is
// read concurrently by workers and never written.
type Registry struct {
	slots []slot
	free  []uint32

	byResource map[*Resource]Handle

	// live lists handles created this frame in creation order.
	live []Handle

	pool    *transient.Pool
	factory TransientFactory
}

// NewRegistry creates a registry backed by pool. factory may be nil, in
// which case transient resources have no backend object.
func NewRegistry(pool *transient.Pool, factory TransientFactory) *Registry {
	return &Registry{
		byResource: make(map[*Resource]Handle),
		pool:       pool,
		factory:    factory,
	}
}

// FindResource returns the handle of a persistent resource for this frame,
// creating its record on first touch. The record's state is re-synced from
// the resource's committed state.
func (r *Registry) FindResource(res *Resource) Handle {
	if h, ok := r.byResource[res]; ok {
		return h
	}
	h := r.insert(&record{
		desc:       res.desc,
		state:      res.state,
		native:     res.native,
		persistent: res,
	})
	r.byResource[res] = h
	return h
}

// createVirtual places a transient resource in the pool and registers it.
func (r *Registry) createVirtual(desc ResourceDesc, initial State) (Handle, error) {
	desc = desc.normalized()
	if err := desc.validateTransient(); err != nil {
		return Handle{}, err
	}
	if !desc.Kind.Allows(initial) {
		return Handle{}, fmt.Errorf("%w: %v resources cannot start in %v", ErrInvalidAccess, desc.Kind, initial)
	}

	alloc, err := r.pool.Acquire(desc.ByteSize(), desc.Alignment)
	if err != nil {
		return Handle{}, fmt.Errorf("acquire %q: %w", desc.Label, err)
	}

	var native any
	if r.factory != nil {
		native, err = r.factory.CreateTransient(desc, alloc)
		if err != nil {
			_ = r.pool.Release(alloc, true)
			return Handle{}, fmt.Errorf("create %q: %w", desc.Label, err)
		}
	}

	return r.insert(&record{
		desc:         desc,
		state:        initial,
		native:       native,
		virtual:      true,
		aliasPending: alloc.Aliased,
		alloc:        alloc,
	}), nil
}

// releaseVirtual returns a virtual resource's memory to the pool. The
// record stays until commit so execute callbacks of earlier nodes can
// still resolve it.
func (r *Registry) releaseVirtual(h Handle) error {
	rec, err := r.lookup(h)
	if err != nil {
		return err
	}
	if !rec.virtual {
		return fmt.Errorf("%w: %q", ErrNotVirtual, rec.desc.Label)
	}
	if rec.released {
		return fmt.Errorf("%w: %q", ErrDoubleRelease, rec.desc.Label)
	}
	if err := r.pool.Release(rec.alloc, false); err != nil {
		return err
	}
	rec.released = true
	return nil
}

func (r *Registry) insert(rec *record) Handle {
	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		//nolint:gosec // G115: slot count never approaches 2^32
		idx = uint32(len(r.slots))
		r.slots = append(r.slots, slot{})
	}
	s := &r.slots[idx]
	if s.gen == 0 {
		s.gen = 1
	}
	rec.handle = Handle{index: idx, gen: s.gen}
	s.rec = rec
	r.live = append(r.live, rec.handle)
	return rec.handle
}

// lookup resolves a handle to its record.
func (r *Registry) lookup(h Handle) (*record, error) {
	if !h.IsValid() || int(h.index) >= len(r.slots) {
		return nil, fmt.Errorf("%w: %v", ErrStaleHandle, h)
	}
	s := r.slots[h.index]
	if s.gen != h.gen || s.rec == nil {
		return nil, fmt.Errorf("%w: %v", ErrStaleHandle, h)
	}
	return s.rec, nil
}

// recycle frees a slot and bumps its generation, skipping zero.
func (r *Registry) recycle(h Handle) {
	s := &r.slots[h.index]
	s.rec = nil
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	r.free = append(r.free, h.index)
}

// commit ends a submitted frame. Persistent resources take their final
// state; released virtual resources hand their objects back; virtual
// resources never released are logged as leaks and force-released.
func (r *Registry) commit(fence uint64) {
	for _, h := range r.live {
		rec := r.slots[h.index].rec
		switch {
		case !rec.virtual:
			rec.persistent.state = rec.state
		case !rec.released:
			Logger().Warn("framegraph: leaked transient resource",
				"resource", rec.desc.Label, "handle", h.String(), "bytes", rec.alloc.Size)
			if err := r.pool.Release(rec.alloc, false); err != nil {
				Logger().Warn("framegraph: force release failed", "resource", rec.desc.Label, "err", err)
			}
			r.destroyNative(rec, fence)
		default:
			r.destroyNative(rec, fence)
		}
		r.recycle(h)
	}
	r.reset()
}

// discard ends a frame that was never submitted. Persistent resources keep
// their previous state and all transient memory returns to the pool.
func (r *Registry) discard() {
	for _, h := range r.live {
		rec := r.slots[h.index].rec
		if rec.virtual {
			if !rec.released {
				_ = r.pool.Release(rec.alloc, true)
			}
			r.destroyNative(rec, 0)
		}
		r.recycle(h)
	}
	r.reset()
}

func (r *Registry) destroyNative(rec *record, fence uint64) {
	if r.factory != nil && rec.native != nil {
		r.factory.DestroyTransient(rec.native, fence)
	}
	rec.native = nil
}

func (r *Registry) reset() {
	r.live = r.live[:0]
	clear(r.byResource)
}

// Len returns the number of records in the current frame.
func (r *Registry) Len() int { return len(r.live) }

// State returns the state recorded for h: during construction the state of
// the latest declared access, after Compile the state the frame ends in.
func (r *Registry) State(h Handle) (State, error) {
	rec, err := r.lookup(h)
	if err != nil {
		return 0, err
	}
	return rec.state, nil
}

// Desc returns the descriptor recorded for h.
func (r *Registry) Desc(h Handle) (ResourceDesc, error) {
	rec, err := r.lookup(h)
	if err != nil {
		return ResourceDesc{}, err
	}
	return rec.desc, nil
}

// Allocation returns the transient allocation backing h. ok is false for
// persistent resources.
func (r *Registry) Allocation(h Handle) (transient.Allocation, bool) {
	rec, err := r.lookup(h)
	if err != nil || !rec.virtual {
		return transient.Allocation{}, false
	}
	return rec.alloc, true
}
