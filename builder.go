package framegraph

import (
	"fmt"

	"github.com/gogpu/framegraph/parallel"
)

// NodeBuilder is the only API a setup callback may use. It resolves every
// declared access against the graph's tracking context and accumulates
// the transitions the node needs.
//
// The first error poisons the whole graph: later calls become no-ops and
// return the zero Handle, and Compile reports the error.
type NodeBuilder struct {
	graph    *Graph
	node     *Node
	tracking *trackingContext

	transitions []Transition
	accesses    []Access
	built       bool
}

// Import returns the frame handle of a persistent resource, registering it
// on first touch.
func (b *NodeBuilder) Import(res *Resource) Handle {
	if b.failed() {
		return Handle{}
	}
	if res == nil {
		b.fail(fmt.Errorf("%w: nil resource", ErrStaleHandle))
		return Handle{}
	}
	return b.graph.registry.FindResource(res)
}

// ReadResource declares that the node reads h in state s.
func (b *NodeBuilder) ReadResource(h Handle, s State) Handle {
	b.resolve(h, s, false)
	return h
}

// WriteResource declares that the node writes h in state s.
func (b *NodeBuilder) WriteResource(h Handle, s State) Handle {
	b.resolve(h, s, true)
	return h
}

// AcquireVirtualResource creates a transient resource backed by the
// transient pool. It starts untracked in initial; the first access decides
// the first transition.
func (b *NodeBuilder) AcquireVirtualResource(desc ResourceDesc, initial State) Handle {
	if b.failed() {
		return Handle{}
	}
	h, err := b.graph.registry.createVirtual(desc, initial)
	if err != nil {
		b.fail(err)
		return Handle{}
	}
	Logger().Debug("framegraph: acquire virtual", "node", b.node.name, "resource", desc.Label, "handle", h.String())
	return h
}

// ReleaseVirtualResource ends the lifetime of a transient resource. Its
// memory may back resources acquired by later nodes.
func (b *NodeBuilder) ReleaseVirtualResource(h Handle) {
	if b.failed() {
		return
	}
	if b.tracking.isRetired(h) {
		b.fail(fmt.Errorf("%w: %v", ErrDoubleRelease, h))
		return
	}
	if err := b.graph.registry.releaseVirtual(h); err != nil {
		b.fail(err)
		return
	}
	b.tracking.retire(h)
}

// AddDataDependency makes the frame wait for task before recording starts.
// A nil task, including a nil *parallel.Task, is ignored.
func (b *NodeBuilder) AddDataDependency(task DataDependency) {
	if b.failed() || task == nil {
		return
	}
	if t, ok := task.(*parallel.Task); ok && t == nil {
		return
	}
	b.graph.deps = append(b.graph.deps, task)
}

// SetDebugName renames a resource for logs and backend labels.
func (b *NodeBuilder) SetDebugName(h Handle, name string) {
	if b.failed() {
		return
	}
	rec, err := b.graph.registry.lookup(h)
	if err != nil {
		b.fail(err)
		return
	}
	rec.desc.Label = name
}

// Build moves the resolved transitions into the node. Only the first call
// has an effect.
func (b *NodeBuilder) Build() {
	if b.built {
		return
	}
	b.built = true

	n := b.node
	n.transitions = b.transitions
	n.accesses = b.accesses
	n.final = make(map[Handle]State, len(b.accesses))
	for _, a := range b.accesses {
		n.final[a.Handle] = a.State
	}
	b.transitions = nil
	b.accesses = nil
}

// Err returns the graph's construction error, if any.
func (b *NodeBuilder) Err() error { return b.graph.err }

// resolve applies the transition-resolution rules to one access.
func (b *NodeBuilder) resolve(h Handle, s State, write bool) {
	if b.failed() {
		return
	}
	if b.tracking.isRetired(h) {
		b.fail(fmt.Errorf("%w: %v", ErrReleased, h))
		return
	}
	rec, err := b.graph.registry.lookup(h)
	if err != nil {
		b.fail(err)
		return
	}
	if rec.released {
		b.fail(fmt.Errorf("%w: %q", ErrReleased, rec.desc.Label))
		return
	}
	if err := checkAccess(rec.desc.Kind, s, write); err != nil {
		b.fail(fmt.Errorf("%q: %w", rec.desc.Label, err))
		return
	}

	// Untracked resources start from the registry's carried-over state,
	// which for a fresh virtual resource is its declared initial state.
	before := rec.state
	if prev, ok := b.tracking.lookup(h); ok {
		before = prev.state
	}

	changed := before != s
	emit := changed || rec.aliasPending
	if emit {
		t := Transition{Handle: h, Before: before, After: s, Alias: rec.aliasPending}
		b.transitions = append(b.transitions, t)
		rec.aliasPending = false
		Logger().Debug("framegraph: transition", "node", b.node.name, "resource", rec.desc.Label, "transition", t.String())
	}
	rec.state = s

	b.tracking.update(h, access{node: b.node, state: s}, write, changed)
	b.accesses = append(b.accesses, Access{Handle: h, State: s, Write: write, Transition: emit})
}

func (b *NodeBuilder) failed() bool { return b.graph.err != nil }

func (b *NodeBuilder) fail(err error) {
	if b.graph.err == nil {
		b.graph.err = fmt.Errorf("framegraph: node %q: %w", b.node.name, err)
	}
}
