package framegraph

import (
	"fmt"
)

// Resources is the read-only view of the registry handed to execute
// callbacks. It is shared by all workers of a frame.
type Resources struct {
	registry  *Registry
	pipelines PipelineSource
	frame     uint64
}

// GetResource returns the backend object of h.
func (r *Resources) GetResource(h Handle) (any, error) {
	rec, err := r.registry.lookup(h)
	if err != nil {
		return nil, err
	}
	return rec.native, nil
}

// GetTextureWH returns the texel width and height of h.
func (r *Resources) GetTextureWH(h Handle) (width, height uint32, err error) {
	rec, err := r.registry.lookup(h)
	if err != nil {
		return 0, 0, err
	}
	return rec.desc.Width, rec.desc.Height, nil
}

// Name returns the debug name of h, or "" if h does not resolve.
func (r *Resources) Name(h Handle) string {
	rec, err := r.registry.lookup(h)
	if err != nil {
		return ""
	}
	return rec.desc.Label
}

// Pipeline looks up a pipeline by its logical identifier.
func (r *Resources) Pipeline(id string) (any, error) {
	if r.pipelines == nil {
		return nil, fmt.Errorf("%w: no pipeline source for %q", ErrPipelineUnavailable, id)
	}
	p, ok := r.pipelines.Pipeline(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPipelineUnavailable, id)
	}
	return p, nil
}

// Frame returns the fence value of the frame being recorded.
func (r *Resources) Frame() uint64 { return r.frame }

// Commands wraps the chunk's Recorder for one execute callback. Besides
// exposing the recorder, it lets a node change a declared resource's state
// locally; those changes are undone after the node so nodes in other
// chunks see the state the graph resolved.
type Commands struct {
	rec      Recorder
	registry *Registry
	node     *Node

	pending []Barrier

	// local holds node-local states that differ from the declared ones.
	local map[Handle]State
	order []Handle
}

func newCommands(rec Recorder, registry *Registry) *Commands {
	return &Commands{rec: rec, registry: registry, local: make(map[Handle]State)}
}

// Recorder returns the backend recorder. Backends expose their native
// encoder through it.
func (c *Commands) Recorder() Recorder { return c.rec }

// Transition moves h to s for the rest of this node. h must have been
// declared by the node in setup.
func (c *Commands) Transition(h Handle, s State) error {
	declared, ok := c.node.final[h]
	if !ok {
		return fmt.Errorf("%w: node %q, %v", ErrUndeclaredAccess, c.node.name, h)
	}
	rec, err := c.registry.lookup(h)
	if err != nil {
		return err
	}
	if !rec.desc.Kind.Allows(s) {
		return fmt.Errorf("%w: %v resources cannot enter %v", ErrInvalidAccess, rec.desc.Kind, s)
	}

	cur, changed := c.local[h]
	if !changed {
		cur = declared
	}
	if cur == s {
		return nil
	}
	if !changed {
		c.order = append(c.order, h)
	}
	c.local[h] = s
	c.pending = append(c.pending, c.barrier(rec, cur, s, false))
	c.flush()
	return nil
}

// begin prepares for node n and queues its resolved transitions.
func (c *Commands) begin(n *Node) error {
	c.node = n
	for _, t := range n.transitions {
		rec, err := c.registry.lookup(t.Handle)
		if err != nil {
			return err
		}
		c.pending = append(c.pending, c.barrier(rec, t.Before, t.After, t.Alias))
	}
	c.flush()
	return nil
}

// end queues barriers that restore node-local states to the declared ones.
// They are flushed with the next node's barriers or at chunk end.
func (c *Commands) end() {
	for _, h := range c.order {
		cur := c.local[h]
		declared := c.node.final[h]
		if cur == declared {
			continue
		}
		rec, err := c.registry.lookup(h)
		if err != nil {
			continue
		}
		c.pending = append(c.pending, c.barrier(rec, cur, declared, false))
	}
	clear(c.local)
	c.order = c.order[:0]
	c.node = nil
}

// flush records all pending barriers as one batch.
func (c *Commands) flush() {
	if len(c.pending) == 0 {
		return
	}
	c.rec.Barrier(c.pending)
	c.pending = c.pending[:0:0]
}

func (c *Commands) barrier(rec *record, before, after State, alias bool) Barrier {
	return Barrier{
		Handle:   rec.handle,
		Resource: rec.native,
		Kind:     rec.desc.Kind,
		Before:   before,
		After:    after,
		Alias:    alias,
	}
}
