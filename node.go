package framegraph

import (
	"fmt"
	"sync/atomic"
)

// Transition is a state change of one resource, resolved while the graph
// is built and replayed as a barrier before its node executes.
type Transition struct {
	Handle Handle
	Before State
	After  State

	// Alias marks the first access of a transient resource whose memory
	// backed another resource earlier.
	Alias bool
}

// String returns a debug form such as "res#1.1 RenderTarget->ShaderResource".
func (t Transition) String() string {
	s := fmt.Sprintf("%v %v->%v", t.Handle, t.Before, t.After)
	if t.Alias {
		s += " (alias)"
	}
	return s
}

// Access is one declared use of a resource by a node, in declaration order.
type Access struct {
	Handle Handle
	State  State
	Write  bool

	// Transition reports whether this access emitted a Transition.
	Transition bool
}

// executor is the type-erased execute entry point of a node.
type executor interface {
	execute(res *Resources, cmd *Commands) error
}

// typedExecutor binds a typed execute callback to its payload.
type typedExecutor[T any] struct {
	data *T
	fn   func(*T, *Resources, *Commands) error
}

func (e *typedExecutor[T]) execute(res *Resources, cmd *Commands) error {
	if e.fn == nil {
		return nil
	}
	return e.fn(e.data, res, cmd)
}

// Node is one pass of the frame graph. Everything but the executed flag is
// fixed once Build has run.
type Node struct {
	name  string
	index int

	transitions []Transition
	accesses    []Access

	// final holds the state each declared resource is left in.
	final map[Handle]State

	exec     executor
	executed atomic.Bool
}

// Name returns the debug name given to AddNode.
func (n *Node) Name() string { return n.name }

// Index returns the construction-order position of the node.
func (n *Node) Index() int { return n.index }

// Transitions returns a copy of the resolved transitions.
func (n *Node) Transitions() []Transition {
	return append([]Transition(nil), n.transitions...)
}

// Accesses returns a copy of the declared accesses.
func (n *Node) Accesses() []Access {
	return append([]Access(nil), n.accesses...)
}

// FinalState returns the state the node leaves h in, if it declared h.
func (n *Node) FinalState(h Handle) (State, bool) {
	s, ok := n.final[h]
	return s, ok
}

// Executed reports whether the execution engine has processed the node.
func (n *Node) Executed() bool { return n.executed.Load() }
