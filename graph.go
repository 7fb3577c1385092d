package framegraph

import (
	"context"
	"fmt"
	"sync"

	"github.com/gogpu/framegraph/parallel"
	"github.com/gogpu/framegraph/transient"
)

// Runtime owns the state that outlives a frame: the resource registry, the
// transient pool, and the fence counter. Frames are opened one at a time
// with BeginFrame.
//
// Runtime is not safe for concurrent use; it belongs to the goroutine that
// builds frames.
type Runtime struct {
	cfg      Config
	pool     *transient.Pool
	registry *Registry

	// frame is the fence value signaled by the last submitted frame.
	frame uint64

	// completed is the highest fence value the queue reported finished.
	completed uint64

	open *Graph

	workersOnce sync.Once
	workers     *parallel.WorkerPool
}

// NewRuntime creates a Runtime.
func NewRuntime(cfg Config) *Runtime {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.TrimInterval == 0 {
		cfg.TrimInterval = DefaultTrimInterval
	}
	pool := transient.NewPool(cfg.Transient)
	return &Runtime{
		cfg:      cfg,
		pool:     pool,
		registry: NewRegistry(pool, cfg.Factory),
	}
}

// Workers returns the Runtime's worker pool, starting it on first use.
func (rt *Runtime) Workers() *parallel.WorkerPool {
	rt.workersOnce.Do(func() {
		rt.workers = parallel.NewWorkerPool(rt.cfg.Workers)
	})
	return rt.workers
}

// Close stops the Runtime's worker pool. An open frame is discarded.
func (rt *Runtime) Close() {
	if rt.open != nil {
		rt.open.Discard()
	}
	if rt.workers != nil {
		rt.workers.Close()
	}
}

// Pool returns the transient pool.
func (rt *Runtime) Pool() *transient.Pool { return rt.pool }

// Registry returns the resource registry.
func (rt *Runtime) Registry() *Registry { return rt.registry }

// Frame returns the fence value of the last submitted frame.
func (rt *Runtime) Frame() uint64 { return rt.frame }

// Observe records the queue's completed fence value so transient memory of
// finished frames can be reused.
func (rt *Runtime) Observe(completed uint64) {
	if completed > rt.completed {
		rt.completed = completed
	}
}

// Trimmer is implemented by transient factories that cache backend objects
// and can destroy the idle ones.
type Trimmer interface {
	Trim() int
}

// Trim gives back transient heaps with no live or in-flight range and, if
// the factory is a Trimmer, idle backend objects of completed frames.
// BeginFrame calls it every Config.TrimInterval frames.
func (rt *Runtime) Trim() (freed uint64, destroyed int) {
	freed = rt.pool.Trim()
	if t, ok := rt.cfg.Factory.(Trimmer); ok {
		destroyed = t.Trim()
	}
	if freed > 0 || destroyed > 0 {
		Logger().Debug("framegraph: trim", "bytes", freed, "objects", destroyed, "frame", rt.frame)
	}
	return freed, destroyed
}

// BeginFrame opens a new frame graph.
func (rt *Runtime) BeginFrame() (*Graph, error) {
	if rt.open != nil {
		return nil, ErrFrameInProgress
	}
	fence := rt.frame + 1
	rt.pool.BeginFrame(fence, rt.completed)
	if n := rt.cfg.TrimInterval; n > 0 && fence%uint64(n) == 0 {
		rt.Trim()
	}

	g := &Graph{
		rt:       rt,
		registry: rt.registry,
		tracking: newTrackingContext(),
		fence:    fence,
	}
	rt.open = g
	return g, nil
}

// endFrame closes g. Submitted frames commit resource states; anything
// else is discarded.
func (rt *Runtime) endFrame(g *Graph, submitted bool) {
	if rt.open != g {
		return
	}
	if submitted {
		rt.registry.commit(g.fence)
		rt.frame = g.fence
	} else {
		rt.registry.discard()
	}
	rt.open = nil
}

type graphState uint8

const (
	graphBuilding graphState = iota
	graphCompiled
	graphClosed
)

// Graph is the frame graph of one frame. Nodes are added in construction
// order with AddNode; Compile freezes them into a Schedule.
//
// A Graph is built on one goroutine only.
type Graph struct {
	rt       *Runtime
	registry *Registry
	tracking *trackingContext

	nodes []*Node
	deps  []DataDependency
	err   error
	state graphState

	// fence is the value the queue signals when this frame completes.
	fence uint64
}

// AddNode adds a pass to the graph. initial is copied as the node payload;
// setup runs immediately on the calling goroutine to declare resources and
// may store handles in the payload. The returned pointer lets later nodes
// read what setup produced. execute runs later on a worker goroutine.
//
// If the graph has already failed, setup is not called.
func AddNode[T any](g *Graph, name string, initial T,
	setup func(b *NodeBuilder, data *T),
	execute func(data *T, res *Resources, cmd *Commands) error,
) *T {
	data := new(T)
	*data = initial

	if g.state != graphBuilding {
		if g.err == nil {
			g.err = fmt.Errorf("%w: AddNode(%q)", ErrGraphClosed, name)
		}
		return data
	}
	if g.err != nil {
		return data
	}

	n := &Node{
		name:  name,
		index: len(g.nodes),
		exec:  &typedExecutor[T]{data: data, fn: execute},
	}
	b := &NodeBuilder{graph: g, node: n, tracking: g.tracking}
	if setup != nil {
		setup(b, data)
	}
	b.Build()

	if g.err != nil {
		return data
	}
	g.nodes = append(g.nodes, n)
	return data
}

// Err returns the first construction error.
func (g *Graph) Err() error { return g.err }

// Len returns the number of nodes added so far.
func (g *Graph) Len() int { return len(g.nodes) }

// Nodes returns the nodes in construction order.
func (g *Graph) Nodes() []*Node { return append([]*Node(nil), g.nodes...) }

// Registry returns the registry the graph resolves handles against.
func (g *Graph) Registry() *Registry { return g.registry }

// Fence returns the fence value the frame signals on completion.
func (g *Graph) Fence() uint64 { return g.fence }

// Compile ends construction and returns the immutable schedule. On a
// construction error the frame is discarded and the error returned.
func (g *Graph) Compile() (*Schedule, error) {
	if g.state != graphBuilding {
		return nil, ErrGraphClosed
	}
	if g.err != nil {
		g.abort(g.err)
		return nil, g.err
	}
	g.state = graphCompiled

	s := &Schedule{
		graph: g,
		nodes: g.nodes,
		deps:  g.deps,
	}
	if g.rt.cfg.Validate {
		if err := s.Validate(); err != nil {
			g.err = err
			g.abort(err)
			return nil, err
		}
	}
	Logger().Debug("framegraph: compiled", "frame", g.fence, "nodes", len(g.nodes),
		"resources", g.registry.Len(), "retired", len(g.tracking.retired))
	return s, nil
}

// Submit compiles the graph and executes it on exec and q. A nil exec
// records everything in one synchronous chunk.
func (g *Graph) Submit(ctx context.Context, exec Executor, q Queue) error {
	s, err := g.Compile()
	if err != nil {
		return err
	}
	return s.Execute(ctx, exec, q)
}

// Discard abandons the frame without submitting anything.
func (g *Graph) Discard() {
	if g.state == graphClosed {
		return
	}
	g.state = graphClosed
	g.rt.endFrame(g, false)
}

// abort discards the frame after a fatal error.
func (g *Graph) abort(err error) {
	Logger().Warn("framegraph: frame discarded", "frame", g.fence, "err", err)
	g.Discard()
}
