package framegraph

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// Chunk is a contiguous range [Start, End) of the schedule recorded by one
// worker.
type Chunk struct {
	Start int
	End   int
}

// Len returns the number of nodes in the chunk.
func (c Chunk) Len() int { return c.End - c.Start }

// Partition splits n nodes into at most workers contiguous chunks of equal
// size (the last may be shorter). The chunks cover [0, n) exactly once.
func Partition(n, workers int) []Chunk {
	if n <= 0 {
		return nil
	}
	workers = max(workers, 1)
	size := (n + workers - 1) / workers
	chunks := make([]Chunk, 0, workers)
	for start := 0; start < n; start += size {
		chunks = append(chunks, Chunk{Start: start, End: min(start+size, n)})
	}
	return chunks
}

// Schedule is the immutable result of Compile: nodes linearized in
// construction order plus the data dependencies to await. A Schedule is
// executed at most once.
type Schedule struct {
	graph *Graph
	nodes []*Node
	deps  []DataDependency

	consumed atomic.Bool
}

// Len returns the number of nodes.
func (s *Schedule) Len() int { return len(s.nodes) }

// Nodes returns the nodes in execution order.
func (s *Schedule) Nodes() []*Node { return append([]*Node(nil), s.nodes...) }

// Chunks returns the partition used when recording with the given worker count.
func (s *Schedule) Chunks(workers int) []Chunk { return Partition(len(s.nodes), workers) }

// Fence returns the fence value the frame signals on completion.
func (s *Schedule) Fence() uint64 { return s.graph.fence }

// Validate scans nodes in order and checks that every access starts from
// the state the previous access left the resource in, either directly or
// through a recorded transition. Chunks only get ordering from those
// transitions, so any gap is a hazard between workers.
func (s *Schedule) Validate() error {
	last := make(map[Handle]State)
	owner := make(map[Handle]*Node)

	for _, n := range s.nodes {
		ti := 0
		for _, a := range n.accesses {
			prev, known := last[a.Handle]
			if a.Transition {
				if ti >= len(n.transitions) || n.transitions[ti].Handle != a.Handle {
					return fmt.Errorf("%w: node %q: transition for %v missing",
						ErrUnresolvedHazard, n.name, a.Handle)
				}
				t := n.transitions[ti]
				ti++
				if known && t.Before != prev {
					return fmt.Errorf("%w: node %q expects %v in %v, node %q left it in %v",
						ErrUnresolvedHazard, n.name, a.Handle, t.Before, owner[a.Handle].name, prev)
				}
				if t.After != a.State {
					return fmt.Errorf("%w: node %q: transition to %v, access in %v",
						ErrUnresolvedHazard, n.name, t.After, a.State)
				}
			} else if known && prev != a.State {
				return fmt.Errorf("%w: node %q accesses %v in %v without a transition from %v (node %q)",
					ErrUnresolvedHazard, n.name, a.Handle, a.State, prev, owner[a.Handle].name)
			}
			last[a.Handle] = a.State
			owner[a.Handle] = n
		}
		if ti != len(n.transitions) {
			return fmt.Errorf("%w: node %q has %d transitions without a declared access",
				ErrUnresolvedHazard, n.name, len(n.transitions)-ti)
		}
	}
	return nil
}

// Execute records every node and submits the frame.
//
// Data dependencies are awaited first. Nodes are then split into
// exec.Workers() contiguous chunks, each recorded on its own Recorder;
// after all chunks finish their command buffers are submitted in chunk
// order with one Queue.Submit. On success resource states are committed.
// Any failure drops the whole frame and returns an error wrapping
// ErrSubmitFailed. ctx is only consulted before recording starts.
func (s *Schedule) Execute(ctx context.Context, exec Executor, q Queue) error {
	if !s.consumed.CompareAndSwap(false, true) {
		return ErrScheduleConsumed
	}
	g := s.graph
	if g.state != graphCompiled {
		return ErrGraphClosed
	}
	start := time.Now()
	g.rt.Observe(q.Completed())

	if err := s.await(ctx); err != nil {
		return s.fail(err)
	}

	workers := 1
	if exec != nil {
		workers = max(exec.Workers(), 1)
	}
	chunks := s.Chunks(workers)
	Logger().Debug("framegraph: recording", "frame", g.fence, "nodes", len(s.nodes), "chunks", len(chunks))

	res := &Resources{registry: g.registry, pipelines: g.rt.cfg.Pipelines, frame: g.fence}
	bufs := make([]CommandBuffer, len(chunks))
	work := make([]func() error, len(chunks))
	for i, c := range chunks {
		work[i] = func() error {
			buf, err := s.recordChunk(i, c, res, q)
			bufs[i] = buf
			return err
		}
	}

	var err error
	if exec == nil || len(work) <= 1 {
		errs := make([]error, 0, len(work))
		for _, w := range work {
			errs = append(errs, w())
		}
		err = errors.Join(errs...)
	} else {
		err = exec.Run(work)
	}
	if err != nil {
		q.Discard(compact(bufs))
		return s.fail(err)
	}

	if err := q.Submit(bufs, g.fence); err != nil {
		q.Discard(bufs)
		return s.fail(fmt.Errorf("queue submit: %w", err))
	}

	g.state = graphClosed
	g.rt.Observe(q.Completed())
	g.rt.endFrame(g, true)

	Logger().Info("framegraph: frame submitted", "frame", g.fence, "nodes", len(s.nodes),
		"chunks", len(chunks), "elapsed", time.Since(start))
	return nil
}

// await blocks until every data dependency has finished.
func (s *Schedule) await(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var errs []error
	for _, d := range s.deps {
		if err := d.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("data dependency: %w", err)
	}
	return nil
}

// recordChunk records nodes [c.Start, c.End) on a fresh recorder.
func (s *Schedule) recordChunk(i int, c Chunk, res *Resources, q Queue) (CommandBuffer, error) {
	rec, err := q.NewRecorder(fmt.Sprintf("framegraph_chunk_%d", i))
	if err != nil {
		return nil, fmt.Errorf("chunk %d: new recorder: %w", i, err)
	}
	cmds := newCommands(rec, s.graph.registry)

	for _, n := range s.nodes[c.Start:c.End] {
		if !n.executed.CompareAndSwap(false, true) {
			continue
		}
		if err := cmds.begin(n); err != nil {
			rec.Discard()
			return nil, fmt.Errorf("chunk %d: node %q: %w", i, n.name, err)
		}
		if err := n.exec.execute(res, cmds); err != nil {
			rec.Discard()
			return nil, fmt.Errorf("chunk %d: node %q: %w", i, n.name, err)
		}
		cmds.end()
	}
	cmds.flush()

	buf, err := rec.Finish()
	if err != nil {
		rec.Discard()
		return nil, fmt.Errorf("chunk %d: finish: %w", i, err)
	}
	return buf, nil
}

// fail drops the frame and wraps err.
func (s *Schedule) fail(err error) error {
	g := s.graph
	Logger().Warn("framegraph: frame dropped", "frame", g.fence, "err", err)
	g.state = graphClosed
	g.rt.endFrame(g, false)
	return fmt.Errorf("%w: frame %d: %w", ErrSubmitFailed, g.fence, err)
}

// compact drops nil command buffers.
func compact(bufs []CommandBuffer) []CommandBuffer {
	out := make([]CommandBuffer, 0, len(bufs))
	for _, b := range bufs {
		if b != nil {
			out = append(out, b)
		}
	}
	return out
}
