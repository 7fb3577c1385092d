// Package framegraph orchestrates the render and compute work of one frame.
//
// # Overview
//
// A frame is described as a sequence of nodes (passes). Each node declares,
// in a setup callback, which resources it reads and writes and in which
// state. The graph resolves every declaration against the state the
// resource was last left in and records the state transitions the node
// needs. An execute callback, run later on a worker goroutine, records the
// node's commands.
//
//	rt := framegraph.NewRuntime(framegraph.Config{})
//	g, _ := rt.BeginFrame()
//
//	type gbuffer struct{ albedo framegraph.Handle }
//	gb := framegraph.AddNode(g, "gbuffer", gbuffer{},
//	    func(b *framegraph.NodeBuilder, d *gbuffer) {
//	        d.albedo = b.AcquireVirtualResource(albedoDesc, framegraph.StateCommon)
//	        b.WriteResource(d.albedo, framegraph.StateRenderTarget)
//	    },
//	    func(d *gbuffer, res *framegraph.Resources, cmd *framegraph.Commands) error {
//	        return nil // draw
//	    })
//
//	framegraph.AddNode(g, "lighting", struct{}{},
//	    func(b *framegraph.NodeBuilder, _ *struct{}) {
//	        b.ReadResource(gb.albedo, framegraph.StateShaderResource)
//	        b.ReleaseVirtualResource(gb.albedo)
//	    }, nil)
//
//	err := g.Submit(ctx, rt.Workers(), queue)
//
// # Resources
//
// Persistent resources ([Resource]) live across frames and carry their
// state from one frame to the next. Virtual resources are acquired and
// released inside a frame; their memory comes from the transient pool and
// is reused by resources acquired after the release. The first access of
// such reused memory is marked with an aliasing barrier.
//
// Handles are generation-checked: a handle from a previous frame no longer
// resolves.
//
// # Execution
//
// Nodes run in construction order. They are split into contiguous chunks,
// one per worker, each recorded on its own [Recorder]. Command buffers are
// submitted in chunk order as one batch. Because every node replays its
// transitions before it records, a chunk never depends on state another
// chunk left behind.
//
// The first construction error aborts the frame. Any recording or
// submission error drops the whole frame.
//
// # Concurrency
//
// Construction is single-threaded. During execution the registry is read
// concurrently and never written.
//
// # Sub-packages
//
//   - transient: heap-based memory pool with fence-gated reuse
//   - parallel: worker pool and CPU tasks used as data dependencies
//   - pipeline: asynchronous WGSL pipeline cache
//   - backend/native: Queue, Recorder and TransientFactory over wgpu/hal
//   - cmd/fgrun: runs YAML-described frames on a noop device
package framegraph
