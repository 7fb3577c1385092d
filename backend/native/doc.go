// Package native runs frame graphs on a wgpu HAL device.
//
// # Overview
//
// The package adapts a hal.Device and hal.Queue to the framegraph backend
// interfaces:
//
//   - Queue implements framegraph.Queue. Each frame is submitted with a
//     monotonically increasing value signalled on a single fence;
//   - Recorder implements framegraph.Recorder over a hal.CommandEncoder and
//     replays resource state transitions as texture barriers;
//   - Factory implements framegraph.TransientFactory and recycles backend
//     textures and buffers once the GPU is done with them.
//
// # Usage
//
//	dev, err := native.NewFromProvider(provider)
//	if err != nil {
//	    return err
//	}
//	defer dev.Close()
//
//	rt := framegraph.NewRuntime(framegraph.Config{Factory: dev.Factory})
//	g, _ := rt.BeginFrame()
//	// ... add nodes ...
//	err = g.Submit(ctx, rt.Workers(), dev.Queue)
//
// # Barriers
//
// HAL texture barriers are expressed as usage transitions. States that map
// to the same usage need no barrier and are skipped. Buffer transitions are
// ordered by the queue itself and are not recorded.
package native
