// Package transient provides the aliasing memory allocator that backs
// frame-local (virtual) resources.
//
// # Overview
//
// A Pool owns a set of heaps. Each heap is a contiguous byte range carved
// into allocations by a best-fit free list. Transient resources live for at
// most one frame, so the same bytes are handed out again as soon as a
// resource is released. An Allocation reports whether its range previously
// backed another resource so the caller can emit an aliasing barrier before
// first use.
//
// # Reuse Across Frames
//
// The GPU may still be consuming a range after the CPU released it. Every
// release is stamped with the fence value of the frame that released it:
//
//   - ranges released in the current frame are reusable by that frame,
//     because the frame's own barriers order the accesses on the queue;
//   - ranges released by an earlier frame become reusable once the queue
//     reports a completed fence value at or past the stamp;
//   - immediate releases carry no stamp and are reusable at once.
//
// Gating compares fence values instead of taking locks. A Pool is owned by
// the goroutine that builds frames and is not safe for concurrent use.
package transient
