package framegraph

import "errors"

// Construction errors. Any of these aborts the frame under construction.
var (
	// ErrStaleHandle is returned for handles that are zero, out of range,
	// or whose slot has been recycled since they were issued.
	ErrStaleHandle = errors.New("framegraph: stale or unknown resource handle")

	// ErrReleased is returned when a node touches a virtual resource
	// after it was released earlier in the frame.
	ErrReleased = errors.New("framegraph: resource accessed after release")

	// ErrDoubleRelease is returned when a virtual resource is released twice.
	ErrDoubleRelease = errors.New("framegraph: virtual resource released twice")

	// ErrNotVirtual is returned when a persistent resource is released.
	ErrNotVirtual = errors.New("framegraph: resource is not virtual")

	// ErrInvalidAccess is returned when a requested state is not valid for
	// the resource kind or the access mode.
	ErrInvalidAccess = errors.New("framegraph: access mode invalid for resource")

	// ErrInvalidDescriptor is returned for transient descriptors that
	// cannot be sized or placed.
	ErrInvalidDescriptor = errors.New("framegraph: invalid resource descriptor")

	// ErrFrameInProgress is returned by BeginFrame while another frame is open.
	ErrFrameInProgress = errors.New("framegraph: a frame is already being built")

	// ErrGraphClosed is returned when nodes are added after Compile.
	ErrGraphClosed = errors.New("framegraph: graph no longer accepts nodes")
)

// Scheduling and execution errors.
var (
	// ErrUnresolvedHazard is returned by Schedule.Validate when a node
	// accesses a resource in a state no prior transition established.
	ErrUnresolvedHazard = errors.New("framegraph: access state left unresolved by a prior node")

	// ErrScheduleConsumed is returned when a Schedule is executed twice.
	ErrScheduleConsumed = errors.New("framegraph: schedule already executed")

	// ErrSubmitFailed wraps every recording or queue failure. The frame
	// is dropped; there is no partial-frame recovery.
	ErrSubmitFailed = errors.New("framegraph: submission failed")

	// ErrUndeclaredAccess is returned when an execute callback transitions
	// a resource its node never declared.
	ErrUndeclaredAccess = errors.New("framegraph: node did not declare resource")

	// ErrPipelineUnavailable is returned when a pipeline lookup misses or
	// the pipeline is still compiling.
	ErrPipelineUnavailable = errors.New("framegraph: pipeline not available")
)
