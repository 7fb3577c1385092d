package framegraph

import "github.com/gogpu/framegraph/transient"

// DefaultWorkers is the number of recording workers a Runtime-owned pool
// starts with.
const DefaultWorkers = 10

// DefaultTrimInterval is the number of frames between automatic trims of
// idle transient memory.
const DefaultTrimInterval = 120

// Config holds configuration for creating a Runtime.
type Config struct {
	// Workers is the worker count of the pool returned by Runtime.Workers.
	// Defaults to DefaultWorkers if <= 0.
	Workers int

	// Transient configures the transient pool.
	Transient transient.Config

	// Factory creates backend objects for transient resources. Optional.
	Factory TransientFactory

	// Pipelines resolves pipeline lookups from execute callbacks. Optional.
	Pipelines PipelineSource

	// Validate runs Schedule.Validate on every Compile.
	Validate bool

	// TrimInterval is the number of frames between calls to Runtime.Trim
	// from BeginFrame. Defaults to DefaultTrimInterval if 0; negative
	// disables automatic trimming.
	TrimInterval int
}
