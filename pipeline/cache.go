// Package pipeline caches shader programs for frame graph nodes.
//
// Programs are registered under a logical identifier with their WGSL
// source and compiled asynchronously on a worker pool: WGSL is lowered to
// SPIR-V with naga and, when a ModuleFactory is configured, turned into a
// backend shader module. Execute callbacks look programs up through
// framegraph.Resources.Pipeline; a program still compiling reports
// unavailable instead of blocking the recording worker.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/parallel"
)

// Cache errors.
var (
	// ErrUnknownPipeline is returned for identifiers never registered.
	ErrUnknownPipeline = errors.New("pipeline: unknown identifier")

	// ErrDuplicatePipeline is returned when an identifier is registered
	// twice with different sources.
	ErrDuplicatePipeline = errors.New("pipeline: identifier registered with different source")

	// ErrEmptySource is returned when a descriptor has no WGSL.
	ErrEmptySource = errors.New("pipeline: empty shader source")

	// ErrCompile wraps shader compilation and module creation failures.
	ErrCompile = errors.New("pipeline: compilation failed")

	// ErrCacheClosed is returned after Close.
	ErrCacheClosed = errors.New("pipeline: cache closed")
)

// DefaultWorkers is the number of compile workers when Config.Workers is 0.
const DefaultWorkers = 2

// Desc describes one program.
type Desc struct {
	// Label is a debug name for the backend module. Defaults to the identifier.
	Label string

	// WGSL is the shader source.
	WGSL string

	// EntryPoint is the entry function the node binds. Defaults to "main".
	EntryPoint string
}

// Program is a compiled program as handed to execute callbacks.
type Program struct {
	// ID is the logical identifier.
	ID string

	// EntryPoint is the entry function.
	EntryPoint string

	// SPIRV is the compiled code. Programs with identical sources share it.
	SPIRV []uint32

	// Module is the backend shader module, or nil without a ModuleFactory.
	Module any
}

// Config configures a Cache.
type Config struct {
	// Workers is the number of compile workers. Defaults to DefaultWorkers.
	Workers int

	// Compiler lowers WGSL to SPIR-V. Defaults to Naga.
	Compiler Compiler

	// Modules creates backend shader modules. Optional.
	Modules ModuleFactory
}

// job compiles one distinct source exactly once.
type job struct {
	hash  uint64
	label string
	wgsl  string

	once sync.Once
	task *parallel.Task

	// Set by compile before the task completes.
	spirv  []uint32
	module any
}

type entry struct {
	id   string
	desc Desc
	job  *job

	once sync.Once
	prog *Program
}

// Cache is a concurrent program cache keyed by logical identifier.
// Identical sources registered under several identifiers compile once.
//
// Cache is safe for concurrent use.
type Cache struct {
	cfg  Config
	pool *parallel.WorkerPool

	mu      sync.RWMutex
	entries map[string]*entry
	jobs    map[uint64]*job
	closed  bool

	hits     atomic.Uint64
	misses   atomic.Uint64
	compiles atomic.Uint64
}

var _ framegraph.PipelineSource = (*Cache)(nil)

// NewCache creates an empty cache and starts its compile workers.
func NewCache(cfg Config) *Cache {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Compiler == nil {
		cfg.Compiler = Naga
	}
	return &Cache{
		cfg:     cfg,
		pool:    parallel.NewWorkerPool(cfg.Workers),
		entries: make(map[string]*entry),
		jobs:    make(map[uint64]*job),
	}
}

// Register adds a program without compiling it. Registering the same
// identifier with the same source again is a no-op.
func (c *Cache) Register(id string, desc Desc) error {
	if desc.WGSL == "" {
		return fmt.Errorf("%w: %q", ErrEmptySource, id)
	}
	if desc.Label == "" {
		desc.Label = id
	}
	if desc.EntryPoint == "" {
		desc.EntryPoint = "main"
	}
	h := hashSource(desc.WGSL)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCacheClosed
	}
	if e, ok := c.entries[id]; ok {
		if e.job.hash != h || e.desc.EntryPoint != desc.EntryPoint {
			return fmt.Errorf("%w: %q", ErrDuplicatePipeline, id)
		}
		return nil
	}
	j, ok := c.jobs[h]
	if !ok {
		j = &job{hash: h, label: desc.Label, wgsl: desc.WGSL}
		c.jobs[h] = j
	}
	c.entries[id] = &entry{id: id, desc: desc, job: j}
	return nil
}

// Request starts compiling id if it has not started yet and returns the
// task that completes with it. The task can be passed to
// NodeBuilder.AddDataDependency to make a frame wait for the program.
func (c *Cache) Request(id string) (*parallel.Task, error) {
	c.mu.RLock()
	e, ok := c.entries[id]
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, ErrCacheClosed
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPipeline, id)
	}
	return c.start(e.job), nil
}

// RequestAll starts compiling every registered program.
func (c *Cache) RequestAll() []*parallel.Task {
	c.mu.RLock()
	jobs := make([]*job, 0, len(c.jobs))
	for _, j := range c.jobs {
		jobs = append(jobs, j)
	}
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil
	}

	tasks := make([]*parallel.Task, 0, len(jobs))
	for _, j := range jobs {
		tasks = append(tasks, c.start(j))
	}
	return tasks
}

func (c *Cache) start(j *job) *parallel.Task {
	j.once.Do(func() {
		j.task = parallel.Go(c.pool, func() error { return c.compile(j) })
	})
	return j.task
}

// compile lowers one source and creates its backend module.
func (c *Cache) compile(j *job) error {
	start := time.Now()
	spirv, err := c.cfg.Compiler(j.wgsl)
	if err != nil {
		framegraph.Logger().Warn("pipeline: compile failed", "label", j.label, "err", err)
		return fmt.Errorf("%w: %s: %w", ErrCompile, j.label, err)
	}
	var module any
	if c.cfg.Modules != nil {
		module, err = c.cfg.Modules.CreateModule(j.label, spirv)
		if err != nil {
			framegraph.Logger().Warn("pipeline: module creation failed", "label", j.label, "err", err)
			return fmt.Errorf("%w: %s: create module: %w", ErrCompile, j.label, err)
		}
	}
	j.spirv = spirv
	j.module = module
	c.compiles.Add(1)

	framegraph.Logger().Debug("pipeline: compiled", "label", j.label,
		"words", len(spirv), "elapsed", time.Since(start))
	return nil
}

// Pipeline returns the *Program registered under id if it finished
// compiling. A registered program that was never requested starts
// compiling now. Failed programs stay unavailable.
func (c *Cache) Pipeline(id string) (any, bool) {
	p, err := c.Program(id)
	if err != nil {
		return nil, false
	}
	return p, true
}

// Program is the typed form of Pipeline. It returns
// framegraph.ErrPipelineUnavailable while the program compiles.
func (c *Cache) Program(id string) (*Program, error) {
	c.mu.RLock()
	e, ok := c.entries[id]
	closed := c.closed
	c.mu.RUnlock()
	switch {
	case closed:
		return nil, ErrCacheClosed
	case !ok:
		c.misses.Add(1)
		return nil, fmt.Errorf("%w: %q", ErrUnknownPipeline, id)
	}

	t := c.start(e.job)
	select {
	case <-t.Done():
	default:
		c.misses.Add(1)
		return nil, fmt.Errorf("%w: %q is compiling", framegraph.ErrPipelineUnavailable, id)
	}
	if err := t.Wait(context.Background()); err != nil {
		c.misses.Add(1)
		return nil, fmt.Errorf("%w: %w", framegraph.ErrPipelineUnavailable, err)
	}
	c.hits.Add(1)
	return e.program(), nil
}

// Wait blocks until id has compiled and returns it.
func (c *Cache) Wait(ctx context.Context, id string) (*Program, error) {
	t, err := c.Request(id)
	if err != nil {
		return nil, err
	}
	if err := t.Wait(ctx); err != nil {
		return nil, err
	}
	return c.Program(id)
}

func (e *entry) program() *Program {
	e.once.Do(func() {
		e.prog = &Program{
			ID:         e.id,
			EntryPoint: e.desc.EntryPoint,
			SPIRV:      e.job.spirv,
			Module:     e.job.module,
		}
	})
	return e.prog
}

// Stats holds cache counters.
type Stats struct {
	// Programs is the number of registered identifiers.
	Programs int

	// Sources is the number of distinct sources.
	Sources int

	// Compiles counts successful compilations.
	Compiles uint64

	// Hits and Misses count lookups through Pipeline and Program.
	Hits   uint64
	Misses uint64
}

// String returns a one-line summary.
func (s Stats) String() string {
	return fmt.Sprintf("Pipelines[%d programs, %d sources, %d compiled, %d hits, %d misses]",
		s.Programs, s.Sources, s.Compiles, s.Hits, s.Misses)
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Programs: len(c.entries),
		Sources:  len(c.jobs),
		Compiles: c.compiles.Load(),
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
	}
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (c *Cache) HitRate() float64 {
	hits := c.hits.Load()
	total := hits + c.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Close waits for running compilations, destroys backend modules and stops
// the workers. Close is idempotent.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	jobs := c.jobs
	c.mu.Unlock()

	for _, j := range jobs {
		j.once.Do(func() { j.task = parallel.Completed(ErrCacheClosed) })
		if err := j.task.Wait(context.Background()); err != nil {
			continue
		}
		if c.cfg.Modules != nil && j.module != nil {
			c.cfg.Modules.DestroyModule(j.module)
		}
	}
	c.pool.Close()
}

// hashSource returns the FNV-1a hash of a WGSL source.
func hashSource(src string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(src))
	return h.Sum64()
}
