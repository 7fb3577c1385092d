package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gogpu/gputypes"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/pipeline"
)

// FrameDesc is a frame graph described in YAML.
type FrameDesc struct {
	Name      string         `yaml:"name"`
	Workers   int            `yaml:"workers"`
	Resources []ResourceSpec `yaml:"resources"`
	Pipelines []PipelineSpec `yaml:"pipelines"`
	Passes    []PassSpec     `yaml:"passes"`
}

// ResourceSpec describes a persistent resource or, inside a pass, a
// virtual resource the pass acquires.
type ResourceSpec struct {
	Name   string    `yaml:"name"`
	Kind   kindName  `yaml:"kind"`
	Width  uint32    `yaml:"width"`
	Height uint32    `yaml:"height"`
	Format string    `yaml:"format"`
	Size   uint64    `yaml:"size"`
	State  stateName `yaml:"state"`
}

// PipelineSpec registers a shader program with the pipeline cache.
type PipelineSpec struct {
	Name       string `yaml:"name"`
	WGSL       string `yaml:"wgsl"`
	File       string `yaml:"file"`
	EntryPoint string `yaml:"entry_point"`
}

// PassSpec is one node. Setup declares, in order: acquires, reads,
// writes, releases.
type PassSpec struct {
	Name     string         `yaml:"name"`
	Pipeline string         `yaml:"pipeline"`
	Acquire  []ResourceSpec `yaml:"acquire"`
	Reads    []AccessSpec   `yaml:"reads"`
	Writes   []AccessSpec   `yaml:"writes"`
	Release  []string       `yaml:"release"`
}

// AccessSpec is one declared access.
type AccessSpec struct {
	Resource string    `yaml:"resource"`
	State    stateName `yaml:"state"`
}

type stateName framegraph.State

// UnmarshalYAML implements yaml.Unmarshaler for states.
func (s *stateName) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}
	st, err := framegraph.ParseState(name)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*s = stateName(st)
	return nil
}

type kindName framegraph.Kind

// UnmarshalYAML implements yaml.Unmarshaler for kinds.
func (k *kindName) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}
	kind, err := framegraph.ParseKind(name)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*k = kindName(kind)
	return nil
}

var formats = map[string]gputypes.TextureFormat{
	"r8unorm":             gputypes.TextureFormatR8Unorm,
	"rgba8unorm":          gputypes.TextureFormatRGBA8Unorm,
	"bgra8unorm":          gputypes.TextureFormatBGRA8Unorm,
	"r32float":            gputypes.TextureFormatR32Float,
	"rg32float":           gputypes.TextureFormatRG32Float,
	"rgba16float":         gputypes.TextureFormatRGBA16Float,
	"rgba32float":         gputypes.TextureFormatRGBA32Float,
	"depth24plus":         gputypes.TextureFormatDepth24Plus,
	"depth24plusstencil8": gputypes.TextureFormatDepth24PlusStencil8,
	"depth32float":        gputypes.TextureFormatDepth32Float,
}

var errFrame = errors.New("invalid frame description")

// LoadFrame reads a frame description. Pipeline files are resolved
// relative to path.
func LoadFrame(path string) (*FrameDesc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading frame file: %w", err)
	}
	fd, err := ParseFrame(data)
	if err != nil {
		return nil, err
	}
	for i, p := range fd.Pipelines {
		if p.File == "" {
			continue
		}
		src, err := os.ReadFile(filepath.Join(filepath.Dir(path), p.File))
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", p.Name, err)
		}
		fd.Pipelines[i].WGSL = string(src)
	}
	return fd, nil
}

// ParseFrame decodes and checks a frame description.
func ParseFrame(data []byte) (*FrameDesc, error) {
	var fd FrameDesc
	if err := yaml.Unmarshal(data, &fd); err != nil {
		return nil, fmt.Errorf("parsing frame file: %w", err)
	}
	if err := fd.check(); err != nil {
		return nil, err
	}
	return &fd, nil
}

// check validates names. Access and state rules are left to the graph.
func (fd *FrameDesc) check() error {
	if len(fd.Passes) == 0 {
		return fmt.Errorf("%w: no passes", errFrame)
	}
	known := make(map[string]bool)
	declare := func(r ResourceSpec) error {
		if r.Name == "" {
			return fmt.Errorf("%w: resource without name", errFrame)
		}
		if known[r.Name] {
			return fmt.Errorf("%w: resource %q declared twice", errFrame, r.Name)
		}
		if _, err := r.format(); err != nil {
			return err
		}
		known[r.Name] = true
		return nil
	}
	for _, r := range fd.Resources {
		if err := declare(r); err != nil {
			return err
		}
	}
	pipelines := make(map[string]bool)
	for _, p := range fd.Pipelines {
		pipelines[p.Name] = true
	}

	for _, p := range fd.Passes {
		if p.Name == "" {
			return fmt.Errorf("%w: pass without name", errFrame)
		}
		if p.Pipeline != "" && !pipelines[p.Pipeline] {
			return fmt.Errorf("%w: pass %q uses unknown pipeline %q", errFrame, p.Name, p.Pipeline)
		}
		for _, r := range p.Acquire {
			if err := declare(r); err != nil {
				return err
			}
		}
		for _, a := range append(append([]AccessSpec(nil), p.Reads...), p.Writes...) {
			if !known[a.Resource] {
				return fmt.Errorf("%w: pass %q accesses unknown resource %q", errFrame, p.Name, a.Resource)
			}
		}
		for _, name := range p.Release {
			if !known[name] {
				return fmt.Errorf("%w: pass %q releases unknown resource %q", errFrame, p.Name, name)
			}
		}
	}
	return nil
}

func (r ResourceSpec) format() (gputypes.TextureFormat, error) {
	if r.Format == "" {
		return gputypes.TextureFormatUndefined, nil
	}
	f, ok := formats[strings.ToLower(r.Format)]
	if !ok {
		return 0, fmt.Errorf("%w: resource %q has unknown format %q", errFrame, r.Name, r.Format)
	}
	return f, nil
}

func (r ResourceSpec) desc() framegraph.ResourceDesc {
	f, _ := r.format()
	if f == gputypes.TextureFormatUndefined && framegraph.Kind(r.Kind) != framegraph.KindDepth {
		f = gputypes.TextureFormatRGBA8Unorm
	}
	return framegraph.ResourceDesc{
		Label:  r.Name,
		Kind:   framegraph.Kind(r.Kind),
		Width:  r.Width,
		Height: r.Height,
		Format: f,
		Size:   r.Size,
	}
}

// initial returns the declared state, or Common.
func (r ResourceSpec) initial() framegraph.State {
	if r.State == 0 {
		return framegraph.StateCommon
	}
	return framegraph.State(r.State)
}

// Persistent creates the persistent resources. Their state carries over
// from frame to frame.
func (fd *FrameDesc) Persistent() map[string]*framegraph.Resource {
	res := make(map[string]*framegraph.Resource, len(fd.Resources))
	for _, r := range fd.Resources {
		res[r.Name] = framegraph.NewResource(r.desc(), r.initial(), nil)
	}
	return res
}

// Register adds the frame's programs to cache.
func (fd *FrameDesc) Register(cache *pipeline.Cache) error {
	for _, p := range fd.Pipelines {
		err := cache.Register(p.Name, pipeline.Desc{WGSL: p.WGSL, EntryPoint: p.EntryPoint})
		if err != nil {
			return err
		}
	}
	return nil
}

// passData is the node payload: the handles the pass touches.
type passData struct {
	handles []framegraph.Handle
}

// Build adds every pass to g. names maps the handles of the frame back to
// resource names for reporting.
func (fd *FrameDesc) Build(g *framegraph.Graph, persistent map[string]*framegraph.Resource,
	cache *pipeline.Cache,
) (names map[framegraph.Handle]string) {
	names = make(map[framegraph.Handle]string)
	virtual := make(map[string]framegraph.Handle)

	lookup := func(b *framegraph.NodeBuilder, name string) framegraph.Handle {
		if h, ok := virtual[name]; ok {
			return h
		}
		h := b.Import(persistent[name])
		names[h] = name
		return h
	}

	for _, p := range fd.Passes {
		framegraph.AddNode(g, p.Name, passData{}, func(b *framegraph.NodeBuilder, d *passData) {
			if p.Pipeline != "" && cache != nil {
				if task, err := cache.Request(p.Pipeline); err == nil {
					b.AddDataDependency(task)
				}
			}
			for _, r := range p.Acquire {
				h := b.AcquireVirtualResource(r.desc(), r.initial())
				b.SetDebugName(h, r.Name)
				virtual[r.Name] = h
				names[h] = r.Name
				d.handles = append(d.handles, h)
			}
			for _, a := range p.Reads {
				d.handles = append(d.handles, b.ReadResource(lookup(b, a.Resource), framegraph.State(a.State)))
			}
			for _, a := range p.Writes {
				d.handles = append(d.handles, b.WriteResource(lookup(b, a.Resource), framegraph.State(a.State)))
			}
			for _, name := range p.Release {
				b.ReleaseVirtualResource(lookup(b, name))
			}
		}, func(d *passData, res *framegraph.Resources, _ *framegraph.Commands) error {
			if p.Pipeline != "" {
				if _, err := res.Pipeline(p.Pipeline); err != nil {
					return err
				}
			}
			for _, h := range d.handles {
				if _, err := res.GetResource(h); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return names
}
