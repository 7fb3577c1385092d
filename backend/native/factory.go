package native

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/transient"
)

// Texture is a transient texture and its default view.
type Texture struct {
	Texture hal.Texture
	View    hal.TextureView
	Desc    framegraph.ResourceDesc

	key descKey
}

// Buffer is a transient buffer.
type Buffer struct {
	Buffer hal.Buffer
	Size   uint64
	Desc   framegraph.ResourceDesc

	key descKey
}

// descKey identifies interchangeable backend objects. Labels are ignored.
type descKey struct {
	kind   framegraph.Kind
	width  uint32
	height uint32
	layers uint32
	mips   uint32
	sample uint32
	format gputypes.TextureFormat
	size   uint64
}

func keyOf(d framegraph.ResourceDesc) descKey {
	k := descKey{
		kind:   d.Kind,
		width:  d.Width,
		height: d.Height,
		layers: max(d.DepthOrArrayLayers, 1),
		mips:   max(d.MipLevelCount, 1),
		sample: max(d.SampleCount, 1),
		format: d.Format,
		size:   d.Size,
	}
	if isBuffer(d) {
		k.size = d.ByteSize()
	}
	return k
}

// retired is a backend object waiting for its fence before reuse.
type retired struct {
	native any
	fence  uint64
}

// FactoryStats holds factory counters.
type FactoryStats struct {
	// Created counts backend objects created.
	Created uint64

	// Reused counts requests served from the free list.
	Reused uint64

	// Destroyed counts backend objects destroyed.
	Destroyed uint64

	// Idle is the number of objects on the free list.
	Idle int
}

// String returns a one-line summary.
func (s FactoryStats) String() string {
	return fmt.Sprintf("Transients[%d created, %d reused, %d destroyed, %d idle]",
		s.Created, s.Reused, s.Destroyed, s.Idle)
}

// Factory creates HAL textures and buffers for transient resources.
//
// Released objects are kept on a free list keyed by descriptor and handed
// out again once the queue has completed the frame that released them.
// Factory is safe for concurrent use.
type Factory struct {
	device    hal.Device
	completed func() uint64

	mu    sync.Mutex
	free  map[descKey][]retired
	stats FactoryStats
}

var (
	_ framegraph.TransientFactory = (*Factory)(nil)
	_ framegraph.Trimmer          = (*Factory)(nil)
)

// NewFactory creates a factory. completed reports the last finished fence
// value, usually Queue.Completed. A nil completed never reuses objects
// released with a non-zero fence.
func NewFactory(device hal.Device, completed func() uint64) *Factory {
	if completed == nil {
		completed = func() uint64 { return 0 }
	}
	return &Factory{
		device:    device,
		completed: completed,
		free:      make(map[descKey][]retired),
	}
}

// CreateTransient returns a *Texture or *Buffer for desc.
func (f *Factory) CreateTransient(desc framegraph.ResourceDesc, alloc transient.Allocation) (any, error) {
	if f.device == nil {
		return nil, ErrNilDevice
	}
	key := keyOf(desc)
	if native, ok := f.reuse(key); ok {
		relabel(native, desc)
		framegraph.Logger().Debug("native: transient reused", "resource", desc.Label, "alloc", alloc)
		return native, nil
	}

	label := fmt.Sprintf("%s@%s", desc.Label, alloc)
	var (
		native any
		err    error
	)
	if isBuffer(desc) {
		native, err = f.createBuffer(label, desc, key)
	} else {
		native, err = f.createTexture(label, desc, key)
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.stats.Created++
	f.mu.Unlock()
	framegraph.Logger().Debug("native: transient created", "resource", label, "bytes", desc.ByteSize())
	return native, nil
}

func (f *Factory) reuse(key descKey) (any, bool) {
	completed := f.completed()
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.free[key]
	for i, r := range list {
		if r.fence > completed {
			continue
		}
		f.free[key] = append(list[:i], list[i+1:]...)
		f.stats.Reused++
		return r.native, true
	}
	return nil, false
}

func (f *Factory) createTexture(label string, desc framegraph.ResourceDesc, key descKey) (*Texture, error) {
	tex, err := f.device.CreateTexture(&hal.TextureDescriptor{
		Label:         label,
		Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: key.layers},
		MipLevelCount: key.mips,
		SampleCount:   key.sample,
		Dimension:     gputypes.TextureDimension2D,
		Format:        textureFormat(desc),
		Usage:         textureUsages(desc.Kind),
	})
	if err != nil {
		return nil, fmt.Errorf("native: create texture %s: %w", label, err)
	}
	view, err := f.device.CreateTextureView(tex, &hal.TextureViewDescriptor{Label: label + "_view"})
	if err != nil {
		f.device.DestroyTexture(tex)
		return nil, fmt.Errorf("native: create texture view %s: %w", label, err)
	}
	return &Texture{Texture: tex, View: view, Desc: desc, key: key}, nil
}

func (f *Factory) createBuffer(label string, desc framegraph.ResourceDesc, key descKey) (*Buffer, error) {
	buf, err := f.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  key.size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create buffer %s: %w", label, err)
	}
	return &Buffer{Buffer: buf, Size: key.size, Desc: desc, key: key}, nil
}

// DestroyTransient puts native on the free list until fence completes.
func (f *Factory) DestroyTransient(native any, fence uint64) {
	var key descKey
	switch v := native.(type) {
	case *Texture:
		key = v.key
	case *Buffer:
		key = v.key
	default:
		framegraph.Logger().Warn("native: foreign transient object", "type", fmt.Sprintf("%T", native))
		return
	}
	f.mu.Lock()
	f.free[key] = append(f.free[key], retired{native: native, fence: fence})
	f.mu.Unlock()
}

// Trim destroys idle objects whose fence has completed and returns how
// many were destroyed.
func (f *Factory) Trim() int {
	completed := f.completed()
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for key, list := range f.free {
		kept := list[:0]
		for _, r := range list {
			if r.fence <= completed {
				f.destroy(r.native)
				n++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(f.free, key)
		} else {
			f.free[key] = kept
		}
	}
	return n
}

// Stats returns a snapshot of the counters.
func (f *Factory) Stats() FactoryStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.stats
	for _, list := range f.free {
		st.Idle += len(list)
	}
	return st
}

// Close destroys every idle object regardless of fences. Callers wait
// for the queue first.
func (f *Factory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, list := range f.free {
		for _, r := range list {
			f.destroy(r.native)
		}
		delete(f.free, key)
	}
}

func (f *Factory) destroy(native any) {
	switch v := native.(type) {
	case *Texture:
		f.device.DestroyTextureView(v.View)
		f.device.DestroyTexture(v.Texture)
	case *Buffer:
		f.device.DestroyBuffer(v.Buffer)
	}
	f.stats.Destroyed++
}

func relabel(native any, desc framegraph.ResourceDesc) {
	switch v := native.(type) {
	case *Texture:
		v.Desc = desc
	case *Buffer:
		v.Desc = desc
	}
}

// isBuffer reports whether desc is backed by a buffer rather than a texture.
func isBuffer(d framegraph.ResourceDesc) bool {
	return d.Size != 0 || d.Kind == framegraph.KindStreamOut || d.Kind == framegraph.KindQuery
}

func textureFormat(d framegraph.ResourceDesc) gputypes.TextureFormat {
	if d.Format != gputypes.TextureFormatUndefined {
		return d.Format
	}
	if d.Kind == framegraph.KindDepth {
		return gputypes.TextureFormatDepth24PlusStencil8
	}
	return gputypes.TextureFormatRGBA8Unorm
}

// textureUsages returns every usage a texture of kind k may be transitioned to.
func textureUsages(k framegraph.Kind) gputypes.TextureUsage {
	switch k {
	case framegraph.KindRenderTarget, framegraph.KindBackBuffer:
		return gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding |
			gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst
	case framegraph.KindDepth:
		return gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding |
			gputypes.TextureUsageCopySrc
	default:
		return gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopySrc |
			gputypes.TextureUsageCopyDst
	}
}
