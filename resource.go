package framegraph

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// Handle identifies one resource within the current frame.
//
// Handles are small values safe to copy into node payloads. A handle is
// generation-checked: once its slot is recycled (a virtual resource's frame
// ended, or a persistent resource was re-imported next frame) the old
// handle no longer resolves. The zero Handle is never valid.
type Handle struct {
	index uint32
	gen   uint32
}

// IsValid reports whether h was issued by a registry. It does not tell
// whether h is still live; only the registry knows that.
func (h Handle) IsValid() bool { return h.gen != 0 }

// String returns a compact debug form such as "res#3.2".
func (h Handle) String() string {
	return fmt.Sprintf("res#%d.%d", h.index, h.gen)
}

// Resource is a persistent resource such as the back buffer, the main depth
// buffer, or a history target. It outlives frames and carries its device
// state from one frame to the next.
//
// A Resource is read and updated only by the goroutine building frames.
type Resource struct {
	desc   ResourceDesc
	state  State
	native any
}

// NewResource creates a persistent resource in the given initial state.
// native is the backend object (e.g. a hal.Texture) handed to execute
// callbacks through Resources.GetResource.
func NewResource(desc ResourceDesc, initial State, native any) *Resource {
	return &Resource{desc: desc.normalized(), state: initial, native: native}
}

// Name returns the debug name.
func (r *Resource) Name() string { return r.desc.Label }

// Kind returns the resource kind.
func (r *Resource) Kind() Kind { return r.desc.Kind }

// Desc returns the descriptor.
func (r *Resource) Desc() ResourceDesc { return r.desc }

// State returns the state committed by the last submitted frame.
func (r *Resource) State() State { return r.state }

// Native returns the backend object.
func (r *Resource) Native() any { return r.native }

// SetNative swaps the backend object, e.g. when the swapchain hands out a
// new back buffer image each frame. Takes effect on next import.
func (r *Resource) SetNative(native any) { r.native = native }

// ResourceDesc describes a resource. For transient resources it also
// determines how many bytes the transient pool must supply.
type ResourceDesc struct {
	// Label is a debug name shown in logs and backend debug labels.
	Label string

	// Kind classifies the resource.
	Kind Kind

	// Width and Height are texel dimensions.
	Width  uint32
	Height uint32

	// DepthOrArrayLayers is the depth of 3D textures or the layer count.
	// Defaults to 1.
	DepthOrArrayLayers uint32

	// MipLevelCount defaults to 1.
	MipLevelCount uint32

	// SampleCount defaults to 1.
	SampleCount uint32

	// Format is the texel format.
	Format gputypes.TextureFormat

	// Size is an explicit byte size for buffer-like resources. When non-zero
	// it overrides the texel-based size.
	Size uint64

	// Alignment is the placement alignment. Zero uses the pool default.
	Alignment uint64
}

// normalized fills defaulted fields.
func (d ResourceDesc) normalized() ResourceDesc {
	if d.DepthOrArrayLayers == 0 {
		d.DepthOrArrayLayers = 1
	}
	if d.MipLevelCount == 0 {
		d.MipLevelCount = 1
	}
	if d.SampleCount == 0 {
		d.SampleCount = 1
	}
	return d
}

// ByteSize returns the number of bytes the resource occupies, including
// the full mip chain and all samples.
func (d ResourceDesc) ByteSize() uint64 {
	d = d.normalized()
	if d.Size != 0 {
		return d.Size
	}
	bpp := BytesPerPixel(d.Format)
	var total uint64
	for level := uint32(0); level < d.MipLevelCount; level++ {
		w := max(uint64(d.Width)>>level, 1)
		h := max(uint64(d.Height)>>level, 1)
		total += w * h * uint64(d.DepthOrArrayLayers) * bpp
	}
	return total * uint64(d.SampleCount)
}

// validateTransient checks that d can be placed in the transient pool.
func (d ResourceDesc) validateTransient() error {
	switch {
	case d.Kind == KindBackBuffer:
		return fmt.Errorf("%w: back buffers cannot be transient", ErrInvalidDescriptor)
	case d.Kind.AllowedStates() == 0:
		return fmt.Errorf("%w: unknown kind %v", ErrInvalidDescriptor, d.Kind)
	case d.Size == 0 && (d.Width == 0 || d.Height == 0):
		return fmt.Errorf("%w: %q has zero extent and no explicit size", ErrInvalidDescriptor, d.Label)
	case d.Size == 0 && BytesPerPixel(d.Format) == 0:
		return fmt.Errorf("%w: %q has unsized format %v", ErrInvalidDescriptor, d.Label, d.Format)
	case d.Alignment&(d.Alignment-1) != 0:
		return fmt.Errorf("%w: alignment %d is not a power of two", ErrInvalidDescriptor, d.Alignment)
	}
	return nil
}

// BytesPerPixel returns the texel size of a format. Undefined is sized as
// the 4-byte default the backends substitute for it. Block-compressed and
// other unsized formats return 0.
func BytesPerPixel(f gputypes.TextureFormat) uint64 {
	switch f {
	case gputypes.TextureFormatR8Unorm, gputypes.TextureFormatR8Snorm,
		gputypes.TextureFormatR8Uint, gputypes.TextureFormatR8Sint,
		gputypes.TextureFormatStencil8:
		return 1
	case gputypes.TextureFormatR16Unorm, gputypes.TextureFormatR16Snorm,
		gputypes.TextureFormatR16Uint, gputypes.TextureFormatR16Sint,
		gputypes.TextureFormatR16Float,
		gputypes.TextureFormatRG8Unorm, gputypes.TextureFormatRG8Snorm,
		gputypes.TextureFormatRG8Uint, gputypes.TextureFormatRG8Sint,
		gputypes.TextureFormatDepth16Unorm:
		return 2
	case gputypes.TextureFormatUndefined,
		gputypes.TextureFormatR32Float, gputypes.TextureFormatR32Uint,
		gputypes.TextureFormatR32Sint,
		gputypes.TextureFormatRG16Unorm, gputypes.TextureFormatRG16Snorm,
		gputypes.TextureFormatRG16Uint, gputypes.TextureFormatRG16Sint,
		gputypes.TextureFormatRG16Float,
		gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatRGBA8Snorm, gputypes.TextureFormatRGBA8Uint,
		gputypes.TextureFormatRGBA8Sint,
		gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb,
		gputypes.TextureFormatRGB10A2Uint, gputypes.TextureFormatRGB10A2Unorm,
		gputypes.TextureFormatRG11B10Ufloat, gputypes.TextureFormatRGB9E5Ufloat,
		gputypes.TextureFormatDepth24Plus, gputypes.TextureFormatDepth24PlusStencil8,
		gputypes.TextureFormatDepth32Float:
		return 4
	case gputypes.TextureFormatRG32Float, gputypes.TextureFormatRG32Uint,
		gputypes.TextureFormatRG32Sint,
		gputypes.TextureFormatRGBA16Unorm, gputypes.TextureFormatRGBA16Snorm,
		gputypes.TextureFormatRGBA16Uint, gputypes.TextureFormatRGBA16Sint,
		gputypes.TextureFormatRGBA16Float,
		gputypes.TextureFormatDepth32FloatStencil8:
		return 8
	case gputypes.TextureFormatRGBA32Float, gputypes.TextureFormatRGBA32Uint,
		gputypes.TextureFormatRGBA32Sint:
		return 16
	default:
		return 0
	}
}
