package native

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph"
)

// Recorder records one chunk into a HAL command encoder.
type Recorder struct {
	device  hal.Device
	encoder hal.CommandEncoder
	label   string

	recorded int
	skipped  int
	done     bool
}

var _ framegraph.Recorder = (*Recorder)(nil)

func newRecorder(device hal.Device, label string) (*Recorder, error) {
	encoder, err := device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("native: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(label); err != nil {
		return nil, fmt.Errorf("native: begin encoding %s: %w", label, err)
	}
	return &Recorder{device: device, encoder: encoder, label: label}, nil
}

// Encoder returns the underlying encoder so execute callbacks can record
// render and compute passes.
func (r *Recorder) Encoder() hal.CommandEncoder { return r.encoder }

// Label returns the debug label.
func (r *Recorder) Label() string { return r.label }

// Recorded returns the number of HAL texture barriers recorded.
func (r *Recorder) Recorded() int { return r.recorded }

// Skipped returns the number of barriers that needed no HAL transition.
func (r *Recorder) Skipped() int { return r.skipped }

// Barrier records a batch of transitions as texture usage barriers.
func (r *Recorder) Barrier(barriers []framegraph.Barrier) {
	hb := make([]hal.TextureBarrier, 0, len(barriers))
	for _, b := range barriers {
		tex := textureOf(b.Resource)
		if tex == nil {
			framegraph.Logger().Debug("native: barrier without texture",
				"recorder", r.label, "resource", b.Handle, "kind", b.Kind)
			r.skipped++
			continue
		}
		from, to := TextureUsage(b.Before), TextureUsage(b.After)
		if b.Alias {
			// Aliased memory holds another resource's data.
			from = 0
		} else if from == to {
			r.skipped++
			continue
		}
		hb = append(hb, hal.TextureBarrier{
			Texture: tex,
			Usage:   hal.TextureUsageTransition{OldUsage: from, NewUsage: to},
		})
	}
	if len(hb) == 0 {
		return
	}
	r.encoder.TransitionTextures(hb)
	r.recorded += len(hb)
}

// Finish ends encoding and returns the hal.CommandBuffer.
func (r *Recorder) Finish() (framegraph.CommandBuffer, error) {
	if r.done {
		return nil, fmt.Errorf("native: recorder %s already finished", r.label)
	}
	r.done = true
	cb, err := r.encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("native: end encoding %s: %w", r.label, err)
	}
	return cb, nil
}

// Discard abandons encoding.
func (r *Recorder) Discard() {
	if r.done {
		return
	}
	r.done = true
	r.encoder.DiscardEncoding()
}

// TextureUsage maps a resource state to the HAL texture usage it
// corresponds to. States without a texture usage of their own map to
// TextureBinding.
func TextureUsage(s framegraph.State) gputypes.TextureUsage {
	switch s {
	case framegraph.StateRenderTarget, framegraph.StateDepthWrite,
		framegraph.StateDepthRead, framegraph.StatePresent:
		return gputypes.TextureUsageRenderAttachment
	case framegraph.StateCopySrc:
		return gputypes.TextureUsageCopySrc
	case framegraph.StateCopyDst:
		return gputypes.TextureUsageCopyDst
	default:
		return gputypes.TextureUsageTextureBinding
	}
}

// textureOf extracts the HAL texture from a barrier resource: a transient
// *Texture or an imported hal.Texture.
func textureOf(native any) hal.Texture {
	switch v := native.(type) {
	case *Texture:
		return v.Texture
	case hal.Texture:
		return v
	default:
		return nil
	}
}
