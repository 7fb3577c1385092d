package native

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph"
)

// Device bundles the queue and transient factory of one HAL device.
type Device struct {
	// Queue submits frames.
	Queue *Queue

	// Factory creates transient resources gated on Queue.
	Factory *Factory

	device hal.Device
	format gputypes.TextureFormat
}

// New wraps a HAL device and queue. The caller keeps ownership of both.
func New(device hal.Device, queue hal.Queue) (*Device, error) {
	q, err := NewQueue(device, queue)
	if err != nil {
		return nil, err
	}
	return &Device{
		Queue:   q,
		Factory: NewFactory(device, q.Completed),
		device:  device,
		format:  gputypes.TextureFormatBGRA8Unorm,
	}, nil
}

// NewFromProvider wraps the device of a gpucontext provider (e.g. a gogpu
// window). The provider must also implement HalDevice() any and
// HalQueue() any returning hal.Device and hal.Queue.
func NewFromProvider(provider gpucontext.DeviceProvider) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	if provider == nil {
		return nil, ErrNilDevice
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHAL
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNoHAL)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNoHAL)
	}

	d, err := New(device, queue)
	if err != nil {
		return nil, err
	}
	if sp, ok := provider.(interface{ SurfaceFormat() gputypes.TextureFormat }); ok {
		if f := sp.SurfaceFormat(); f != gputypes.TextureFormatUndefined {
			d.format = f
		}
	}
	return d, nil
}

// HAL returns the wrapped device.
func (d *Device) HAL() hal.Device { return d.device }

// SurfaceFormat returns the back buffer format.
func (d *Device) SurfaceFormat() gputypes.TextureFormat { return d.format }

// BackBuffer creates a persistent back buffer resource for a swapchain
// texture in the surface format. Swap the texture each frame with
// Resource.SetNative.
func (d *Device) BackBuffer(label string, width, height uint32, tex hal.Texture) *framegraph.Resource {
	return framegraph.NewResource(framegraph.ResourceDesc{
		Label:  label,
		Kind:   framegraph.KindBackBuffer,
		Width:  width,
		Height: height,
		Format: d.format,
	}, framegraph.StatePresent, tex)
}

// Close waits for the GPU and releases the factory and queue. The HAL
// device itself is left to its owner.
func (d *Device) Close() {
	if err := d.Queue.WaitIdle(DefaultTimeout); err != nil {
		framegraph.Logger().Warn("native: close", "err", err)
	}
	d.Factory.Close()
	d.Queue.Close()
}
