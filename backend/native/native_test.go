package native

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/transient"
)

// createNoopDevice creates a noop HAL device and queue for testing.
func createNoopDevice(t *testing.T) (hal.Device, hal.Queue, func()) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	cleanup := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return openDev.Device, openDev.Queue, cleanup
}

func colorDesc(label string) framegraph.ResourceDesc {
	return framegraph.ResourceDesc{
		Label:  label,
		Kind:   framegraph.KindRenderTarget,
		Width:  64,
		Height: 64,
		Format: gputypes.TextureFormatRGBA8Unorm,
	}
}

// =============================================================================
// State mapping
// =============================================================================

func TestTextureUsage(t *testing.T) {
	tests := []struct {
		s    framegraph.State
		want gputypes.TextureUsage
	}{
		{framegraph.StateRenderTarget, gputypes.TextureUsageRenderAttachment},
		{framegraph.StateDepthWrite, gputypes.TextureUsageRenderAttachment},
		{framegraph.StateDepthRead, gputypes.TextureUsageRenderAttachment},
		{framegraph.StatePresent, gputypes.TextureUsageRenderAttachment},
		{framegraph.StateShaderResource, gputypes.TextureUsageTextureBinding},
		{framegraph.StateUnorderedAccess, gputypes.TextureUsageTextureBinding},
		{framegraph.StateCommon, gputypes.TextureUsageTextureBinding},
		{framegraph.StateCopySrc, gputypes.TextureUsageCopySrc},
		{framegraph.StateCopyDst, gputypes.TextureUsageCopyDst},
	}
	for _, tt := range tests {
		if got := TextureUsage(tt.s); got != tt.want {
			t.Errorf("TextureUsage(%v) = %v, want %v", tt.s, got, tt.want)
		}
	}
}

func TestIsBuffer(t *testing.T) {
	tests := []struct {
		name string
		desc framegraph.ResourceDesc
		want bool
	}{
		{"render target", colorDesc("rt"), false},
		{"explicit size", framegraph.ResourceDesc{Kind: framegraph.KindUnorderedAccess, Size: 256}, true},
		{"stream out", framegraph.ResourceDesc{Kind: framegraph.KindStreamOut, Width: 4, Height: 1}, true},
		{"query", framegraph.ResourceDesc{Kind: framegraph.KindQuery, Width: 8, Height: 1}, true},
	}
	for _, tt := range tests {
		if got := isBuffer(tt.desc); got != tt.want {
			t.Errorf("%s: isBuffer() = %t, want %t", tt.name, got, tt.want)
		}
	}
}

// =============================================================================
// Recorder
// =============================================================================

func TestRecorder_Barrier(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()
	q, err := NewQueue(device, queue)
	if err != nil {
		t.Fatalf("NewQueue() = %v", err)
	}
	defer q.Close()

	f := NewFactory(device, q.Completed)
	defer f.Close()
	tex, err := f.CreateTransient(colorDesc("rt"), transient.Allocation{})
	if err != nil {
		t.Fatalf("CreateTransient() = %v", err)
	}

	rec, err := q.NewRecorder("chunk")
	if err != nil {
		t.Fatalf("NewRecorder() = %v", err)
	}
	r := rec.(*Recorder)
	r.Barrier([]framegraph.Barrier{
		{Resource: tex, Before: framegraph.StateRenderTarget, After: framegraph.StateShaderResource},
		// Same HAL usage on both sides.
		{Resource: tex, Before: framegraph.StateShaderResource, After: framegraph.StateUnorderedAccess},
		// Buffers have no texture barrier.
		{Resource: &Buffer{}, Kind: framegraph.KindStreamOut, Before: framegraph.StateStreamOut, After: framegraph.StateCopySrc},
		{Resource: tex, Before: framegraph.StateRenderTarget, After: framegraph.StateRenderTarget, Alias: true},
	})
	if r.Recorded() != 2 || r.Skipped() != 2 {
		t.Errorf("Recorded() = %d, Skipped() = %d, want 2, 2", r.Recorded(), r.Skipped())
	}

	cb, err := r.Finish()
	if err != nil {
		t.Fatalf("Finish() = %v", err)
	}
	if _, err := r.Finish(); err == nil {
		t.Error("second Finish() = nil error, want error")
	}
	r.Discard()
	q.Discard([]framegraph.CommandBuffer{cb})
}

// =============================================================================
// Queue
// =============================================================================

func TestNewQueue_NilDevice(t *testing.T) {
	if _, err := NewQueue(nil, nil); !errors.Is(err, ErrNilDevice) {
		t.Errorf("NewQueue(nil) = %v, want ErrNilDevice", err)
	}
	if _, err := New(nil, nil); !errors.Is(err, ErrNilDevice) {
		t.Errorf("New(nil) = %v, want ErrNilDevice", err)
	}
}

func TestQueue_Submit(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()
	q, err := NewQueue(device, queue)
	if err != nil {
		t.Fatalf("NewQueue() = %v", err)
	}

	submit := func(signal uint64) error {
		rec, err := q.NewRecorder("frame")
		if err != nil {
			t.Fatalf("NewRecorder() = %v", err)
		}
		cb, err := rec.Finish()
		if err != nil {
			t.Fatalf("Finish() = %v", err)
		}
		bufs := []framegraph.CommandBuffer{cb}
		if err := q.Submit(bufs, signal); err != nil {
			q.Discard(bufs)
			return err
		}
		return nil
	}

	if err := submit(1); err != nil {
		t.Fatalf("Submit(1) = %v", err)
	}
	if err := submit(1); !errors.Is(err, ErrSignalOrder) {
		t.Errorf("Submit(1) again = %v, want ErrSignalOrder", err)
	}
	if err := submit(3); err != nil {
		t.Fatalf("Submit(3) = %v", err)
	}
	if err := q.Submit([]framegraph.CommandBuffer{"not a buffer"}, 4); !errors.Is(err, ErrForeignBuffer) {
		t.Errorf("Submit(foreign) = %v, want ErrForeignBuffer", err)
	}

	if err := q.WaitIdle(5 * time.Second); err != nil {
		t.Fatalf("WaitIdle() = %v", err)
	}
	if got := q.Completed(); got != 3 {
		t.Errorf("Completed() = %d, want 3", got)
	}
	if q.Submitted() != 3 || q.InFlight() != 0 {
		t.Errorf("Submitted() = %d, InFlight() = %d, want 3, 0", q.Submitted(), q.InFlight())
	}

	q.Close()
	q.Close()
	if _, err := q.NewRecorder("late"); !errors.Is(err, ErrClosed) {
		t.Errorf("NewRecorder() after Close = %v, want ErrClosed", err)
	}
	if err := q.Submit(nil, 9); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit() after Close = %v, want ErrClosed", err)
	}
}

// =============================================================================
// Factory
// =============================================================================

func TestFactory_Recycle(t *testing.T) {
	device, _, cleanup := createNoopDevice(t)
	defer cleanup()

	var completed uint64
	f := NewFactory(device, func() uint64 { return completed })

	a, err := f.CreateTransient(colorDesc("a"), transient.Allocation{})
	if err != nil {
		t.Fatalf("CreateTransient() = %v", err)
	}
	if tex, ok := a.(*Texture); !ok || tex.Texture == nil || tex.View == nil {
		t.Fatalf("CreateTransient() = %#v, want *Texture with view", a)
	}
	f.DestroyTransient(a, 1)

	// Still in flight: a new object is created.
	b, _ := f.CreateTransient(colorDesc("b"), transient.Allocation{})
	if b == a {
		t.Error("object reused before its fence completed")
	}

	completed = 1
	c, _ := f.CreateTransient(colorDesc("c"), transient.Allocation{})
	if c != a {
		t.Error("completed object was not reused")
	}
	if got := c.(*Texture).Desc.Label; got != "c" {
		t.Errorf("reused Desc.Label = %q, want c", got)
	}

	// A different descriptor never matches.
	buf, err := f.CreateTransient(framegraph.ResourceDesc{Label: "ua", Kind: framegraph.KindUnorderedAccess, Size: 1024}, transient.Allocation{})
	if err != nil {
		t.Fatalf("CreateTransient(buffer) = %v", err)
	}
	if bb, ok := buf.(*Buffer); !ok || bb.Size != 1024 {
		t.Errorf("CreateTransient(buffer) = %#v, want 1024-byte *Buffer", buf)
	}

	f.DestroyTransient(b, 2)
	f.DestroyTransient(c, 2)
	f.DestroyTransient(buf, 1)
	f.DestroyTransient("foreign", 1)

	st := f.Stats()
	if st.Created != 3 || st.Reused != 1 || st.Idle != 3 {
		t.Errorf("Stats() = %v, want 3 created, 1 reused, 3 idle", st)
	}
	if n := f.Trim(); n != 1 {
		t.Errorf("Trim() = %d, want 1", n)
	}
	f.Close()
	if st := f.Stats(); st.Destroyed != 3 || st.Idle != 0 {
		t.Errorf("Stats() after Close = %v, want 3 destroyed, 0 idle", st)
	}
}

func TestFactory_NilDevice(t *testing.T) {
	f := NewFactory(nil, nil)
	if _, err := f.CreateTransient(colorDesc("x"), transient.Allocation{}); !errors.Is(err, ErrNilDevice) {
		t.Errorf("CreateTransient() = %v, want ErrNilDevice", err)
	}
}

// =============================================================================
// Frames
// =============================================================================

func TestDevice_Frames(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()
	dev, err := New(device, queue)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	defer dev.Close()

	rt := framegraph.NewRuntime(framegraph.Config{Factory: dev.Factory, Workers: 2, Validate: true})
	defer rt.Close()
	bb := dev.BackBuffer("swapchain", 64, 64, nil)

	frame := func() {
		t.Helper()
		g, err := rt.BeginFrame()
		if err != nil {
			t.Fatalf("BeginFrame() = %v", err)
		}
		type pass struct{ color framegraph.Handle }

		scene := framegraph.AddNode(g, "scene", pass{}, func(b *framegraph.NodeBuilder, p *pass) {
			p.color = b.AcquireVirtualResource(colorDesc("scene"), framegraph.StateRenderTarget)
			b.WriteResource(p.color, framegraph.StateRenderTarget)
		}, func(p *pass, res *framegraph.Resources, cmd *framegraph.Commands) error {
			native, err := res.GetResource(p.color)
			if err != nil {
				return err
			}
			if _, ok := native.(*Texture); !ok {
				t.Errorf("scene target = %T, want *Texture", native)
			}
			if _, ok := cmd.Recorder().(*Recorder); !ok {
				t.Errorf("Recorder() = %T, want *Recorder", cmd.Recorder())
			}
			return nil
		})

		framegraph.AddNode(g, "composite", pass{}, func(b *framegraph.NodeBuilder, p *pass) {
			b.ReadResource(scene.color, framegraph.StateShaderResource)
			b.ReleaseVirtualResource(scene.color)
			p.color = b.WriteResource(b.Import(bb), framegraph.StateRenderTarget)
		}, func(*pass, *framegraph.Resources, *framegraph.Commands) error { return nil })

		framegraph.AddNode(g, "present", pass{}, func(b *framegraph.NodeBuilder, _ *pass) {
			b.ReadResource(b.Import(bb), framegraph.StatePresent)
		}, func(*pass, *framegraph.Resources, *framegraph.Commands) error { return nil })

		if err := g.Submit(context.Background(), rt.Workers(), dev.Queue); err != nil {
			t.Fatalf("Submit() = %v", err)
		}
		if err := dev.Queue.WaitIdle(5 * time.Second); err != nil {
			t.Fatalf("WaitIdle() = %v", err)
		}
		if got := dev.Queue.Completed(); got != g.Fence() {
			t.Errorf("Completed() = %d, want %d", got, g.Fence())
		}
		rt.Observe(dev.Queue.Completed())
	}

	frame()
	frame()

	if bb.State() != framegraph.StatePresent {
		t.Errorf("back buffer state = %v, want Present", bb.State())
	}
	st := dev.Factory.Stats()
	if st.Created != 1 || st.Reused != 1 || st.Idle != 1 {
		t.Errorf("Factory.Stats() = %v, want 1 created, 1 reused, 1 idle", st)
	}

	if _, destroyed := rt.Trim(); destroyed != 1 {
		t.Errorf("Trim() destroyed %d, want 1", destroyed)
	}
	if st := dev.Factory.Stats(); st.Idle != 0 || st.Destroyed != 1 {
		t.Errorf("Factory.Stats() after Trim = %v, want 0 idle, 1 destroyed", st)
	}
}

// =============================================================================
// Provider
// =============================================================================

type halProvider struct {
	device hal.Device
	queue  hal.Queue
	format gputypes.TextureFormat
}

func (p *halProvider) Device() gpucontext.Device             { return nil }
func (p *halProvider) Queue() gpucontext.Queue               { return nil }
func (p *halProvider) Adapter() gpucontext.Adapter           { return nil }
func (p *halProvider) SurfaceFormat() gputypes.TextureFormat { return p.format }
func (p *halProvider) HalDevice() any                        { return p.device }
func (p *halProvider) HalQueue() any                         { return p.queue }

type plainProvider struct{ *halProvider }

func (plainProvider) HalDevice() {}

func TestNewFromProvider(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	dev, err := NewFromProvider(&halProvider{device: device, queue: queue, format: gputypes.TextureFormatRGBA8Unorm})
	if err != nil {
		t.Fatalf("NewFromProvider() = %v", err)
	}
	defer dev.Close()
	if dev.HAL() != device {
		t.Error("HAL() returned a different device")
	}
	if got := dev.BackBuffer("bb", 8, 8, nil).Desc().Format; got != gputypes.TextureFormatRGBA8Unorm {
		t.Errorf("back buffer format = %v, want RGBA8Unorm", got)
	}

	tests := []struct {
		name     string
		provider gpucontext.DeviceProvider
		want     error
	}{
		{"nil", nil, ErrNilDevice},
		{"no HAL", plainProvider{&halProvider{}}, ErrNoHAL},
		{"nil device", &halProvider{queue: queue}, ErrNoHAL},
		{"nil queue", &halProvider{device: device}, ErrNoHAL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewFromProvider(tt.provider); !errors.Is(err, tt.want) {
				t.Errorf("NewFromProvider() = %v, want %v", err, tt.want)
			}
		})
	}
}
