// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"golang.org/x/sync/semaphore"

	"github.com/gogpu/camtex/convert"
	"github.com/gogpu/camtex/pixfmt"
)

// textureSizeUniformSize is the byte size of the texture size uniform.
// Layout: size (vec2<f32>) + padding (vec2<f32>) = 16 bytes.
const textureSizeUniformSize = 16

// quadVertexCount is the vertex count of the full-screen triangle strip.
const quadVertexCount = 4

// Stats is a snapshot of surface counters.
type Stats struct {
	Draws          uint64 // draws submitted
	Skipped        uint64 // draws with no texture set
	Failed         uint64 // draws that failed to encode, submit or present
	Completed      uint64 // draws whose GPU work finished
	InFlight       int64
	PeakInFlight   int64
	TextureUpdates uint64

	DrawableWidth  int
	DrawableHeight int
}

// Surface draws the latest texture set as a full-screen quad.
//
// SetTexture may be called from any goroutine. Draw is called once per display
// refresh; it blocks while the in-flight limit is reached and the slot is
// released only when the GPU signals completion of that draw.
type Surface struct {
	device hal.Device
	queue  hal.Queue
	format pixfmt.Format
	opts   options
	prog   program

	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.RenderPipeline
	uniformBuf hal.Buffer

	inFlight *semaphore.Weighted

	// mu guards the latest texture set together with the uniform buffer
	// contents. Draw holds it from snapshot through submission.
	mu        sync.Mutex
	latest    *convert.TextureSet
	uniform   [2]float32
	drawableW int
	drawableH int
	closed    bool
	pending   sync.WaitGroup
	waitGPU   func(hal.Fence, uint64, time.Duration) (bool, error)
	encoded   func(ts *convert.TextureSet, uniform [2]float32)

	active    atomic.Int64
	peak      atomic.Int64
	draws     atomic.Uint64
	skipped   atomic.Uint64
	failed    atomic.Uint64
	completed atomic.Uint64
	updates   atomic.Uint64
}

// NewSurface builds the render pipeline for frames in format on device and
// allocates the texture size uniform. The device is not owned by the surface.
//
// Errors wrap ErrDefaultLibrarySetup, ErrPipelineStateSetup or
// ErrTextureSizeBufferSetup. A surface that fails to initialize holds no GPU
// objects.
func NewSurface(device hal.Device, queue hal.Queue, format pixfmt.Format, opts ...Option) (*Surface, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if device == nil || queue == nil {
		return nil, fmt.Errorf("%w: nil device", ErrPipelineStateSetup)
	}

	prog, err := validProgram(format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDefaultLibrarySetup, err)
	}

	s := &Surface{
		device:   device,
		queue:    queue,
		format:   format,
		opts:     o,
		prog:     prog,
		inFlight: semaphore.NewWeighted(o.inFlight),
	}
	s.waitGPU = device.Wait

	if err := s.createPipeline(); err != nil {
		s.destroy()
		slogger().Error("render: pipeline setup failed", "format", format, "err", err)
		return nil, err
	}
	if err := s.createUniform(); err != nil {
		s.destroy()
		slogger().Error("render: uniform setup failed", "err", err)
		return nil, err
	}

	slogger().Info("render: surface ready",
		"format", format,
		"color_format", o.colorFormat,
		"in_flight", o.inFlight,
	)
	return s, nil
}

// NewSurfaceFromHandle builds a surface on the device shared by a host
// application. The host's surface format is used for the color attachment
// unless WithColorFormat overrides it.
func NewSurfaceFromHandle(handle DeviceHandle, format pixfmt.Format, opts ...Option) (*Surface, error) {
	device, queue, err := DeviceFromHandle(handle)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPipelineStateSetup, err)
	}
	if f := handle.SurfaceFormat(); f != gputypes.TextureFormatUndefined {
		opts = append([]Option{WithColorFormat(f)}, opts...)
	}
	return NewSurface(device, queue, format, opts...)
}

func (s *Surface) label(name string) string {
	return s.opts.label + "_" + name
}

func (s *Surface) createPipeline() error {
	shader, err := s.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  s.label("shader"),
		Source: hal.ShaderSource{WGSL: s.prog.source},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDefaultLibrarySetup, err)
	}
	s.shader = shader

	// Binding 0: texture size (uniform, fragment)
	// Binding 1..n: plane textures (texture_2d, fragment)
	entries := []gputypes.BindGroupLayoutEntry{
		{
			Binding:    0,
			Visibility: gputypes.ShaderStageFragment,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
		},
	}
	for i := 0; i < s.prog.planes; i++ {
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    uint32(i + 1),
			Visibility: gputypes.ShaderStageFragment,
			Texture: &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: gputypes.TextureViewDimension2D,
			},
		})
	}
	bindLayout, err := s.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   s.label("bind_layout"),
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("%w: bind group layout: %w", ErrPipelineStateSetup, err)
	}
	s.bindLayout = bindLayout

	pipeLayout, err := s.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            s.label("pipe_layout"),
		BindGroupLayouts: []hal.BindGroupLayout{s.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("%w: pipeline layout: %w", ErrPipelineStateSetup, err)
	}
	s.pipeLayout = pipeLayout

	pipeline, err := s.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  s.label("pipeline"),
		Layout: s.pipeLayout,
		Vertex: hal.VertexState{
			Module:     s.shader,
			EntryPoint: vertexEntryPoint,
		},
		Fragment: &hal.FragmentState{
			Module:     s.shader,
			EntryPoint: s.prog.fragment,
			Targets: []gputypes.ColorTargetState{
				{
					Format:    s.opts.colorFormat,
					WriteMask: gputypes.ColorWriteMaskAll,
				},
			},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleStrip,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPipelineStateSetup, err)
	}
	s.pipeline = pipeline
	return nil
}

func (s *Surface) createUniform() error {
	buf, err := s.device.CreateBuffer(&hal.BufferDescriptor{
		Label: s.label("texture_size"),
		Size:  textureSizeUniformSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTextureSizeBufferSetup, err)
	}
	s.uniformBuf = buf
	return nil
}

// makeTextureSizeUniform encodes the texture size uniform.
func makeTextureSizeUniform(w, h float32) []byte {
	buf := make([]byte, textureSizeUniformSize)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(w))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(h))
	// Padding bytes 8..15 remain zero.
	return buf
}

// Format returns the pixel format the surface was built for.
func (s *Surface) Format() pixfmt.Format { return s.format }

// SetTexture makes ts the latest texture set and writes its size into the
// uniform buffer. The surface takes ownership of the caller's reference; the
// previous set is released once no draw uses it.
//
// The swap and the uniform write happen as one step relative to Draw, so a
// draw always reads the size of the set it binds.
func (s *Surface) SetTexture(ts *convert.TextureSet) error {
	if ts == nil {
		return fmt.Errorf("%w: nil texture set", ErrTextureSizeBufferUpdate)
	}
	if ts.Format != s.format || len(ts.Planes) != s.prog.planes || ts.Width <= 0 || ts.Height <= 0 {
		ts.Release()
		return fmt.Errorf("%w: %v %dx%d with %d planes on %v surface",
			ErrTextureSizeBufferUpdate, ts.Format, ts.Width, ts.Height, len(ts.Planes), s.format)
	}

	w, h := float32(ts.Width), float32(ts.Height)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ts.Release()
		return ErrSurfaceClosed
	}
	old := s.latest
	s.latest = ts
	s.queue.WriteBuffer(s.uniformBuf, 0, makeTextureSizeUniform(w, h))
	s.uniform = [2]float32{w, h}
	s.mu.Unlock()

	s.updates.Add(1)
	if old != nil {
		old.Release()
	}
	return nil
}

// Texture returns the latest texture set with an added reference, or nil if
// none is set. The caller must Release it.
func (s *Surface) Texture() *convert.TextureSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nil
	}
	return s.latest.Retain()
}

// TextureSize returns the width and height last written to the uniform
// buffer. It is zero until the first SetTexture.
func (s *Surface) TextureSize() (w, h float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uniform[0], s.uniform[1]
}

// DrawableSizeChanged records the new drawable size. The quad always fills
// the drawable, so nothing else changes.
func (s *Surface) DrawableSizeChanged(width, height int) {
	s.mu.Lock()
	s.drawableW, s.drawableH = width, height
	s.mu.Unlock()
	slogger().Debug("render: drawable size changed", "width", width, "height", height)
}

// Draw renders the latest texture set into d and presents it.
//
// Draw first acquires an in-flight slot, blocking until one is free or ctx is
// done. With no texture set the slot is released and Draw returns nil. On
// success the slot is released when the GPU completes the draw; on failure it
// is released before Draw returns.
func (s *Surface) Draw(ctx context.Context, d Drawable) error {
	if err := s.inFlight.Acquire(ctx, 1); err != nil {
		return err
	}
	n := s.active.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	release := func() {
		s.active.Add(-1)
		s.inFlight.Release(1)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		release()
		return ErrSurfaceClosed
	}
	ts := s.latest
	if ts == nil {
		s.mu.Unlock()
		release()
		s.skipped.Add(1)
		return nil
	}
	ts.Retain()
	sub, err := s.encode(ts, d)
	if err == nil {
		s.pending.Add(1)
	}
	s.mu.Unlock()

	if err != nil {
		ts.Release()
		release()
		s.failed.Add(1)
		slogger().Warn("render: draw failed", "seq", ts.Seq, "err", err)
		return err
	}
	s.draws.Add(1)

	go s.complete(sub, ts, release)

	if err := d.Present(); err != nil {
		s.failed.Add(1)
		slogger().Warn("render: present failed", "seq", ts.Seq, "err", err)
		return fmt.Errorf("render: present: %w", err)
	}
	return nil
}

// submission holds the GPU objects of one submitted draw.
type submission struct {
	bindGroup hal.BindGroup
	cmd       hal.CommandBuffer
	fence     hal.Fence
}

func (s *Surface) free(sub submission) {
	if sub.cmd != nil {
		s.device.FreeCommandBuffer(sub.cmd)
	}
	if sub.fence != nil {
		s.device.DestroyFence(sub.fence)
	}
	if sub.bindGroup != nil {
		s.device.DestroyBindGroup(sub.bindGroup)
	}
}

// encode records and submits the quad draw. s.mu is held.
func (s *Surface) encode(ts *convert.TextureSet, d Drawable) (submission, error) {
	var sub submission

	view := d.View()
	if view == nil {
		return sub, errors.New("render: drawable has no view")
	}

	entries := []gputypes.BindGroupEntry{
		{Binding: 0, Resource: gputypes.BufferBinding{
			Buffer: s.uniformBuf.NativeHandle(), Offset: 0, Size: textureSizeUniformSize,
		}},
	}
	for i, p := range ts.Planes {
		entries = append(entries, gputypes.BindGroupEntry{
			Binding:  uint32(i + 1),
			Resource: gputypes.TextureViewBinding{TextureView: p.View.NativeHandle()},
		})
	}
	bindGroup, err := s.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   s.label("bind"),
		Layout:  s.bindLayout,
		Entries: entries,
	})
	if err != nil {
		return sub, fmt.Errorf("render: create bind group: %w", err)
	}
	sub.bindGroup = bindGroup

	encoder, err := s.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: s.label("encoder"),
	})
	if err != nil {
		s.free(sub)
		return submission{}, fmt.Errorf("render: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("Frame"); err != nil {
		s.free(sub)
		return submission{}, fmt.Errorf("render: begin encoding: %w", err)
	}

	rp := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: "Frame",
		ColorAttachments: []hal.RenderPassColorAttachment{
			{
				View:       view,
				LoadOp:     gputypes.LoadOpClear,
				StoreOp:    gputypes.StoreOpStore,
				ClearValue: s.opts.clearColor,
			},
		},
	})
	rp.SetPipeline(s.pipeline)
	rp.SetBindGroup(0, bindGroup, nil)
	rp.Draw(quadVertexCount, 1, 0, 0)
	rp.End()

	cmd, err := encoder.EndEncoding()
	if err != nil {
		s.free(sub)
		return submission{}, fmt.Errorf("render: end encoding: %w", err)
	}
	sub.cmd = cmd

	fence, err := s.device.CreateFence()
	if err != nil {
		s.free(sub)
		return submission{}, fmt.Errorf("render: create fence: %w", err)
	}
	sub.fence = fence

	if err := s.queue.Submit([]hal.CommandBuffer{cmd}, fence, 1); err != nil {
		s.free(sub)
		return submission{}, fmt.Errorf("render: submit: %w", err)
	}
	if s.encoded != nil {
		s.encoded(ts, s.uniform)
	}
	return sub, nil
}

// complete waits for the GPU to finish a submitted draw, then releases its
// resources and its in-flight slot.
func (s *Surface) complete(sub submission, ts *convert.TextureSet, release func()) {
	defer s.pending.Done()

	ok, err := s.waitGPU(sub.fence, 1, s.opts.completionTimeout)
	if err != nil || !ok {
		slogger().Warn("render: GPU completion wait failed", "seq", ts.Seq, "ok", ok, "err", err)
	}
	s.free(sub)
	ts.Release()
	s.completed.Add(1)
	release()
}

// Stats returns a snapshot of the counters.
func (s *Surface) Stats() Stats {
	s.mu.Lock()
	w, h := s.drawableW, s.drawableH
	s.mu.Unlock()
	return Stats{
		Draws:          s.draws.Load(),
		Skipped:        s.skipped.Load(),
		Failed:         s.failed.Load(),
		Completed:      s.completed.Load(),
		InFlight:       s.active.Load(),
		PeakInFlight:   s.peak.Load(),
		TextureUpdates: s.updates.Load(),
		DrawableWidth:  w,
		DrawableHeight: h,
	}
}

// Close waits for submitted draws to complete and releases GPU objects and
// the latest texture set. Close is idempotent.
func (s *Surface) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ts := s.latest
	s.latest = nil
	s.mu.Unlock()

	s.pending.Wait()
	if ts != nil {
		ts.Release()
	}
	s.destroy()
	slogger().Info("render: surface closed", "draws", s.draws.Load())
}

// destroy releases GPU objects in reverse creation order.
func (s *Surface) destroy() {
	if s.uniformBuf != nil {
		s.device.DestroyBuffer(s.uniformBuf)
		s.uniformBuf = nil
	}
	if s.pipeline != nil {
		s.device.DestroyRenderPipeline(s.pipeline)
		s.pipeline = nil
	}
	if s.pipeLayout != nil {
		s.device.DestroyPipelineLayout(s.pipeLayout)
		s.pipeLayout = nil
	}
	if s.bindLayout != nil {
		s.device.DestroyBindGroupLayout(s.bindLayout)
		s.bindLayout = nil
	}
	if s.shader != nil {
		s.device.DestroyShaderModule(s.shader)
		s.shader = nil
	}
}
