package convert

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/camtex/capture"
)

var (
	// ErrFrameUnavailable means the frame's memory could not be mapped.
	// The frame should be treated as dropped.
	ErrFrameUnavailable = errors.New("convert: frame unavailable")

	// ErrPlaneMismatch means native textures do not match the frame format.
	ErrPlaneMismatch = errors.New("convert: plane mismatch")
)

// NativeTextures is implemented by frame handles whose planes already live in
// GPU textures, such as frames imported from a hardware decoder or a platform
// texture cache.
type NativeTextures interface {
	PlaneTexture(i int) (hal.Texture, bool)
}

// Stats counts conversions.
type Stats struct {
	Converted uint64
	Aliased   uint64
	Dropped   uint64
}

// Converter uploads frames to a device. It is safe for concurrent use.
type Converter struct {
	device hal.Device
	queue  hal.Queue

	converted atomic.Uint64
	aliased   atomic.Uint64
	dropped   atomic.Uint64
}

// New returns a Converter that creates textures on device and uploads through queue.
func New(device hal.Device, queue hal.Queue) *Converter {
	return &Converter{device: device, queue: queue}
}

// Stats returns a snapshot of the counters.
func (c *Converter) Stats() Stats {
	return Stats{
		Converted: c.converted.Load(),
		Aliased:   c.aliased.Load(),
		Dropped:   c.dropped.Load(),
	}
}

// Convert produces one texture per plane of f. The caller owns the returned
// set and must Release it.
//
// If the frame cannot be locked, Convert returns an error wrapping
// ErrFrameUnavailable and no textures.
func (c *Converter) Convert(f *capture.Frame) (*TextureSet, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrFrameUnavailable)
	}
	if native, ok := f.Native.(NativeTextures); ok {
		ts, err := c.alias(f, native)
		if err == nil {
			return ts, nil
		}
		slogger().Debug("convert: native textures unusable, copying", "err", err, "trace_id", f.TraceID)
	}
	return c.upload(f)
}

func (c *Converter) newSet(f *capture.Frame) *TextureSet {
	ts := &TextureSet{
		Width:   f.Width,
		Height:  f.Height,
		Format:  f.Format,
		Seq:     f.Seq,
		TraceID: f.TraceID,
		device:  c.device,
		Planes:  make([]PlaneTexture, 0, f.Format.PlaneCount()),
	}
	ts.refs.Store(1)
	return ts
}

// alias wraps textures that share the frame's memory. The frame is retained
// until the set is released.
func (c *Converter) alias(f *capture.Frame, native NativeTextures) (*TextureSet, error) {
	ts := c.newSet(f)
	ts.aliased = true
	for i, l := range f.Format.Planes() {
		tex, ok := native.PlaneTexture(i)
		if !ok || tex == nil {
			ts.destroy()
			return nil, fmt.Errorf("%w: no texture for plane %d", ErrPlaneMismatch, i)
		}
		w, h := l.Size(f.Width, f.Height)
		view, err := c.createView(tex, l.Texture, i)
		if err != nil {
			ts.destroy()
			return nil, err
		}
		ts.Planes = append(ts.Planes, PlaneTexture{
			Texture: tex, View: view, Width: uint32(w), Height: uint32(h), Format: l.Texture,
		})
	}
	ts.frame = f.Retain()
	c.aliased.Add(1)
	return ts, nil
}

func (c *Converter) upload(f *capture.Frame) (*TextureSet, error) {
	if err := f.Lock(); err != nil {
		c.dropped.Add(1)
		slogger().Debug("convert: frame dropped", "err", err, "seq", f.Seq, "trace_id", f.TraceID)
		return nil, fmt.Errorf("%w: %w", ErrFrameUnavailable, err)
	}
	defer f.Unlock()

	ts := c.newSet(f)
	for i, l := range f.Format.Planes() {
		plane, err := f.Plane(i)
		if err != nil {
			ts.destroy()
			c.dropped.Add(1)
			return nil, fmt.Errorf("%w: %w", ErrFrameUnavailable, err)
		}
		w, h := l.Size(f.Width, f.Height)

		tex, err := c.device.CreateTexture(&hal.TextureDescriptor{
			Label:         fmt.Sprintf("camtex_plane%d", i),
			Size:          hal.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     gputypes.TextureDimension2D,
			Format:        l.Texture,
			Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
		})
		if err != nil {
			ts.destroy()
			return nil, fmt.Errorf("convert: create plane %d texture: %w", i, err)
		}
		view, err := c.createView(tex, l.Texture, i)
		if err != nil {
			c.device.DestroyTexture(tex)
			ts.destroy()
			return nil, err
		}
		ts.Planes = append(ts.Planes, PlaneTexture{
			Texture: tex, View: view, Width: uint32(w), Height: uint32(h), Format: l.Texture,
		})

		// The last row may be shorter than the stride.
		n := plane.Stride*(h-1) + l.MinStride(f.Width)
		c.queue.WriteTexture(
			&hal.ImageCopyTexture{
				Texture:  tex,
				MipLevel: 0,
				Origin:   hal.Origin3D{},
				Aspect:   gputypes.TextureAspectAll,
			},
			plane.Data[:n],
			&hal.ImageDataLayout{
				Offset:       0,
				BytesPerRow:  uint32(plane.Stride),
				RowsPerImage: uint32(h),
			},
			&hal.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1},
		)
	}
	c.converted.Add(1)
	return ts, nil
}

func (c *Converter) createView(tex hal.Texture, format gputypes.TextureFormat, i int) (hal.TextureView, error) {
	view, err := c.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         fmt.Sprintf("camtex_plane%d_view", i),
		Format:        format,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("convert: create plane %d view: %w", i, err)
	}
	return view, nil
}
