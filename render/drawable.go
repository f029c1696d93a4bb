// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package render

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Drawable is the renderable surface presented each refresh.
//
// Implementations:
//   - TextureDrawable: offscreen texture owned by the caller
//   - HostDrawable: the current frame of a window surface owned by the host
type Drawable interface {
	// Width returns the drawable width in pixels.
	Width() int

	// Height returns the drawable height in pixels.
	Height() int

	// Format returns the pixel format of the drawable.
	Format() gputypes.TextureFormat

	// View returns the texture view the quad is drawn into.
	View() hal.TextureView

	// Present hands the drawable to the display. It is called after the
	// command buffer has been submitted.
	Present() error
}

// TextureDrawable is an offscreen drawable backed by a render-attachment
// texture. It is used for headless runs and tests.
type TextureDrawable struct {
	device hal.Device

	mu     sync.Mutex
	width  int
	height int
	format gputypes.TextureFormat
	tex    hal.Texture
	view   hal.TextureView

	presented atomic.Uint64
}

// NewTextureDrawable creates an offscreen drawable on device.
func NewTextureDrawable(device hal.Device, width, height int, format gputypes.TextureFormat) (*TextureDrawable, error) {
	d := &TextureDrawable{device: device, format: format}
	if err := d.Resize(width, height); err != nil {
		return nil, err
	}
	return d, nil
}

// Resize replaces the backing texture. The contents are not preserved.
func (d *TextureDrawable) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("render: invalid drawable size %dx%d", width, height)
	}
	tex, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label:         "camtex_drawable",
		Size:          hal.Extent3D{Width: uint32(width), Height: uint32(height), DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        d.format,
		Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
	})
	if err != nil {
		return fmt.Errorf("render: create drawable texture: %w", err)
	}
	view, err := d.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         "camtex_drawable_view",
		Format:        d.format,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		d.device.DestroyTexture(tex)
		return fmt.Errorf("render: create drawable view: %w", err)
	}

	d.mu.Lock()
	oldTex, oldView := d.tex, d.view
	d.tex, d.view = tex, view
	d.width, d.height = width, height
	d.mu.Unlock()

	if oldView != nil {
		d.device.DestroyTextureView(oldView)
	}
	if oldTex != nil {
		d.device.DestroyTexture(oldTex)
	}
	return nil
}

// Width returns the drawable width in pixels.
func (d *TextureDrawable) Width() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.width
}

// Height returns the drawable height in pixels.
func (d *TextureDrawable) Height() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.height
}

// Format returns the pixel format.
func (d *TextureDrawable) Format() gputypes.TextureFormat { return d.format }

// View returns the texture view.
func (d *TextureDrawable) View() hal.TextureView {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.view
}

// Texture returns the backing texture, for readback.
func (d *TextureDrawable) Texture() hal.Texture {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tex
}

// Present counts the presentation. Offscreen textures have no display.
func (d *TextureDrawable) Present() error {
	d.presented.Add(1)
	return nil
}

// Presented returns how many times the drawable has been presented.
func (d *TextureDrawable) Presented() uint64 { return d.presented.Load() }

// Destroy releases GPU resources.
func (d *TextureDrawable) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.view != nil {
		d.device.DestroyTextureView(d.view)
		d.view = nil
	}
	if d.tex != nil {
		d.device.DestroyTexture(d.tex)
		d.tex = nil
	}
}

// Ensure TextureDrawable implements Drawable.
var _ Drawable = (*TextureDrawable)(nil)

// HostDrawable wraps the current frame of a window surface provided by the
// host application, such as an acquired swapchain texture.
type HostDrawable struct {
	width   int
	height  int
	format  gputypes.TextureFormat
	view    hal.TextureView
	present func() error
}

// NewHostDrawable wraps view. present is called to hand the frame back to the
// host and may be nil.
func NewHostDrawable(width, height int, format gputypes.TextureFormat, view hal.TextureView, present func() error) *HostDrawable {
	return &HostDrawable{
		width:   width,
		height:  height,
		format:  format,
		view:    view,
		present: present,
	}
}

// Width returns the surface width in pixels.
func (d *HostDrawable) Width() int { return d.width }

// Height returns the surface height in pixels.
func (d *HostDrawable) Height() int { return d.height }

// Format returns the surface pixel format.
func (d *HostDrawable) Format() gputypes.TextureFormat { return d.format }

// View returns the current frame's texture view.
func (d *HostDrawable) View() hal.TextureView { return d.view }

// Present calls the host's present function.
func (d *HostDrawable) Present() error {
	if d.present == nil {
		return nil
	}
	return d.present()
}

// Ensure HostDrawable implements Drawable.
var _ Drawable = (*HostDrawable)(nil)
