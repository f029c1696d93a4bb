package convert

import (
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/camtex/capture"
	"github.com/gogpu/camtex/pixfmt"
)

// PlaneTexture is the texture holding one plane of a frame.
type PlaneTexture struct {
	Texture hal.Texture
	View    hal.TextureView
	Width   uint32
	Height  uint32
	Format  gputypes.TextureFormat
}

// TextureSet is the set of plane textures produced from one frame.
//
// A TextureSet starts with one reference. GPU resources are destroyed when the
// last reference is released; textures aliasing frame memory are not destroyed,
// only the frame reference is dropped.
type TextureSet struct {
	// Width and Height are the frame dimensions, equal to the first plane.
	Width  int
	Height int
	Format pixfmt.Format

	Seq     uint64
	TraceID string

	Planes []PlaneTexture

	device  hal.Device
	aliased bool
	frame   *capture.Frame

	refs atomic.Int32
	once sync.Once
}

// Retain adds a reference and returns t.
func (t *TextureSet) Retain() *TextureSet {
	t.refs.Add(1)
	return t
}

// Release drops a reference.
func (t *TextureSet) Release() {
	n := t.refs.Add(-1)
	switch {
	case n == 0:
		t.destroy()
	case n < 0:
		panic("convert: texture set released too many times")
	}
}

// Aliased reports whether the textures share memory with the source frame.
func (t *TextureSet) Aliased() bool { return t.aliased }

func (t *TextureSet) destroy() {
	t.once.Do(func() {
		for _, p := range t.Planes {
			if p.View != nil {
				t.device.DestroyTextureView(p.View)
			}
			if p.Texture != nil && !t.aliased {
				t.device.DestroyTexture(p.Texture)
			}
		}
		t.Planes = nil
		if t.frame != nil {
			t.frame.Release()
			t.frame = nil
		}
	})
}
