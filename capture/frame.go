package capture

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gogpu/camtex/pixfmt"
)

// Plane is one contiguous region of pixel memory.
type Plane struct {
	Data   []byte
	Stride int
}

// Locker maps a frame's pixel memory for CPU access.
// Backends whose memory is always addressable do not need one.
type Locker interface {
	Lock() error
	Unlock()
}

// Frame is a raw frame buffer owned by the capture backend.
//
// Pixel memory is only readable between Lock and Unlock. A frame handed to an
// observer stays valid until the observer returns unless it is retained.
type Frame struct {
	Width  int
	Height int
	Format pixfmt.Format

	// Seq is assigned by the Source when the frame arrives, starting at 1.
	Seq       uint64
	Timestamp time.Time
	TraceID   string

	// Native carries backend-specific handles, such as GPU textures that
	// already alias the frame memory.
	Native any

	planes  []Plane
	locker  Locker
	recycle func()

	mu    sync.Mutex
	locks int
	refs  atomic.Int32
}

// FrameOption configures a Frame.
type FrameOption func(*Frame)

// WithLocker sets the mapping hooks called around CPU access.
func WithLocker(l Locker) FrameOption {
	return func(f *Frame) { f.locker = l }
}

// WithRecycle sets a function called once the last reference is released.
func WithRecycle(fn func()) FrameOption {
	return func(f *Frame) { f.recycle = fn }
}

// WithNative attaches backend handles to the frame.
func WithNative(v any) FrameOption {
	return func(f *Frame) { f.Native = v }
}

// WithTimestamp sets the capture time. Defaults to time.Now.
func WithTimestamp(t time.Time) FrameOption {
	return func(f *Frame) { f.Timestamp = t }
}

// NewFrame wraps backend memory as a Frame with a reference count of one.
// Planes are validated against format; they may be omitted only when a native
// handle is attached.
func NewFrame(format pixfmt.Format, width, height int, planes []Plane, opts ...FrameOption) (*Frame, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("%w: %v", pixfmt.ErrUnknownFormat, format)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("capture: invalid frame size %dx%d", width, height)
	}

	f := &Frame{
		Width:   width,
		Height:  height,
		Format:  format,
		TraceID: uuid.NewString(),
		planes:  planes,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}

	if len(planes) == 0 && f.Native != nil {
		f.refs.Store(1)
		return f, nil
	}
	if err := validatePlanes(format, width, height, planes); err != nil {
		return nil, err
	}
	f.refs.Store(1)
	return f, nil
}

func validatePlanes(format pixfmt.Format, width, height int, planes []Plane) error {
	layouts := format.Planes()
	if len(planes) != len(layouts) {
		return fmt.Errorf("%w: %v has %d planes, got %d", ErrPlaneLayout, format, len(layouts), len(planes))
	}
	for i, p := range planes {
		minStride := layouts[i].MinStride(width)
		if p.Stride < minStride {
			return fmt.Errorf("%w: plane %d stride %d < %d", ErrPlaneLayout, i, p.Stride, minStride)
		}
		_, rows := layouts[i].Size(width, height)
		if need := p.Stride*(rows-1) + minStride; len(p.Data) < need {
			return fmt.Errorf("%w: plane %d holds %d bytes, need %d", ErrPlaneLayout, i, len(p.Data), need)
		}
	}
	return nil
}

// PlaneCount returns the number of memory planes.
func (f *Frame) PlaneCount() int { return f.Format.PlaneCount() }

// Lock maps the pixel memory. Locks nest.
func (f *Frame) Lock() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locks == 0 && f.locker != nil {
		if err := f.locker.Lock(); err != nil {
			return fmt.Errorf("%w: %w", ErrLockFailed, err)
		}
	}
	f.locks++
	return nil
}

// Unlock undoes one Lock.
func (f *Frame) Unlock() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locks == 0 {
		return
	}
	f.locks--
	if f.locks == 0 && f.locker != nil {
		f.locker.Unlock()
	}
}

// Plane returns plane i. The frame must be locked.
func (f *Frame) Plane(i int) (Plane, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locks == 0 {
		return Plane{}, ErrNotLocked
	}
	if i < 0 || i >= len(f.planes) {
		return Plane{}, fmt.Errorf("%w: plane %d of %d", ErrPlaneLayout, i, len(f.planes))
	}
	return f.planes[i], nil
}

// Retain adds a reference and returns f.
func (f *Frame) Retain() *Frame {
	f.refs.Add(1)
	return f
}

// Release drops a reference. The backend may reuse the memory once the last
// reference is gone.
func (f *Frame) Release() {
	n := f.refs.Add(-1)
	switch {
	case n == 0:
		if f.recycle != nil {
			f.recycle()
		}
	case n < 0:
		panic("capture: frame released too many times")
	}
}
