package capture

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/camtex/pixfmt"
)

type countingLocker struct {
	locks, unlocks int
	err            error
}

func (l *countingLocker) Lock() error {
	if l.err != nil {
		return l.err
	}
	l.locks++
	return nil
}

func (l *countingLocker) Unlock() { l.unlocks++ }

func TestNewFrameValidatesPlanes(t *testing.T) {
	_, err := NewFrame(pixfmt.Packed32BGRA, 4, 4, []Plane{{Data: make([]byte, 64), Stride: 16}})
	require.NoError(t, err)

	_, err = NewFrame(pixfmt.Packed32BGRA, 4, 4, []Plane{{Data: make([]byte, 64), Stride: 12}})
	assert.ErrorIs(t, err, ErrPlaneLayout)

	_, err = NewFrame(pixfmt.Packed32BGRA, 4, 4, []Plane{{Data: make([]byte, 60), Stride: 16}})
	assert.ErrorIs(t, err, ErrPlaneLayout)

	_, err = NewFrame(pixfmt.PlanarYCbCr420VideoRange, 4, 4, []Plane{{Data: make([]byte, 16), Stride: 4}})
	assert.ErrorIs(t, err, ErrPlaneLayout)

	// The last row may omit stride padding.
	_, err = NewFrame(pixfmt.Packed32BGRA, 4, 2, []Plane{{Data: make([]byte, 32+16), Stride: 32}})
	assert.NoError(t, err)

	_, err = NewFrame(pixfmt.Invalid, 4, 4, nil)
	assert.ErrorIs(t, err, pixfmt.ErrUnknownFormat)

	_, err = NewFrame(pixfmt.Packed32BGRA, 0, 4, nil)
	assert.Error(t, err)

	f, err := NewFrame(pixfmt.PlanarYCbCr420FullRange, 4, 4, nil, WithNative("gpu"))
	require.NoError(t, err)
	assert.Equal(t, "gpu", f.Native)
	assert.NotEmpty(t, f.TraceID)
	assert.False(t, f.Timestamp.IsZero())
}

func TestFrameLocking(t *testing.T) {
	l := &countingLocker{}
	f, err := NewFrame(pixfmt.Packed32BGRA, 2, 2, AllocPlanes(pixfmt.Packed32BGRA, 2, 2), WithLocker(l))
	require.NoError(t, err)

	_, err = f.Plane(0)
	assert.ErrorIs(t, err, ErrNotLocked)

	require.NoError(t, f.Lock())
	require.NoError(t, f.Lock())
	p, err := f.Plane(0)
	require.NoError(t, err)
	assert.Equal(t, 8, p.Stride)
	_, err = f.Plane(1)
	assert.ErrorIs(t, err, ErrPlaneLayout)

	f.Unlock()
	f.Unlock()
	f.Unlock()
	assert.Equal(t, 1, l.locks)
	assert.Equal(t, 1, l.unlocks)
}

func TestFrameLockFailure(t *testing.T) {
	cause := errors.New("iosurface gone")
	f, err := NewFrame(pixfmt.Packed32BGRA, 2, 2, AllocPlanes(pixfmt.Packed32BGRA, 2, 2),
		WithLocker(&countingLocker{err: cause}))
	require.NoError(t, err)

	err = f.Lock()
	assert.ErrorIs(t, err, ErrLockFailed)
	assert.ErrorIs(t, err, cause)
	_, err = f.Plane(0)
	assert.ErrorIs(t, err, ErrNotLocked)
}

func TestFrameRefCount(t *testing.T) {
	recycled := 0
	f, err := NewFrame(pixfmt.Packed32BGRA, 1, 1, AllocPlanes(pixfmt.Packed32BGRA, 1, 1),
		WithRecycle(func() { recycled++ }))
	require.NoError(t, err)

	f.Retain()
	f.Release()
	assert.Zero(t, recycled)
	f.Release()
	assert.Equal(t, 1, recycled)
	assert.Panics(t, f.Release)
}

func TestSelectDevice(t *testing.T) {
	front := Device{ID: "front", Kind: KindWideAngle, Position: PositionFront}
	back := Device{ID: "back", Kind: KindWideAngle, Position: PositionBack}
	dual := Device{ID: "dual", Kind: KindDualCamera, Position: PositionBack}
	usb := Device{ID: "/dev/video0", Kind: KindOther}

	tests := []struct {
		name    string
		devices []Device
		want    string
		ok      bool
	}{
		{"dual wins", []Device{front, back, dual}, "dual", true},
		{"rear wide before front", []Device{front, back}, "back", true},
		{"front as last resort", []Device{front}, "front", true},
		{"unclassified fallback", []Device{usb}, "/dev/video0", true},
		{"preferred over unclassified", []Device{usb, front}, "front", true},
		{"nothing", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectDevice(tt.devices, DefaultPreference)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := error(&Error{Kind: SessionInitializationFailure, Err: cause})
	assert.ErrorIs(t, err, ErrSessionInitialization)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrBufferRetrieval)
	assert.Equal(t, "capture: session initialization failure: boom", err.Error())

	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, SessionInitializationFailure, kind)
	assert.False(t, kind.Recoverable())

	_, ok = KindOf(cause)
	assert.False(t, ok)

	assert.Equal(t, "capture: insufficient video authorization",
		(&Error{Kind: InsufficientAuthorization}).Error())
}

func TestMailboxOverwrite(t *testing.T) {
	m := newMailbox()
	a := &Frame{Seq: 1}
	b := &Frame{Seq: 2}

	evicted, replaced := m.put(a, nil)
	assert.Nil(t, evicted)
	assert.False(t, replaced)

	evicted, replaced = m.put(b, nil)
	assert.Same(t, a, evicted)
	assert.True(t, replaced)

	fatal := errors.New("fatal")
	m.putFatal(fatal)

	// Fatal errors come first.
	_, err, ok := m.take()
	require.True(t, ok)
	assert.Equal(t, fatal, err)

	f, err, ok := m.take()
	require.True(t, ok)
	assert.NoError(t, err)
	assert.Same(t, b, f)

	m.put(a, nil)
	assert.Same(t, a, m.flush())
	assert.Nil(t, m.flush())

	m.put(b, nil)
	assert.Same(t, b, m.close())
	_, _, ok = m.take()
	assert.False(t, ok)

	evicted, replaced = m.put(a, nil)
	assert.Same(t, a, evicted)
	assert.False(t, replaced)
}

func TestFrameFromImageBGRA(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.SetRGBA(0, 0, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	img.SetRGBA(2, 1, color.RGBA{R: 200, G: 100, B: 50, A: 128})

	f, err := FrameFromImage(img, pixfmt.Packed32BGRA)
	require.NoError(t, err)
	require.NoError(t, f.Lock())
	defer f.Unlock()

	p, err := f.Plane(0)
	require.NoError(t, err)
	assert.Equal(t, []byte{30, 20, 10, 255}, p.Data[0:4])
	assert.Equal(t, []byte{50, 100, 200, 128}, p.Data[p.Stride+8:p.Stride+12])
}

func TestFrameFromImageNV12(t *testing.T) {
	src := image.NewYCbCr(image.Rect(0, 0, 4, 2), image.YCbCrSubsampleRatio420)
	for i := range src.Y {
		src.Y[i] = 255
	}
	src.Cb[0], src.Cr[0] = 90, 240
	src.Cb[1], src.Cr[1] = 54, 34

	full, err := FrameFromImage(src, pixfmt.PlanarYCbCr420FullRange)
	require.NoError(t, err)
	require.NoError(t, full.Lock())
	luma, _ := full.Plane(0)
	chroma, _ := full.Plane(1)
	assert.Equal(t, byte(255), luma.Data[0])
	assert.Equal(t, []byte{90, 240, 54, 34}, chroma.Data[:4])
	full.Unlock()

	video, err := FrameFromImage(src, pixfmt.PlanarYCbCr420VideoRange)
	require.NoError(t, err)
	require.NoError(t, video.Lock())
	luma, _ = video.Plane(0)
	assert.Equal(t, byte(235), luma.Data[0])
	video.Unlock()

	// Generic images go through RGB.
	gray := image.NewGray(image.Rect(0, 0, 3, 3))
	f, err := FrameFromImage(gray, pixfmt.PlanarYCbCr420FullRange)
	require.NoError(t, err)
	require.NoError(t, f.Lock())
	luma, _ = f.Plane(0)
	chroma, _ = f.Plane(1)
	assert.Equal(t, byte(0), luma.Data[0])
	assert.Len(t, chroma.Data, 2*2*2)
	assert.Equal(t, byte(128), chroma.Data[0])
	f.Unlock()
}

func TestScaleLuma(t *testing.T) {
	black, white := pixfmt.RangeVideo.LumaLevels()
	assert.Equal(t, black, scaleLuma(0, true))
	assert.Equal(t, white, scaleLuma(255, true))
	assert.Equal(t, uint8(77), scaleLuma(77, false))
}
