package pixfmt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"
)

// ErrUnknownFormat is returned when a name or capture tag has no Format.
var ErrUnknownFormat = errors.New("pixfmt: unknown pixel format")

// Format is a camera pixel encoding.
type Format uint8

const (
	// Invalid is the zero value. It is never produced by a capture backend.
	Invalid Format = iota

	// Packed32BGRA stores one 32-bit B,G,R,A pixel per sample in a single plane.
	Packed32BGRA

	// PlanarYCbCr420VideoRange is bi-planar 4:2:0 YCbCr (NV12) with luma in 16..235.
	PlanarYCbCr420VideoRange

	// PlanarYCbCr420FullRange is bi-planar 4:2:0 YCbCr (NV12) with luma in 0..255.
	PlanarYCbCr420FullRange
)

// Range is the luma scaling convention of a YCbCr encoding.
type Range uint8

const (
	// RangeNone applies to RGB encodings.
	RangeNone Range = iota
	// RangeVideo maps luma 16..235 to black..white.
	RangeVideo
	// RangeFull maps luma 0..255 to black..white.
	RangeFull
)

// FourCC builds a big-endian four character code, the way CoreVideo and V4L2
// spell pixel formats.
func FourCC(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

var (
	tagBGRA = FourCC('B', 'G', 'R', 'A')
	tag420v = FourCC('4', '2', '0', 'v')
	tag420f = FourCC('4', '2', '0', 'f')
)

// All returns every valid format in declaration order.
func All() []Format {
	return []Format{Packed32BGRA, PlanarYCbCr420VideoRange, PlanarYCbCr420FullRange}
}

// Valid reports whether f is one of the enumerated encodings.
func (f Format) Valid() bool {
	switch f {
	case Packed32BGRA, PlanarYCbCr420VideoRange, PlanarYCbCr420FullRange:
		return true
	}
	return false
}

// CaptureTag returns the numeric format tag the capture subsystem is configured with.
// Invalid formats map to 0.
func (f Format) CaptureTag() uint32 {
	switch f {
	case Packed32BGRA:
		return tagBGRA
	case PlanarYCbCr420VideoRange:
		return tag420v
	case PlanarYCbCr420FullRange:
		return tag420f
	}
	return 0
}

// FromCaptureTag is the inverse of [Format.CaptureTag].
func FromCaptureTag(tag uint32) (Format, error) {
	for _, f := range All() {
		if f.CaptureTag() == tag {
			return f, nil
		}
	}
	return Invalid, fmt.Errorf("%w: tag 0x%08x", ErrUnknownFormat, tag)
}

// PlaneCount returns 1 for packed formats and 2 for bi-planar formats.
func (f Format) PlaneCount() int {
	switch f {
	case Packed32BGRA:
		return 1
	case PlanarYCbCr420VideoRange, PlanarYCbCr420FullRange:
		return 2
	}
	return 0
}

// Planar reports whether the format stores luma and chroma in separate planes.
func (f Format) Planar() bool { return f.PlaneCount() == 2 }

// Range returns the luma range of the encoding.
func (f Format) Range() Range {
	switch f {
	case PlanarYCbCr420VideoRange:
		return RangeVideo
	case PlanarYCbCr420FullRange:
		return RangeFull
	}
	return RangeNone
}

// LumaLevels returns the stored luma values of black and white. Chroma is
// full range in every encoding.
func (r Range) LumaLevels() (black, white uint8) {
	if r == RangeVideo {
		return 16, 235
	}
	return 0, 255
}

// String returns the short name used on command lines and in logs.
func (f Format) String() string {
	switch f {
	case Packed32BGRA:
		return "bgra"
	case PlanarYCbCr420VideoRange:
		return "nv12-video"
	case PlanarYCbCr420FullRange:
		return "nv12-full"
	}
	return fmt.Sprintf("Format(%d)", uint8(f))
}

// Parse accepts the names produced by String, plus the FourCC spellings
// "BGRA", "420v" and "420f".
func Parse(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bgra", "bgra32", "packed32bgra":
		return Packed32BGRA, nil
	case "nv12-video", "nv12", "420v", "video":
		return PlanarYCbCr420VideoRange, nil
	case "nv12-full", "420f", "full":
		return PlanarYCbCr420FullRange, nil
	}
	return Invalid, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Set implements flag.Value.
func (f *Format) Set(s string) error {
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// PlaneLayout is the GPU-side description of one memory plane.
type PlaneLayout struct {
	// Texture is the texture format the plane is uploaded as.
	Texture gputypes.TextureFormat

	// BytesPerPixel is the size of one texel of this plane.
	BytesPerPixel int

	// SubsampleX and SubsampleY divide the frame dimensions, rounding up.
	SubsampleX, SubsampleY int
}

// Size returns the texel dimensions of the plane for a frame of w by h pixels.
func (p PlaneLayout) Size(w, h int) (int, int) {
	return ceilDiv(w, p.SubsampleX), ceilDiv(h, p.SubsampleY)
}

// MinStride returns the smallest valid row stride in bytes for a frame w pixels wide.
func (p PlaneLayout) MinStride(w int) int {
	pw, _ := p.Size(w, 1)
	return pw * p.BytesPerPixel
}

var (
	bgraPlanes = []PlaneLayout{
		{Texture: gputypes.TextureFormatBGRA8Unorm, BytesPerPixel: 4, SubsampleX: 1, SubsampleY: 1},
	}
	nv12Planes = []PlaneLayout{
		{Texture: gputypes.TextureFormatR8Unorm, BytesPerPixel: 1, SubsampleX: 1, SubsampleY: 1},
		{Texture: gputypes.TextureFormatRG8Unorm, BytesPerPixel: 2, SubsampleX: 2, SubsampleY: 2},
	}
)

// Planes returns the layout of every plane, luma first for bi-planar formats.
// The returned slice must not be modified.
func (f Format) Planes() []PlaneLayout {
	switch f {
	case Packed32BGRA:
		return bgraPlanes
	case PlanarYCbCr420VideoRange, PlanarYCbCr420FullRange:
		return nv12Planes
	}
	return nil
}

// FrameSize returns the number of bytes a tightly packed w by h frame occupies
// across all planes.
func (f Format) FrameSize(w, h int) int {
	n := 0
	for _, p := range f.Planes() {
		_, ph := p.Size(w, h)
		n += p.MinStride(w) * ph
	}
	return n
}

func ceilDiv(a, b int) int {
	if b <= 1 {
		return a
	}
	return (a + b - 1) / b
}
