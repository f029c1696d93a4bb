package convert

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/camtex/capture"
	"github.com/gogpu/camtex/pixfmt"
)

func TestToImageBGRA(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 3))
	src.SetRGBA(1, 2, color.RGBA{R: 250, G: 10, B: 20, A: 255})

	f, err := capture.FrameFromImage(src, pixfmt.Packed32BGRA)
	require.NoError(t, err)
	defer f.Release()

	img, err := ToImage(f)
	require.NoError(t, err)
	rgba, ok := img.(*image.RGBA)
	require.True(t, ok)
	assert.Equal(t, src.Pix, rgba.Pix)
}

func TestToImageNV12FullRange(t *testing.T) {
	src := image.NewYCbCr(image.Rect(0, 0, 4, 4), image.YCbCrSubsampleRatio420)
	for i := range src.Y {
		src.Y[i] = uint8(i * 7)
	}
	for i := range src.Cb {
		src.Cb[i], src.Cr[i] = uint8(100+i), uint8(200-i)
	}

	f, err := capture.FrameFromImage(src, pixfmt.PlanarYCbCr420FullRange)
	require.NoError(t, err)
	defer f.Release()

	img, err := ToImage(f)
	require.NoError(t, err)
	ycc, ok := img.(*image.YCbCr)
	require.True(t, ok)
	assert.Equal(t, src.Y, ycc.Y)
	assert.Equal(t, src.Cb, ycc.Cb)
	assert.Equal(t, src.Cr, ycc.Cr)
}

func TestToImageNV12VideoRangeExpandsLuma(t *testing.T) {
	src := image.NewYCbCr(image.Rect(0, 0, 2, 2), image.YCbCrSubsampleRatio420)
	copy(src.Y, []uint8{0, 255, 0, 255})

	f, err := capture.FrameFromImage(src, pixfmt.PlanarYCbCr420VideoRange)
	require.NoError(t, err)
	defer f.Release()

	img, err := ToImage(f)
	require.NoError(t, err)
	ycc := img.(*image.YCbCr)
	assert.Equal(t, []uint8{0, 255, 0, 255}, ycc.Y)
}

func TestExpandLuma(t *testing.T) {
	black, white := pixfmt.RangeVideo.LumaLevels()
	assert.Equal(t, uint8(0), expandLuma(black))
	assert.Equal(t, uint8(255), expandLuma(white))
	assert.Equal(t, uint8(0), expandLuma(0))
	assert.Equal(t, uint8(0), expandLuma(16))
	assert.Equal(t, uint8(255), expandLuma(235))
	assert.Equal(t, uint8(255), expandLuma(250))
	assert.InDelta(t, 128, int(expandLuma(126)), 1)
}
