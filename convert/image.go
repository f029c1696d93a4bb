package convert

import (
	"fmt"
	"image"

	"github.com/gogpu/camtex/capture"
	"github.com/gogpu/camtex/pixfmt"
)

// ToImage decodes f on the CPU. BGRA frames become *image.RGBA and bi-planar
// frames become *image.YCbCr with luma expanded to full range. The result does
// not share memory with the frame.
func ToImage(f *capture.Frame) (image.Image, error) {
	if err := f.Lock(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFrameUnavailable, err)
	}
	defer f.Unlock()

	switch f.Format {
	case pixfmt.Packed32BGRA:
		p, err := f.Plane(0)
		if err != nil {
			return nil, err
		}
		img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
		for y := 0; y < f.Height; y++ {
			src := p.Data[y*p.Stride : y*p.Stride+f.Width*4]
			dst := img.Pix[y*img.Stride:]
			for x := 0; x < len(src); x += 4 {
				dst[x+0] = src[x+2]
				dst[x+1] = src[x+1]
				dst[x+2] = src[x+0]
				dst[x+3] = src[x+3]
			}
		}
		return img, nil

	case pixfmt.PlanarYCbCr420VideoRange, pixfmt.PlanarYCbCr420FullRange:
		luma, err := f.Plane(0)
		if err != nil {
			return nil, err
		}
		chroma, err := f.Plane(1)
		if err != nil {
			return nil, err
		}
		video := f.Format.Range() == pixfmt.RangeVideo
		img := image.NewYCbCr(image.Rect(0, 0, f.Width, f.Height), image.YCbCrSubsampleRatio420)
		for y := 0; y < f.Height; y++ {
			src := luma.Data[y*luma.Stride : y*luma.Stride+f.Width]
			dst := img.Y[y*img.YStride:]
			for x, v := range src {
				if video {
					v = expandLuma(v)
				}
				dst[x] = v
			}
		}
		cw, ch := (f.Width+1)/2, (f.Height+1)/2
		for y := 0; y < ch; y++ {
			src := chroma.Data[y*chroma.Stride:]
			for x := 0; x < cw; x++ {
				img.Cb[y*img.CStride+x] = src[2*x]
				img.Cr[y*img.CStride+x] = src[2*x+1]
			}
		}
		return img, nil
	}
	return nil, fmt.Errorf("convert: %w: %v", pixfmt.ErrUnknownFormat, f.Format)
}

// expandLuma maps video-range luma 16..235 to 0..255.
func expandLuma(v uint8) uint8 {
	black, white := pixfmt.RangeVideo.LumaLevels()
	switch {
	case v <= black:
		return 0
	case v >= white:
		return 255
	}
	span := int(white) - int(black)
	return uint8((int(v-black)*255 + span/2) / span)
}
