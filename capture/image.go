package capture

import (
	"fmt"
	"image"
	"image/color"

	"github.com/gogpu/camtex/pixfmt"
)

// FrameFromImage copies img into newly allocated planes of the given format.
// Backends whose drivers hand out decoded images use it to produce frames.
func FrameFromImage(img image.Image, format pixfmt.Format, opts ...FrameOption) (*Frame, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("capture: empty image %v", b)
	}
	planes := AllocPlanes(format, w, h)
	if planes == nil {
		return nil, fmt.Errorf("%w: %v", pixfmt.ErrUnknownFormat, format)
	}
	if err := FillPlanes(planes, img, format); err != nil {
		return nil, err
	}
	return NewFrame(format, w, h, planes, opts...)
}

// AllocPlanes returns tightly packed planes for a w by h frame.
func AllocPlanes(format pixfmt.Format, w, h int) []Plane {
	layouts := format.Planes()
	if layouts == nil {
		return nil
	}
	planes := make([]Plane, len(layouts))
	for i, l := range layouts {
		_, rows := l.Size(w, h)
		stride := l.MinStride(w)
		planes[i] = Plane{Data: make([]byte, stride*rows), Stride: stride}
	}
	return planes
}

// FillPlanes writes img into planes laid out for format.
// Luma of video-range formats is compressed to 16..235; chroma stays full range.
func FillPlanes(planes []Plane, img image.Image, format pixfmt.Format) error {
	b := img.Bounds()
	if err := validatePlanes(format, b.Dx(), b.Dy(), planes); err != nil {
		return err
	}
	switch format {
	case pixfmt.Packed32BGRA:
		fillBGRA(planes[0], img)
	case pixfmt.PlanarYCbCr420VideoRange, pixfmt.PlanarYCbCr420FullRange:
		fillNV12(planes[0], planes[1], img, format.Range() == pixfmt.RangeVideo)
	default:
		return fmt.Errorf("%w: %v", pixfmt.ErrUnknownFormat, format)
	}
	return nil
}

func fillBGRA(dst Plane, img image.Image) {
	b := img.Bounds()
	switch src := img.(type) {
	case *image.RGBA:
		for y := 0; y < b.Dy(); y++ {
			s := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
			d := dst.Data[y*dst.Stride:]
			for x := 0; x < b.Dx(); x++ {
				i := x * 4
				d[i+0] = s[i+2]
				d[i+1] = s[i+1]
				d[i+2] = s[i+0]
				d[i+3] = s[i+3]
			}
		}
	case *image.YCbCr:
		for y := 0; y < b.Dy(); y++ {
			d := dst.Data[y*dst.Stride:]
			for x := 0; x < b.Dx(); x++ {
				yi := src.YOffset(b.Min.X+x, b.Min.Y+y)
				ci := src.COffset(b.Min.X+x, b.Min.Y+y)
				r, g, bb := color.YCbCrToRGB(src.Y[yi], src.Cb[ci], src.Cr[ci])
				d[x*4+0], d[x*4+1], d[x*4+2], d[x*4+3] = bb, g, r, 0xff
			}
		}
	default:
		for y := 0; y < b.Dy(); y++ {
			d := dst.Data[y*dst.Stride:]
			for x := 0; x < b.Dx(); x++ {
				c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				d[x*4+0], d[x*4+1], d[x*4+2], d[x*4+3] = c.B, c.G, c.R, c.A
			}
		}
	}
}

func fillNV12(luma, chroma Plane, img image.Image, videoRange bool) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	src, ok := img.(*image.YCbCr)
	if ok && src.SubsampleRatio == image.YCbCrSubsampleRatio420 {
		for y := 0; y < h; y++ {
			d := luma.Data[y*luma.Stride : y*luma.Stride+w]
			for x := range d {
				d[x] = scaleLuma(src.Y[src.YOffset(b.Min.X+x, b.Min.Y+y)], videoRange)
			}
		}
		for y := 0; y < (h+1)/2; y++ {
			d := chroma.Data[y*chroma.Stride:]
			for x := 0; x < (w+1)/2; x++ {
				ci := src.COffset(b.Min.X+2*x, b.Min.Y+2*y)
				d[2*x], d[2*x+1] = src.Cb[ci], src.Cr[ci]
			}
		}
		return
	}

	for y := 0; y < h; y++ {
		d := luma.Data[y*luma.Stride:]
		for x := 0; x < w; x++ {
			yy, _, _ := pixelYCbCr(img, b.Min.X+x, b.Min.Y+y)
			d[x] = scaleLuma(yy, videoRange)
		}
	}
	for y := 0; y < (h+1)/2; y++ {
		d := chroma.Data[y*chroma.Stride:]
		for x := 0; x < (w+1)/2; x++ {
			var cb, cr, n int
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					px, py := 2*x+dx, 2*y+dy
					if px >= w || py >= h {
						continue
					}
					_, u, v := pixelYCbCr(img, b.Min.X+px, b.Min.Y+py)
					cb += int(u)
					cr += int(v)
					n++
				}
			}
			d[2*x], d[2*x+1] = byte(cb/n), byte(cr/n)
		}
	}
}

func pixelYCbCr(img image.Image, x, y int) (uint8, uint8, uint8) {
	c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
	return color.RGBToYCbCr(c.R, c.G, c.B)
}

// scaleLuma maps full-range luma into 16..235 when videoRange is set.
func scaleLuma(y uint8, videoRange bool) uint8 {
	if !videoRange {
		return y
	}
	black, white := pixfmt.RangeVideo.LumaLevels()
	span := int(white) - int(black)
	return uint8(int(black) + (int(y)*span+127)/255)
}
