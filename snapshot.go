package camtex

import (
	"context"
	"image"

	"golang.org/x/image/draw"

	"github.com/gogpu/camtex/capture"
	"github.com/gogpu/camtex/convert"
)

type snapshotResult struct {
	img image.Image
	err error
}

type snapshotRequest struct {
	width  int
	result chan snapshotResult
}

// Snapshot decodes the next delivered frame on the CPU. If width is positive
// and smaller than the frame, the image is scaled to that width keeping the
// aspect ratio.
//
// Snapshot blocks until a frame arrives, ctx is done or the pipeline closes.
func (p *Pipeline) Snapshot(ctx context.Context, width int) (image.Image, error) {
	req := snapshotRequest{width: width, result: make(chan snapshotResult, 1)}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.waiters = append(p.waiters, req)
	p.mu.Unlock()

	select {
	case r := <-req.result:
		return r.img, r.err
	case <-ctx.Done():
		p.cancelSnapshot(req)
		return nil, ctx.Err()
	}
}

func (p *Pipeline) cancelSnapshot(req snapshotRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w.result == req.result {
			p.waiters = append(p.waiters[:i:i], p.waiters[i+1:]...)
			return
		}
	}
}

func (p *Pipeline) serveSnapshots(f *capture.Frame) {
	p.mu.Lock()
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()
	if len(waiters) == 0 {
		return
	}

	img, err := convert.ToImage(f)
	for _, w := range waiters {
		if err != nil {
			w.result <- snapshotResult{err: err}
			continue
		}
		w.result <- snapshotResult{img: scaleToWidth(img, w.width)}
	}
}

// scaleToWidth returns img scaled down to width. Images already narrower are
// returned unchanged.
func scaleToWidth(img image.Image, width int) image.Image {
	b := img.Bounds()
	if width <= 0 || width >= b.Dx() {
		return img
	}
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
