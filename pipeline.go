package camtex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/camtex/capture"
	"github.com/gogpu/camtex/convert"
	"github.com/gogpu/camtex/pixfmt"
	"github.com/gogpu/camtex/render"
)

// ErrClosed is returned by operations on a closed Pipeline.
var ErrClosed = errors.New("camtex: pipeline closed")

// Stats is a snapshot of all pipeline counters.
type Stats struct {
	Capture capture.Stats
	Convert convert.Stats
	Render  render.Stats

	// Rejected counts texture sets the surface refused.
	Rejected uint64
}

// Pipeline connects a capture source to a render surface through a texture
// converter. Frames are converted on the source's delivery goroutine and the
// resulting texture set replaces the surface's latest one.
type Pipeline struct {
	format  pixfmt.Format
	opts    options
	source  *capture.Source
	conv    *convert.Converter
	surface *render.Surface
	reg     capture.Registration

	mu       sync.Mutex
	reported map[capture.ErrorKind]bool
	waiters  []snapshotRequest
	closed   bool

	rejected atomic.Uint64
}

// New builds a pipeline for frames in format, rendering with device and
// queue. The device is not owned by the pipeline.
//
// Surface setup failures are returned and wrap the render setup errors. The
// camera is not touched until Start.
func New(backend capture.Backend, device hal.Device, queue hal.Queue, format pixfmt.Format, opts ...Option) (*Pipeline, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if !format.Valid() {
		return nil, fmt.Errorf("camtex: %w: %v", pixfmt.ErrUnknownFormat, format)
	}

	surface, err := render.NewSurface(device, queue, format, o.surfaceOptions...)
	if err != nil {
		return nil, fmt.Errorf("camtex: %w", err)
	}

	p := &Pipeline{
		format:   format,
		opts:     o,
		source:   capture.NewSource(backend, o.sourceOptions...),
		conv:     convert.New(device, queue),
		surface:  surface,
		reported: make(map[capture.ErrorKind]bool),
	}
	p.reg = p.source.Register(capture.ObserverFuncs{
		Frame: p.onFrame,
		Error: p.onError,
	})
	return p, nil
}

// NewFromHandle builds a pipeline on the device shared by a host application.
func NewFromHandle(backend capture.Backend, handle render.DeviceHandle, format pixfmt.Format, opts ...Option) (*Pipeline, error) {
	device, queue, err := render.DeviceFromHandle(handle)
	if err != nil {
		return nil, fmt.Errorf("camtex: %w: %w", render.ErrPipelineStateSetup, err)
	}
	if f := handle.SurfaceFormat(); f != gputypes.TextureFormatUndefined {
		opts = append([]Option{WithSurfaceOptions(render.WithColorFormat(f))}, opts...)
	}
	return New(backend, device, queue, format, opts...)
}

// Source returns the capture source.
func (p *Pipeline) Source() *capture.Source { return p.source }

// Surface returns the render surface.
func (p *Pipeline) Surface() *render.Surface { return p.surface }

// Format returns the pixel format frames are captured in.
func (p *Pipeline) Format() pixfmt.Format { return p.format }

// Start sets up the capture session and starts delivery once it is
// configured. Authorization is requested first if needed; a denial reaches
// the ErrorHandler and no frames are delivered.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := p.source.Setup(p.format); err != nil {
		return fmt.Errorf("camtex: %w", err)
	}
	p.source.Resume()
	return nil
}

// Suspend stops frame delivery. The session stays configured and draws
// already on the GPU run to completion.
func (p *Pipeline) Suspend() { p.source.Suspend() }

// Resume restarts frame delivery after Suspend.
func (p *Pipeline) Resume() { p.source.Resume() }

// Draw renders the latest frame into d. Hosts with a display callback call
// it once per refresh instead of using Run.
func (p *Pipeline) Draw(ctx context.Context, d render.Drawable) error {
	return p.surface.Draw(ctx, d)
}

// DrawableSizeChanged forwards a drawable resize to the surface.
func (p *Pipeline) DrawableSizeChanged(width, height int) {
	p.surface.DrawableSizeChanged(width, height)
}

// Run draws into d at the configured refresh rate until ctx is done or the
// pipeline is closed.
func (p *Pipeline) Run(ctx context.Context, d render.Drawable) error {
	err := render.NewDisplayLink(p.opts.refreshRate, render.DrawTo(p.surface, d)).Run(ctx)
	if errors.Is(err, render.ErrSurfaceClosed) {
		return ErrClosed
	}
	return err
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Capture:  p.source.Stats(),
		Convert:  p.conv.Stats(),
		Render:   p.surface.Stats(),
		Rejected: p.rejected.Load(),
	}
}

// Close tears down the capture session, waits for submitted draws and
// releases GPU objects. Pending snapshots fail with ErrClosed. Close is
// idempotent.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		w.result <- snapshotResult{err: ErrClosed}
	}

	p.reg.Unregister()
	err := p.source.Teardown(ctx)
	p.surface.Close()
	Logger().Info("camtex: pipeline closed")
	return err
}

func (p *Pipeline) onFrame(f *capture.Frame) {
	p.serveSnapshots(f)

	ts, err := p.conv.Convert(f)
	if err != nil {
		Logger().Debug("camtex: frame dropped", "seq", f.Seq, "trace_id", f.TraceID, "err", err)
		return
	}
	if err := p.surface.SetTexture(ts); err != nil {
		p.rejected.Add(1)
		Logger().Debug("camtex: texture rejected", "seq", f.Seq, "trace_id", f.TraceID, "err", err)
	}
}

func (p *Pipeline) onError(err error) {
	kind, ok := capture.KindOf(err)
	if ok && kind.Recoverable() {
		Logger().Debug("camtex: frame skipped", "err", err)
		return
	}

	p.mu.Lock()
	if p.reported[kind] {
		p.mu.Unlock()
		return
	}
	p.reported[kind] = true
	p.mu.Unlock()

	Logger().Warn("camtex: capture error", "kind", kind, "err", err)
	if p.opts.errorHandler != nil {
		p.opts.errorHandler(err)
	}
}
