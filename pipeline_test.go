package camtex

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/camtex/capture"
	"github.com/gogpu/camtex/capture/synthetic"
	"github.com/gogpu/camtex/pixfmt"
	"github.com/gogpu/camtex/render"
)

func createNoopDevice(t *testing.T) (hal.Device, hal.Queue) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		openDev.Device.Destroy()
		instance.Destroy()
	})
	return openDev.Device, openDev.Queue
}

// errorLog collects errors passed to the ErrorHandler.
type errorLog struct {
	mu   sync.Mutex
	errs []error
}

func (l *errorLog) handle(err error) {
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
}

func (l *errorLog) all() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func newPipeline(t *testing.T, backend capture.Backend, format pixfmt.Format, opts ...Option) (*Pipeline, hal.Device) {
	t.Helper()
	device, queue := createNoopDevice(t)
	p, err := New(backend, device, queue, format, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := p.Close(ctx); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return p, device
}

func start(t *testing.T, p *Pipeline) {
	t.Helper()
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	p.Source().Sync()
	if st := p.Source().State(); st != capture.StateRunning {
		t.Fatalf("source state = %v, want running", st)
	}
}

func TestPackedFrameEndToEnd(t *testing.T) {
	backend := synthetic.New(synthetic.WithSize(1920, 1080))
	p, device := newPipeline(t, backend, pixfmt.Packed32BGRA)
	start(t, p)

	if !backend.Session().Emit() {
		t.Fatal("Emit() = false on running session")
	}
	waitFor(t, "texture update", func() bool { return p.Stats().Render.TextureUpdates == 1 })

	ts := p.Surface().Texture()
	if ts == nil {
		t.Fatal("surface has no texture after delivery")
	}
	defer ts.Release()
	if len(ts.Planes) != 1 {
		t.Fatalf("got %d textures, want 1", len(ts.Planes))
	}
	if pl := ts.Planes[0]; pl.Width != 1920 || pl.Height != 1080 || pl.Format != gputypes.TextureFormatBGRA8Unorm {
		t.Errorf("plane = %dx%d %v, want 1920x1080 BGRA8Unorm", pl.Width, pl.Height, pl.Format)
	}
	if w, h := p.Surface().TextureSize(); w != 1920 || h != 1080 {
		t.Errorf("uniform = {%v, %v}, want {1920, 1080}", w, h)
	}

	d, err := render.NewTextureDrawable(device, 1280, 720, gputypes.TextureFormatBGRA8Unorm)
	if err != nil {
		t.Fatalf("NewTextureDrawable() error = %v", err)
	}
	defer d.Destroy()
	if err := p.Draw(context.Background(), d); err != nil {
		t.Fatalf("Draw() error = %v", err)
	}
	if got := p.Stats().Render.Draws; got != 1 {
		t.Errorf("Draws = %d, want 1", got)
	}
	if d.Presented() != 1 {
		t.Errorf("Presented() = %d, want 1", d.Presented())
	}
}

func TestPlanarFrameEndToEnd(t *testing.T) {
	for _, format := range []pixfmt.Format{pixfmt.PlanarYCbCr420VideoRange, pixfmt.PlanarYCbCr420FullRange} {
		t.Run(format.String(), func(t *testing.T) {
			backend := synthetic.New(synthetic.WithSize(640, 480))
			p, _ := newPipeline(t, backend, format)
			start(t, p)

			backend.Session().Emit()
			waitFor(t, "texture update", func() bool { return p.Stats().Render.TextureUpdates == 1 })

			ts := p.Surface().Texture()
			if ts == nil {
				t.Fatal("surface has no texture after delivery")
			}
			defer ts.Release()
			if len(ts.Planes) != 2 {
				t.Fatalf("got %d textures, want 2", len(ts.Planes))
			}
			luma, chroma := ts.Planes[0], ts.Planes[1]
			if luma.Width != 640 || luma.Height != 480 {
				t.Errorf("luma = %dx%d, want 640x480", luma.Width, luma.Height)
			}
			if chroma.Width != luma.Width/2 || chroma.Height != luma.Height/2 {
				t.Errorf("chroma = %dx%d, want half of luma", chroma.Width, chroma.Height)
			}
			if luma.Format != gputypes.TextureFormatR8Unorm || chroma.Format != gputypes.TextureFormatRG8Unorm {
				t.Errorf("plane formats = %v, %v, want R8Unorm, RG8Unorm", luma.Format, chroma.Format)
			}
		})
	}
}

func TestAuthorizationDeniedEndToEnd(t *testing.T) {
	tests := []struct {
		name   string
		status capture.AuthorizationStatus
	}{
		{"denied_on_request", capture.NotDetermined},
		{"already_denied", capture.Denied},
		{"restricted", capture.Restricted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := synthetic.New(synthetic.WithAuthorization(tt.status, false))
			var log errorLog
			p, _ := newPipeline(t, backend, pixfmt.Packed32BGRA, WithErrorHandler(log.handle))

			if err := p.Start(); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			p.Source().Sync()
			waitFor(t, "authorization error", func() bool { return len(log.all()) > 0 })

			p.Resume()
			p.Source().Sync()
			if s := backend.Session(); s != nil {
				t.Error("a session was opened without authorization")
			}
			// Give a stray delivery a chance to show up.
			time.Sleep(10 * time.Millisecond)

			errs := log.all()
			if len(errs) != 1 {
				t.Fatalf("ErrorHandler called %d times, want 1: %v", len(errs), errs)
			}
			if !errors.Is(errs[0], capture.ErrInsufficientAuthorization) {
				t.Errorf("error = %v, want InsufficientAuthorization", errs[0])
			}
			if st := p.Stats(); st.Capture.Delivered != 0 || st.Render.TextureUpdates != 0 {
				t.Errorf("delivered = %d, texture updates = %d, want 0", st.Capture.Delivered, st.Render.TextureUpdates)
			}
		})
	}
}

func TestSessionFailureReportedOnce(t *testing.T) {
	errBusy := errors.New("device busy")
	backend := synthetic.New(synthetic.WithOpenError(errBusy))
	var log errorLog
	p, _ := newPipeline(t, backend, pixfmt.Packed32BGRA, WithErrorHandler(log.handle))

	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	p.Source().Sync()
	waitFor(t, "session error", func() bool { return len(log.all()) > 0 })

	p.Resume()
	p.Source().Sync()
	time.Sleep(10 * time.Millisecond)

	errs := log.all()
	if len(errs) != 1 {
		t.Fatalf("ErrorHandler called %d times, want 1: %v", len(errs), errs)
	}
	if !errors.Is(errs[0], capture.ErrSessionInitialization) || !errors.Is(errs[0], errBusy) {
		t.Errorf("error = %v, want SessionInitializationFailure wrapping %v", errs[0], errBusy)
	}
	if st := p.Source().State(); st != capture.StateTornDown {
		t.Errorf("source state = %v, want torn-down", st)
	}
}

func TestPerFrameErrorsNotReported(t *testing.T) {
	backend := synthetic.New(
		synthetic.WithRetrievalFailureEvery(2),
		synthetic.WithLockFailureEvery(3),
	)
	var log errorLog
	p, _ := newPipeline(t, backend, pixfmt.Packed32BGRA, WithErrorHandler(log.handle))
	start(t, p)

	// Frames 2, 4 fail retrieval; frame 3 fails to lock; 1 and 5 upload.
	for i := 0; i < 5; i++ {
		backend.Session().Emit()
		p.Source().Sync()
		time.Sleep(2 * time.Millisecond)
	}
	waitFor(t, "retrieval failures", func() bool { return p.Stats().Capture.RetrievalFailures == 2 })

	if errs := log.all(); len(errs) != 0 {
		t.Errorf("per-frame errors reached ErrorHandler: %v", errs)
	}
	if st := p.Source().State(); st != capture.StateRunning {
		t.Errorf("source state = %v after per-frame errors, want running", st)
	}
}

func TestSuspendResume(t *testing.T) {
	backend := synthetic.New()
	p, _ := newPipeline(t, backend, pixfmt.Packed32BGRA)
	start(t, p)

	backend.Session().Emit()
	waitFor(t, "first frame", func() bool { return p.Stats().Render.TextureUpdates == 1 })

	p.Suspend()
	p.Source().Sync()
	if backend.Session().Emit() {
		t.Error("suspended session emitted a frame")
	}
	time.Sleep(10 * time.Millisecond)
	if got := p.Stats().Render.TextureUpdates; got != 1 {
		t.Errorf("TextureUpdates = %d while suspended, want 1", got)
	}

	p.Resume()
	p.Source().Sync()
	backend.Session().Emit()
	waitFor(t, "frame after resume", func() bool { return p.Stats().Render.TextureUpdates == 2 })
	if n := backend.Counters().SessionsOpened; n != 1 {
		t.Errorf("SessionsOpened = %d, want 1 (resume must not reconfigure)", n)
	}
}

func TestRunDrawsLatestFrame(t *testing.T) {
	backend := synthetic.New(synthetic.WithFrameRate(200))
	p, device := newPipeline(t, backend, pixfmt.PlanarYCbCr420VideoRange, WithRefreshRate(250))
	start(t, p)

	d, err := render.NewTextureDrawable(device, 320, 240, gputypes.TextureFormatBGRA8Unorm)
	if err != nil {
		t.Fatalf("NewTextureDrawable() error = %v", err)
	}
	defer d.Destroy()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := p.Run(ctx, d); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() = %v, want DeadlineExceeded", err)
	}

	st := p.Stats()
	if st.Render.Draws == 0 {
		t.Error("Run did not draw")
	}
	if st.Render.PeakInFlight > 1 {
		t.Errorf("PeakInFlight = %d, want <= 1", st.Render.PeakInFlight)
	}
	if st.Convert.Converted == 0 {
		t.Error("no frames converted")
	}
}

func TestSnapshot(t *testing.T) {
	backend := synthetic.New(synthetic.WithSize(640, 480))
	p, _ := newPipeline(t, backend, pixfmt.Packed32BGRA)
	start(t, p)

	type result struct {
		img image.Image
		err error
	}
	full := make(chan result, 1)
	scaled := make(chan result, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() {
		img, err := p.Snapshot(ctx, 0)
		full <- result{img, err}
	}()
	go func() {
		img, err := p.Snapshot(ctx, 160)
		scaled <- result{img, err}
	}()

	waitFor(t, "snapshot requests", func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.waiters) == 2
	})
	backend.Session().Emit()

	r := <-full
	if r.err != nil {
		t.Fatalf("Snapshot() error = %v", r.err)
	}
	if b := r.img.Bounds(); b.Dx() != 640 || b.Dy() != 480 {
		t.Errorf("snapshot bounds = %v, want 640x480", b)
	}
	r = <-scaled
	if r.err != nil {
		t.Fatalf("Snapshot(160) error = %v", r.err)
	}
	if b := r.img.Bounds(); b.Dx() != 160 || b.Dy() != 120 {
		t.Errorf("scaled snapshot bounds = %v, want 160x120", b)
	}
}

func TestSnapshotCanceled(t *testing.T) {
	p, _ := newPipeline(t, synthetic.New(), pixfmt.Packed32BGRA)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := p.Snapshot(ctx, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Snapshot() = %v, want DeadlineExceeded", err)
	}
	p.mu.Lock()
	n := len(p.waiters)
	p.mu.Unlock()
	if n != 0 {
		t.Errorf("%d snapshot requests left after cancel", n)
	}
}

func TestClose(t *testing.T) {
	device, queue := createNoopDevice(t)
	p, err := New(synthetic.New(), device, queue, pixfmt.Packed32BGRA)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	snap := make(chan error, 1)
	go func() {
		_, err := p.Snapshot(context.Background(), 0)
		snap <- err
	}()
	waitFor(t, "snapshot request", func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.waiters) == 1
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := p.Close(ctx); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := <-snap; !errors.Is(err, ErrClosed) {
		t.Errorf("pending Snapshot() = %v, want ErrClosed", err)
	}
	if err := p.Start(); !errors.Is(err, ErrClosed) {
		t.Errorf("Start() after Close = %v, want ErrClosed", err)
	}
	if _, err := p.Snapshot(ctx, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("Snapshot() after Close = %v, want ErrClosed", err)
	}
}

func TestNewErrors(t *testing.T) {
	device, queue := createNoopDevice(t)

	if _, err := New(synthetic.New(), device, queue, pixfmt.Invalid); !errors.Is(err, pixfmt.ErrUnknownFormat) {
		t.Errorf("New(Invalid) = %v, want ErrUnknownFormat", err)
	}
	if _, err := New(synthetic.New(), nil, nil, pixfmt.Packed32BGRA); !errors.Is(err, render.ErrPipelineStateSetup) {
		t.Errorf("New(nil device) = %v, want ErrPipelineStateSetup", err)
	}
	if _, err := NewFromHandle(synthetic.New(), render.NullDeviceHandle{}, pixfmt.Packed32BGRA); !errors.Is(err, render.ErrNoHALDevice) {
		t.Errorf("NewFromHandle(null) = %v, want ErrNoHALDevice", err)
	}
}

func TestScaleToWidth(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 400, 300))
	tests := []struct {
		width int
		want  image.Rectangle
	}{
		{0, image.Rect(0, 0, 400, 300)},
		{400, image.Rect(0, 0, 400, 300)},
		{800, image.Rect(0, 0, 400, 300)},
		{200, image.Rect(0, 0, 200, 150)},
		{1, image.Rect(0, 0, 1, 1)},
	}
	for _, tt := range tests {
		if got := scaleToWidth(src, tt.width).Bounds(); got != tt.want {
			t.Errorf("scaleToWidth(%d) bounds = %v, want %v", tt.width, got, tt.want)
		}
	}
}
