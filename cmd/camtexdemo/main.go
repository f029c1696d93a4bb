// Command camtexdemo streams a camera into an offscreen GPU texture.
//
// It captures from the chosen backend, renders every refresh into a render
// target and optionally saves a PNG snapshot of one frame.
//
//	camtexdemo -backend gstreamer -format nv12 -duration 5s -snapshot frame.png
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/png"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	_ "github.com/gogpu/wgpu/hal/vulkan"
	_ "github.com/pion/mediadevices/pkg/driver/camera"

	"github.com/gogpu/camtex"
	"github.com/gogpu/camtex/capture"
	"github.com/gogpu/camtex/capture/gstreamer"
	"github.com/gogpu/camtex/capture/mediadevices"
	"github.com/gogpu/camtex/capture/synthetic"
	"github.com/gogpu/camtex/pixfmt"
	"github.com/gogpu/camtex/render"
)

func main() {
	format := pixfmt.PlanarYCbCr420VideoRange
	var (
		backendName   = flag.String("backend", "synthetic", "capture backend: synthetic, mediadevices or gstreamer")
		size          = flag.String("size", "1280x720", "requested capture size WxH")
		fps           = flag.Int("fps", 30, "requested capture frame rate")
		inFlight      = flag.Int("inflight", 1, "frames the GPU may have in flight")
		refresh       = flag.Int("refresh", render.DefaultRefreshRate, "display refresh rate in Hz")
		duration      = flag.Duration("duration", 3*time.Second, "how long to run, 0 until interrupted")
		snapshot      = flag.String("snapshot", "", "write one frame to this PNG file")
		snapshotWidth = flag.Int("snapshot-width", 0, "scale the snapshot down to this width")
		front         = flag.Bool("front", false, "prefer the front camera")
		gpu           = flag.String("gpu", "vulkan", "HAL backend: vulkan or noop")
		verbose       = flag.Bool("v", false, "verbose logging")
	)
	flag.Var(&format, "format", "capture pixel format: bgra, nv12 or nv12-full")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	camtex.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	w, h, err := parseSize(*size)
	if err != nil {
		log.Fatalf("camtexdemo: %v", err)
	}
	backend, err := newBackend(*backendName, w, h, *fps)
	if err != nil {
		log.Fatalf("camtexdemo: %v", err)
	}

	device, queue, cleanup, err := openDevice(*gpu)
	if err != nil {
		log.Fatalf("camtexdemo: %v", err)
	}
	defer cleanup()

	opts := []camtex.Option{
		camtex.WithInFlightFrames(*inFlight),
		camtex.WithRefreshRate(*refresh),
		camtex.WithErrorHandler(func(err error) {
			kind, _ := capture.KindOf(err)
			log.Printf("camtexdemo: capture error (%v): %v", kind, err)
		}),
	}
	if *front {
		opts = append(opts, camtex.WithDevicePreference(
			capture.Preference{Kind: capture.KindWideAngle, Position: capture.PositionFront},
		))
	}

	p, err := camtex.New(backend, device, queue, format, opts...)
	if err != nil {
		log.Fatalf("camtexdemo: %v", err)
	}

	target, err := render.NewTextureDrawable(device, w, h, gputypes.TextureFormatBGRA8Unorm)
	if err != nil {
		log.Fatalf("camtexdemo: %v", err)
	}
	defer target.Destroy()
	p.DrawableSizeChanged(w, h)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	if err := p.Start(); err != nil {
		log.Fatalf("camtexdemo: %v", err)
	}

	if *snapshot != "" {
		go func() {
			if err := saveSnapshot(ctx, p, *snapshot, *snapshotWidth); err != nil {
				log.Printf("camtexdemo: snapshot: %v", err)
			}
		}()
	}

	err = p.Run(ctx, target)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		log.Printf("camtexdemo: run: %v", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Close(closeCtx); err != nil {
		log.Printf("camtexdemo: close: %v", err)
	}

	st := p.Stats()
	fmt.Printf("delivered %d, dropped %d, converted %d, drawn %d, completed %d, skipped %d, peak in flight %d, presented %d\n",
		st.Capture.Delivered, st.Capture.Dropped, st.Convert.Converted,
		st.Render.Draws, st.Render.Completed, st.Render.Skipped, st.Render.PeakInFlight,
		target.Presented())
}

func newBackend(name string, w, h, fps int) (capture.Backend, error) {
	switch name {
	case "synthetic":
		return synthetic.New(synthetic.WithSize(w, h), synthetic.WithFrameRate(float64(fps))), nil
	case "mediadevices":
		return mediadevices.New(mediadevices.WithSize(w, h), mediadevices.WithFrameRate(float32(fps))), nil
	case "gstreamer":
		return gstreamer.New(gstreamer.WithSize(w, h), gstreamer.WithFrameRate(fps)), nil
	}
	return nil, fmt.Errorf("unknown backend %q", name)
}

// openDevice opens the first adapter of the named HAL backend, preferring a
// real GPU over a software one.
func openDevice(name string) (hal.Device, hal.Queue, func(), error) {
	var (
		instance hal.Instance
		err      error
	)
	switch name {
	case "vulkan":
		backend, ok := hal.GetBackend(gputypes.BackendVulkan)
		if !ok {
			return nil, nil, nil, errors.New("vulkan backend not available")
		}
		instance, err = backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	case "noop":
		instance, err = noop.API{}.CreateInstance(nil)
	default:
		return nil, nil, nil, fmt.Errorf("unknown gpu backend %q", name)
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, nil, nil, errors.New("no GPU adapters found")
	}

	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, nil, nil, fmt.Errorf("open device: %w", err)
	}
	slog.Info("camtexdemo: GPU ready", "backend", name, "adapter", selected.Info.Name)

	cleanup := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return openDev.Device, openDev.Queue, cleanup, nil
}

func saveSnapshot(ctx context.Context, p *camtex.Pipeline, path string, width int) error {
	img, err := p.Snapshot(ctx, width)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	log.Printf("camtexdemo: snapshot saved to %s (%dx%d)", path, img.Bounds().Dx(), img.Bounds().Dy())
	return nil
}

func parseSize(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("size %q: want WxH", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil {
		return 0, 0, fmt.Errorf("size %q: %w", s, err)
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return 0, 0, fmt.Errorf("size %q: %w", s, err)
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("size %q: dimensions must be positive", s)
	}
	return w, h, nil
}
