// Package gstreamer is a capture backend that reads V4L2 cameras through a
// GStreamer pipeline:
//
//	v4l2src ! videoconvert ! videoscale ! capsfilter ! appsink
//
// The appsink keeps a single buffer and drops older ones, so late frames are
// discarded inside GStreamer before they reach the Source.
package gstreamer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/gogpu/camtex/capture"
	"github.com/gogpu/camtex/pixfmt"
)

var (
	errNoSample = errors.New("gstreamer: appsink returned no sample")
	errNoBuffer = errors.New("gstreamer: sample has no buffer")
	errEmpty    = errors.New("gstreamer: empty buffer")
)

var initOnce sync.Once

func initGStreamer() {
	initOnce.Do(func() { gst.Init(nil) })
}

// Option configures the Backend.
type Option func(*Backend)

// WithSize sets the negotiated frame size. Default 1280x720.
func WithSize(w, h int) Option {
	return func(b *Backend) { b.width, b.height = w, h }
}

// WithFrameRate pins the frame rate with a videorate element.
func WithFrameRate(fps int) Option {
	return func(b *Backend) { b.fps = fps }
}

// WithSourceElement replaces v4l2src, for example with videotestsrc.
// Non-V4L2 sources expose a single device named after the element.
func WithSourceElement(name string) Option {
	return func(b *Backend) { b.source = name }
}

// WithDeviceGlob sets the pattern used to find V4L2 device nodes.
func WithDeviceGlob(pattern string) Option {
	return func(b *Backend) { b.glob = pattern }
}

// Backend implements capture.Backend.
type Backend struct {
	width, height int
	fps           int
	source        string
	glob          string
}

// New returns a V4L2 backend.
func New(opts ...Option) *Backend {
	b := &Backend{width: 1280, height: 720, source: "v4l2src", glob: "/dev/video*"}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AuthorizationStatus implements capture.Backend. Device node permissions are
// checked when the pipeline starts.
func (b *Backend) AuthorizationStatus() capture.AuthorizationStatus { return capture.Authorized }

// RequestAuthorization implements capture.Backend.
func (b *Backend) RequestAuthorization(context.Context) (bool, error) { return true, nil }

// Devices implements capture.Backend.
func (b *Backend) Devices(context.Context) ([]capture.Device, error) {
	if b.source != "v4l2src" {
		return []capture.Device{{ID: b.source, Label: b.source}}, nil
	}
	paths, err := filepath.Glob(b.glob)
	if err != nil {
		return nil, fmt.Errorf("gstreamer: list devices: %w", err)
	}
	devs := make([]capture.Device, 0, len(paths))
	for _, p := range paths {
		devs = append(devs, capture.Device{ID: p, Label: filepath.Base(p)})
	}
	return devs, nil
}

// OpenSession implements capture.Backend.
func (b *Backend) OpenSession(_ context.Context, dev capture.Device, cfg capture.SessionConfig) (capture.Session, error) {
	caps, err := capsString(cfg.Format, b.width, b.height, b.fps)
	if err != nil {
		return nil, err
	}
	initGStreamer()

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("gstreamer: create pipeline: %w", err)
	}

	src, err := gst.NewElement(b.source)
	if err != nil {
		return nil, fmt.Errorf("gstreamer: create %s: %w", b.source, err)
	}
	switch b.source {
	case "v4l2src":
		src.SetProperty("device", dev.ID)
	case "videotestsrc":
		src.SetProperty("is-live", true)
	}

	elements := []*gst.Element{src}
	for _, name := range []string{"videoconvert", "videoscale"} {
		e, err := gst.NewElement(name)
		if err != nil {
			return nil, fmt.Errorf("gstreamer: create %s: %w", name, err)
		}
		elements = append(elements, e)
	}
	if b.fps > 0 {
		rate, err := gst.NewElement("videorate")
		if err != nil {
			return nil, fmt.Errorf("gstreamer: create videorate: %w", err)
		}
		elements = append(elements, rate)
	}

	filter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("gstreamer: create capsfilter: %w", err)
	}
	filter.SetProperty("caps", gst.NewCapsFromString(caps))
	elements = append(elements, filter)

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("gstreamer: create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)
	elements = append(elements, sink.Element)

	if err := pipeline.AddMany(elements...); err != nil {
		return nil, fmt.Errorf("gstreamer: add elements: %w", err)
	}
	if err := gst.ElementLinkMany(elements...); err != nil {
		return nil, fmt.Errorf("gstreamer: link elements: %w", err)
	}

	s := &session{
		pipeline: pipeline,
		cfg:      cfg,
		width:    b.width,
		height:   b.height,
		pool:     make(chan []byte, 4),
	}
	sink.SetCallbacks(&app.SinkCallbacks{NewSampleFunc: s.onSample})

	capture.Logger().Info("gstreamer: session opened", "device", dev.ID, "caps", caps)
	return s, nil
}

type session struct {
	pipeline      *gst.Pipeline
	cfg           capture.SessionConfig
	width, height int
	pool          chan []byte

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func (s *session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if err := s.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("gstreamer: play: %w", err)
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.watchBus(s.stop, s.done)
	return nil
}

func (s *session) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
	if err := s.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("gstreamer: stop: %w", err)
	}
	return nil
}

func (s *session) Close() error {
	return s.Stop()
}

func (s *session) watchBus(stop, done chan struct{}) {
	defer close(done)
	bus := s.pipeline.GetPipelineBus()
	for {
		select {
		case <-stop:
			return
		default:
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			capture.Logger().Error("gstreamer: pipeline error", "err", gerr.Error())
			s.cfg.Handler(nil, fmt.Errorf("gstreamer: %s", gerr.Error()))
		case gst.MessageEOS:
			capture.Logger().Warn("gstreamer: end of stream")
		}
	}
}

func (s *session) onSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		s.cfg.Handler(nil, errNoSample)
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		s.cfg.Handler(nil, errNoBuffer)
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		s.cfg.Handler(nil, errEmpty)
		return gst.FlowOK
	}
	// GStreamer reuses the buffer once the callback returns.
	buf := s.buffer(len(data))
	copy(buf, data)
	buffer.Unmap()

	planes, err := planeLayout(s.cfg.Format, s.width, s.height, buf)
	if err != nil {
		s.recycle(buf)
		s.cfg.Handler(nil, err)
		return gst.FlowOK
	}
	f, err := capture.NewFrame(s.cfg.Format, s.width, s.height, planes,
		capture.WithRecycle(func() { s.recycle(buf) }))
	if err != nil {
		s.recycle(buf)
	}
	s.cfg.Handler(f, err)
	return gst.FlowOK
}

func (s *session) buffer(n int) []byte {
	select {
	case b := <-s.pool:
		if cap(b) >= n {
			return b[:n]
		}
	default:
	}
	return make([]byte, n)
}

func (s *session) recycle(b []byte) {
	select {
	case s.pool <- b:
	default:
	}
}

// capsString returns the raw-video caps for format.
func capsString(format pixfmt.Format, w, h, fps int) (string, error) {
	var name string
	switch format {
	case pixfmt.Packed32BGRA:
		name = "BGRA"
	case pixfmt.PlanarYCbCr420VideoRange, pixfmt.PlanarYCbCr420FullRange:
		name = "NV12"
	default:
		return "", fmt.Errorf("gstreamer: %w: %v", pixfmt.ErrUnknownFormat, format)
	}
	caps := fmt.Sprintf("video/x-raw,format=%s,width=%d,height=%d", name, w, h)
	switch format.Range() {
	case pixfmt.RangeVideo:
		caps += ",colorimetry=bt601"
	case pixfmt.RangeFull:
		caps += ",colorimetry=1:4:0:0"
	}
	if fps > 0 {
		caps += fmt.Sprintf(",framerate=%d/1", fps)
	}
	return caps, nil
}

// planeLayout splits a GStreamer raw video buffer into planes using the
// default video-info layout: rows aligned to 4 bytes, chroma after
// stride*round_up_2(height) luma bytes.
func planeLayout(format pixfmt.Format, w, h int, data []byte) ([]capture.Plane, error) {
	switch format {
	case pixfmt.Packed32BGRA:
		return []capture.Plane{{Data: data, Stride: w * 4}}, nil
	case pixfmt.PlanarYCbCr420VideoRange, pixfmt.PlanarYCbCr420FullRange:
		stride := roundUp(w, 4)
		off := stride * roundUp(h, 2)
		if off > len(data) {
			return nil, fmt.Errorf("gstreamer: NV12 buffer of %d bytes too small for %dx%d", len(data), w, h)
		}
		return []capture.Plane{
			{Data: data[:off], Stride: stride},
			{Data: data[off:], Stride: stride},
		}, nil
	}
	return nil, fmt.Errorf("gstreamer: %w: %v", pixfmt.ErrUnknownFormat, format)
}

func roundUp(v, n int) int { return (v + n - 1) / n * n }
