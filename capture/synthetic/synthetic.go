// Package synthetic is a capture backend that generates a moving color-bar
// pattern. It needs no hardware and can inject authorization denials, buffer
// retrieval failures and lock failures, which makes it the backend of choice for
// tests and headless runs.
package synthetic

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/camtex/capture"
	"github.com/gogpu/camtex/pixfmt"
)

var (
	// ErrRetrieval is the error passed with injected retrieval failures.
	ErrRetrieval = errors.New("synthetic: no buffer")
	// ErrLock is returned by Frame.Lock for injected lock failures.
	ErrLock = errors.New("synthetic: buffer not mappable")
)

// Option configures a Backend.
type Option func(*config)

type config struct {
	width, height int
	rate          float64
	devices       []capture.Device
	status        capture.AuthorizationStatus
	grant         bool
	failEvery     int
	lockFailEvery int
	rowPadding    int
	openErr       error
}

// WithSize sets the frame size. Default 640x480.
func WithSize(w, h int) Option {
	return func(c *config) { c.width, c.height = w, h }
}

// WithFrameRate makes running sessions emit frames on their own at fps.
// With the default of 0 frames are produced only by Session.Emit.
func WithFrameRate(fps float64) Option {
	return func(c *config) { c.rate = fps }
}

// WithDevices replaces the advertised devices.
func WithDevices(devs ...capture.Device) Option {
	return func(c *config) { c.devices = devs }
}

// WithAuthorization sets the initial authorization status and the answer
// given to RequestAuthorization.
func WithAuthorization(status capture.AuthorizationStatus, grant bool) Option {
	return func(c *config) { c.status, c.grant = status, grant }
}

// WithRetrievalFailureEvery makes every nth frame a retrieval failure.
func WithRetrievalFailureEvery(n int) Option {
	return func(c *config) { c.failEvery = n }
}

// WithLockFailureEvery makes every nth frame fail to lock.
func WithLockFailureEvery(n int) Option {
	return func(c *config) { c.lockFailEvery = n }
}

// WithRowPadding adds n bytes to every row stride.
func WithRowPadding(n int) Option {
	return func(c *config) { c.rowPadding = n }
}

// WithOpenError makes OpenSession fail with err.
func WithOpenError(err error) Option {
	return func(c *config) { c.openErr = err }
}

// Counters reports how the Source drove the backend.
type Counters struct {
	AuthRequests   int
	DeviceQueries  int
	SessionsOpened int
	LiveFrames     int64
}

// Backend implements capture.Backend.
type Backend struct {
	cfg config

	mu       sync.Mutex
	status   capture.AuthorizationStatus
	session  *Session
	counters Counters

	live atomic.Int64
}

// New returns a backend with one rear wide-angle camera, already authorized.
func New(opts ...Option) *Backend {
	cfg := config{
		width:  640,
		height: 480,
		devices: []capture.Device{{
			ID:       "synthetic:0",
			Label:    "Synthetic Camera",
			Kind:     capture.KindWideAngle,
			Position: capture.PositionBack,
		}},
		status: capture.Authorized,
		grant:  true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Backend{cfg: cfg, status: cfg.status}
}

// AuthorizationStatus implements capture.Backend.
func (b *Backend) AuthorizationStatus() capture.AuthorizationStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// RequestAuthorization implements capture.Backend.
func (b *Backend) RequestAuthorization(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counters.AuthRequests++
	if b.cfg.grant {
		b.status = capture.Authorized
	} else {
		b.status = capture.Denied
	}
	return b.cfg.grant, nil
}

// Devices implements capture.Backend.
func (b *Backend) Devices(context.Context) ([]capture.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counters.DeviceQueries++
	return append([]capture.Device(nil), b.cfg.devices...), nil
}

// OpenSession implements capture.Backend.
func (b *Backend) OpenSession(_ context.Context, dev capture.Device, cfg capture.SessionConfig) (capture.Session, error) {
	if b.cfg.openErr != nil {
		return nil, b.cfg.openErr
	}
	if !cfg.Format.Valid() {
		return nil, fmt.Errorf("synthetic: %w: %v", pixfmt.ErrUnknownFormat, cfg.Format)
	}
	s := &Session{
		b:      b,
		dev:    dev,
		cfg:    cfg,
		canvas: image.NewRGBA(image.Rect(0, 0, b.cfg.width, b.cfg.height)),
		pool:   make(chan []capture.Plane, 4),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	b.counters.SessionsOpened++
	b.session = s
	b.mu.Unlock()

	if b.cfg.rate > 0 {
		go s.tick(time.Duration(float64(time.Second) / b.cfg.rate))
	} else {
		close(s.done)
	}
	return s, nil
}

// Session returns the most recently opened session, or nil.
func (b *Backend) Session() *Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

// Counters returns a snapshot of the backend counters.
func (b *Backend) Counters() Counters {
	b.mu.Lock()
	c := b.counters
	b.mu.Unlock()
	c.LiveFrames = b.live.Load()
	return c
}

// Session is a synthetic capture session.
type Session struct {
	b   *Backend
	dev capture.Device
	cfg capture.SessionConfig

	mu      sync.Mutex
	running bool
	closed  bool
	n       int
	starts  int
	stops   int
	canvas  *image.RGBA

	pool chan []capture.Plane
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// Start implements capture.Session.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("synthetic: session closed")
	}
	if !s.running {
		s.running = true
		s.starts++
	}
	return nil
}

// Stop implements capture.Session.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.running = false
		s.stops++
	}
	return nil
}

// Close implements capture.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	s.running = false
	s.closed = true
	s.mu.Unlock()
	s.once.Do(func() { close(s.quit) })
	<-s.done
	return nil
}

// Running reports whether the session is started.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// StartStop returns how many times the session was started and stopped.
func (s *Session) StartStop() (starts, stops int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.stops
}

// Emit produces one frame and hands it to the session handler.
// It reports false if the session is not running.
func (s *Session) Emit() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	s.n++
	n := s.n
	cfg := s.b.cfg
	if cfg.failEvery > 0 && n%cfg.failEvery == 0 {
		s.mu.Unlock()
		s.cfg.Handler(nil, fmt.Errorf("%w: frame %d", ErrRetrieval, n))
		return true
	}
	drawBars(s.canvas, n)
	planes := s.planes()
	err := capture.FillPlanes(planes, s.canvas, s.cfg.Format)
	s.mu.Unlock()
	if err != nil {
		s.cfg.Handler(nil, err)
		return true
	}

	opts := []capture.FrameOption{capture.WithRecycle(func() {
		s.b.live.Add(-1)
		select {
		case s.pool <- planes:
		default:
		}
	})}
	if cfg.lockFailEvery > 0 && n%cfg.lockFailEvery == 0 {
		opts = append(opts, capture.WithLocker(failingLocker{}))
	}
	f, err := capture.NewFrame(s.cfg.Format, cfg.width, cfg.height, planes, opts...)
	if err != nil {
		s.cfg.Handler(nil, err)
		return true
	}
	s.b.live.Add(1)
	s.cfg.Handler(f, nil)
	return true
}

func (s *Session) planes() []capture.Plane {
	select {
	case p := <-s.pool:
		return p
	default:
	}
	cfg := s.b.cfg
	layouts := s.cfg.Format.Planes()
	planes := make([]capture.Plane, len(layouts))
	for i, l := range layouts {
		_, rows := l.Size(cfg.width, cfg.height)
		stride := l.MinStride(cfg.width) + cfg.rowPadding
		planes[i] = capture.Plane{Data: make([]byte, stride*rows), Stride: stride}
	}
	return planes
}

func (s *Session) tick(every time.Duration) {
	defer close(s.done)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-t.C:
			s.Emit()
		}
	}
}

type failingLocker struct{}

func (failingLocker) Lock() error { return ErrLock }
func (failingLocker) Unlock()     {}

// Bars are the classic 75% color bars.
var Bars = [...]color.RGBA{
	{191, 191, 191, 255},
	{191, 191, 0, 255},
	{0, 191, 191, 255},
	{0, 191, 0, 255},
	{191, 0, 191, 255},
	{191, 0, 0, 255},
	{0, 0, 191, 255},
	{16, 16, 16, 255},
}

// drawBars fills img with vertical bars scrolled left by frame n.
func drawBars(img *image.RGBA, n int) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	barW := max(w/len(Bars), 1)
	for x := 0; x < w; x++ {
		c := Bars[((x+n)/barW)%len(Bars)]
		for y := 0; y < h; y++ {
			i := img.PixOffset(x, y)
			img.Pix[i+0], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
		}
	}
}
