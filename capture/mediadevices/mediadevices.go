// Package mediadevices is a capture backend built on github.com/pion/mediadevices.
//
// Camera drivers register themselves by import; programs using this backend
// should import
//
//	_ "github.com/pion/mediadevices/pkg/driver/camera"
//
// Decoded images are copied into frames of the session's pixel format. The
// reader goroutine keeps only the newest image, so a slow consumer sees late
// frames dropped rather than queued.
package mediadevices

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"

	"github.com/gogpu/camtex/capture"
)

// Option configures the Backend.
type Option func(*Backend)

// WithSize requests a capture size. The driver may pick the closest it supports.
func WithSize(w, h int) Option {
	return func(b *Backend) { b.width, b.height = w, h }
}

// WithFrameRate requests a capture frame rate.
func WithFrameRate(fps float32) Option {
	return func(b *Backend) { b.fps = fps }
}

// Backend implements capture.Backend.
type Backend struct {
	width, height int
	fps           float32
}

// New returns a backend requesting 1280x720.
func New(opts ...Option) *Backend {
	b := &Backend{width: 1280, height: 720}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AuthorizationStatus implements capture.Backend. Access control is enforced
// by the operating system when the device is opened.
func (b *Backend) AuthorizationStatus() capture.AuthorizationStatus {
	return capture.Authorized
}

// RequestAuthorization implements capture.Backend.
func (b *Backend) RequestAuthorization(context.Context) (bool, error) {
	return true, nil
}

// Devices implements capture.Backend. Cameras are reported unclassified.
func (b *Backend) Devices(context.Context) ([]capture.Device, error) {
	var out []capture.Device
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind != mediadevices.VideoInput {
			continue
		}
		out = append(out, capture.Device{ID: d.DeviceID, Label: d.Label, Kind: capture.KindOther})
	}
	return out, nil
}

// OpenSession implements capture.Backend.
func (b *Backend) OpenSession(_ context.Context, dev capture.Device, cfg capture.SessionConfig) (capture.Session, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.DeviceID = prop.String(dev.ID)
			if b.width > 0 && b.height > 0 {
				c.Width = prop.Int(b.width)
				c.Height = prop.Int(b.height)
			}
			if b.fps > 0 {
				c.FrameRate = prop.Float(b.fps)
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mediadevices: get user media: %w", err)
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, errors.New("mediadevices: no video track")
	}
	vt, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		_ = tracks[0].Close()
		return nil, fmt.Errorf("mediadevices: unexpected track type %T", tracks[0])
	}

	capture.Logger().Info("mediadevices: session opened", "device", dev.ID, "label", dev.Label)
	return &session{track: vt, reader: vt.NewReader(false), cfg: cfg}, nil
}

// Backoff between consecutive failed reads.
const (
	minReadBackoff = 5 * time.Millisecond
	maxReadBackoff = 500 * time.Millisecond
)

type session struct {
	track  *mediadevices.VideoTrack
	reader video.Reader
	cfg    capture.SessionConfig

	mu      sync.Mutex
	running bool
	closed  bool
	stop    chan struct{}
	done    chan struct{}

	backoffMin, backoffMax time.Duration
}

func (s *session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mediadevices: session closed")
	}
	if s.running {
		return nil
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.readLoop(s.stop, s.done)
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
	return nil
}

func (s *session) Close() error {
	if err := s.Stop(); err != nil {
		return err
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.track.Close()
}

func (s *session) readLoop(stop, done chan struct{}) {
	defer close(done)
	minWait, maxWait := s.backoffMin, s.backoffMax
	if minWait <= 0 {
		minWait, maxWait = minReadBackoff, maxReadBackoff
	}
	wait := minWait
	for {
		select {
		case <-stop:
			return
		default:
		}

		img, release, err := s.reader.Read()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			s.cfg.Handler(nil, err)
			t := time.NewTimer(wait)
			select {
			case <-stop:
				t.Stop()
				return
			case <-t.C:
			}
			wait = min(wait*2, maxWait)
			continue
		}
		wait = minWait
		f, err := s.frame(img)
		if release != nil {
			release()
		}
		s.cfg.Handler(f, err)
	}
}

func (s *session) frame(img image.Image) (*capture.Frame, error) {
	if img == nil {
		return nil, errors.New("mediadevices: empty image")
	}
	return capture.FrameFromImage(img, s.cfg.Format)
}
