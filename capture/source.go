package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/camtex/internal/serial"
	"github.com/gogpu/camtex/pixfmt"
)

// State is the lifecycle state of a Source.
type State int32

const (
	StateUninitialized State = iota
	StateAuthorizationPending
	StateConfiguring
	StateRunning
	StateSuspended
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAuthorizationPending:
		return "authorization-pending"
	case StateConfiguring:
		return "configuring"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateTornDown:
		return "torn-down"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Stats is a snapshot of Source counters.
type Stats struct {
	State  State
	Format pixfmt.Format
	Device Device

	Delivered         uint64 // frames handed to observers
	Dropped           uint64 // frames overwritten before delivery
	Suppressed        uint64 // frames discarded while suspended
	RetrievalFailures uint64
	LastSeq           uint64
}

// Source owns a capture session and delivers its frames to observers.
type Source struct {
	backend Backend
	opts    options

	queue  *serial.Queue
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	format  pixfmt.Format
	device  Device
	session Session // set and used on queue only

	// gen invalidates queued resumes when a later Suspend or Teardown arrives.
	gen        atomic.Uint64
	delivering atomic.Bool

	// dispatchMu orders the delivering check in deliveryLoop against Suspend.
	dispatchMu sync.Mutex

	box          *mailbox
	deliveryDone chan struct{}

	obsMu     sync.RWMutex
	observers []registered
	obsClosed bool
	nextObs   uint64

	seq               atomic.Uint64
	delivered         atomic.Uint64
	dropped           atomic.Uint64
	suppressed        atomic.Uint64
	retrievalFailures atomic.Uint64

	teardownOnce sync.Once
	closed       chan struct{}
}

// NewSource creates a Source in the Uninitialized state.
func NewSource(b Backend, opts ...Option) *Source {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Source{
		backend:      b,
		opts:         o,
		queue:        serial.New(),
		ctx:          ctx,
		cancel:       cancel,
		box:          newMailbox(),
		deliveryDone: make(chan struct{}),
		closed:       make(chan struct{}),
	}
	for _, obs := range o.observers {
		s.Register(obs)
	}
	go s.deliveryLoop()
	return s
}

// Register adds an observer. The returned Registration removes it.
func (s *Source) Register(o Observer) Registration {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	if s.obsClosed {
		return Registration{}
	}
	s.nextObs++
	s.observers = append(s.observers, registered{id: s.nextObs, obs: o})
	return Registration{id: s.nextObs, src: s}
}

// State returns the current lifecycle state.
func (s *Source) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of the source counters.
func (s *Source) Stats() Stats {
	s.mu.Lock()
	st := Stats{State: s.state, Format: s.format, Device: s.device}
	s.mu.Unlock()
	st.Delivered = s.delivered.Load()
	st.Dropped = s.dropped.Load()
	st.Suppressed = s.suppressed.Load()
	st.RetrievalFailures = s.retrievalFailures.Load()
	st.LastSeq = s.seq.Load()
	return st
}

// Setup binds the pixel format and starts configuring the session.
//
// If authorization is undetermined it is requested first; a denial is reported
// to observers once as InsufficientAuthorization and the source returns to
// Uninitialized. Configuration happens asynchronously; Setup only fails for
// invalid input or state.
func (s *Source) Setup(format pixfmt.Format) error {
	if !format.Valid() {
		return fmt.Errorf("capture: setup: %w: %v", pixfmt.ErrUnknownFormat, format)
	}

	status := s.backend.AuthorizationStatus()

	s.mu.Lock()
	switch s.state {
	case StateUninitialized:
	case StateTornDown:
		s.mu.Unlock()
		return ErrTornDown
	default:
		s.mu.Unlock()
		return ErrAlreadySetup
	}
	s.format = format

	switch status {
	case Authorized:
		s.state = StateConfiguring
		s.mu.Unlock()
		s.queue.Async(s.configure)
	case NotDetermined:
		s.state = StateAuthorizationPending
		s.mu.Unlock()
		// Holding the session queue during the request keeps later resumes
		// behind the outcome.
		s.queue.Async(s.authorize)
	default:
		s.mu.Unlock()
		slogger().Warn("capture: camera access not authorized", "status", status)
		s.report(&Error{Kind: InsufficientAuthorization, Err: fmt.Errorf("authorization %v", status)})
	}
	slogger().Debug("capture: setup", "format", format, "authorization", status)
	return nil
}

func (s *Source) authorize() {
	granted, err := s.backend.RequestAuthorization(s.ctx)

	s.mu.Lock()
	if s.state != StateAuthorizationPending {
		s.mu.Unlock()
		return
	}
	if err != nil || !granted {
		s.state = StateUninitialized
		s.mu.Unlock()
		if err == nil {
			err = fmt.Errorf("authorization %v", Denied)
		}
		slogger().Warn("capture: camera access denied", "err", err)
		s.report(&Error{Kind: InsufficientAuthorization, Err: err})
		return
	}
	s.state = StateConfiguring
	s.mu.Unlock()

	s.configure()
}

func (s *Source) configure() {
	s.mu.Lock()
	if s.state != StateConfiguring {
		s.mu.Unlock()
		return
	}
	format := s.format
	s.mu.Unlock()

	devices, err := s.backend.Devices(s.ctx)
	if err != nil {
		s.fail(fmt.Errorf("discover devices: %w", err))
		return
	}
	dev, ok := SelectDevice(devices, s.opts.prefs)
	if !ok {
		s.fail(ErrNoDevice)
		return
	}

	sess, err := s.backend.OpenSession(s.ctx, dev, SessionConfig{Format: format, Handler: s.onSample})
	if err != nil {
		s.fail(fmt.Errorf("open %s: %w", dev.ID, err))
		return
	}

	s.mu.Lock()
	if s.state != StateConfiguring {
		s.mu.Unlock()
		_ = sess.Close()
		return
	}
	s.session = sess
	s.device = dev
	s.state = StateSuspended
	s.mu.Unlock()

	slogger().Info("capture: session configured",
		"device", dev.ID, "label", dev.Label, "kind", dev.Kind, "format", format)
}

// fail reports a session initialization failure and retires the source.
func (s *Source) fail(err error) {
	s.mu.Lock()
	if s.state == StateTornDown {
		s.mu.Unlock()
		return
	}
	s.state = StateTornDown
	s.gen.Add(1)
	s.stopDelivery()
	sess := s.session
	s.session = nil
	s.mu.Unlock()

	if sess != nil {
		_ = sess.Close()
	}
	slogger().Error("capture: session initialization failed", "err", err)
	s.report(&Error{Kind: SessionInitializationFailure, Err: err})
}

// Resume starts frame delivery. It returns immediately and has no effect
// unless the session is configured.
func (s *Source) Resume() {
	g := s.gen.Add(1)
	if !s.queue.Async(func() { s.resume(g) }) {
		slogger().Debug("capture: resume after teardown ignored")
	}
}

func (s *Source) resume(g uint64) {
	s.mu.Lock()
	if s.gen.Load() != g {
		s.mu.Unlock()
		return
	}
	switch s.state {
	case StateSuspended:
	case StateRunning:
		s.delivering.Store(true)
		s.mu.Unlock()
		return
	default:
		st := s.state
		s.mu.Unlock()
		slogger().Debug("capture: resume ignored", "state", st)
		return
	}
	sess := s.session
	s.mu.Unlock()

	if err := sess.Start(); err != nil {
		s.fail(fmt.Errorf("start session: %w", err))
		return
	}

	s.mu.Lock()
	if s.state == StateSuspended {
		s.state = StateRunning
	}
	if s.gen.Load() == g {
		s.delivering.Store(true)
	}
	s.mu.Unlock()
	slogger().Info("capture: running")
}

// Suspend stops frame delivery. No frame is dispatched to observers after
// Suspend returns; a callback already running when Suspend is called may
// still finish. The session itself is stopped asynchronously.
//
// Suspend may be called from an observer callback.
func (s *Source) Suspend() {
	s.mu.Lock()
	s.gen.Add(1)
	s.stopDelivery()
	s.mu.Unlock()

	if f := s.box.flush(); f != nil {
		s.suppressed.Add(1)
		f.Release()
	}

	s.queue.Async(func() {
		s.mu.Lock()
		if s.state != StateRunning {
			s.mu.Unlock()
			return
		}
		sess := s.session
		s.state = StateSuspended
		s.mu.Unlock()

		if err := sess.Stop(); err != nil {
			slogger().Warn("capture: stop session", "err", err)
		}
		slogger().Info("capture: suspended")
	})
}

// Sync waits until every session operation scheduled before the call has run.
func (s *Source) Sync() {
	s.queue.Sync(func() {})
}

// Teardown stops the session, releases it and unregisters every observer.
// It waits for in-progress work to finish or ctx to be done.
func (s *Source) Teardown(ctx context.Context) error {
	s.teardownOnce.Do(func() {
		s.mu.Lock()
		s.gen.Add(1)
		s.stopDelivery()
		s.state = StateTornDown
		s.mu.Unlock()

		s.queue.Async(func() {
			s.mu.Lock()
			sess := s.session
			s.session = nil
			s.mu.Unlock()
			if sess == nil {
				return
			}
			if err := sess.Stop(); err != nil {
				slogger().Warn("capture: stop session", "err", err)
			}
			if err := sess.Close(); err != nil {
				slogger().Warn("capture: close session", "err", err)
			}
		})
		s.cancel()

		go func() {
			s.queue.Close()
			if f := s.box.close(); f != nil {
				f.Release()
			}
			<-s.deliveryDone

			s.obsMu.Lock()
			s.observers = nil
			s.obsClosed = true
			s.obsMu.Unlock()

			slogger().Info("capture: torn down")
			close(s.closed)
		}()
	})

	select {
	case <-s.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// onSample runs on the backend's capture goroutine.
func (s *Source) onSample(f *Frame, err error) {
	if err != nil || f == nil {
		if f != nil {
			f.Release()
		}
		n := s.retrievalFailures.Add(1)
		slogger().Debug("capture: buffer retrieval failed", "err", err, "failures", n)
		if evicted, replaced := s.box.put(nil, &Error{Kind: BufferRetrievalFailure, Err: err}); replaced {
			s.dropEvicted(evicted)
		}
		return
	}

	if !s.delivering.Load() {
		s.suppressed.Add(1)
		f.Release()
		return
	}

	f.Seq = s.seq.Add(1)
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}

	evicted, replaced := s.box.put(f, nil)
	if evicted == f {
		// Mailbox closed.
		f.Release()
		return
	}
	if replaced {
		s.dropEvicted(evicted)
	}
}

func (s *Source) dropEvicted(f *Frame) {
	if f == nil {
		return
	}
	n := s.dropped.Add(1)
	slogger().Debug("capture: late frame dropped",
		"seq", f.Seq, "trace_id", f.TraceID, "dropped", n)
	f.Release()
}

// report queues an error for observers. Errors reach observers in order on
// the delivery goroutine.
func (s *Source) report(err *Error) {
	if !s.box.putFatal(err) {
		slogger().Debug("capture: error after teardown", "err", err)
	}
}

func (s *Source) deliveryLoop() {
	defer close(s.deliveryDone)
	for {
		f, err, ok := s.box.take()
		if !ok {
			return
		}
		if err != nil {
			s.notifyError(err)
			continue
		}
		obs, ok := s.dispatch()
		if !ok {
			s.suppressed.Add(1)
			f.Release()
			continue
		}
		s.notifyFrame(f, obs)
		f.Release()
	}
}

func (s *Source) snapshotObservers() []Observer {
	s.obsMu.RLock()
	defer s.obsMu.RUnlock()
	out := make([]Observer, len(s.observers))
	for i, r := range s.observers {
		out[i] = r.obs
	}
	return out
}

// stopDelivery clears delivering. Once it returns no frame passes dispatch.
func (s *Source) stopDelivery() {
	s.dispatchMu.Lock()
	s.delivering.Store(false)
	s.dispatchMu.Unlock()
}

// dispatch commits the next frame for delivery and returns the observers to call. It
// fails once Suspend or Teardown has cleared delivering.
func (s *Source) dispatch() ([]Observer, bool) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	if !s.delivering.Load() {
		return nil, false
	}
	s.delivered.Add(1)
	return s.snapshotObservers(), true
}

func (s *Source) notifyFrame(f *Frame, obs []Observer) {
	if l := slogger(); l.Enabled(context.Background(), slog.LevelDebug) {
		l.Debug("capture: frame delivered",
			"seq", f.Seq, "trace_id", f.TraceID, "size", fmt.Sprintf("%dx%d", f.Width, f.Height))
	}
	for _, o := range obs {
		o.OnFrameDelivered(f)
	}
}

func (s *Source) notifyError(err error) {
	for _, o := range s.snapshotObservers() {
		o.OnError(err)
	}
}
