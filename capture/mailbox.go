package capture

import "sync"

// mailbox is the hand-off between backend callbacks and the delivery
// goroutine. It holds at most one undelivered sample; a newer sample
// overwrites it. Fatal errors queue separately and are never overwritten.
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  *Frame
	err    error
	fatal  []error
	closed bool
}

func newMailbox() *mailbox {
	m := &mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// put stores a frame or a recoverable error. It returns the frame that was
// overwritten, if any, and whether a pending sample was replaced. On a closed
// mailbox the incoming frame is returned instead.
func (m *mailbox) put(f *Frame, err error) (evicted *Frame, replaced bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return f, false
	}
	replaced = m.frame != nil || m.err != nil
	evicted = m.frame
	m.frame, m.err = f, err
	m.cond.Signal()
	return evicted, replaced
}

func (m *mailbox) putFatal(err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.fatal = append(m.fatal, err)
	m.cond.Signal()
	return true
}

// take blocks until something is pending. ok is false once the mailbox is
// closed and drained of fatal errors.
func (m *mailbox) take() (f *Frame, err error, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.frame == nil && m.err == nil && len(m.fatal) == 0 && !m.closed {
		m.cond.Wait()
	}
	if len(m.fatal) > 0 {
		err = m.fatal[0]
		m.fatal = m.fatal[1:]
		return nil, err, true
	}
	if m.closed {
		return nil, nil, false
	}
	f, err = m.frame, m.err
	m.frame, m.err = nil, nil
	return f, err, true
}

// flush discards the pending sample and returns its frame.
func (m *mailbox) flush() *Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.frame
	m.frame, m.err = nil, nil
	return f
}

// close wakes the consumer and returns the pending frame for release.
func (m *mailbox) close() *Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	f := m.frame
	m.frame, m.err = nil, nil
	m.cond.Broadcast()
	return f
}
