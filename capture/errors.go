package capture

import (
	"errors"
	"fmt"
)

// Sentinel errors. Errors reported to observers are *Error values that unwrap
// to one of the first three.
var (
	ErrBufferRetrieval           = errors.New("capture: buffer retrieval failure")
	ErrInsufficientAuthorization = errors.New("capture: insufficient video authorization")
	ErrSessionInitialization     = errors.New("capture: session initialization failure")

	ErrNoDevice     = errors.New("capture: no capture device available")
	ErrTornDown     = errors.New("capture: source torn down")
	ErrAlreadySetup = errors.New("capture: source already set up")
	ErrNotLocked    = errors.New("capture: frame not locked")
	ErrLockFailed   = errors.New("capture: frame lock failed")
	ErrPlaneLayout  = errors.New("capture: plane layout does not match format")
)

// ErrorKind classifies errors reported by a Source.
type ErrorKind uint8

const (
	// BufferRetrievalFailure means a delivery produced no usable buffer.
	// The frame is skipped and the stream continues.
	BufferRetrievalFailure ErrorKind = iota + 1

	// InsufficientAuthorization means camera access was not granted.
	// It is reported once per setup attempt.
	InsufficientAuthorization

	// SessionInitializationFailure means a device, input or output could not be
	// attached. The source is unusable afterwards.
	SessionInitializationFailure
)

func (k ErrorKind) sentinel() error {
	switch k {
	case BufferRetrievalFailure:
		return ErrBufferRetrieval
	case InsufficientAuthorization:
		return ErrInsufficientAuthorization
	case SessionInitializationFailure:
		return ErrSessionInitialization
	}
	return nil
}

func (k ErrorKind) String() string {
	switch k {
	case BufferRetrievalFailure:
		return "BufferRetrievalFailure"
	case InsufficientAuthorization:
		return "InsufficientAuthorization"
	case SessionInitializationFailure:
		return "SessionInitializationFailure"
	}
	return fmt.Sprintf("ErrorKind(%d)", uint8(k))
}

// Recoverable reports whether the stream continues after an error of this kind.
func (k ErrorKind) Recoverable() bool { return k == BufferRetrievalFailure }

// Error is the error type delivered to [Observer.OnError].
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	s := e.Kind.sentinel()
	if s == nil {
		s = fmt.Errorf("capture: %v", e.Kind)
	}
	if e.Err == nil {
		return s.Error()
	}
	return s.Error() + ": " + e.Err.Error()
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns the kind of a capture error anywhere in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
