package capture

import (
	"context"
	"fmt"

	"github.com/gogpu/camtex/pixfmt"
)

// AuthorizationStatus is the camera access state reported by a Backend.
type AuthorizationStatus uint8

const (
	NotDetermined AuthorizationStatus = iota
	Restricted
	Denied
	Authorized
)

func (s AuthorizationStatus) String() string {
	switch s {
	case NotDetermined:
		return "not-determined"
	case Restricted:
		return "restricted"
	case Denied:
		return "denied"
	case Authorized:
		return "authorized"
	}
	return fmt.Sprintf("AuthorizationStatus(%d)", uint8(s))
}

// SampleHandler receives frames from a running session. A nil frame or a
// non-nil error means the backend could not produce a usable buffer.
//
// Ownership of f passes to the handler. Handlers must not block.
type SampleHandler func(f *Frame, err error)

// SessionConfig binds a session's output.
type SessionConfig struct {
	Format  pixfmt.Format
	Handler SampleHandler
}

// Backend is a platform capture implementation.
type Backend interface {
	AuthorizationStatus() AuthorizationStatus

	// RequestAuthorization prompts for access and reports whether it was granted.
	RequestAuthorization(ctx context.Context) (bool, error)

	Devices(ctx context.Context) ([]Device, error)

	// OpenSession attaches dev and binds the output format. The session does
	// not produce frames until Start.
	OpenSession(ctx context.Context, dev Device, cfg SessionConfig) (Session, error)
}

// Session is a configured capture session.
type Session interface {
	Start() error
	Stop() error
	Close() error
}
