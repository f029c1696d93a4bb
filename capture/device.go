package capture

import "fmt"

// DeviceKind is the physical camera type.
type DeviceKind uint8

const (
	// KindOther is used by backends that cannot classify their devices.
	KindOther DeviceKind = iota
	KindDualCamera
	KindWideAngle
)

func (k DeviceKind) String() string {
	switch k {
	case KindOther:
		return "other"
	case KindDualCamera:
		return "dual"
	case KindWideAngle:
		return "wide-angle"
	}
	return fmt.Sprintf("DeviceKind(%d)", uint8(k))
}

// Position is where a camera faces.
type Position uint8

const (
	PositionUnspecified Position = iota
	PositionBack
	PositionFront
)

func (p Position) String() string {
	switch p {
	case PositionUnspecified:
		return "unspecified"
	case PositionBack:
		return "back"
	case PositionFront:
		return "front"
	}
	return fmt.Sprintf("Position(%d)", uint8(p))
}

// Device is a capture device reported by a Backend.
type Device struct {
	ID       string
	Label    string
	Kind     DeviceKind
	Position Position
}

// Preference is one entry of a device selection policy.
type Preference struct {
	Kind     DeviceKind
	Position Position
}

// DefaultPreference prefers the dual camera, then the rear wide-angle camera,
// then the front wide-angle camera.
var DefaultPreference = []Preference{
	{Kind: KindDualCamera, Position: PositionBack},
	{Kind: KindWideAngle, Position: PositionBack},
	{Kind: KindWideAngle, Position: PositionFront},
}

// SelectDevice returns the first device matching prefs, in preference order.
// If nothing matches, the first unclassified device is returned, so backends
// that cannot tell camera types apart still work.
func SelectDevice(devices []Device, prefs []Preference) (Device, bool) {
	for _, p := range prefs {
		for _, d := range devices {
			if d.Kind == p.Kind && d.Position == p.Position {
				return d, true
			}
		}
	}
	for _, d := range devices {
		if d.Kind == KindOther {
			return d, true
		}
	}
	return Device{}, false
}
