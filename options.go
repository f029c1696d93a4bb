package camtex

import (
	"github.com/gogpu/camtex/capture"
	"github.com/gogpu/camtex/render"
)

// ErrorHandler receives errors the caller must act on: setup failures and
// authorization denials. Each kind is reported once per Pipeline.
type ErrorHandler func(error)

// Option configures a Pipeline during creation.
//
// Example:
//
//	p, err := camtex.New(backend, device, queue, pixfmt.PlanarYCbCr420VideoRange,
//	    camtex.WithRefreshRate(120),
//	    camtex.WithInFlightFrames(2))
type Option func(*options)

type options struct {
	errorHandler   ErrorHandler
	refreshRate    int
	surfaceOptions []render.Option
	sourceOptions  []capture.Option
}

func defaultOptions() options {
	return options{
		refreshRate: render.DefaultRefreshRate,
	}
}

// WithErrorHandler sets the handler for setup and authorization errors.
// It runs on the goroutine that detected the error and must not block.
func WithErrorHandler(h ErrorHandler) Option {
	return func(o *options) {
		o.errorHandler = h
	}
}

// WithRefreshRate sets the rate in Hz at which Run draws. Default 60.
func WithRefreshRate(hz int) Option {
	return func(o *options) {
		if hz > 0 {
			o.refreshRate = hz
		}
	}
}

// WithInFlightFrames sets how many draws may be on the GPU at once.
// Default 1.
func WithInFlightFrames(n int) Option {
	return func(o *options) {
		o.surfaceOptions = append(o.surfaceOptions, render.WithInFlightFrames(n))
	}
}

// WithDevicePreference sets the camera selection order.
func WithDevicePreference(prefs ...capture.Preference) Option {
	return func(o *options) {
		o.sourceOptions = append(o.sourceOptions, capture.WithDevicePreference(prefs...))
	}
}

// WithSurfaceOptions passes options through to render.NewSurface.
func WithSurfaceOptions(opts ...render.Option) Option {
	return func(o *options) {
		o.surfaceOptions = append(o.surfaceOptions, opts...)
	}
}

// WithSourceOptions passes options through to capture.NewSource.
func WithSourceOptions(opts ...capture.Option) Option {
	return func(o *options) {
		o.sourceOptions = append(o.sourceOptions, opts...)
	}
}
