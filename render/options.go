// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"time"

	"github.com/gogpu/gputypes"
)

// Option configures a Surface during creation.
//
// Example:
//
//	s, err := render.NewSurface(device, queue, pixfmt.Packed32BGRA,
//	    render.WithInFlightFrames(2),
//	    render.WithClearColor(gputypes.Color{A: 1}))
type Option func(*options)

type options struct {
	inFlight          int64
	colorFormat       gputypes.TextureFormat
	clearColor        gputypes.Color
	label             string
	completionTimeout time.Duration
}

func defaultOptions() options {
	return options{
		inFlight:          1,
		colorFormat:       gputypes.TextureFormatBGRA8Unorm,
		clearColor:        gputypes.Color{R: 0, G: 0, B: 0, A: 1},
		label:             "camtex",
		completionTimeout: 5 * time.Second,
	}
}

// WithInFlightFrames sets how many draws may be between encoding and GPU
// completion at once. The default of 1 serializes draws. Values below 1 are
// ignored.
func WithInFlightFrames(n int) Option {
	return func(o *options) {
		if n >= 1 {
			o.inFlight = int64(n)
		}
	}
}

// WithColorFormat sets the format of the color attachment. It must match the
// drawables passed to Draw. The default is BGRA8Unorm.
func WithColorFormat(f gputypes.TextureFormat) Option {
	return func(o *options) {
		if f != gputypes.TextureFormatUndefined {
			o.colorFormat = f
		}
	}
}

// WithClearColor sets the color the attachment is cleared to before the quad
// is drawn.
func WithClearColor(c gputypes.Color) Option {
	return func(o *options) {
		o.clearColor = c
	}
}

// WithLabel sets the prefix of GPU object debug labels.
func WithLabel(label string) Option {
	return func(o *options) {
		o.label = label
	}
}

// WithCompletionTimeout bounds the wait for GPU completion of one draw.
// A draw that times out still releases its in-flight slot.
func WithCompletionTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.completionTimeout = d
		}
	}
}
