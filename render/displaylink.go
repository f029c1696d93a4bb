// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"context"
	"errors"
	"time"
)

// DefaultRefreshRate is the display link rate used when none is given.
const DefaultRefreshRate = 60

// DisplayLink invokes a draw callback at a fixed refresh rate, standing in
// for the display's vsync callback on hosts without one.
//
// Ticks that arrive while a callback is still running are coalesced, so a
// draw blocked on the in-flight limit never causes a burst of draws.
type DisplayLink struct {
	interval time.Duration
	draw     func(context.Context) error
}

// NewDisplayLink returns a link that calls draw hz times per second.
func NewDisplayLink(hz int, draw func(context.Context) error) *DisplayLink {
	if hz <= 0 {
		hz = DefaultRefreshRate
	}
	return &DisplayLink{
		interval: time.Second / time.Duration(hz),
		draw:     draw,
	}
}

// Interval returns the time between refreshes.
func (l *DisplayLink) Interval() time.Duration { return l.interval }

// Run calls the draw callback on every tick until ctx is done. Draw errors
// are logged and skip that refresh. Run returns ctx.Err().
func (l *DisplayLink) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := l.draw(ctx); err != nil {
				if errors.Is(err, ErrSurfaceClosed) {
					return err
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slogger().Debug("render: refresh skipped", "err", err)
			}
		}
	}
}

// DrawTo returns a draw callback for a DisplayLink that renders s into d.
func DrawTo(s *Surface, d Drawable) func(context.Context) error {
	return func(ctx context.Context) error {
		return s.Draw(ctx, d)
	}
}
