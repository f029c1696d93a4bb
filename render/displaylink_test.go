// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/camtex/pixfmt"
)

func TestNewDisplayLink(t *testing.T) {
	l := NewDisplayLink(120, nil)
	if l.Interval() != time.Second/120 {
		t.Errorf("Interval() = %v, want %v", l.Interval(), time.Second/120)
	}
	l = NewDisplayLink(0, nil)
	if l.Interval() != time.Second/DefaultRefreshRate {
		t.Errorf("Interval() = %v, want default %v", l.Interval(), time.Second/DefaultRefreshRate)
	}
}

func TestDisplayLinkRun(t *testing.T) {
	var calls atomic.Int32
	l := NewDisplayLink(500, func(context.Context) error {
		if calls.Add(1)%2 == 0 {
			return errors.New("skipped")
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := l.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() = %v, want DeadlineExceeded", err)
	}
	if n := calls.Load(); n < 5 {
		t.Errorf("draw called %d times in 100ms at 500Hz, want >= 5", n)
	}
}

func TestDisplayLinkCoalescesTicks(t *testing.T) {
	var calls atomic.Int32
	l := NewDisplayLink(1000, func(context.Context) error {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = l.Run(ctx)

	// A 1kHz link whose draws take 20ms can fit at most 6 draws in 100ms.
	if n := calls.Load(); n > 6 {
		t.Errorf("draw called %d times, ticks should coalesce while a draw runs", n)
	}
}

func TestDisplayLinkStopsOnClosedSurface(t *testing.T) {
	f := newFixture(t, pixfmt.Packed32BGRA)
	f.surface.Close()

	l := NewDisplayLink(500, DrawTo(f.surface, f.drawable))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Run(ctx); !errors.Is(err, ErrSurfaceClosed) {
		t.Errorf("Run() = %v, want ErrSurfaceClosed", err)
	}
}

func TestDisplayLinkDrawsSurface(t *testing.T) {
	f := newFixture(t, pixfmt.Packed32BGRA)
	if err := f.surface.SetTexture(newTextureSet(t, f.conv, pixfmt.Packed32BGRA, 64, 64)); err != nil {
		t.Fatalf("SetTexture: %v", err)
	}

	l := NewDisplayLink(500, DrawTo(f.surface, f.drawable))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = l.Run(ctx)
	f.surface.Close()

	st := f.surface.Stats()
	if st.Draws == 0 {
		t.Error("display link did not draw")
	}
	if st.Completed != st.Draws {
		t.Errorf("Completed = %d, Draws = %d after Close", st.Completed, st.Draws)
	}
	if f.drawable.Presented() != st.Draws {
		t.Errorf("Presented() = %d, want %d", f.drawable.Presented(), st.Draws)
	}
}
