// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
)

func TestNewTextureDrawable(t *testing.T) {
	device, _ := createNoopDevice(t)

	tests := []struct {
		name   string
		width  int
		height int
	}{
		{"small", 100, 100},
		{"hd", 1280, 720},
		{"full_hd", 1920, 1080},
		{"tall", 100, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewTextureDrawable(device, tt.width, tt.height, gputypes.TextureFormatBGRA8Unorm)
			if err != nil {
				t.Fatalf("NewTextureDrawable() error = %v", err)
			}
			defer d.Destroy()

			if d.Width() != tt.width {
				t.Errorf("Width() = %d, want %d", d.Width(), tt.width)
			}
			if d.Height() != tt.height {
				t.Errorf("Height() = %d, want %d", d.Height(), tt.height)
			}
			if d.Format() != gputypes.TextureFormatBGRA8Unorm {
				t.Errorf("Format() = %v, want BGRA8Unorm", d.Format())
			}
			if d.View() == nil {
				t.Error("View() should not be nil")
			}
			if d.Texture() == nil {
				t.Error("Texture() should not be nil")
			}
		})
	}
}

func TestTextureDrawableInvalidSize(t *testing.T) {
	device, _ := createNoopDevice(t)
	if _, err := NewTextureDrawable(device, 0, 10, gputypes.TextureFormatBGRA8Unorm); err == nil {
		t.Error("NewTextureDrawable(0x10) should fail")
	}
}

func TestTextureDrawableResize(t *testing.T) {
	device, _ := createNoopDevice(t)
	d, err := NewTextureDrawable(device, 100, 100, gputypes.TextureFormatBGRA8Unorm)
	if err != nil {
		t.Fatalf("NewTextureDrawable() error = %v", err)
	}
	defer d.Destroy()

	if err := d.Resize(200, 150); err != nil {
		t.Fatalf("Resize() error = %v", err)
	}
	if d.Width() != 200 || d.Height() != 150 {
		t.Errorf("size = %dx%d, want 200x150", d.Width(), d.Height())
	}
	if err := d.Resize(-1, 150); err == nil {
		t.Error("Resize(-1, 150) should fail")
	}
	if d.Width() != 200 {
		t.Errorf("failed Resize changed Width() to %d", d.Width())
	}
}

func TestTextureDrawablePresentAndDestroy(t *testing.T) {
	device, _ := createNoopDevice(t)
	d, err := NewTextureDrawable(device, 16, 16, gputypes.TextureFormatBGRA8Unorm)
	if err != nil {
		t.Fatalf("NewTextureDrawable() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := d.Present(); err != nil {
			t.Fatalf("Present() error = %v", err)
		}
	}
	if d.Presented() != 3 {
		t.Errorf("Presented() = %d, want 3", d.Presented())
	}

	d.Destroy()
	d.Destroy()
	if d.View() != nil || d.Texture() != nil {
		t.Error("Destroy should release texture and view")
	}
}

func TestHostDrawable(t *testing.T) {
	d := NewHostDrawable(800, 600, gputypes.TextureFormatBGRA8Unorm, nil, nil)

	if d.Width() != 800 {
		t.Errorf("Width() = %d, want 800", d.Width())
	}
	if d.Height() != 600 {
		t.Errorf("Height() = %d, want 600", d.Height())
	}
	if d.Format() != gputypes.TextureFormatBGRA8Unorm {
		t.Errorf("Format() = %v, want BGRA8Unorm", d.Format())
	}
	if err := d.Present(); err != nil {
		t.Errorf("Present() with nil func = %v, want nil", err)
	}

	errLost := errors.New("lost")
	calls := 0
	d = NewHostDrawable(800, 600, gputypes.TextureFormatBGRA8Unorm, nil, func() error {
		calls++
		return errLost
	})
	if err := d.Present(); !errors.Is(err, errLost) {
		t.Errorf("Present() = %v, want %v", err, errLost)
	}
	if calls != 1 {
		t.Errorf("present func called %d times, want 1", calls)
	}
}
