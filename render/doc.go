// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package render draws camera texture sets onto a drawable.
//
// A Surface owns a render pipeline built from a fixed vertex/fragment program
// pair, a uniform buffer holding the current texture size and a counting
// semaphore that bounds how many draws may be in flight on the GPU.
//
// # Key Principle
//
// The surface RECEIVES a GPU device, it does NOT create one. Hosts pass a
// hal.Device and hal.Queue to NewSurface, or a DeviceHandle exposing them to
// NewSurfaceFromHandle.
//
// # Frame Flow
//
//	SetTexture(ts)  any goroutine; swaps the latest set and writes its size
//	Draw(ctx, d)    once per refresh; acquire slot, encode, submit, present
//	GPU completion  frees per-draw objects and releases the slot
//
// Draw with no texture set releases its slot and returns. A texture set
// replaced before it is drawn is released without ever being drawn.
//
// # Drawables
//
//   - TextureDrawable: offscreen render-attachment texture
//   - HostDrawable: the current frame of a host window surface
//
// DisplayLink drives Draw at a fixed rate where no display callback exists.
package render
