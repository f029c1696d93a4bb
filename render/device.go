// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"errors"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// ErrNoHALDevice is returned when a device provider does not expose a HAL
// device and queue.
var ErrNoHALDevice = errors.New("render: provider does not expose a HAL device")

// DeviceHandle provides GPU device access from the host application.
//
// The host owns the device. A Surface built from a DeviceHandle renders with
// the shared device and never destroys it.
//
// DeviceHandle is an alias for gpucontext.DeviceProvider.
type DeviceHandle = gpucontext.DeviceProvider

// halProvider is implemented by hosts that expose their wgpu HAL objects,
// such as gogpu.App.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// DeviceFromHandle returns the HAL device and queue behind a host handle.
// The error wraps ErrNoHALDevice if the host does not expose them.
func DeviceFromHandle(handle DeviceHandle) (hal.Device, hal.Queue, error) {
	hp, ok := handle.(halProvider)
	if !ok {
		return nil, nil, ErrNoHALDevice
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, nil, ErrNoHALDevice
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, nil, ErrNoHALDevice
	}
	return device, queue, nil
}

// NullDeviceHandle is a DeviceHandle that provides nil implementations.
// Surfaces cannot be built from it; it stands in for hosts without a GPU.
type NullDeviceHandle struct{}

// Device returns nil for the null device.
func (NullDeviceHandle) Device() gpucontext.Device { return nil }

// Queue returns nil for the null device.
func (NullDeviceHandle) Queue() gpucontext.Queue { return nil }

// Adapter returns nil for the null device.
func (NullDeviceHandle) Adapter() gpucontext.Adapter { return nil }

// SurfaceFormat returns undefined format for the null device.
func (NullDeviceHandle) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatUndefined
}

// Ensure NullDeviceHandle implements DeviceHandle.
var _ DeviceHandle = NullDeviceHandle{}
