// device_info.go
// Dieses Modul enthaelt die Device- und DeviceInfo-Strukturen fuer die
// Compute-Target-Bezeichnung. Jeder Tensor ist an genau ein Device gebunden.

package ml

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrDeviceMismatch is returned when an operation combines tensors that
// live on different devices.
var ErrDeviceMismatch = errors.New("tensors are on different devices")

// DeviceID identifies a device within a backend library.
type DeviceID struct {
	// Library is the backend that owns the device, e.g. "cpu".
	Library string `json:"library"`

	// ID is the index of the device within the library.
	ID int `json:"id"`
}

// Device is the compute target a tensor is placed on.
type Device struct {
	DeviceID
}

// CPU is the default host device.
var CPU = Device{DeviceID{Library: "cpu"}}

func (d Device) String() string {
	if d.ID == 0 {
		return d.Library
	}
	return d.Library + ":" + strconv.Itoa(d.ID)
}

// IsZero reports whether the device designation is unset.
func (d Device) IsZero() bool {
	return d.Library == ""
}

type DeviceInfo struct {
	DeviceID

	// Name is the name of the device as labeled by the backend.
	Name string `json:"name"`

	// Description is the longer user-friendly identification of the device
	Description string `json:"description"`

	// TotalMemory is the total amount of memory the device can use for tensors
	TotalMemory uint64 `json:"total_memory"`

	// ThreadCount is the number of threads the backend computes with
	ThreadCount int `json:"threads,omitempty"`
}

// ParseDevice resolves a designation like "cpu", "cpu:0" or "cuda:1" against
// the registered backends.
func ParseDevice(s string) (Device, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return CPU, nil
	}

	lib, idx, hasIdx := strings.Cut(s, ":")
	id := 0
	if hasIdx {
		n, err := strconv.Atoi(idx)
		if err != nil || n < 0 {
			return Device{}, fmt.Errorf("invalid device index %q", idx)
		}
		id = n
	}

	backend, ok := backends[lib]
	if !ok {
		return Device{}, fmt.Errorf("no backend for device %q (available: %s)", s, strings.Join(BackendNames(), ", "))
	}

	devices := backend.Devices()
	if id >= len(devices) {
		return Device{}, fmt.Errorf("device %q not found, backend %s has %d device(s)", s, lib, len(devices))
	}

	return Device{DeviceID{Library: lib, ID: id}}, nil
}

// sameDevice returns ErrDeviceMismatch unless all tensors share a device.
func sameDevice(ts ...*Tensor) error {
	for _, t := range ts[1:] {
		if t.device != ts[0].device {
			return fmt.Errorf("%w: %s and %s", ErrDeviceMismatch, ts[0].device, t.device)
		}
	}
	return nil
}
