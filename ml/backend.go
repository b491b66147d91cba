// backend.go - Backend-Interface und Registrierung
// Dieses Modul definiert das Backend-Interface und die Registry, ueber die
// Device-Bezeichnungen aufgeloest werden. Registriert ist nur "cpu".
package ml

import (
	"runtime"
	"slices"
)

// Backend represents a compute library that can host tensors.
type Backend interface {
	// Devices enumerates the devices available via this backend
	Devices() []DeviceInfo
}

var backends = make(map[string]Backend)

// RegisterBackend registers a backend under its library name.
func RegisterBackend(name string, b Backend) {
	if _, ok := backends[name]; ok {
		panic("backend: backend already registered")
	}

	backends[name] = b
}

// BackendNames lists the registered backend names in sorted order.
func BackendNames() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DeviceInfos returns the device information for d.
func DeviceInfos(d Device) (DeviceInfo, bool) {
	b, ok := backends[d.Library]
	if !ok {
		return DeviceInfo{}, false
	}
	devices := b.Devices()
	if d.ID >= len(devices) {
		return DeviceInfo{}, false
	}
	return devices[d.ID], true
}

type cpuBackend struct{}

func (cpuBackend) Devices() []DeviceInfo {
	return []DeviceInfo{{
		DeviceID:    CPU.DeviceID,
		Name:        "cpu",
		Description: runtime.GOOS + "/" + runtime.GOARCH,
		ThreadCount: runtime.GOMAXPROCS(0),
	}}
}

func init() {
	RegisterBackend("cpu", cpuBackend{})
}
