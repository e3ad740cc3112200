//go:build linux && (amd64 || arm64)

package audio

// NewPlatformDevice returns the native output device for this platform:
// ALSA on Linux. An empty name selects the default device; "none"
// selects the silent null device.
func NewPlatformDevice(name string) Device {
	if name == "none" {
		return NewNullDevice()
	}
	return NewALSADevice(name)
}
