//go:build !linux || (!amd64 && !arm64)

package audio

// NewPlatformDevice returns the silent null device on platforms without
// a native output backend.
func NewPlatformDevice(string) Device {
	return NewNullDevice()
}
