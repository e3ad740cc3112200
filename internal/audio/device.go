// Package audio implements the playback sink: it buffers decoded PCM,
// feeds a byte-oriented output device respecting free space and sample
// alignment, and derives the master clock from bytes that have actually
// left the device buffer.
package audio

import "time"

// DeviceState mirrors the output device's lifecycle notifications.
type DeviceState int

const (
	DeviceActive DeviceState = iota
	DeviceSuspended
	DeviceIdle
	DeviceStopped
)

func (s DeviceState) String() string {
	switch s {
	case DeviceActive:
		return "active"
	case DeviceSuspended:
		return "suspended"
	case DeviceIdle:
		return "idle"
	case DeviceStopped:
		return "stopped"
	}
	return "unknown"
}

// Format is a PCM device format: rate, channel count, and sample width
// in bits.
type Format struct {
	SampleRate int
	Channels   int
	SampleBits int
}

// BytesPerMs returns the byte rate of this format per millisecond.
func (f Format) BytesPerMs() float64 {
	return float64(f.SampleRate*f.Channels*(f.SampleBits/8)) / 1000.0
}

// SampleBytes returns the size of one interleaved sample across all
// channels.
func (f Format) SampleBytes() int {
	return (f.SampleBits / 8) * f.Channels
}

// Device is the byte-oriented output the sink writes to. Init may adopt
// a nearby format when the requested one is unsupported; the returned
// format is authoritative for all subsequent arithmetic.
type Device interface {
	// Init opens the device. When the exact format is unsupported the
	// device adopts and returns its nearest supported format.
	Init(f Format) (Format, error)
	// SetBufferSize requests a device buffer of the given byte size.
	SetBufferSize(bytes int)
	// BufferSize returns the effective device buffer size.
	BufferSize() int
	// BytesFree returns how many bytes the device can accept right now.
	BytesFree() int
	// Write pushes PCM bytes; short writes are permitted.
	Write(p []byte) (int, error)
	// Start begins playback.
	Start() error
	// Suspend pauses the device retaining its buffer.
	Suspend() error
	// Resume restarts a suspended device.
	Resume() error
	// Stop halts playback and discards the device buffer.
	Stop() error
	// SetNotifyInterval sets the cadence of below-watermark callbacks.
	SetNotifyInterval(d time.Duration)
	// SetStateListener installs the state-change callback.
	SetStateListener(fn func(DeviceState, error))
	// Close releases the device.
	Close() error
}
