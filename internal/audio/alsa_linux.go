//go:build linux && (amd64 || arm64)

package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/smazurov/rtsppull/pkg/linuxav/alsa"
)

// ALSADevice adapts an ALSA playback stream to the sink's Device
// interface. Free space comes straight from the kernel's pointer sync,
// so the derived master clock tracks real playout.
type ALSADevice struct {
	device string

	mu       sync.Mutex
	pcm      *alsa.Playback
	format   Format
	bufBytes int
	running  bool
	listener func(DeviceState, error)
}

// NewALSADevice creates a device bound to an "hw:card,dev" string; an
// empty string uses the default device.
func NewALSADevice(device string) *ALSADevice {
	if device == "" {
		device = alsa.DefaultDevice
	}
	return &ALSADevice{device: device}
}

// Init implements Device. The negotiated format may differ from the
// request; the adopted values are returned.
func (d *ALSADevice) Init(f Format) (Format, error) {
	if f.SampleBits != 16 {
		f.SampleBits = 16 // S16_LE is the only wire format
	}

	pcm, err := alsa.Open(d.device)
	if err != nil {
		return Format{}, err
	}
	params, err := pcm.Configure(f.SampleRate, f.Channels, 0)
	if err != nil {
		pcm.Close()
		return Format{}, err
	}

	adopted := Format{SampleRate: params.Rate, Channels: params.Channels, SampleBits: 16}

	d.mu.Lock()
	d.pcm = pcm
	d.format = adopted
	d.bufBytes = params.BufferSize * params.SampleBytes
	d.mu.Unlock()
	return adopted, nil
}

// SetBufferSize reconfigures the device buffer to roughly the given
// byte size.
func (d *ALSADevice) SetBufferSize(bytes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pcm == nil || bytes <= 0 {
		return
	}
	frames := bytes / d.format.SampleBytes()
	params, err := d.pcm.Configure(d.format.SampleRate, d.format.Channels, frames)
	if err != nil {
		// keep the previous geometry
		return
	}
	d.bufBytes = params.BufferSize * params.SampleBytes
}

// BufferSize implements Device.
func (d *ALSADevice) BufferSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bufBytes
}

// BytesFree implements Device.
func (d *ALSADevice) BytesFree() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pcm == nil {
		return 0
	}
	frames, err := d.pcm.AvailFrames()
	if err != nil {
		return 0
	}
	return frames * d.format.SampleBytes()
}

// Write implements Device.
func (d *ALSADevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pcm == nil {
		return 0, fmt.Errorf("alsa device not initialized")
	}
	return d.pcm.Write(p)
}

// Start implements Device; ALSA starts on the first period written.
func (d *ALSADevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pcm == nil {
		return fmt.Errorf("alsa device not initialized")
	}
	d.running = true
	return nil
}

// Suspend implements Device.
func (d *ALSADevice) Suspend() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pcm == nil {
		return nil
	}
	if err := d.pcm.Pause(); err != nil {
		return err
	}
	d.notifyLocked(DeviceSuspended, nil)
	return nil
}

// Resume implements Device.
func (d *ALSADevice) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pcm == nil {
		return nil
	}
	if err := d.pcm.Resume(); err != nil {
		return err
	}
	d.notifyLocked(DeviceActive, nil)
	return nil
}

// Stop implements Device.
func (d *ALSADevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pcm == nil || !d.running {
		return nil
	}
	d.running = false
	if err := d.pcm.Drop(); err != nil {
		d.notifyLocked(DeviceStopped, err)
		return err
	}
	d.notifyLocked(DeviceStopped, nil)
	return nil
}

// SetNotifyInterval implements Device; the sink drives its own poll, so
// there is nothing to arm here.
func (d *ALSADevice) SetNotifyInterval(time.Duration) {}

// SetStateListener implements Device.
func (d *ALSADevice) SetStateListener(fn func(DeviceState, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listener = fn
}

func (d *ALSADevice) notifyLocked(s DeviceState, err error) {
	if d.listener != nil {
		fn := d.listener
		go fn(s, err)
	}
}

// Close implements Device.
func (d *ALSADevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pcm == nil {
		return nil
	}
	err := d.pcm.Close()
	d.pcm = nil
	return err
}
