package audio

import (
	"sync"
	"time"
)

// NullDevice is a headless output device: it accepts any format and
// drains its buffer in real time without touching hardware. Used by the
// CLI when no sound device is wanted and by integration tests.
type NullDevice struct {
	mu        sync.Mutex
	format    Format
	bufSize   int
	buffered  float64
	lastDrain time.Time
	running   bool
	suspended bool
	listener  func(DeviceState, error)
}

// NewNullDevice creates a silent device.
func NewNullDevice() *NullDevice {
	return &NullDevice{}
}

// Init accepts the requested format verbatim.
func (d *NullDevice) Init(f Format) (Format, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.format = f
	if d.bufSize == 0 {
		d.bufSize = 3 * samplesPerFrame * f.Channels * (f.SampleBits / 8)
	}
	return f, nil
}

// SetBufferSize implements Device.
func (d *NullDevice) SetBufferSize(bytes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if bytes > 0 {
		d.bufSize = bytes
	}
}

// BufferSize implements Device.
func (d *NullDevice) BufferSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bufSize
}

// BytesFree implements Device.
func (d *NullDevice) BytesFree() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drainLocked()
	free := d.bufSize - int(d.buffered)
	if free < 0 {
		free = 0
	}
	return free
}

// drainLocked removes bytes played since the last call at the format's
// real-time byte rate.
func (d *NullDevice) drainLocked() {
	if !d.running || d.suspended {
		d.lastDrain = time.Now()
		return
	}
	now := time.Now()
	if !d.lastDrain.IsZero() {
		elapsed := now.Sub(d.lastDrain).Seconds()
		d.buffered -= elapsed * 1000 * d.format.BytesPerMs()
		if d.buffered < 0 {
			d.buffered = 0
		}
	}
	d.lastDrain = now
}

// Write implements Device.
func (d *NullDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drainLocked()
	free := d.bufSize - int(d.buffered)
	n := len(p)
	if n > free {
		n = free
	}
	if n < 0 {
		n = 0
	}
	d.buffered += float64(n)
	return n, nil
}

// Start implements Device.
func (d *NullDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = true
	d.suspended = false
	d.buffered = 0
	d.lastDrain = time.Now()
	return nil
}

// Suspend implements Device.
func (d *NullDevice) Suspend() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drainLocked()
	d.suspended = true
	return nil
}

// Resume implements Device.
func (d *NullDevice) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.suspended = false
	d.lastDrain = time.Now()
	return nil
}

// Stop implements Device.
func (d *NullDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = false
	d.suspended = false
	d.buffered = 0
	return nil
}

// SetNotifyInterval implements Device; the sink polls, so nothing to do.
func (d *NullDevice) SetNotifyInterval(time.Duration) {}

// SetStateListener implements Device.
func (d *NullDevice) SetStateListener(fn func(DeviceState, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listener = fn
}

// Close implements Device.
func (d *NullDevice) Close() error {
	return d.Stop()
}
