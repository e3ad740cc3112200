//go:build linux && (amd64 || arm64)

package alsa

import (
	"fmt"
	"syscall"
	"unsafe"
)

// Params is the negotiated playback configuration. Rate and Channels
// may differ from the request when the hardware cannot do better;
// Format is always S16_LE.
type Params struct {
	Rate        int
	Channels    int
	BufferSize  int // frames
	PeriodSize  int // frames
	SampleBytes int // bytes per interleaved frame across channels
}

// Playback is one open ALSA playback stream.
type Playback struct {
	fd     int
	params Params
	paused bool
}

// Open opens an ALSA playback device ("hw:card,dev").
func Open(device string) (*Playback, error) {
	var cardNum, devNum int
	if _, err := fmt.Sscanf(device, "hw:%d,%d", &cardNum, &devNum); err != nil {
		return nil, fmt.Errorf("alsa: bad device %q: %w", device, err)
	}
	path := fmt.Sprintf("/dev/snd/pcmC%dD%dp", cardNum, devNum)

	fd, err := syscall.Open(path, syscall.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("alsa: open %s: %w", path, err)
	}
	return &Playback{fd: fd}, nil
}

// Configure negotiates S16_LE interleaved playback at the requested
// rate, channel count, and buffer size. When the hardware refuses the
// exact rate or channels the nearest supported values are adopted and
// returned.
func (p *Playback) Configure(rate, channels, bufferFrames int) (Params, error) {
	// Refine first to learn the supported ranges.
	refine := sndPCMHwParams{}
	refine.init()
	refine.setMask(sndrvPCMHwParamAccess, sndrvPCMAccessRwInterleaved)
	refine.setMask(sndrvPCMHwParamFormat, formatS16LE)
	if err := ioctl(uintptr(p.fd), sndrvPCMIoctlHwRefine, unsafe.Pointer(&refine)); err != nil {
		return Params{}, fmt.Errorf("alsa: hw_refine: %w", err)
	}

	minRate, maxRate := refine.getInterval(sndrvPCMHwParamRate)
	minCh, maxCh := refine.getInterval(sndrvPCMHwParamChannels)
	adoptedRate := clampU32(uint32(rate), minRate, maxRate)
	adoptedCh := clampU32(uint32(channels), minCh, maxCh)

	hw := sndPCMHwParams{}
	hw.init()
	hw.setMask(sndrvPCMHwParamAccess, sndrvPCMAccessRwInterleaved)
	hw.setMask(sndrvPCMHwParamFormat, formatS16LE)
	hw.setInterval(sndrvPCMHwParamRate, adoptedRate)
	hw.setInterval(sndrvPCMHwParamChannels, adoptedCh)
	if bufferFrames > 0 {
		hw.setInterval(sndrvPCMHwParamBufferSize, uint32(bufferFrames))
	}
	if err := ioctl(uintptr(p.fd), sndrvPCMIoctlHwParams, unsafe.Pointer(&hw)); err != nil {
		return Params{}, fmt.Errorf("alsa: hw_params: %w", err)
	}

	gotRate, _ := hw.getInterval(sndrvPCMHwParamRate)
	gotCh, _ := hw.getInterval(sndrvPCMHwParamChannels)
	gotBuf, _ := hw.getInterval(sndrvPCMHwParamBufferSize)
	gotPeriod, _ := hw.getInterval(sndrvPCMHwParamPeriodSize)

	p.params = Params{
		Rate:        int(gotRate),
		Channels:    int(gotCh),
		BufferSize:  int(gotBuf),
		PeriodSize:  int(gotPeriod),
		SampleBytes: int(gotCh) * 2,
	}

	if err := ioctl(uintptr(p.fd), sndrvPCMIoctlPrepare, nil); err != nil {
		return Params{}, fmt.Errorf("alsa: prepare: %w", err)
	}
	return p.params, nil
}

// Params returns the negotiated configuration.
func (p *Playback) Params() Params { return p.params }

// AvailFrames returns how many frames the device buffer can accept.
func (p *Playback) AvailFrames() (int, error) {
	sync := sndPCMSyncPtr{flags: syncPtrHwSync}
	if err := ioctl(uintptr(p.fd), sndrvPCMIoctlSyncPtr, unsafe.Pointer(&sync)); err != nil {
		return 0, fmt.Errorf("alsa: sync_ptr: %w", err)
	}
	used := int64(sync.control.applPtr) - int64(sync.status.hwPtr)
	if used < 0 {
		used = 0
	}
	avail := int64(p.params.BufferSize) - used
	if avail < 0 {
		avail = 0
	}
	return int(avail), nil
}

// Write pushes interleaved S16_LE frames. Underruns are recovered by
// re-preparing and retrying once.
func (p *Playback) Write(buf []byte) (int, error) {
	if len(buf) < p.params.SampleBytes {
		return 0, nil
	}
	frames := uint64(len(buf) / p.params.SampleBytes)

	for attempt := 0; ; attempt++ {
		xfer := sndXferI{
			buf:    uintptr(unsafe.Pointer(&buf[0])),
			frames: frames,
		}
		err := ioctl(uintptr(p.fd), sndrvPCMIoctlWriteiFrames, unsafe.Pointer(&xfer))
		if err == nil {
			return int(xfer.result) * p.params.SampleBytes, nil
		}
		if err == syscall.EPIPE && attempt == 0 {
			// underrun
			if perr := ioctl(uintptr(p.fd), sndrvPCMIoctlPrepare, nil); perr != nil {
				return 0, fmt.Errorf("alsa: recover: %w", perr)
			}
			continue
		}
		if err == syscall.EAGAIN {
			return 0, nil
		}
		return 0, fmt.Errorf("alsa: writei: %w", err)
	}
}

// Pause suspends the stream, keeping the buffer.
func (p *Playback) Pause() error {
	if p.paused {
		return nil
	}
	v := int32(1)
	if err := ioctl(uintptr(p.fd), sndrvPCMIoctlPause, unsafe.Pointer(&v)); err != nil {
		return fmt.Errorf("alsa: pause: %w", err)
	}
	p.paused = true
	return nil
}

// Resume releases a paused stream.
func (p *Playback) Resume() error {
	if !p.paused {
		return nil
	}
	v := int32(0)
	if err := ioctl(uintptr(p.fd), sndrvPCMIoctlPause, unsafe.Pointer(&v)); err != nil {
		return fmt.Errorf("alsa: resume: %w", err)
	}
	p.paused = false
	return nil
}

// Drop discards buffered frames and stops the stream. The stream must
// be re-prepared before the next write.
func (p *Playback) Drop() error {
	if err := ioctl(uintptr(p.fd), sndrvPCMIoctlDrop, nil); err != nil {
		return fmt.Errorf("alsa: drop: %w", err)
	}
	return ioctl(uintptr(p.fd), sndrvPCMIoctlPrepare, nil)
}

// Close releases the device.
func (p *Playback) Close() error {
	if p.fd >= 0 {
		err := syscall.Close(p.fd)
		p.fd = -1
		return err
	}
	return nil
}

func clampU32(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
