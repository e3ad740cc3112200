package audio

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/rtsppull/internal/clock"
	"github.com/smazurov/rtsppull/internal/media"
	"github.com/smazurov/rtsppull/internal/metrics"
)

const (
	// DefaultMaxChunks bounds the app-side queue of pending PCM chunks.
	DefaultMaxChunks = 6144

	// notifyInterval is the below-watermark poll cadence.
	notifyInterval = 10 * time.Millisecond

	// samplesPerFrame sizes the device buffer in units of one typical
	// decoded frame (1024 samples per channel).
	samplesPerFrame = 1024
)

// ErrNotInitialized is returned when the sink is used before Initialize.
var ErrNotInitialized = errors.New("audio: sink not initialized")

// Sink consumes decoded PCM frames and plays them through a Device,
// publishing the byte-accurate master clock.
type Sink struct {
	log   *slog.Logger
	dev   Device
	clock *clock.MasterClock

	// OnError receives device failures surfaced during playback.
	OnError func(error)

	mu           sync.Mutex
	format       Format
	chunks       [][]byte
	maxChunks    int
	bytesWritten int64
	initialized  bool
	playing      bool
	paused       bool
	volume       float64
	overflowed   bool

	stopPoll chan struct{}
	pollDone chan struct{}
}

// NewSink creates a sink writing to dev and publishing to mc.
func NewSink(dev Device, mc *clock.MasterClock, log *slog.Logger) *Sink {
	return &Sink{
		log:       log,
		dev:       dev,
		clock:     mc,
		maxChunks: DefaultMaxChunks,
		volume:    1.0,
	}
}

// SetMaxChunks adjusts the app-side buffer bound.
func (s *Sink) SetMaxChunks(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.maxChunks = n
	}
}

// Initialize opens the device with the requested format, adopting the
// device's nearest supported format when refused, and sizes the device
// buffer for 40–120 ms of latency.
func (s *Sink) Initialize(sampleRate, channels, sampleBits int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		s.log.Warn("audio sink already initialized")
		return nil
	}

	requested := Format{SampleRate: sampleRate, Channels: channels, SampleBits: sampleBits}
	adopted, err := s.dev.Init(requested)
	if err != nil {
		return err
	}
	if adopted != requested {
		s.log.Warn("requested audio format not supported, using nearest match",
			"requested_rate", requested.SampleRate, "requested_channels", requested.Channels,
			"adopted_rate", adopted.SampleRate, "adopted_channels", adopted.Channels,
			"adopted_bits", adopted.SampleBits)
	}
	s.format = adopted

	frameBytes := samplesPerFrame * adopted.Channels * (adopted.SampleBits / 8)
	bufferSize := clampInt(3*frameBytes, 2*frameBytes, 6*frameBytes)
	s.dev.SetBufferSize(bufferSize)

	s.dev.SetStateListener(s.handleDeviceState)

	s.initialized = true
	s.log.Info("audio sink initialized",
		"sample_rate", adopted.SampleRate, "channels", adopted.Channels,
		"sample_bits", adopted.SampleBits, "buffer_size", s.dev.BufferSize())
	return nil
}

// Format returns the adopted device format.
func (s *Sink) Format() Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// IsPlaying reports whether playback is running (paused counts as
// playing).
func (s *Sink) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// SetVolume sets the software gain, clamped to [0,1].
func (s *Sink) SetVolume(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	s.volume = v
}

// Volume returns the current gain.
func (s *Sink) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// BufferDelayMs estimates the latency of a full device buffer.
func (s *Sink) BufferDelayMs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return 0
	}
	perMs := s.format.BytesPerMs()
	if perMs <= 0 {
		return 0
	}
	return int(float64(s.dev.BufferSize()) / perMs)
}

// Start begins playback and the watermark poll.
func (s *Sink) Start() error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return ErrNotInitialized
	}
	if s.playing {
		s.mu.Unlock()
		return nil
	}
	if err := s.dev.Start(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.dev.SetNotifyInterval(notifyInterval)
	s.playing = true
	s.paused = false
	s.bytesWritten = 0
	s.clock.Reset()
	s.stopPoll = make(chan struct{})
	s.pollDone = make(chan struct{})
	go s.pollLoop(s.stopPoll, s.pollDone)
	s.mu.Unlock()

	s.log.Info("audio playback started")
	return nil
}

// pollLoop is the buffer-below-watermark trigger: every notify interval
// it tries to move pending bytes into the device.
func (s *Sink) pollLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(notifyInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.writePendingLocked()
			s.mu.Unlock()
		}
	}
}

// Stop halts playback, drains the app-side queue, and resets the byte
// counter and master clock. Safe to call repeatedly.
func (s *Sink) Stop() {
	s.mu.Lock()
	if !s.playing {
		s.mu.Unlock()
		return
	}
	s.playing = false
	s.paused = false
	stop, pollDone := s.stopPoll, s.pollDone
	s.stopPoll, s.pollDone = nil, nil
	s.chunks = nil
	s.bytesWritten = 0
	s.overflowed = false
	_ = s.dev.Stop()
	s.clock.Reset()
	metrics.SetMasterClock(0)
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-pollDone
	}
	s.log.Info("audio playback stopped")
}

// Pause suspends the device, retaining its buffer.
func (s *Sink) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing || s.paused {
		return
	}
	if err := s.dev.Suspend(); err != nil {
		s.log.Warn("device suspend failed", "error", err)
		return
	}
	s.paused = true
	s.log.Info("audio playback paused")
}

// Resume restores a paused device and immediately services the queue.
func (s *Sink) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing || !s.paused {
		return
	}
	if err := s.dev.Resume(); err != nil {
		s.log.Warn("device resume failed", "error", err)
		return
	}
	s.paused = false
	s.writePendingLocked()
	s.log.Info("audio playback resumed")
}

// OnFrame enqueues one decoded frame and immediately tries to write, so
// the stream activates without waiting for the next poll tick.
func (s *Sink) OnFrame(f *media.AudioFrame) {
	if f == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing {
		return
	}

	if f.SampleRate != s.format.SampleRate || f.Channels != s.format.Channels {
		s.log.Warn("frame format mismatch",
			"frame_rate", f.SampleRate, "sink_rate", s.format.SampleRate,
			"frame_channels", f.Channels, "sink_channels", s.format.Channels)
	}

	data := f.Data
	if s.volume != 1.0 {
		data = applyGain(data, s.volume)
	}

	for len(s.chunks) >= s.maxChunks {
		s.chunks = s.chunks[1:]
		metrics.IncSinkChunkDropped()
		if !s.overflowed {
			s.overflowed = true
			s.log.Warn("audio buffer overflow, dropping oldest chunk")
		}
	}
	s.chunks = append(s.chunks, data)

	if !s.paused {
		s.writePendingLocked()
	}
}

// writePendingLocked moves queued bytes into the device: only whole
// samples, only as much as the device can take, partial chunks kept at
// the queue head. Caller holds s.mu.
func (s *Sink) writePendingLocked() {
	if !s.playing || s.paused || len(s.chunks) == 0 {
		return
	}

	sampleBytes := s.format.SampleBytes()
	for len(s.chunks) > 0 {
		free := s.dev.BytesFree()
		if free < 2*sampleBytes {
			return
		}

		head := s.chunks[0]
		n := len(head)
		if n > free {
			n = free
		}
		n = (n / sampleBytes) * sampleBytes
		if n <= 0 {
			return
		}

		written, err := s.dev.Write(head[:n])
		if err != nil {
			s.log.Error("failed to write audio data", "error", err)
			if s.OnError != nil {
				go s.OnError(err)
			}
			return
		}
		if written <= 0 {
			return
		}

		s.bytesWritten += int64(written)
		metrics.AddSinkBytesWritten(written)
		s.updateClockLocked()

		if written >= len(head) {
			s.chunks = s.chunks[1:]
		} else {
			s.chunks[0] = head[written:]
			return
		}
	}
}

// updateClockLocked derives the master clock from bytes that have left
// the device buffer, not bytes handed to the driver.
func (s *Sink) updateClockLocked() {
	perMs := s.format.BytesPerMs()
	if perMs <= 0 {
		return
	}
	buffered := int64(s.dev.BufferSize() - s.dev.BytesFree())
	played := s.bytesWritten - buffered
	if played < 0 {
		played = 0
	}
	ms := int64(float64(played) / perMs)
	s.clock.Set(ms)
	metrics.SetMasterClock(s.clock.Millis())
}

// BytesWritten returns the cumulative bytes handed to the device since
// Start.
func (s *Sink) BytesWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesWritten
}

// PendingChunks returns the app-side queue depth.
func (s *Sink) PendingChunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// handleDeviceState reacts to device notifications: idle means the
// device wants data now; stopped with an error is surfaced.
func (s *Sink) handleDeviceState(state DeviceState, err error) {
	switch state {
	case DeviceIdle:
		s.mu.Lock()
		s.writePendingLocked()
		s.mu.Unlock()
	case DeviceStopped:
		if err != nil {
			s.log.Error("audio device stopped with error", "error", err)
			if s.OnError != nil {
				s.OnError(err)
			}
		}
	}
}

// Close stops playback and releases the device.
func (s *Sink) Close() {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		_ = s.dev.Close()
		s.initialized = false
	}
}

// applyGain scales interleaved S16 samples in a fresh buffer.
func applyGain(in []byte, gain float64) []byte {
	out := make([]byte, len(in)&^1)
	for i := 0; i+1 < len(in); i += 2 {
		v := int16(uint16(in[i]) | uint16(in[i+1])<<8)
		scaled := int32(float64(v) * gain)
		if scaled > 32767 {
			scaled = 32767
		} else if scaled < -32768 {
			scaled = -32768
		}
		out[i] = byte(uint16(scaled))
		out[i+1] = byte(uint16(scaled) >> 8)
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
