// Package decode holds the two decoder stages: audio (decode +
// resample to the sink's target format) and video (decode + scale to
// RGBA, paced against the master audio clock).
package decode

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/rtsppull/internal/codec"
	"github.com/smazurov/rtsppull/internal/media"
	"github.com/smazurov/rtsppull/internal/metrics"
	"github.com/smazurov/rtsppull/internal/queue"
)

// queueWait is the timed wait on an empty packet queue.
const queueWait = 100 * time.Millisecond

// Default audio target format.
const (
	DefaultSampleRate = 44100
	DefaultChannels   = 2
)

// Audio drains the audio packet queue, decodes to PCM, resamples to
// the configured target format, and emits millisecond-stamped frames.
type Audio struct {
	log   *slog.Logger
	reg   *codec.Registry
	queue *queue.PacketQueue

	// OnFrame receives decoded frames; a nil frame is the terminal
	// end-of-stream marker. Set before Start.
	OnFrame func(*media.AudioFrame)
	// OnClock receives the millisecond PTS of every decoded frame.
	OnClock func(ms int64)

	mu        sync.Mutex
	ctx       codec.AudioContext
	resampler codec.Resampler
	target    codec.AudioFormat
	timeBase  media.Rational

	running atomic.Bool
	paused  atomic.Bool
	done    chan struct{}
}

// NewAudio creates the audio decode stage reading from q.
func NewAudio(reg *codec.Registry, q *queue.PacketQueue, log *slog.Logger) *Audio {
	return &Audio{
		log:   log,
		reg:   reg,
		queue: q,
		target: codec.AudioFormat{
			SampleRate: DefaultSampleRate,
			Channels:   DefaultChannels,
			Format:     codec.S16,
		},
	}
}

// Init opens the decoder context for the stream's codec parameters and
// builds the resampler if the source format differs from the target.
func (a *Audio) Init(p codec.AudioParams, tb media.Rational) error {
	dec, err := a.reg.FindAudio(p.Codec)
	if err != nil {
		return err
	}
	ctx, err := dec.Open(p)
	if err != nil {
		return fmt.Errorf("audio decoder open: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.ctx = ctx
	a.timeBase = tb
	if err := a.initResamplerLocked(); err != nil {
		ctx.Close()
		a.ctx = nil
		return err
	}

	src := ctx.SourceFormat()
	a.log.Info("audio decoder initialized",
		"codec", p.Codec,
		"sample_rate", src.SampleRate, "channels", src.Channels, "format", src.Format.String())
	return nil
}

// TargetFormat returns the currently configured target format.
func (a *Audio) TargetFormat() codec.AudioFormat {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.target
}

// SetTargetFormat reconfigures the output format and rebuilds the
// resampler against the current source parameters. It must not be
// called while the stage is draining: before Start, or during pause.
func (a *Audio) SetTargetFormat(sampleRate, channels int, format codec.SampleFormat) error {
	if a.running.Load() && !a.paused.Load() {
		return errors.New("audio: target format change while draining")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.target = codec.AudioFormat{SampleRate: sampleRate, Channels: channels, Format: format}
	if a.ctx == nil {
		return nil
	}
	return a.initResamplerLocked()
}

// initResamplerLocked tears down and rebuilds the resampler. A source
// that already matches the target gets no resampler at all.
func (a *Audio) initResamplerLocked() error {
	if a.resampler != nil {
		a.resampler.Close()
		a.resampler = nil
	}

	src := a.ctx.SourceFormat()
	if src == a.target {
		a.log.Debug("source format matches target, resampler bypassed",
			"sample_rate", src.SampleRate, "channels", src.Channels)
		return nil
	}

	r, err := a.reg.NewResampler(src, a.target)
	if err != nil {
		return fmt.Errorf("resampler init: %w", err)
	}
	a.resampler = r
	a.log.Info("audio resampler initialized",
		"from_rate", src.SampleRate, "to_rate", a.target.SampleRate,
		"from_channels", src.Channels, "to_channels", a.target.Channels,
		"from_format", src.Format.String(), "to_format", a.target.Format.String())
	return nil
}

// SetPaused parks or releases the decode loop.
func (a *Audio) SetPaused(paused bool) {
	a.paused.Store(paused)
}

// Start launches the decode loop. Init must have succeeded.
func (a *Audio) Start() error {
	if a.ctx == nil {
		return errors.New("audio: not initialized")
	}
	if !a.running.CompareAndSwap(false, true) {
		return nil
	}
	a.done = make(chan struct{})
	go a.loop()
	return nil
}

func (a *Audio) loop() {
	defer close(a.done)

	for a.running.Load() {
		if a.paused.Load() {
			time.Sleep(queueWait)
			continue
		}

		pkt, ok := a.queue.Pop(queueWait)
		if !ok {
			continue
		}
		metrics.SetQueueDepth("audio", a.queue.Len())

		if pkt.IsEOS() {
			a.decodePacket(nil) // flush
			if a.OnFrame != nil {
				a.OnFrame(nil)
			}
			a.log.Info("audio decoding stopped")
			return
		}

		// Under queue pressure only key packets are worth decoding.
		if a.queue.DropMode() && !pkt.KeyFrame {
			metrics.AddPacketsDropped("audio", 1)
			continue
		}

		a.decodePacket(pkt)
	}
}

// decodePacket submits one packet (nil flushes) and drains all ready
// frames. Transient decoder conditions are swallowed; the loop goes on.
func (a *Audio) decodePacket(pkt *media.Packet) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ctx == nil {
		return
	}

	if err := a.ctx.SendPacket(pkt); err != nil {
		if !errors.Is(err, codec.ErrAgain) && !errors.Is(err, codec.ErrEOF) {
			a.log.Warn("error sending packet to decoder", "error", err)
		}
		return
	}

	for {
		f, err := a.ctx.ReceiveFrame()
		if err != nil {
			if !errors.Is(err, codec.ErrAgain) && !errors.Is(err, codec.ErrEOF) {
				a.log.Warn("error receiving frame from decoder", "error", err)
			}
			return
		}

		ptsMs := a.timeBase.ToMillis(f.PTS)
		if a.OnClock != nil {
			a.OnClock(ptsMs)
		}

		frame, err := a.finishFrameLocked(f, ptsMs)
		if err != nil {
			a.log.Warn("audio frame conversion failed", "error", err)
			continue
		}
		if a.OnFrame != nil {
			a.OnFrame(frame)
		}
		metrics.IncFramesDecoded("audio")
	}
}

// finishFrameLocked resamples when needed, or forwards the decoded
// buffer directly when the source already matches the target.
func (a *Audio) finishFrameLocked(f *codec.AudioData, ptsMs int64) (*media.AudioFrame, error) {
	out := f
	if a.resampler != nil {
		var err error
		out, err = a.resampler.Convert(f)
		if err != nil {
			return nil, err
		}
	}

	// A decoder may hand back a short or padded plane; clamp to what is
	// actually there, on a whole-sample boundary.
	sampleBytes := out.Channels * 2
	n := out.Samples * sampleBytes
	if n > len(out.Planes[0]) {
		n = len(out.Planes[0]) / sampleBytes * sampleBytes
	}
	return &media.AudioFrame{
		Data:       out.Planes[0][:n],
		SampleRate: out.SampleRate,
		Channels:   out.Channels,
		Samples:    n / sampleBytes,
		PTS:        ptsMs,
	}, nil
}

// Close stops the loop, joins it with a bounded wait, and releases the
// decoder context and resampler. Idempotent.
func (a *Audio) Close() {
	if a.running.CompareAndSwap(true, false) && a.done != nil {
		select {
		case <-a.done:
		case <-time.After(2 * time.Second):
			a.log.Warn("audio decode loop did not exit in time")
			select {
			case <-a.done:
			case <-time.After(time.Second):
				a.log.Error("audio decode loop leaked")
			}
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.resampler != nil {
		a.resampler.Close()
		a.resampler = nil
	}
	if a.ctx != nil {
		a.ctx.Close()
		a.ctx = nil
	}
	a.paused.Store(false)
}
