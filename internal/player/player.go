// Package player is the pipeline controller: it wires the packet
// source, the two decoders, and the audio sink; brokers the master
// clock into the video pacer; owns the lifecycle; and surfaces state
// transitions and aggregated errors on the event bus.
package player

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/rtsppull/internal/audio"
	"github.com/smazurov/rtsppull/internal/clock"
	"github.com/smazurov/rtsppull/internal/codec"
	"github.com/smazurov/rtsppull/internal/decode"
	"github.com/smazurov/rtsppull/internal/events"
	"github.com/smazurov/rtsppull/internal/logging"
	"github.com/smazurov/rtsppull/internal/media"
	"github.com/smazurov/rtsppull/internal/metrics"
	"github.com/smazurov/rtsppull/internal/queue"
	"github.com/smazurov/rtsppull/internal/source"
)

// Config carries the tunables of one player instance.
type Config struct {
	// ConnectTimeout bounds the RTSP session open.
	ConnectTimeout time.Duration
	// HardwareDecoding requests hardware video decode with silent
	// software fallback.
	HardwareDecoding bool
	// TargetWidth/TargetHeight size video output when no renderer
	// provides a surface size.
	TargetWidth  int
	TargetHeight int
	// AudioQueueCap / VideoQueueCap bound the packet queues.
	AudioQueueCap int
	VideoQueueCap int
	// MaxPendingChunks bounds the sink's app-side PCM queue.
	MaxPendingChunks int
	// Volume is the initial gain.
	Volume float64
}

// DefaultConfig mirrors the stock tuning: 3 s connect timeout, 720p
// target, 100-packet queues, half volume.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   3 * time.Second,
		HardwareDecoding: true,
		TargetWidth:      1280,
		TargetHeight:     720,
		AudioQueueCap:    queue.DefaultCap,
		VideoQueueCap:    queue.DefaultCap,
		MaxPendingChunks: audio.DefaultMaxChunks,
		Volume:           0.5,
	}
}

// DemuxerFactory builds the session layer for one URL.
type DemuxerFactory func(url string, timeout time.Duration) source.Demuxer

// DeviceFactory builds the audio output device for one session.
type DeviceFactory func() audio.Device

// Player owns the four-stage pipeline.
type Player struct {
	cfg Config
	log *slog.Logger
	bus *events.Bus
	reg *codec.Registry

	newDemuxer DemuxerFactory
	newDevice  DeviceFactory

	clock clock.MasterClock

	mu       sync.Mutex
	state    State
	renderer Renderer
	info     *media.StreamInfo

	src    *source.Source
	adec   *decode.Audio
	vdec   *decode.Video
	sink   *audio.Sink
	audioQ *queue.PacketQueue
	videoQ *queue.PacketQueue

	audioEnded bool
	videoEnded bool

	videoClock  atomic.Int64
	decodeClock atomic.Int64
	stopping    atomic.Bool
}

// New creates an idle player. The default demuxer is the TCP RTSP
// client; the default device is the null sink.
func New(cfg Config, reg *codec.Registry, bus *events.Bus) *Player {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 3 * time.Second
	}
	return &Player{
		cfg: cfg,
		log: logging.GetLogger("player"),
		bus: bus,
		reg: reg,
		newDemuxer: func(url string, timeout time.Duration) source.Demuxer {
			return source.NewRTSP(source.RTSPConfig{URL: url, Timeout: timeout})
		},
		newDevice: func() audio.Device { return audio.NewNullDevice() },
	}
}

// SetDemuxerFactory replaces the session layer (tests, alternative
// demuxers). Must be called while idle.
func (p *Player) SetDemuxerFactory(fn DemuxerFactory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.newDemuxer = fn
}

// SetDeviceFactory replaces the audio device constructor. Must be
// called while idle.
func (p *Player) SetDeviceFactory(fn DeviceFactory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.newDevice = fn
}

// SetVideoOutput installs or clears the external renderer.
func (p *Player) SetVideoOutput(r Renderer) {
	p.mu.Lock()
	p.renderer = r
	vdec := p.vdec
	p.mu.Unlock()
	if r != nil && vdec != nil {
		if w, h := r.Size(); w > 0 && h > 0 {
			vdec.SetTargetSize(w, h)
		}
	}
}

// State returns the current pipeline state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// IsPlaying reports whether the pipeline is in the play state.
func (p *Player) IsPlaying() bool {
	return p.State() == StatePlay
}

// AudioClock returns the master clock in milliseconds.
func (p *Player) AudioClock() int64 {
	return p.clock.Millis()
}

// VideoClock returns the PTS of the last emitted video frame.
func (p *Player) VideoClock() int64 {
	return p.videoClock.Load()
}

// StreamInfo returns the probed parameters of the current session.
func (p *Player) StreamInfo() *media.StreamInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

// SetVolume adjusts the playback gain, clamped to [0,1].
func (p *Player) SetVolume(v float64) {
	p.mu.Lock()
	sink := p.sink
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	p.cfg.Volume = v
	p.mu.Unlock()
	if sink != nil {
		sink.SetVolume(v)
	}
}

// SetHardwareDecoding toggles hardware video decode. Takes effect on
// the next Start.
func (p *Player) SetHardwareDecoding(enable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.HardwareDecoding = enable
}

// Volume returns the current playback gain.
func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Volume
}

// Start opens the URL, initializes all stages, wires them, and starts
// them in order: source, audio decode, video decode, sink. Any prior
// session is fully stopped first.
func (p *Player) Start(url string) error {
	if url == "" {
		err := errors.New("rtsp url must not be empty")
		p.surfaceError("player", err)
		return err
	}

	p.Stop()

	p.setState(StateDecode)
	p.notifyRenderer(RenderLoading)

	if err := p.openSession(url); err != nil {
		p.teardown(StateError)
		return err
	}

	p.mu.Lock()
	src, adec, vdec, sink := p.src, p.adec, p.vdec, p.sink
	p.mu.Unlock()

	if err := src.Start(); err != nil {
		p.surfaceError("source", err)
		p.teardown(StateError)
		return err
	}
	if adec != nil {
		if err := adec.Start(); err != nil {
			p.surfaceError("audiodec", err)
			p.teardown(StateError)
			return err
		}
	}
	if vdec != nil {
		if err := vdec.Start(); err != nil {
			p.surfaceError("videodec", err)
			p.teardown(StateError)
			return err
		}
	}
	if sink != nil {
		if err := sink.Start(); err != nil {
			p.surfaceError("sink", err)
			p.teardown(StateError)
			return err
		}
	}

	p.setState(StatePlay)
	p.notifyRenderer(RenderPlaying)
	p.bus.Publish(events.PlaybackStartedEvent{URL: url, Timestamp: timestamp()})
	p.log.Info("playback started", "url", url)
	return nil
}

// openSession builds and initializes all stages for one URL.
func (p *Player) openSession(url string) error {
	audioQ := queue.New(p.cfg.AudioQueueCap)
	videoQ := queue.New(p.cfg.VideoQueueCap)
	p.wireQueue(audioQ, "audio")
	p.wireQueue(videoQ, "video")

	demux := p.newDemuxer(url, p.cfg.ConnectTimeout)
	src := source.New(demux, audioQ, videoQ, logging.GetLogger("source"), func(err error) {
		p.surfaceError("source", err)
		go p.Stop()
	})

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectTimeout)
	info, err := src.Open(ctx)
	cancel()
	if err != nil {
		p.surfaceError("source", err)
		return err
	}

	p.mu.Lock()
	p.src = src
	p.audioQ = audioQ
	p.videoQ = videoQ
	p.info = info
	p.audioEnded = !info.HasAudio
	p.videoEnded = !info.HasVideo
	renderer := p.renderer
	p.mu.Unlock()

	p.bus.Publish(events.StreamInfoEvent{
		Width: info.Width, Height: info.Height, FrameRate: info.FrameRate,
		SampleRate: info.SampleRate, Channels: info.Channels,
		Timestamp: timestamp(),
	})

	if info.HasAudio {
		if err := p.initAudio(info, audioQ); err != nil {
			p.surfaceError("audiodec", err)
			return err
		}
	}
	if info.HasVideo {
		if err := p.initVideo(info, videoQ, renderer); err != nil {
			p.surfaceError("videodec", err)
			return err
		}
	}
	return nil
}

// initAudio sets up C2 and C4: decoder targeting the source's own rate
// and channel count (defaults when unknown), sink adopting the device's
// nearest format, and the decoder reconciled to whatever was adopted.
func (p *Player) initAudio(info *media.StreamInfo, q *queue.PacketQueue) error {
	adec := decode.NewAudio(p.reg, q, logging.GetLogger("audiodec"))
	p.mu.Lock()
	p.adec = adec
	p.mu.Unlock()

	rate := info.SampleRate
	if rate <= 0 {
		rate = decode.DefaultSampleRate
	}
	channels := info.Channels
	if channels <= 0 {
		channels = decode.DefaultChannels
	}
	if err := adec.SetTargetFormat(rate, channels, codec.S16); err != nil {
		return err
	}
	if err := adec.Init(codec.AudioParams{
		Codec:      info.AudioCodec,
		SampleRate: info.SampleRate,
		Channels:   info.Channels,
	}, info.AudioTimeBase); err != nil {
		return err
	}

	sink := audio.NewSink(p.newDevice(), &p.clock, logging.GetLogger("sink"))
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()
	sink.SetMaxChunks(p.cfg.MaxPendingChunks)
	sink.OnError = func(err error) {
		p.surfaceError("sink", err)
		go p.Stop()
	}
	if err := sink.Initialize(rate, channels, 16); err != nil {
		return err
	}
	sink.SetVolume(p.cfg.Volume)

	// The device may have adopted a different format; frames must be
	// produced in the adopted format from the first one on.
	adopted := sink.Format()
	if adopted.SampleRate != rate || adopted.Channels != channels {
		if err := adec.SetTargetFormat(adopted.SampleRate, adopted.Channels, codec.S16); err != nil {
			return err
		}
	}

	adec.OnClock = func(ms int64) { p.decodeClock.Store(ms) }
	adec.OnFrame = p.handleAudioFrame
	return nil
}

// initVideo sets up C3 with the probed frame rate and the renderer's
// surface size as the scaling target.
func (p *Player) initVideo(info *media.StreamInfo, q *queue.PacketQueue, renderer Renderer) error {
	vdec := decode.NewVideo(p.reg, q, &p.clock, logging.GetLogger("videodec"))
	p.mu.Lock()
	p.vdec = vdec
	p.mu.Unlock()
	vdec.SetHardwareDecoding(p.cfg.HardwareDecoding)
	vdec.SetFrameRate(info.FrameRate)

	w, h := p.cfg.TargetWidth, p.cfg.TargetHeight
	if renderer != nil {
		if rw, rh := renderer.Size(); rw > 0 && rh > 0 {
			w, h = rw, rh
		}
	}
	vdec.SetTargetSize(w, h)

	if err := vdec.Init(codec.VideoParams{
		Codec:  info.VideoCodec,
		Width:  info.Width,
		Height: info.Height,
	}, info.VideoTimeBase); err != nil {
		return err
	}

	vdec.OnFrame = p.handleVideoFrame
	return nil
}

// wireQueue connects queue pressure callbacks to metrics and the bus.
func (p *Player) wireQueue(q *queue.PacketQueue, name string) {
	q.OnOverflow = func(discarded int) {
		metrics.AddPacketsDropped(name, discarded)
	}
	q.OnDropMode = func(entered bool) {
		if entered {
			p.log.Warn("queue overflow, dropping oldest packets", "queue", name)
		}
		p.bus.Publish(events.DropModeEvent{Queue: name, Entered: entered, Timestamp: timestamp()})
	}
}

// handleAudioFrame routes decoded audio into the sink; the nil terminal
// marker flags the audio stream as drained.
func (p *Player) handleAudioFrame(f *media.AudioFrame) {
	if f == nil {
		p.streamEnded("audio")
		return
	}
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink != nil {
		sink.OnFrame(f)
	}
}

// handleVideoFrame hands frames to the renderer; the empty terminal
// marker flags the video stream as drained.
func (p *Player) handleVideoFrame(f *media.VideoFrame) {
	if f.IsEmpty() {
		p.streamEnded("video")
		return
	}
	p.videoClock.Store(f.PTS)
	p.mu.Lock()
	renderer := p.renderer
	p.mu.Unlock()
	if renderer != nil {
		renderer.RenderFrame(f)
	}
}

// streamEnded marks one stream drained; once every present stream has
// drained the controller tears the pipeline down into the end state.
func (p *Player) streamEnded(name string) {
	p.mu.Lock()
	switch name {
	case "audio":
		p.audioEnded = true
	case "video":
		p.videoEnded = true
	}
	ended := p.audioEnded && p.videoEnded && p.state == StatePlay
	p.mu.Unlock()

	p.log.Info("stream drained", "stream", name)
	if ended {
		go p.teardown(StateEnd)
	}
}

// Pause suspends audio playout and parks the audio decode loop. The
// video decoder keeps running; with the master clock frozen its pacer
// sleeps at most 100 ms before each frame.
func (p *Player) Pause() {
	p.mu.Lock()
	if p.state != StatePlay {
		p.mu.Unlock()
		return
	}
	sink, adec := p.sink, p.adec
	p.mu.Unlock()

	if sink != nil {
		sink.Pause()
	}
	if adec != nil {
		adec.SetPaused(true)
	}
	p.setState(StatePause)
}

// Resume restores playback after Pause.
func (p *Player) Resume() {
	p.mu.Lock()
	if p.state != StatePause {
		p.mu.Unlock()
		return
	}
	sink, adec := p.sink, p.adec
	p.mu.Unlock()

	if sink != nil {
		sink.Resume()
	}
	if adec != nil {
		adec.SetPaused(false)
	}
	p.setState(StatePlay)
}

// Stop tears the pipeline down in reverse start order. A second call is
// a no-op.
func (p *Player) Stop() {
	p.teardown(StateEnd)
}

// teardown closes stages in reverse start order with bounded joins,
// clears queues and clocks, and lands in finalState. Re-entrant calls
// and calls on an already-idle player are no-ops (the state still
// settles on finalState for error paths).
func (p *Player) teardown(finalState State) {
	if !p.stopping.CompareAndSwap(false, true) {
		return
	}
	defer p.stopping.Store(false)

	p.mu.Lock()
	src, adec, vdec, sink := p.src, p.adec, p.vdec, p.sink
	audioQ, videoQ := p.audioQ, p.videoQ
	p.src, p.adec, p.vdec, p.sink = nil, nil, nil, nil
	p.audioQ, p.videoQ = nil, nil
	active := src != nil || adec != nil || vdec != nil || sink != nil
	p.mu.Unlock()

	if !active {
		if finalState == StateError {
			p.setState(StateError)
			p.notifyRenderer(RenderError)
		}
		return
	}

	// Wake any decoder parked on an empty queue.
	if audioQ != nil {
		audioQ.Close()
	}
	if videoQ != nil {
		videoQ.Close()
	}

	if sink != nil {
		sink.Close()
	}
	if vdec != nil {
		vdec.Close()
	}
	if adec != nil {
		adec.Close()
	}
	if src != nil {
		_ = src.Close()
	}

	if audioQ != nil {
		audioQ.Clear()
	}
	if videoQ != nil {
		videoQ.Clear()
	}
	p.clock.Reset()
	p.videoClock.Store(0)
	p.decodeClock.Store(0)

	p.setState(finalState)
	switch finalState {
	case StateError:
		p.notifyRenderer(RenderError)
	case StateEnd:
		p.notifyRenderer(RenderEnded)
	}
	p.bus.Publish(events.PlaybackStoppedEvent{Timestamp: timestamp()})
	p.log.Info("playback stopped")
}

// surfaceError logs and re-emits one stage error. The controller does
// not restart; the caller reissues Start.
func (p *Player) surfaceError(stage string, err error) {
	p.log.Error("stage error", "stage", stage, "error", err)
	metrics.IncStageError(stage)
	p.bus.Publish(events.ErrorEvent{Source: stage, Message: err.Error(), Timestamp: timestamp()})
}

func (p *Player) setState(s State) {
	p.mu.Lock()
	if p.state == s {
		p.mu.Unlock()
		return
	}
	p.state = s
	p.mu.Unlock()
	p.bus.Publish(events.StateChangedEvent{State: s.String(), Source: "player", Timestamp: timestamp()})
	p.log.Debug("state changed", "state", s.String())
}

func (p *Player) notifyRenderer(s RenderState) {
	p.mu.Lock()
	renderer := p.renderer
	p.mu.Unlock()
	if renderer != nil {
		renderer.StateChanged(s)
	}
}

func timestamp() string {
	return time.Now().Format(time.RFC3339)
}
