package decode

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/rtsppull/internal/clock"
	"github.com/smazurov/rtsppull/internal/codec"
	"github.com/smazurov/rtsppull/internal/media"
	"github.com/smazurov/rtsppull/internal/metrics"
	"github.com/smazurov/rtsppull/internal/queue"
)

// Pacing thresholds. 40 ms ahead is one frame at 25 fps, below human
// detection; 100 ms behind is where a single drop beats speeding up;
// 200 ms caps the worst-case pacing stutter.
const (
	aheadThresholdMs  = 40
	behindThresholdMs = -100
	maxCatchUpSleepMs = 100
	maxPaceWaitMs     = 200
)

// DefaultHWPreference is the hardware backend order tried when
// acceleration is requested.
var DefaultHWPreference = []codec.HWDeviceType{codec.HWD3D11VA, codec.HWDXVA2}

// Video drains the video packet queue, decodes (optionally on
// hardware), scales to RGBA at the target size, and emits frames paced
// against the master audio clock.
type Video struct {
	log   *slog.Logger
	reg   *codec.Registry
	queue *queue.PacketQueue
	clock *clock.MasterClock

	// OnFrame receives scaled frames; an empty frame is the terminal
	// end-of-stream marker. Set before Start.
	OnFrame func(*media.VideoFrame)

	mu        sync.Mutex
	ctx       codec.VideoContext
	timeBase  media.Rational
	frameRate float64

	targetW, targetH int
	scaler           codec.Scaler
	scalerSpec       codec.ScaleSpec

	hwEnabled   bool
	hwPreferred []codec.HWDeviceType
	hwDevice    codec.HWDevice
	hwActive    bool
	hwFormat    codec.PixelFormat

	running     atomic.Bool
	done        chan struct{}
	frameNumber int64
	startWall   time.Time

	// test seams
	sleep func(time.Duration)
	now   func() time.Time
}

// NewVideo creates the video decode stage reading from q and pacing
// against mc.
func NewVideo(reg *codec.Registry, q *queue.PacketQueue, mc *clock.MasterClock, log *slog.Logger) *Video {
	return &Video{
		log:         log,
		reg:         reg,
		queue:       q,
		clock:       mc,
		hwPreferred: DefaultHWPreference,
		sleep:       time.Sleep,
		now:         time.Now,
	}
}

// SetHardwareDecoding requests hardware acceleration with an optional
// backend preference order. Must be called before Init.
func (v *Video) SetHardwareDecoding(enable bool, preferred ...codec.HWDeviceType) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hwEnabled = enable
	if len(preferred) > 0 {
		v.hwPreferred = preferred
	}
}

// SetFrameRate installs the probed frame rate used for pacing. A value
// of 0 or below disables pacing entirely.
func (v *Video) SetFrameRate(fps float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.frameRate = fps
}

// SetTargetSize changes the output size. The scaler is rebuilt on the
// next frame.
func (v *Video) SetTargetSize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if width != v.targetW || height != v.targetH {
		v.targetW, v.targetH = width, height
		if v.scaler != nil {
			v.scaler.Close()
			v.scaler = nil
		}
		v.log.Info("target size set", "width", width, "height", height)
	}
}

// Init opens the decoder context, attaching a hardware device when one
// of the preferred backends is available. Hardware init failures fall
// back to software decode silently.
func (v *Video) Init(p codec.VideoParams, tb media.Rational) error {
	dec, err := v.reg.FindVideo(p.Codec)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.timeBase = tb
	if v.targetW == 0 || v.targetH == 0 {
		v.targetW, v.targetH = p.Width, p.Height
	}

	if v.hwEnabled {
		v.initHardwareLocked(dec)
	}

	ctx, err := dec.Open(p, v.hwDevice)
	if err != nil {
		if v.hwDevice != nil {
			v.hwDevice.Close()
			v.hwDevice = nil
			v.hwActive = false
		}
		return fmt.Errorf("video decoder open: %w", err)
	}
	v.ctx = ctx

	v.log.Info("video decoder initialized",
		"codec", p.Codec, "width", p.Width, "height", p.Height,
		"frame_rate", v.frameRate, "hardware", v.hwActive)
	return nil
}

// initHardwareLocked picks the first decoder hardware config matching
// the preference list and opens its device context.
func (v *Video) initHardwareLocked(dec codec.VideoDecoder) {
	configs := dec.HardwareConfigs()
	for _, want := range v.hwPreferred {
		for _, cfg := range configs {
			if cfg.Device != want {
				continue
			}
			dev, err := v.reg.NewHWDevice(want)
			if err != nil {
				v.log.Warn("hardware device unavailable", "type", string(want), "error", err)
				continue
			}
			v.hwDevice = dev
			v.hwFormat = cfg.PixFmt
			v.hwActive = true
			v.log.Info("hardware decoder initialized", "type", string(want))
			return
		}
	}
	v.log.Warn("no suitable hardware decoder found, using software decode")
}

// HardwareActive reports whether decoding runs on a hardware device.
func (v *Video) HardwareActive() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.hwActive
}

// Start launches the decode loop. Init must have succeeded.
func (v *Video) Start() error {
	v.mu.Lock()
	ready := v.ctx != nil
	v.mu.Unlock()
	if !ready {
		return errors.New("video: not initialized")
	}
	if !v.running.CompareAndSwap(false, true) {
		return nil
	}
	v.frameNumber = 0
	v.startWall = v.now()
	v.done = make(chan struct{})
	go v.loop()
	return nil
}

func (v *Video) loop() {
	defer close(v.done)

	for v.running.Load() {
		pkt, ok := v.queue.Pop(queueWait)
		if !ok {
			continue
		}
		metrics.SetQueueDepth("video", v.queue.Len())

		if pkt.IsEOS() {
			v.decodePacket(nil) // flush
			if v.OnFrame != nil {
				v.OnFrame(&media.VideoFrame{})
			}
			v.log.Info("video decoding stopped")
			return
		}

		v.decodePacket(pkt)
	}
}

// decodePacket submits one packet (nil flushes) and drains, scales, and
// paces all ready frames.
func (v *Video) decodePacket(pkt *media.Packet) {
	v.mu.Lock()
	ctx := v.ctx
	v.mu.Unlock()
	if ctx == nil {
		return
	}

	if err := ctx.SendPacket(pkt); err != nil {
		if !errors.Is(err, codec.ErrAgain) && !errors.Is(err, codec.ErrEOF) {
			v.log.Warn("error sending packet to decoder", "error", err)
		}
		return
	}

	for {
		f, err := ctx.ReceiveFrame()
		if err != nil {
			if !errors.Is(err, codec.ErrAgain) && !errors.Is(err, codec.ErrEOF) {
				v.log.Warn("error receiving frame from decoder", "error", err)
			}
			return
		}
		v.processFrame(ctx, f)
	}
}

func (v *Video) processFrame(ctx codec.VideoContext, f *codec.VideoData) {
	videoMs := v.videoMillis()

	// Pace against the master clock before spending cycles on scaling.
	if !v.paceFrame(videoMs) {
		v.frameNumber++
		metrics.IncFramesDroppedSync()
		return
	}

	if f.HW {
		sw, err := ctx.Download(f)
		if err != nil {
			v.log.Warn("failed to transfer hardware frame", "error", err)
			return
		}
		f = sw
	}

	pix, err := v.scaleFrame(f)
	if err != nil {
		v.log.Warn("failed to convert frame", "error", err)
		return
	}

	v.frameNumber++
	if v.OnFrame != nil {
		v.mu.Lock()
		w, h := v.targetW, v.targetH
		v.mu.Unlock()
		v.OnFrame(&media.VideoFrame{
			Pix:    pix,
			Width:  w,
			Height: h,
			Stride: w * 4,
			PTS:    v.timeBase.ToMillis(f.PTS),
		})
	}
	metrics.IncFramesDecoded("video")
}

// videoMillis is where this frame belongs on the video timeline.
func (v *Video) videoMillis() int64 {
	v.mu.Lock()
	fps := v.frameRate
	v.mu.Unlock()
	if fps <= 0 {
		return -1
	}
	return int64(float64(v.frameNumber) * 1000.0 / fps)
}

// paceFrame blocks until the frame is due and reports whether it should
// be emitted at all. With no usable frame rate frames flow as fast as
// they decode.
func (v *Video) paceFrame(videoMs int64) bool {
	if videoMs < 0 {
		return true
	}

	audioMs := v.clock.Millis()
	diff := videoMs - audioMs

	switch {
	case audioMs > 0 && diff > aheadThresholdMs:
		// Video ahead: burn half the lead, capped.
		sleepMs := diff / 2
		if sleepMs > maxCatchUpSleepMs {
			sleepMs = maxCatchUpSleepMs
		}
		v.sleep(time.Duration(sleepMs) * time.Millisecond)
	case audioMs > 0 && diff < behindThresholdMs:
		// Too far behind: a drop hurts less than playing fast.
		return false
	default:
		wait := videoMs - v.now().Sub(v.startWall).Milliseconds()
		if wait > 0 && wait < maxPaceWaitMs {
			v.sleep(time.Duration(wait) * time.Millisecond)
		}
	}
	return true
}

// scaleFrame lazily builds the scaler for the current source geometry
// and converts the frame to packed RGBA at the target size.
func (v *Video) scaleFrame(f *codec.VideoData) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	spec := codec.ScaleSpec{
		SrcWidth:  f.Width,
		SrcHeight: f.Height,
		SrcFormat: f.Format,
		DstWidth:  v.targetW,
		DstHeight: v.targetH,
	}
	if v.scaler == nil || spec != v.scalerSpec {
		if v.scaler != nil {
			v.scaler.Close()
		}
		s, err := v.reg.NewScaler(spec)
		if err != nil {
			return nil, err
		}
		v.scaler = s
		v.scalerSpec = spec
		v.log.Info("scaler created",
			"src_format", f.Format.String(),
			"src", fmt.Sprintf("%dx%d", f.Width, f.Height),
			"dst", fmt.Sprintf("%dx%d", v.targetW, v.targetH))
	}
	return v.scaler.Scale(f)
}

// Close stops the loop, joins it with a bounded wait, and releases the
// context, scaler, and hardware device. Idempotent.
func (v *Video) Close() {
	if v.running.CompareAndSwap(true, false) && v.done != nil {
		select {
		case <-v.done:
		case <-time.After(2 * time.Second):
			v.log.Warn("video decode loop did not exit in time")
			select {
			case <-v.done:
			case <-time.After(time.Second):
				v.log.Error("video decode loop leaked")
			}
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.scaler != nil {
		v.scaler.Close()
		v.scaler = nil
	}
	if v.ctx != nil {
		v.ctx.Close()
		v.ctx = nil
	}
	if v.hwDevice != nil {
		v.hwDevice.Close()
		v.hwDevice = nil
	}
	v.hwActive = false
}
