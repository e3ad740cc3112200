package decode

import (
	"sync"
	"testing"
	"time"

	"github.com/smazurov/rtsppull/internal/clock"
	"github.com/smazurov/rtsppull/internal/codec"
	"github.com/smazurov/rtsppull/internal/logging"
	"github.com/smazurov/rtsppull/internal/media"
	"github.com/smazurov/rtsppull/internal/queue"
)

func videoSetup(t *testing.T, w, h int) (*Video, *fakeVideoContext, *fakeVideoDecoder, *queue.PacketQueue, *clock.MasterClock, *int) {
	t.Helper()
	ctx := &fakeVideoContext{width: w, height: h}
	dec := &fakeVideoDecoder{ctx: ctx}
	reg := codec.NewRegistry()
	reg.RegisterVideo("fake", dec)

	scalerBuilds := 0
	reg.SetScalerFactory(func(spec codec.ScaleSpec) (codec.Scaler, error) {
		scalerBuilds++
		return stubScaler{spec: spec}, nil
	})

	mc := &clock.MasterClock{}
	q := queue.New(100)
	v := NewVideo(reg, q, mc, logging.GetLogger("videodec-test"))
	v.sleep = func(time.Duration) {}
	return v, ctx, dec, q, mc, &scalerBuilds
}

type stubScaler struct {
	spec codec.ScaleSpec
}

func (s stubScaler) Scale(*codec.VideoData) ([]byte, error) {
	return make([]byte, s.spec.DstWidth*s.spec.DstHeight*4), nil
}

func (s stubScaler) Close() error { return nil }

func collectVideo(v *Video) (frames *[]*media.VideoFrame, done chan struct{}) {
	var mu sync.Mutex
	out := []*media.VideoFrame{}
	done = make(chan struct{})
	v.OnFrame = func(f *media.VideoFrame) {
		if f.IsEmpty() {
			close(done)
			return
		}
		mu.Lock()
		out = append(out, f)
		mu.Unlock()
	}
	return &out, done
}

func TestVideoEmitsScaledFrames(t *testing.T) {
	v, _, _, q, _, _ := videoSetup(t, 640, 360)
	v.SetTargetSize(320, 180)
	v.SetFrameRate(0) // free-running
	if err := v.Init(codec.VideoParams{Codec: "fake", Width: 640, Height: 360}, media.Millisecond); err != nil {
		t.Fatal(err)
	}
	frames, done := collectVideo(v)
	_ = v.Start()
	defer v.Close()

	for i := 0; i < 3; i++ {
		q.Push(&media.Packet{Kind: media.KindVideo, Data: []byte{1}, PTS: int64(i * 40), KeyFrame: i == 0})
	}
	q.Push(media.EOSPacket())
	waitDone(t, done)

	if len(*frames) != 3 {
		t.Fatalf("frames = %d, want 3", len(*frames))
	}
	f := (*frames)[0]
	if f.Width != 320 || f.Height != 180 || f.Stride != 320*4 {
		t.Errorf("frame geometry %dx%d stride %d", f.Width, f.Height, f.Stride)
	}
	if (*frames)[2].PTS != 80 {
		t.Errorf("last PTS = %d, want 80", (*frames)[2].PTS)
	}
}

func TestVideoDropsWhenBehindClock(t *testing.T) {
	v, _, _, q, mc, _ := videoSetup(t, 320, 180)
	v.SetTargetSize(320, 180)
	v.SetFrameRate(25)
	if err := v.Init(codec.VideoParams{Codec: "fake", Width: 320, Height: 180}, media.Millisecond); err != nil {
		t.Fatal(err)
	}
	frames, done := collectVideo(v)

	// Audio far ahead: every early frame is behind by more than 100 ms.
	mc.Set(5000)

	_ = v.Start()
	defer v.Close()
	for i := 0; i < 5; i++ {
		q.Push(&media.Packet{Kind: media.KindVideo, Data: []byte{1}, PTS: int64(i * 40), KeyFrame: true})
	}
	q.Push(media.EOSPacket())
	waitDone(t, done)

	if len(*frames) != 0 {
		t.Errorf("emitted %d frames while far behind, want drops", len(*frames))
	}
}

func TestPaceFrameThresholds(t *testing.T) {
	var slept []time.Duration
	mc := &clock.MasterClock{}
	v := &Video{
		clock:     mc,
		frameRate: 25,
		sleep:     func(d time.Duration) { slept = append(slept, d) },
		now:       time.Now,
		startWall: time.Now(),
	}

	t.Run("ahead sleeps half the lead", func(t *testing.T) {
		slept = nil
		mc.Set(100)
		if !v.paceFrame(200) {
			t.Fatal("frame dropped while ahead")
		}
		if len(slept) != 1 || slept[0] != 50*time.Millisecond {
			t.Errorf("slept %v, want [50ms]", slept)
		}
	})

	t.Run("catch-up sleep capped at 100ms", func(t *testing.T) {
		slept = nil
		if !v.paceFrame(700) { // 600 ahead
			t.Fatal("frame dropped while ahead")
		}
		if len(slept) != 1 || slept[0] != 100*time.Millisecond {
			t.Errorf("slept %v, want [100ms]", slept)
		}
	})

	t.Run("behind drops", func(t *testing.T) {
		slept = nil
		mc.Set(400) // keep the video position non-negative
		if v.paceFrame(mc.Millis() - 150) {
			t.Error("frame not dropped 150ms behind")
		}
		if len(slept) != 0 {
			t.Errorf("slept %v on drop path", slept)
		}
	})

	t.Run("no sleep longer than 200ms", func(t *testing.T) {
		slept = nil
		mc.Reset() // audio clock 0: wall pacing path
		v.startWall = time.Now()
		if !v.paceFrame(5000) {
			t.Fatal("frame dropped on wall path")
		}
		for _, d := range slept {
			if d >= 200*time.Millisecond {
				t.Errorf("slept %v, cap is 200ms", d)
			}
		}
	})

	t.Run("short wall wait honored", func(t *testing.T) {
		slept = nil
		v.startWall = time.Now()
		if !v.paceFrame(100) {
			t.Fatal("frame dropped")
		}
		if len(slept) != 1 || slept[0] > 100*time.Millisecond || slept[0] <= 0 {
			t.Errorf("slept %v, want one wait <= 100ms", slept)
		}
	})
}

func TestFrameRateZeroFreeRuns(t *testing.T) {
	var slept []time.Duration
	v := &Video{
		clock:     &clock.MasterClock{},
		frameRate: 0,
		sleep:     func(d time.Duration) { slept = append(slept, d) },
		now:       time.Now,
		startWall: time.Now(),
	}
	if v.videoMillis() != -1 {
		t.Error("videoMillis should be disabled at fps 0")
	}
	if !v.paceFrame(v.videoMillis()) {
		t.Error("free-running frame dropped")
	}
	if len(slept) != 0 {
		t.Errorf("slept %v while free-running", slept)
	}
}

func TestHardwareFallbackWhenNoConfigMatches(t *testing.T) {
	v, _, dec, _, _, _ := videoSetup(t, 320, 180)
	v.SetTargetSize(320, 180)
	v.SetHardwareDecoding(true)
	// Decoder offers nothing the preference list wants.
	dec.hwCfgs = []codec.HWConfig{{Device: codec.HWVAAPI}}

	if err := v.Init(codec.VideoParams{Codec: "fake", Width: 320, Height: 180}, media.Millisecond); err != nil {
		t.Fatal(err)
	}
	defer v.Close()

	if v.HardwareActive() {
		t.Error("hardware active despite no matching config")
	}
	if dec.gotHW.Load() {
		t.Error("decoder opened with a hardware device")
	}
}

func TestHardwareUsedWhenPreferred(t *testing.T) {
	v, ctx, dec, q, _, _ := videoSetup(t, 320, 180)
	v.SetTargetSize(320, 180)
	v.SetHardwareDecoding(true, codec.HWVAAPI)
	dec.hwCfgs = []codec.HWConfig{{Device: codec.HWVAAPI}}

	reg := v.reg
	reg.SetHWDeviceFactory(func(typ codec.HWDeviceType) (codec.HWDevice, error) {
		return &fakeHWDevice{typ: typ}, nil
	})

	if err := v.Init(codec.VideoParams{Codec: "fake", Width: 320, Height: 180}, media.Millisecond); err != nil {
		t.Fatal(err)
	}
	if !v.HardwareActive() {
		t.Fatal("hardware not active")
	}

	frames, done := collectVideo(v)
	v.SetFrameRate(0)
	_ = v.Start()
	defer v.Close()

	// Hardware frames must flow through Download before scaling.
	q.Push(&media.Packet{Kind: media.KindVideo, Data: []byte{1}, PTS: 0, KeyFrame: true})
	q.Push(media.EOSPacket())
	waitDone(t, done)

	if len(*frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(*frames))
	}
	if ctx.decoded.Load() != 1 {
		t.Errorf("decoded = %d", ctx.decoded.Load())
	}
}

func TestScalerRebuiltOnTargetSizeChange(t *testing.T) {
	v, _, _, q, _, builds := videoSetup(t, 320, 180)
	v.SetTargetSize(320, 180)
	v.SetFrameRate(0)
	if err := v.Init(codec.VideoParams{Codec: "fake", Width: 320, Height: 180}, media.Millisecond); err != nil {
		t.Fatal(err)
	}

	frames := make(chan *media.VideoFrame, 8)
	done := make(chan struct{})
	v.OnFrame = func(f *media.VideoFrame) {
		if f.IsEmpty() {
			close(done)
			return
		}
		frames <- f
	}
	_ = v.Start()
	defer v.Close()

	q.Push(&media.Packet{Kind: media.KindVideo, Data: []byte{1}, PTS: 0, KeyFrame: true})
	f1 := <-frames
	if f1.Width != 320 {
		t.Errorf("first frame width %d", f1.Width)
	}

	v.SetTargetSize(640, 360)
	q.Push(&media.Packet{Kind: media.KindVideo, Data: []byte{1}, PTS: 40, KeyFrame: false})
	f2 := <-frames
	if f2.Width != 640 || f2.Stride != 640*4 {
		t.Errorf("resized frame %dx%d stride %d", f2.Width, f2.Height, f2.Stride)
	}

	q.Push(media.EOSPacket())
	waitDone(t, done)

	if *builds != 2 {
		t.Errorf("scaler built %d times, want 2", *builds)
	}
}
