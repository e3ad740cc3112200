package decode

import (
	"sync"
	"sync/atomic"

	"github.com/smazurov/rtsppull/internal/codec"
	"github.com/smazurov/rtsppull/internal/media"
)

// fakeAudioContext emits one S16 frame per submitted packet, carrying
// the packet's PTS through.
type fakeAudioContext struct {
	mu       sync.Mutex
	format   codec.AudioFormat
	pending  []*media.Packet
	flushing bool
	decoded  atomic.Int64
	closed   atomic.Bool
}

func (c *fakeAudioContext) SendPacket(p *media.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p == nil {
		c.flushing = true
		return nil
	}
	c.pending = append(c.pending, p)
	return nil
}

func (c *fakeAudioContext) ReceiveFrame() (*codec.AudioData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		if c.flushing {
			return nil, codec.ErrEOF
		}
		return nil, codec.ErrAgain
	}
	p := c.pending[0]
	c.pending = c.pending[1:]
	c.decoded.Add(1)

	samples := 4
	return &codec.AudioData{
		Planes:     [][]byte{make([]byte, samples*c.format.Channels*2)},
		Format:     codec.S16,
		SampleRate: c.format.SampleRate,
		Channels:   c.format.Channels,
		Samples:    samples,
		PTS:        p.PTS,
	}, nil
}

func (c *fakeAudioContext) SourceFormat() codec.AudioFormat { return c.format }

func (c *fakeAudioContext) Close() error {
	c.closed.Store(true)
	return nil
}

// fakeAudioDecoder hands out one shared context so tests can inspect it.
type fakeAudioDecoder struct {
	ctx *fakeAudioContext
}

func (d *fakeAudioDecoder) Open(codec.AudioParams) (codec.AudioContext, error) {
	return d.ctx, nil
}

// fakeResampler tags frames with the output format without touching
// payloads.
type fakeResampler struct {
	out    codec.AudioFormat
	closed atomic.Bool
}

func (r *fakeResampler) Convert(src *codec.AudioData) (*codec.AudioData, error) {
	return &codec.AudioData{
		Planes:     [][]byte{make([]byte, src.Samples*r.out.Channels*2)},
		Format:     codec.S16,
		SampleRate: r.out.SampleRate,
		Channels:   r.out.Channels,
		Samples:    src.Samples,
		PTS:        src.PTS,
	}, nil
}

func (r *fakeResampler) Close() error {
	r.closed.Store(true)
	return nil
}

// fakeVideoContext emits one software YUV frame per packet.
type fakeVideoContext struct {
	mu       sync.Mutex
	width    int
	height   int
	hwFrames bool
	pending  []*media.Packet
	flushing bool
	decoded  atomic.Int64
	closed   atomic.Bool
}

func (c *fakeVideoContext) SendPacket(p *media.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p == nil {
		c.flushing = true
		return nil
	}
	c.pending = append(c.pending, p)
	return nil
}

func (c *fakeVideoContext) ReceiveFrame() (*codec.VideoData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		if c.flushing {
			return nil, codec.ErrEOF
		}
		return nil, codec.ErrAgain
	}
	p := c.pending[0]
	c.pending = c.pending[1:]
	c.decoded.Add(1)

	if c.hwFrames {
		return &codec.VideoData{Width: c.width, Height: c.height, PTS: p.PTS, HW: true}, nil
	}
	return c.swFrame(p.PTS), nil
}

func (c *fakeVideoContext) swFrame(pts int64) *codec.VideoData {
	w, h := c.width, c.height
	cw, ch := (w+1)/2, (h+1)/2
	return &codec.VideoData{
		Planes:  [][]byte{make([]byte, w*h), make([]byte, cw*ch), make([]byte, cw*ch)},
		Strides: []int{w, cw, cw},
		Format:  codec.YUV420P,
		Width:   w,
		Height:  h,
		PTS:     pts,
	}
}

func (c *fakeVideoContext) Download(f *codec.VideoData) (*codec.VideoData, error) {
	if !f.HW {
		return f, nil
	}
	return c.swFrame(f.PTS), nil
}

func (c *fakeVideoContext) Close() error {
	c.closed.Store(true)
	return nil
}

// fakeVideoDecoder advertises configurable hardware configs.
type fakeVideoDecoder struct {
	ctx     *fakeVideoContext
	hwCfgs  []codec.HWConfig
	gotHW   atomic.Bool
	openErr error
}

func (d *fakeVideoDecoder) HardwareConfigs() []codec.HWConfig { return d.hwCfgs }

func (d *fakeVideoDecoder) Open(_ codec.VideoParams, hw codec.HWDevice) (codec.VideoContext, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	if hw != nil {
		d.gotHW.Store(true)
		d.ctx.hwFrames = true
	}
	return d.ctx, nil
}

// fakeHWDevice satisfies codec.HWDevice.
type fakeHWDevice struct {
	typ codec.HWDeviceType
}

func (d *fakeHWDevice) Type() codec.HWDeviceType { return d.typ }
func (d *fakeHWDevice) Close() error             { return nil }
