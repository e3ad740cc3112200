package ffmpeg

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"

	"github.com/smazurov/rtsppull/internal/codec"
	"github.com/smazurov/rtsppull/internal/media"
)

// mapDecodeErr folds FFmpeg's EAGAIN/EOF conditions into the seam's
// sentinels.
func mapDecodeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, astiav.ErrEagain):
		return codec.ErrAgain
	case errors.Is(err, astiav.ErrEof):
		return codec.ErrEOF
	default:
		return err
	}
}

// sendPacket converts a seam packet into an AVPacket and submits it.
// A nil packet flushes the context.
func sendPacket(cc *astiav.CodecContext, p *media.Packet) error {
	if p == nil {
		return mapDecodeErr(cc.SendPacket(nil))
	}
	pkt := astiav.AllocPacket()
	defer pkt.Free()
	if err := pkt.FromData(p.Data); err != nil {
		return fmt.Errorf("packet alloc: %w", err)
	}
	pkt.SetPts(p.PTS)
	pkt.SetDts(p.PTS)
	return mapDecodeErr(cc.SendPacket(pkt))
}

// audioDecoder opens FFmpeg audio contexts.
type audioDecoder struct {
	name string
}

func (d audioDecoder) Open(p codec.AudioParams) (codec.AudioContext, error) {
	dec := astiav.FindDecoderByName(d.name)
	if dec == nil {
		return nil, fmt.Errorf("%w: %s", codec.ErrNotFound, d.name)
	}
	cc := astiav.AllocCodecContext(dec)
	if cc == nil {
		return nil, errors.New("ffmpeg: codec context alloc failed")
	}
	if p.SampleRate > 0 {
		cc.SetSampleRate(p.SampleRate)
	}
	if p.Channels > 0 {
		cc.SetChannelLayout(channelLayout(p.Channels))
	}
	if len(p.Extra) > 0 {
		if err := cc.SetExtraData(p.Extra); err != nil {
			cc.Free()
			return nil, fmt.Errorf("ffmpeg: extradata: %w", err)
		}
	}
	if err := cc.Open(dec, nil); err != nil {
		cc.Free()
		return nil, fmt.Errorf("ffmpeg: open %s: %w", d.name, err)
	}

	return &audioContext{
		cc:    cc,
		frame: astiav.AllocFrame(),
	}, nil
}

// audioContext decodes one audio stream. Non-S16 output is converted to
// interleaved S16 through libswresample inside the binding, so the seam
// always sees S16 at the stream's native rate and channel count.
type audioContext struct {
	cc    *astiav.CodecContext
	frame *astiav.Frame

	swr      *astiav.SoftwareResampleContext
	swrFrame *astiav.Frame
}

func (c *audioContext) SendPacket(p *media.Packet) error {
	return sendPacket(c.cc, p)
}

func (c *audioContext) ReceiveFrame() (*codec.AudioData, error) {
	if err := mapDecodeErr(c.cc.ReceiveFrame(c.frame)); err != nil {
		return nil, err
	}
	defer c.frame.Unref()

	src := c.frame
	if src.SampleFormat() != astiav.SampleFormatS16 {
		out, err := c.toS16(src)
		if err != nil {
			return nil, err
		}
		src = out
		defer src.Unref()
	}

	channels := src.ChannelLayout().Channels()
	samples := src.NbSamples()
	raw, err := src.Data().Bytes(0)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: frame bytes: %w", err)
	}
	need := samples * channels * 2
	if need > len(raw) {
		need = len(raw)
	}
	buf := make([]byte, need)
	copy(buf, raw[:need])

	return &codec.AudioData{
		Planes:     [][]byte{buf},
		Format:     codec.S16,
		SampleRate: src.SampleRate(),
		Channels:   channels,
		Samples:    samples,
		PTS:        c.frame.Pts(),
	}, nil
}

// toS16 converts one decoded frame to packed S16 preserving rate and
// layout.
func (c *audioContext) toS16(src *astiav.Frame) (*astiav.Frame, error) {
	if c.swr == nil {
		c.swr = astiav.AllocSoftwareResampleContext()
		if c.swr == nil {
			return nil, errors.New("ffmpeg: resample context alloc failed")
		}
		c.swrFrame = astiav.AllocFrame()
	}

	c.swrFrame.SetSampleFormat(astiav.SampleFormatS16)
	c.swrFrame.SetChannelLayout(src.ChannelLayout())
	c.swrFrame.SetSampleRate(src.SampleRate())
	c.swrFrame.SetNbSamples(src.NbSamples())
	if err := c.swrFrame.AllocBuffer(0); err != nil {
		return nil, fmt.Errorf("ffmpeg: resample buffer: %w", err)
	}
	if err := c.swr.ConvertFrame(src, c.swrFrame); err != nil {
		return nil, fmt.Errorf("ffmpeg: resample convert: %w", err)
	}
	return c.swrFrame, nil
}

func (c *audioContext) SourceFormat() codec.AudioFormat {
	return codec.AudioFormat{
		SampleRate: c.cc.SampleRate(),
		Channels:   c.cc.ChannelLayout().Channels(),
		Format:     codec.S16,
	}
}

func (c *audioContext) Close() error {
	if c.swrFrame != nil {
		c.swrFrame.Free()
		c.swrFrame = nil
	}
	if c.swr != nil {
		c.swr.Free()
		c.swr = nil
	}
	if c.frame != nil {
		c.frame.Free()
		c.frame = nil
	}
	if c.cc != nil {
		c.cc.Free()
		c.cc = nil
	}
	return nil
}

// videoDecoder opens FFmpeg video contexts, optionally hardware backed.
type videoDecoder struct {
	name string
}

// knownHWTypes are the backends the seam can name.
var knownHWTypes = []codec.HWDeviceType{
	codec.HWD3D11VA, codec.HWDXVA2, codec.HWVAAPI, codec.HWVideoToolbox, codec.HWCUDA,
}

func (d videoDecoder) HardwareConfigs() []codec.HWConfig {
	dec := astiav.FindDecoderByName(d.name)
	if dec == nil {
		return nil
	}
	var out []codec.HWConfig
	for _, cfg := range dec.HardwareConfigs() {
		if !cfg.MethodFlags().Has(astiav.CodecHardwareConfigMethodFlagHwDeviceCtx) {
			continue
		}
		for _, t := range knownHWTypes {
			if cfg.HardwareDeviceType() == astiav.FindHardwareDeviceTypeByName(string(t)) {
				out = append(out, codec.HWConfig{Device: t, PixFmt: codec.PixelFormatNone})
			}
		}
	}
	return out
}

func (d videoDecoder) Open(p codec.VideoParams, hw codec.HWDevice) (codec.VideoContext, error) {
	dec := astiav.FindDecoderByName(d.name)
	if dec == nil {
		return nil, fmt.Errorf("%w: %s", codec.ErrNotFound, d.name)
	}
	cc := astiav.AllocCodecContext(dec)
	if cc == nil {
		return nil, errors.New("ffmpeg: codec context alloc failed")
	}
	if p.Width > 0 {
		cc.SetWidth(p.Width)
		cc.SetHeight(p.Height)
	}
	if len(p.Extra) > 0 {
		if err := cc.SetExtraData(p.Extra); err != nil {
			cc.Free()
			return nil, fmt.Errorf("ffmpeg: extradata: %w", err)
		}
	}

	var hwAttached bool
	if dev, ok := hw.(*hwDevice); ok && dev != nil && dev.ctx != nil {
		cc.SetHardwareDeviceContext(dev.ctx)
		hwAttached = true
	}

	if err := cc.Open(dec, nil); err != nil {
		cc.Free()
		return nil, fmt.Errorf("ffmpeg: open %s: %w", d.name, err)
	}

	return &videoContext{
		cc:      cc,
		frame:   astiav.AllocFrame(),
		hwFrame: astiav.AllocFrame(),
		hw:      hwAttached,
	}, nil
}

// videoContext decodes one video stream. Hardware frames are flagged
// and downloaded into a staging frame on Download.
type videoContext struct {
	cc      *astiav.CodecContext
	frame   *astiav.Frame
	hwFrame *astiav.Frame
	hw      bool
}

func (c *videoContext) SendPacket(p *media.Packet) error {
	return sendPacket(c.cc, p)
}

func (c *videoContext) ReceiveFrame() (*codec.VideoData, error) {
	c.frame.Unref()
	if err := mapDecodeErr(c.cc.ReceiveFrame(c.frame)); err != nil {
		return nil, err
	}

	if c.hw {
		if _, ok := pixelFormat(c.frame.PixelFormat()); !ok {
			// device-memory frame; geometry only until Download
			return &codec.VideoData{
				Width:  c.frame.Width(),
				Height: c.frame.Height(),
				PTS:    c.frame.Pts(),
				HW:     true,
			}, nil
		}
	}
	return extractVideo(c.frame)
}

// Download stages the most recently received hardware frame into host
// memory. It must be called before the next ReceiveFrame.
func (c *videoContext) Download(f *codec.VideoData) (*codec.VideoData, error) {
	if !f.HW {
		return f, nil
	}
	c.hwFrame.Unref()
	if err := c.frame.TransferHardwareData(c.hwFrame); err != nil {
		return nil, fmt.Errorf("ffmpeg: hardware frame transfer: %w", err)
	}
	out, err := extractVideo(c.hwFrame)
	if err != nil {
		return nil, err
	}
	out.PTS = f.PTS
	return out, nil
}

// extractVideo copies one software frame's planes into Go memory with
// tight strides.
func extractVideo(f *astiav.Frame) (*codec.VideoData, error) {
	pf, ok := pixelFormat(f.PixelFormat())
	if !ok {
		return nil, fmt.Errorf("ffmpeg: unsupported pixel format %s", f.PixelFormat())
	}

	w, h := f.Width(), f.Height()
	size, err := f.ImageBufferSize(1)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: image buffer size: %w", err)
	}
	buf := make([]byte, size)
	if _, err := f.ImageCopyToBuffer(buf, 1); err != nil {
		return nil, fmt.Errorf("ffmpeg: image copy: %w", err)
	}

	vd := &codec.VideoData{
		Format: pf,
		Width:  w,
		Height: h,
		PTS:    f.Pts(),
	}

	// Tight packing from align=1: carve planes by the format's layout.
	switch pf {
	case codec.YUV420P:
		cw, ch := (w+1)/2, (h+1)/2
		ySize, cSize := w*h, cw*ch
		vd.Planes = [][]byte{buf[:ySize], buf[ySize : ySize+cSize], buf[ySize+cSize : ySize+2*cSize]}
		vd.Strides = []int{w, cw, cw}
	case codec.NV12:
		cw, ch := (w+1)/2, (h+1)/2
		ySize := w * h
		vd.Planes = [][]byte{buf[:ySize], buf[ySize : ySize+2*cw*ch]}
		vd.Strides = []int{w, 2 * cw}
	case codec.RGBA:
		vd.Planes = [][]byte{buf}
		vd.Strides = []int{w * 4}
	}
	return vd, nil
}

func (c *videoContext) Close() error {
	if c.hwFrame != nil {
		c.hwFrame.Free()
		c.hwFrame = nil
	}
	if c.frame != nil {
		c.frame.Free()
		c.frame = nil
	}
	if c.cc != nil {
		c.cc.Free()
		c.cc = nil
	}
	return nil
}
