// Package ffmpeg binds the codec seam to FFmpeg through the go-astiav
// wrapper: compressed audio/video decoding, hardware device contexts,
// and an avformat-backed RTSP demuxer. Decoded audio leaves the binding
// as interleaved S16 at the stream's native rate; rate and layout
// conversion is left to the swresample resampler that Register installs.
package ffmpeg

import (
	"github.com/asticode/go-astiav"

	"github.com/smazurov/rtsppull/internal/codec"
)

// decoderNames maps registry codec ids to FFmpeg decoder names.
var decoderNames = map[string]string{
	codec.H264:     "h264",
	codec.H265:     "hevc",
	codec.AAC:      "aac",
	codec.Opus:     "opus",
	codec.PCMAlaw:  "pcm_alaw",
	codec.PCMUlaw:  "pcm_mulaw",
	codec.PCMS16LE: "pcm_s16le",
}

// Register installs the FFmpeg-backed decoders, the swscale scaler,
// the swresample resampler, and the hardware device factory into a
// registry. Codecs whose decoder is missing from the linked FFmpeg
// build are skipped.
func Register(reg *codec.Registry) {
	for id, name := range decoderNames {
		if astiav.FindDecoderByName(name) == nil {
			continue
		}
		switch id {
		case codec.H264, codec.H265:
			reg.RegisterVideo(id, videoDecoder{name: name})
		default:
			reg.RegisterAudio(id, audioDecoder{name: name})
		}
	}
	reg.SetScalerFactory(newScaler)
	reg.SetResamplerFactory(newResampler)
	reg.SetHWDeviceFactory(newHWDevice)
}

// hwDevice wraps an open FFmpeg hardware device context.
type hwDevice struct {
	typ codec.HWDeviceType
	ctx *astiav.HardwareDeviceContext
}

func newHWDevice(t codec.HWDeviceType) (codec.HWDevice, error) {
	hdt := astiav.FindHardwareDeviceTypeByName(string(t))
	ctx, err := astiav.CreateHardwareDeviceContext(hdt, "", nil, 0)
	if err != nil {
		return nil, err
	}
	return &hwDevice{typ: t, ctx: ctx}, nil
}

func (d *hwDevice) Type() codec.HWDeviceType { return d.typ }

func (d *hwDevice) Close() error {
	if d.ctx != nil {
		d.ctx.Free()
		d.ctx = nil
	}
	return nil
}

// pixelFormat maps FFmpeg software pixel formats onto the seam's.
func pixelFormat(f astiav.PixelFormat) (codec.PixelFormat, bool) {
	switch f {
	case astiav.PixelFormatYuv420P, astiav.PixelFormatYuvj420P:
		return codec.YUV420P, true
	case astiav.PixelFormatNv12:
		return codec.NV12, true
	case astiav.PixelFormatRgba:
		return codec.RGBA, true
	}
	return codec.PixelFormatNone, false
}

// astiavPixelFormat is the reverse mapping, for frames rebuilt from
// seam data.
func astiavPixelFormat(f codec.PixelFormat) (astiav.PixelFormat, bool) {
	switch f {
	case codec.YUV420P:
		return astiav.PixelFormatYuv420P, true
	case codec.NV12:
		return astiav.PixelFormatNv12, true
	case codec.RGBA:
		return astiav.PixelFormatRgba, true
	}
	return astiav.PixelFormatNone, false
}

// channelLayout picks the default layout for a channel count.
func channelLayout(channels int) astiav.ChannelLayout {
	switch channels {
	case 1:
		return astiav.ChannelLayoutMono
	case 2:
		return astiav.ChannelLayoutStereo
	default:
		return astiav.ChannelLayoutStereo
	}
}
