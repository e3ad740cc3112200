// Package codec is the seam between the pipeline and whatever codec
// library the embedder wires in. The interfaces mirror a send/receive
// decoder model: submit one packet, then drain all ready frames until
// ErrAgain.
//
// A Registry maps codec identifiers to decoder factories and carries
// the resampler, scaler, and hardware-device constructors. The default
// registry ships with the native PCM decoders only; compressed codecs
// come from a binding such as internal/ffmpeg.
package codec

import (
	"errors"

	"github.com/smazurov/rtsppull/internal/media"
)

// Codec identifiers as they appear in StreamInfo and Params.
const (
	H264     = "h264"
	H265     = "h265"
	AAC      = "aac"
	Opus     = "opus"
	PCMAlaw  = "pcm_alaw"
	PCMUlaw  = "pcm_mulaw"
	PCMS16LE = "pcm_s16le"
)

var (
	// ErrAgain means the context has no frame ready; submit more input.
	ErrAgain = errors.New("codec: no frame ready")
	// ErrEOF means the context is fully drained after a flush.
	ErrEOF = errors.New("codec: decoder drained")
	// ErrNotFound means no decoder is registered for the codec id.
	ErrNotFound = errors.New("codec: decoder not found")
)

// SampleFormat identifies a PCM sample layout.
type SampleFormat uint8

const (
	S16 SampleFormat = iota // interleaved signed 16-bit LE
	S16P
	F32
	F32P
	U8
)

// Bytes returns the size of one sample of one channel.
func (f SampleFormat) Bytes() int {
	switch f {
	case U8:
		return 1
	case S16, S16P:
		return 2
	default:
		return 4
	}
}

// Planar reports whether channels live in separate planes.
func (f SampleFormat) Planar() bool {
	return f == S16P || f == F32P
}

func (f SampleFormat) String() string {
	switch f {
	case S16:
		return "s16"
	case S16P:
		return "s16p"
	case F32:
		return "f32"
	case F32P:
		return "f32p"
	case U8:
		return "u8"
	}
	return "unknown"
}

// PixelFormat identifies a video frame layout.
type PixelFormat uint8

const (
	YUV420P PixelFormat = iota
	NV12
	RGBA
	PixelFormatNone PixelFormat = 255
)

func (f PixelFormat) String() string {
	switch f {
	case YUV420P:
		return "yuv420p"
	case NV12:
		return "nv12"
	case RGBA:
		return "rgba"
	}
	return "none"
}

// HWDeviceType names a hardware acceleration backend.
type HWDeviceType string

const (
	HWD3D11VA      HWDeviceType = "d3d11va"
	HWDXVA2        HWDeviceType = "dxva2"
	HWVAAPI        HWDeviceType = "vaapi"
	HWVideoToolbox HWDeviceType = "videotoolbox"
	HWCUDA         HWDeviceType = "cuda"
)

// HWConfig is one hardware configuration advertised by a decoder.
type HWConfig struct {
	Device HWDeviceType
	PixFmt PixelFormat
}

// HWDevice is an opaque handle to an open hardware device context.
type HWDevice interface {
	Type() HWDeviceType
	Close() error
}

// AudioParams carries everything needed to open an audio decoder.
type AudioParams struct {
	Codec      string
	SampleRate int
	Channels   int
	Extra      []byte // codec-specific config (e.g. AAC AudioSpecificConfig)
}

// VideoParams carries everything needed to open a video decoder.
type VideoParams struct {
	Codec  string
	Width  int
	Height int
	Extra  []byte // codec-specific config (e.g. SPS/PPS)
}

// AudioData is one decoded, unresampled audio frame. PTS stays in the
// source stream time base; the decode stage converts it.
type AudioData struct {
	Planes     [][]byte // one plane for interleaved formats
	Format     SampleFormat
	SampleRate int
	Channels   int
	Samples    int
	PTS        int64
}

// VideoData is one decoded, unscaled video frame. A frame with HW set
// lives in device memory; Download on the owning context stages it into
// host memory before scaling.
type VideoData struct {
	Planes  [][]byte
	Strides []int
	Format  PixelFormat
	Width   int
	Height  int
	PTS     int64
	HW      bool
	Handle  any // binding-private handle for hardware frames
}

// AudioContext decodes one audio stream. SendPacket(nil) starts the
// flush; ReceiveFrame then drains remaining frames and ends with ErrEOF.
// Contexts are single-threaded, owned by their stage. Buffers inside
// returned frames belong to the caller.
type AudioContext interface {
	SendPacket(p *media.Packet) error
	ReceiveFrame() (*AudioData, error)
	// SourceFormat is the PCM format this context produces.
	SourceFormat() AudioFormat
	Close() error
}

// VideoContext decodes one video stream, optionally on hardware.
type VideoContext interface {
	SendPacket(p *media.Packet) error
	ReceiveFrame() (*VideoData, error)
	// Download transfers a hardware frame into host memory. Software
	// frames pass through unchanged.
	Download(f *VideoData) (*VideoData, error)
	Close() error
}

// AudioDecoder opens audio contexts for one codec id.
type AudioDecoder interface {
	Open(p AudioParams) (AudioContext, error)
}

// VideoDecoder opens video contexts for one codec id. Passing a non-nil
// hw device attaches it; the context then produces hardware frames in
// the pixel format of the matching HWConfig.
type VideoDecoder interface {
	HardwareConfigs() []HWConfig
	Open(p VideoParams, hw HWDevice) (VideoContext, error)
}

// AudioFormat is the target of a resample operation.
type AudioFormat struct {
	SampleRate int
	Channels   int
	Format     SampleFormat
}

// Resampler converts PCM between rates, layouts, and sample formats.
type Resampler interface {
	Convert(src *AudioData) (*AudioData, error)
	Close() error
}

// ScaleSpec fixes a scaler's conversion endpoints.
type ScaleSpec struct {
	SrcWidth  int
	SrcHeight int
	SrcFormat PixelFormat
	DstWidth  int
	DstHeight int
}

// Scaler converts frames to packed RGBA at the destination size using
// bilinear sampling. The returned buffer has stride DstWidth*4.
type Scaler interface {
	Scale(src *VideoData) ([]byte, error)
	Close() error
}
