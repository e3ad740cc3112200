// Package media defines the data model shared between pipeline stages:
// compressed packets, decoded frames, and stream metadata.
//
// Timestamps cross stage boundaries in exactly one domain: milliseconds.
// Raw stream-time-base values exist only inside the stage that produced
// them; Rational.ToMillis is the single conversion point.
package media

// Kind classifies a packet by elementary stream.
type Kind uint8

const (
	// KindAudio marks packets from the audio elementary stream.
	KindAudio Kind = iota
	// KindVideo marks packets from the video elementary stream.
	KindVideo
	// KindEOS marks the end-of-stream sentinel enqueued once per queue
	// when the packet source exits its read loop.
	KindEOS
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	case KindEOS:
		return "eos"
	}
	return "unknown"
}

// Rational is a stream time base as a num/den pair.
type Rational struct {
	Num int
	Den int
}

// Millisecond is the time base every PTS is normalized to.
var Millisecond = Rational{Num: 1, Den: 1000}

// Valid reports whether the time base can be used for conversion.
func (r Rational) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

// ToMillis converts a PTS expressed in this time base to milliseconds.
// An invalid time base yields 0.
func (r Rational) ToMillis(pts int64) int64 {
	if !r.Valid() {
		return 0
	}
	return pts * int64(r.Num) * 1000 / int64(r.Den)
}

// Packet is one opaque unit of encoded media read from the network.
// It is owned by the queue it is pushed onto and consumed exactly once
// by the corresponding decoder.
type Packet struct {
	Kind     Kind
	Data     []byte
	PTS      int64 // in TimeBase units
	TimeBase Rational
	KeyFrame bool
}

// EOSPacket returns the empty termination sentinel.
func EOSPacket() *Packet {
	return &Packet{Kind: KindEOS}
}

// IsEOS reports whether the packet is the termination sentinel.
func (p *Packet) IsEOS() bool {
	return p.Kind == KindEOS
}

// AudioFrame is interleaved PCM ready for the sink. Format is always
// signed 16-bit little-endian at the decoder's configured target rate
// and channel count.
type AudioFrame struct {
	Data       []byte
	SampleRate int
	Channels   int
	Samples    int
	PTS        int64 // milliseconds
}

// ByteLen returns the payload length implied by the sample count.
func (f *AudioFrame) ByteLen() int {
	return f.Samples * f.Channels * 2
}

// VideoFrame is an RGBA image at the decoder's target size. A frame
// with a nil pixel buffer is the terminal end-of-stream marker.
type VideoFrame struct {
	Pix    []byte
	Width  int
	Height int
	Stride int
	PTS    int64 // milliseconds
}

// IsEmpty reports whether this is the terminal marker.
func (f *VideoFrame) IsEmpty() bool {
	return f == nil || len(f.Pix) == 0
}

// StreamInfo describes the probed session. Produced once by the packet
// source after a successful open; immutable for the session.
type StreamInfo struct {
	HasVideo      bool
	Width         int
	Height        int
	FrameRate     float64 // frames per second, 0 when unknown
	VideoCodec    string
	VideoTimeBase Rational

	HasAudio      bool
	SampleRate    int
	Channels      int
	AudioCodec    string
	AudioTimeBase Rational
}
