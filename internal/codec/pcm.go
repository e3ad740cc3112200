package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/smazurov/rtsppull/internal/media"
)

// pcmDecoder handles the uncompressed telephony codecs natively so an
// RTSP source carrying G.711 or raw S16 plays without an external
// binding.
type pcmDecoder struct {
	codec string
}

func (d pcmDecoder) Open(p AudioParams) (AudioContext, error) {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return nil, fmt.Errorf("pcm: invalid params rate=%d channels=%d", p.SampleRate, p.Channels)
	}
	return &pcmContext{codec: d.codec, params: p}, nil
}

type pcmContext struct {
	codec    string
	params   AudioParams
	pending  *media.Packet
	flushing bool
	closed   bool
}

func (c *pcmContext) SendPacket(p *media.Packet) error {
	if c.closed {
		return fmt.Errorf("pcm: context closed")
	}
	if p == nil {
		c.flushing = true
		return nil
	}
	if c.pending != nil {
		return ErrAgain
	}
	c.pending = p
	return nil
}

func (c *pcmContext) ReceiveFrame() (*AudioData, error) {
	if c.closed {
		return nil, fmt.Errorf("pcm: context closed")
	}
	if c.pending == nil {
		if c.flushing {
			return nil, ErrEOF
		}
		return nil, ErrAgain
	}
	p := c.pending
	c.pending = nil

	var samples []byte
	switch c.codec {
	case PCMS16LE:
		samples = p.Data[:len(p.Data)&^1]
	case PCMAlaw:
		samples = expandG711(p.Data, alawToS16)
	case PCMUlaw:
		samples = expandG711(p.Data, ulawToS16)
	default:
		return nil, fmt.Errorf("pcm: unsupported codec %q", c.codec)
	}

	n := len(samples) / 2 / c.params.Channels
	return &AudioData{
		Planes:     [][]byte{samples},
		Format:     S16,
		SampleRate: c.params.SampleRate,
		Channels:   c.params.Channels,
		Samples:    n,
		PTS:        p.PTS,
	}, nil
}

func (c *pcmContext) SourceFormat() AudioFormat {
	return AudioFormat{SampleRate: c.params.SampleRate, Channels: c.params.Channels, Format: S16}
}

func (c *pcmContext) Close() error {
	c.closed = true
	c.pending = nil
	return nil
}

func expandG711(in []byte, expand func(byte) int16) []byte {
	out := make([]byte, len(in)*2)
	for i, b := range in {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(expand(b)))
	}
	return out
}

// alawToS16 expands one A-law byte per ITU-T G.711.
func alawToS16(b byte) int16 {
	b ^= 0x55
	seg := (b & 0x70) >> 4
	mant := int16(b & 0x0F)
	var v int16
	if seg == 0 {
		v = mant<<4 + 8
	} else {
		v = (mant<<4 + 0x108) << (seg - 1)
	}
	if b&0x80 != 0 {
		return v
	}
	return -v
}

// ulawToS16 expands one µ-law byte per ITU-T G.711.
func ulawToS16(b byte) int16 {
	b = ^b
	seg := (b & 0x70) >> 4
	mant := int16(b & 0x0F)
	v := ((mant << 3) + 0x84) << seg
	v -= 0x84
	if b&0x80 != 0 {
		return -v
	}
	return v
}
