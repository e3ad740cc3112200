package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// nativeResampler converts PCM to interleaved S16 at the target rate
// and channel count using linear interpolation. It backs the default
// registry so pure-Go PCM sessions play without an external resampler;
// the ffmpeg binding replaces it with libswresample via
// SetResamplerFactory.
type nativeResampler struct {
	in  AudioFormat
	out AudioFormat
}

func newNativeResampler(in, out AudioFormat) (Resampler, error) {
	if out.Format != S16 {
		return nil, fmt.Errorf("resample: unsupported output format %s", out.Format)
	}
	if in.SampleRate <= 0 || out.SampleRate <= 0 || in.Channels <= 0 || out.Channels <= 0 {
		return nil, fmt.Errorf("resample: invalid formats %+v -> %+v", in, out)
	}
	return &nativeResampler{in: in, out: out}, nil
}

func (r *nativeResampler) Convert(src *AudioData) (*AudioData, error) {
	samples, err := toS16Interleaved(src)
	if err != nil {
		return nil, err
	}

	samples = remixChannels(samples, src.Channels, r.out.Channels)

	if r.in.SampleRate != r.out.SampleRate {
		samples = resampleLinear(samples, r.out.Channels, r.in.SampleRate, r.out.SampleRate)
	}

	n := len(samples) / r.out.Channels
	return &AudioData{
		Planes:     [][]byte{s16Bytes(samples)},
		Format:     S16,
		SampleRate: r.out.SampleRate,
		Channels:   r.out.Channels,
		Samples:    n,
		PTS:        src.PTS,
	}, nil
}

func (r *nativeResampler) Close() error { return nil }

// toS16Interleaved normalizes any supported sample layout to one
// interleaved []int16.
func toS16Interleaved(src *AudioData) ([]int16, error) {
	ch := src.Channels
	n := src.Samples
	out := make([]int16, n*ch)

	switch src.Format {
	case S16:
		plane := src.Planes[0]
		for i := range out {
			out[i] = int16(binary.LittleEndian.Uint16(plane[i*2:]))
		}
	case S16P:
		for c := 0; c < ch; c++ {
			plane := src.Planes[c]
			for i := 0; i < n; i++ {
				out[i*ch+c] = int16(binary.LittleEndian.Uint16(plane[i*2:]))
			}
		}
	case F32:
		plane := src.Planes[0]
		for i := range out {
			out[i] = f32ToS16(plane[i*4:])
		}
	case F32P:
		for c := 0; c < ch; c++ {
			plane := src.Planes[c]
			for i := 0; i < n; i++ {
				out[i*ch+c] = f32ToS16(plane[i*4:])
			}
		}
	case U8:
		plane := src.Planes[0]
		for i := range out {
			out[i] = (int16(plane[i]) - 128) << 8
		}
	default:
		return nil, fmt.Errorf("resample: unsupported input format %s", src.Format)
	}
	return out, nil
}

func f32ToS16(b []byte) int16 {
	f := math.Float32frombits(binary.LittleEndian.Uint32(b))
	v := f * 32767
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	return int16(v)
}

func remixChannels(in []int16, from, to int) []int16 {
	if from == to {
		return in
	}
	n := len(in) / from
	out := make([]int16, n*to)
	for i := 0; i < n; i++ {
		switch {
		case from == 1:
			// mono fan-out
			for c := 0; c < to; c++ {
				out[i*to+c] = in[i]
			}
		case to == 1:
			// average down-mix
			var sum int32
			for c := 0; c < from; c++ {
				sum += int32(in[i*from+c])
			}
			out[i] = int16(sum / int32(from))
		default:
			for c := 0; c < to; c++ {
				src := c
				if src >= from {
					src = from - 1
				}
				out[i*to+c] = in[i*from+src]
			}
		}
	}
	return out
}

func resampleLinear(in []int16, ch, fromRate, toRate int) []int16 {
	inFrames := len(in) / ch
	if inFrames == 0 {
		return nil
	}
	outFrames := int(int64(inFrames) * int64(toRate) / int64(fromRate))
	out := make([]int16, outFrames*ch)
	step := float64(fromRate) / float64(toRate)
	for i := 0; i < outFrames; i++ {
		pos := float64(i) * step
		j := int(pos)
		frac := pos - float64(j)
		k := j + 1
		if k >= inFrames {
			k = inFrames - 1
		}
		for c := 0; c < ch; c++ {
			a := float64(in[j*ch+c])
			b := float64(in[k*ch+c])
			out[i*ch+c] = int16(a + (b-a)*frac)
		}
	}
	return out
}

func s16Bytes(in []int16) []byte {
	out := make([]byte, len(in)*2)
	for i, v := range in {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
