package ffmpeg

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"

	"github.com/smazurov/rtsppull/internal/codec"
)

// resampler converts interleaved S16 between rates and channel layouts
// through libswresample. The binding's audio contexts always emit S16,
// so rate, layout, and format conversion happen in one ConvertFrame.
type resampler struct {
	in  codec.AudioFormat
	out codec.AudioFormat
	swr *astiav.SoftwareResampleContext
	src *astiav.Frame
	dst *astiav.Frame
}

func newResampler(in, out codec.AudioFormat) (codec.Resampler, error) {
	if in.Format != codec.S16 || out.Format != codec.S16 {
		return nil, fmt.Errorf("swresample: unsupported formats %s -> %s", in.Format, out.Format)
	}
	if in.SampleRate <= 0 || out.SampleRate <= 0 || in.Channels <= 0 || out.Channels <= 0 {
		return nil, fmt.Errorf("swresample: invalid formats %+v -> %+v", in, out)
	}

	swr := astiav.AllocSoftwareResampleContext()
	if swr == nil {
		return nil, errors.New("swresample: context alloc failed")
	}
	return &resampler{
		in:  in,
		out: out,
		swr: swr,
		src: astiav.AllocFrame(),
		dst: astiav.AllocFrame(),
	}, nil
}

func (r *resampler) Convert(f *codec.AudioData) (*codec.AudioData, error) {
	if f.Format != codec.S16 || len(f.Planes) != 1 {
		return nil, fmt.Errorf("swresample: expected interleaved S16 input, got %s", f.Format)
	}

	r.src.Unref()
	r.src.SetSampleFormat(astiav.SampleFormatS16)
	r.src.SetChannelLayout(channelLayout(f.Channels))
	r.src.SetSampleRate(f.SampleRate)
	r.src.SetNbSamples(f.Samples)
	if err := r.src.AllocBuffer(0); err != nil {
		return nil, fmt.Errorf("swresample: src buffer: %w", err)
	}
	if err := r.src.Data().SetBytes(f.Planes[0][:f.Samples*f.Channels*2], 0); err != nil {
		return nil, fmt.Errorf("swresample: src fill: %w", err)
	}

	// Slack on top of the rate ratio absorbs resampler delay lines.
	need := int(int64(f.Samples)*int64(r.out.SampleRate)/int64(f.SampleRate)) + 256
	r.dst.Unref()
	r.dst.SetSampleFormat(astiav.SampleFormatS16)
	r.dst.SetChannelLayout(channelLayout(r.out.Channels))
	r.dst.SetSampleRate(r.out.SampleRate)
	r.dst.SetNbSamples(need)
	if err := r.dst.AllocBuffer(0); err != nil {
		return nil, fmt.Errorf("swresample: dst buffer: %w", err)
	}

	if err := r.swr.ConvertFrame(r.src, r.dst); err != nil {
		return nil, fmt.Errorf("swresample: convert: %w", err)
	}

	samples := r.dst.NbSamples()
	raw, err := r.dst.Data().Bytes(0)
	if err != nil {
		return nil, fmt.Errorf("swresample: dst bytes: %w", err)
	}
	n := samples * r.out.Channels * 2
	if n > len(raw) {
		n = len(raw)
		samples = n / (r.out.Channels * 2)
	}
	buf := make([]byte, n)
	copy(buf, raw[:n])

	return &codec.AudioData{
		Planes:     [][]byte{buf},
		Format:     codec.S16,
		SampleRate: r.out.SampleRate,
		Channels:   r.out.Channels,
		Samples:    samples,
		PTS:        f.PTS,
	}, nil
}

func (r *resampler) Close() error {
	if r.dst != nil {
		r.dst.Free()
		r.dst = nil
	}
	if r.src != nil {
		r.src.Free()
		r.src = nil
	}
	if r.swr != nil {
		r.swr.Free()
		r.swr = nil
	}
	return nil
}
