package ffmpeg

import (
	"fmt"

	"github.com/asticode/go-astiav"

	"github.com/smazurov/rtsppull/internal/codec"
)

// scaler converts frames to packed RGBA at the target size through
// libswscale with bilinear sampling. Seam frames are repacked into a
// reusable source AVFrame before each conversion.
type scaler struct {
	spec codec.ScaleSpec
	ssc  *astiav.SoftwareScaleContext
	src  *astiav.Frame
	dst  *astiav.Frame
}

func newScaler(spec codec.ScaleSpec) (codec.Scaler, error) {
	srcFmt, ok := astiavPixelFormat(spec.SrcFormat)
	if !ok {
		return nil, fmt.Errorf("swscale: unsupported source format %s", spec.SrcFormat)
	}
	if spec.SrcWidth <= 0 || spec.SrcHeight <= 0 || spec.DstWidth <= 0 || spec.DstHeight <= 0 {
		return nil, fmt.Errorf("swscale: invalid geometry %+v", spec)
	}

	ssc, err := astiav.CreateSoftwareScaleContext(
		spec.SrcWidth, spec.SrcHeight, srcFmt,
		spec.DstWidth, spec.DstHeight, astiav.PixelFormatRgba,
		astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear),
	)
	if err != nil {
		return nil, fmt.Errorf("swscale: context: %w", err)
	}

	src := astiav.AllocFrame()
	src.SetWidth(spec.SrcWidth)
	src.SetHeight(spec.SrcHeight)
	src.SetPixelFormat(srcFmt)
	if err := src.AllocBuffer(1); err != nil {
		src.Free()
		ssc.Free()
		return nil, fmt.Errorf("swscale: src buffer: %w", err)
	}

	dst := astiav.AllocFrame()
	dst.SetWidth(spec.DstWidth)
	dst.SetHeight(spec.DstHeight)
	dst.SetPixelFormat(astiav.PixelFormatRgba)
	if err := dst.AllocBuffer(1); err != nil {
		dst.Free()
		src.Free()
		ssc.Free()
		return nil, fmt.Errorf("swscale: dst buffer: %w", err)
	}

	return &scaler{spec: spec, ssc: ssc, src: src, dst: dst}, nil
}

func (s *scaler) Scale(f *codec.VideoData) ([]byte, error) {
	if f.Width != s.spec.SrcWidth || f.Height != s.spec.SrcHeight || f.Format != s.spec.SrcFormat {
		return nil, fmt.Errorf("swscale: frame %dx%d %s does not match scaler %dx%d %s",
			f.Width, f.Height, f.Format, s.spec.SrcWidth, s.spec.SrcHeight, s.spec.SrcFormat)
	}

	packed, err := packPlanes(f)
	if err != nil {
		return nil, err
	}
	if err := s.src.Data().SetBytes(packed, 1); err != nil {
		return nil, fmt.Errorf("swscale: src fill: %w", err)
	}

	if err := s.ssc.ScaleFrame(s.src, s.dst); err != nil {
		return nil, fmt.Errorf("swscale: scale: %w", err)
	}

	n, err := s.dst.ImageBufferSize(1)
	if err != nil {
		return nil, fmt.Errorf("swscale: image size: %w", err)
	}
	out := make([]byte, n)
	if _, err := s.dst.ImageCopyToBuffer(out, 1); err != nil {
		return nil, fmt.Errorf("swscale: image copy: %w", err)
	}
	return out, nil
}

func (s *scaler) Close() error {
	if s.dst != nil {
		s.dst.Free()
		s.dst = nil
	}
	if s.src != nil {
		s.src.Free()
		s.src = nil
	}
	if s.ssc != nil {
		s.ssc.Free()
		s.ssc = nil
	}
	return nil
}

// packPlanes flattens seam planes into the tight align=1 layout the
// frame fill expects, dropping any stride padding.
func packPlanes(f *codec.VideoData) ([]byte, error) {
	tight, err := tightStrides(f)
	if err != nil {
		return nil, err
	}

	total := 0
	for i, plane := range f.Planes {
		rows := len(plane) / f.Strides[i]
		total += rows * tight[i]
	}
	out := make([]byte, 0, total)
	for i, plane := range f.Planes {
		stride := f.Strides[i]
		if stride == tight[i] {
			out = append(out, plane...)
			continue
		}
		for off := 0; off+tight[i] <= len(plane); off += stride {
			out = append(out, plane[off:off+tight[i]]...)
		}
	}
	return out, nil
}

// tightStrides returns the unpadded per-plane row sizes for a format.
func tightStrides(f *codec.VideoData) ([]int, error) {
	cw := (f.Width + 1) / 2
	switch f.Format {
	case codec.YUV420P:
		return []int{f.Width, cw, cw}, nil
	case codec.NV12:
		return []int{f.Width, 2 * cw}, nil
	case codec.RGBA:
		return []int{f.Width * 4}, nil
	}
	return nil, fmt.Errorf("swscale: unsupported source format %s", f.Format)
}
