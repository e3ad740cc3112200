package codec

import "fmt"

// nativeScaler converts YUV 4:2:0 (planar or NV12) and RGBA sources to
// packed RGBA at the destination size with bilinear sampling. It backs
// the default registry so pure-Go PCM/raw sessions run without cgo;
// the ffmpeg binding replaces it with libswscale via SetScalerFactory.
type nativeScaler struct {
	spec ScaleSpec
}

func newNativeScaler(spec ScaleSpec) (Scaler, error) {
	if spec.SrcWidth <= 0 || spec.SrcHeight <= 0 || spec.DstWidth <= 0 || spec.DstHeight <= 0 {
		return nil, fmt.Errorf("scale: invalid geometry %+v", spec)
	}
	switch spec.SrcFormat {
	case YUV420P, NV12, RGBA:
	default:
		return nil, fmt.Errorf("scale: unsupported source format %s", spec.SrcFormat)
	}
	return &nativeScaler{spec: spec}, nil
}

func (s *nativeScaler) Scale(src *VideoData) ([]byte, error) {
	if src.Width != s.spec.SrcWidth || src.Height != s.spec.SrcHeight || src.Format != s.spec.SrcFormat {
		return nil, fmt.Errorf("scale: frame %dx%d %s does not match scaler %dx%d %s",
			src.Width, src.Height, src.Format, s.spec.SrcWidth, s.spec.SrcHeight, s.spec.SrcFormat)
	}

	rgba, err := toRGBA(src)
	if err != nil {
		return nil, err
	}
	if s.spec.DstWidth == src.Width && s.spec.DstHeight == src.Height {
		return rgba, nil
	}
	return resizeBilinear(rgba, src.Width, src.Height, s.spec.DstWidth, s.spec.DstHeight), nil
}

func (s *nativeScaler) Close() error { return nil }

// toRGBA converts one frame to packed RGBA at source size.
func toRGBA(src *VideoData) ([]byte, error) {
	w, h := src.Width, src.Height
	out := make([]byte, w*h*4)

	switch src.Format {
	case RGBA:
		stride := src.Strides[0]
		for y := 0; y < h; y++ {
			copy(out[y*w*4:(y+1)*w*4], src.Planes[0][y*stride:y*stride+w*4])
		}
		return out, nil

	case YUV420P:
		yp, up, vp := src.Planes[0], src.Planes[1], src.Planes[2]
		ys, us, vs := src.Strides[0], src.Strides[1], src.Strides[2]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				yy := yp[y*ys+x]
				u := up[(y/2)*us+x/2]
				v := vp[(y/2)*vs+x/2]
				putYUV(out[(y*w+x)*4:], yy, u, v)
			}
		}
		return out, nil

	case NV12:
		yp, uvp := src.Planes[0], src.Planes[1]
		ys, uvs := src.Strides[0], src.Strides[1]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				yy := yp[y*ys+x]
				u := uvp[(y/2)*uvs+(x/2)*2]
				v := uvp[(y/2)*uvs+(x/2)*2+1]
				putYUV(out[(y*w+x)*4:], yy, u, v)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("scale: unsupported source format %s", src.Format)
}

// putYUV writes one BT.601 limited-range YUV sample as RGBA.
func putYUV(dst []byte, y, u, v byte) {
	c := int32(y) - 16
	d := int32(u) - 128
	e := int32(v) - 128
	dst[0] = clampU8((298*c + 409*e + 128) >> 8)
	dst[1] = clampU8((298*c - 100*d - 208*e + 128) >> 8)
	dst[2] = clampU8((298*c + 516*d + 128) >> 8)
	dst[3] = 255
}

func clampU8(v int32) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// resizeBilinear resamples packed RGBA to the destination size.
func resizeBilinear(src []byte, sw, sh, dw, dh int) []byte {
	out := make([]byte, dw*dh*4)
	xRatio := float64(sw-1) / float64(dw)
	yRatio := float64(sh-1) / float64(dh)
	if dw == 1 {
		xRatio = 0
	}
	if dh == 1 {
		yRatio = 0
	}

	for y := 0; y < dh; y++ {
		sy := float64(y) * yRatio
		y0 := int(sy)
		fy := sy - float64(y0)
		y1 := y0 + 1
		if y1 >= sh {
			y1 = sh - 1
		}
		for x := 0; x < dw; x++ {
			sx := float64(x) * xRatio
			x0 := int(sx)
			fx := sx - float64(x0)
			x1 := x0 + 1
			if x1 >= sw {
				x1 = sw - 1
			}
			for c := 0; c < 4; c++ {
				p00 := float64(src[(y0*sw+x0)*4+c])
				p01 := float64(src[(y0*sw+x1)*4+c])
				p10 := float64(src[(y1*sw+x0)*4+c])
				p11 := float64(src[(y1*sw+x1)*4+c])
				top := p00 + (p01-p00)*fx
				bot := p10 + (p11-p10)*fx
				out[(y*dw+x)*4+c] = byte(top + (bot-top)*fy + 0.5)
			}
		}
	}
	return out
}
