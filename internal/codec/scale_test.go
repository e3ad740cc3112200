package codec

import "testing"

func yuvFrame(w, h int, y, u, v byte) *VideoData {
	cw, ch := (w+1)/2, (h+1)/2
	yp := make([]byte, w*h)
	up := make([]byte, cw*ch)
	vp := make([]byte, cw*ch)
	for i := range yp {
		yp[i] = y
	}
	for i := range up {
		up[i] = u
		vp[i] = v
	}
	return &VideoData{
		Planes:  [][]byte{yp, up, vp},
		Strides: []int{w, cw, cw},
		Format:  YUV420P,
		Width:   w,
		Height:  h,
	}
}

func TestScaleRejectsBadSpec(t *testing.T) {
	if _, err := newNativeScaler(ScaleSpec{}); err == nil {
		t.Error("expected error for zero geometry")
	}
	spec := ScaleSpec{SrcWidth: 4, SrcHeight: 4, SrcFormat: PixelFormatNone, DstWidth: 4, DstHeight: 4}
	if _, err := newNativeScaler(spec); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestScaleBlackFrame(t *testing.T) {
	s, err := newNativeScaler(ScaleSpec{SrcWidth: 4, SrcHeight: 4, SrcFormat: YUV420P, DstWidth: 4, DstHeight: 4})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	// Limited-range black: Y=16, U=V=128.
	out, err := s.Scale(yuvFrame(4, 4, 16, 128, 128))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 4*4*4 {
		t.Fatalf("len = %d, want 64", len(out))
	}
	for px := 0; px < 16; px++ {
		r, g, b, a := out[px*4], out[px*4+1], out[px*4+2], out[px*4+3]
		if r != 0 || g != 0 || b != 0 {
			t.Fatalf("pixel %d = %d,%d,%d, want black", px, r, g, b)
		}
		if a != 255 {
			t.Fatalf("pixel %d alpha = %d", px, a)
		}
	}
}

func TestScaleWhiteFrameResized(t *testing.T) {
	s, err := newNativeScaler(ScaleSpec{SrcWidth: 4, SrcHeight: 4, SrcFormat: YUV420P, DstWidth: 8, DstHeight: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	// Limited-range white: Y=235, U=V=128.
	out, err := s.Scale(yuvFrame(4, 4, 235, 128, 128))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 8*2*4 {
		t.Fatalf("len = %d, want 64", len(out))
	}
	for px := 0; px < 16; px++ {
		if out[px*4] < 250 || out[px*4+1] < 250 || out[px*4+2] < 250 {
			t.Fatalf("pixel %d not white: %v", px, out[px*4:px*4+4])
		}
	}
}

func TestScaleRGBAPassthroughStride(t *testing.T) {
	// 2x2 RGBA with padded stride; pixel (1,1) red.
	stride := 12
	src := make([]byte, stride*2)
	copy(src[stride+4:], []byte{255, 0, 0, 255})
	s, err := newNativeScaler(ScaleSpec{SrcWidth: 2, SrcHeight: 2, SrcFormat: RGBA, DstWidth: 2, DstHeight: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	out, err := s.Scale(&VideoData{
		Planes:  [][]byte{src},
		Strides: []int{stride},
		Format:  RGBA,
		Width:   2,
		Height:  2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out[(2*1+1)*4] != 255 {
		t.Error("red pixel lost in stride repack")
	}
	if out[0] != 0 {
		t.Error("unexpected color at origin")
	}
}

func TestScaleRejectsMismatchedFrame(t *testing.T) {
	s, _ := newNativeScaler(ScaleSpec{SrcWidth: 4, SrcHeight: 4, SrcFormat: YUV420P, DstWidth: 4, DstHeight: 4})
	defer s.Close()
	if _, err := s.Scale(yuvFrame(8, 8, 16, 128, 128)); err == nil {
		t.Error("expected geometry mismatch error")
	}
}

func TestNV12Conversion(t *testing.T) {
	w, h := 2, 2
	yp := []byte{235, 235, 235, 235}
	uv := []byte{128, 128}
	s, err := newNativeScaler(ScaleSpec{SrcWidth: w, SrcHeight: h, SrcFormat: NV12, DstWidth: w, DstHeight: h})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	out, err := s.Scale(&VideoData{
		Planes:  [][]byte{yp, uv},
		Strides: []int{w, w},
		Format:  NV12,
		Width:   w,
		Height:  h,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out[0] < 250 {
		t.Errorf("white NV12 pixel = %d", out[0])
	}
}
