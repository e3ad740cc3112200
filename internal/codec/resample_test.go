package codec

import (
	"encoding/binary"
	"testing"
)

func s16Frame(samples []int16, rate, channels int) *AudioData {
	buf := make([]byte, len(samples)*2)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return &AudioData{
		Planes:     [][]byte{buf},
		Format:     S16,
		SampleRate: rate,
		Channels:   channels,
		Samples:    len(samples) / channels,
	}
}

func TestResampleRejectsNonS16Output(t *testing.T) {
	_, err := newNativeResampler(
		AudioFormat{SampleRate: 8000, Channels: 1, Format: S16},
		AudioFormat{SampleRate: 8000, Channels: 1, Format: F32},
	)
	if err == nil {
		t.Fatal("expected error for non-S16 output")
	}
}

func TestResampleMonoToStereo(t *testing.T) {
	r, err := newNativeResampler(
		AudioFormat{SampleRate: 8000, Channels: 1, Format: S16},
		AudioFormat{SampleRate: 8000, Channels: 2, Format: S16},
	)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	out, err := r.Convert(s16Frame([]int16{100, -200}, 8000, 1))
	if err != nil {
		t.Fatal(err)
	}
	if out.Channels != 2 || out.Samples != 2 {
		t.Fatalf("out = %d ch %d samples", out.Channels, out.Samples)
	}
	want := []int16{100, 100, -200, -200}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(out.Planes[0][i*2:]))
		if got != w {
			t.Errorf("sample %d = %d, want %d", i, got, w)
		}
	}
}

func TestResampleStereoDownmix(t *testing.T) {
	r, _ := newNativeResampler(
		AudioFormat{SampleRate: 8000, Channels: 2, Format: S16},
		AudioFormat{SampleRate: 8000, Channels: 1, Format: S16},
	)
	defer r.Close()

	out, err := r.Convert(s16Frame([]int16{100, 300}, 8000, 2))
	if err != nil {
		t.Fatal(err)
	}
	got := int16(binary.LittleEndian.Uint16(out.Planes[0]))
	if got != 200 {
		t.Errorf("downmix = %d, want 200", got)
	}
}

func TestResampleRateDoubling(t *testing.T) {
	r, _ := newNativeResampler(
		AudioFormat{SampleRate: 8000, Channels: 1, Format: S16},
		AudioFormat{SampleRate: 16000, Channels: 1, Format: S16},
	)
	defer r.Close()

	in := make([]int16, 100)
	for i := range in {
		in[i] = int16(i * 10)
	}
	out, err := r.Convert(s16Frame(in, 8000, 1))
	if err != nil {
		t.Fatal(err)
	}
	if out.SampleRate != 16000 {
		t.Errorf("rate = %d", out.SampleRate)
	}
	if out.Samples != 200 {
		t.Errorf("samples = %d, want 200", out.Samples)
	}
	// Interpolated midpoints sit between neighbors.
	s1 := int16(binary.LittleEndian.Uint16(out.Planes[0][2:]))
	if s1 < 0 || s1 > 10 {
		t.Errorf("interpolated sample = %d, want in [0,10]", s1)
	}
}

func TestResamplePlanarFloatInput(t *testing.T) {
	r, _ := newNativeResampler(
		AudioFormat{SampleRate: 8000, Channels: 2, Format: F32P},
		AudioFormat{SampleRate: 8000, Channels: 2, Format: S16},
	)
	defer r.Close()

	left := make([]byte, 4)
	right := make([]byte, 4)
	binary.LittleEndian.PutUint32(left, 0x3F800000)  // 1.0
	binary.LittleEndian.PutUint32(right, 0xBF800000) // -1.0

	out, err := r.Convert(&AudioData{
		Planes:     [][]byte{left, right},
		Format:     F32P,
		SampleRate: 8000,
		Channels:   2,
		Samples:    1,
	})
	if err != nil {
		t.Fatal(err)
	}
	l := int16(binary.LittleEndian.Uint16(out.Planes[0][0:]))
	rv := int16(binary.LittleEndian.Uint16(out.Planes[0][2:]))
	if l != 32767 {
		t.Errorf("left = %d, want 32767", l)
	}
	if rv != -32767 {
		t.Errorf("right = %d, want -32767", rv)
	}
}
