package codec

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/smazurov/rtsppull/internal/media"
)

func TestPCMS16Passthrough(t *testing.T) {
	dec := pcmDecoder{codec: PCMS16LE}
	ctx, err := dec.Open(AudioParams{Codec: PCMS16LE, SampleRate: 8000, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer ctx.Close()

	payload := make([]byte, 8)
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := ctx.SendPacket(&media.Packet{Kind: media.KindAudio, Data: payload, PTS: 42}); err != nil {
		t.Fatal(err)
	}

	f, err := ctx.ReceiveFrame()
	if err != nil {
		t.Fatal(err)
	}
	if f.Samples != 4 || f.Channels != 1 || f.SampleRate != 8000 {
		t.Errorf("frame meta = %d samples %d ch %d hz", f.Samples, f.Channels, f.SampleRate)
	}
	if f.PTS != 42 {
		t.Errorf("PTS = %d, want 42", f.PTS)
	}
	if _, err := ctx.ReceiveFrame(); !errors.Is(err, ErrAgain) {
		t.Errorf("second receive = %v, want ErrAgain", err)
	}
}

func TestPCMFlushDrains(t *testing.T) {
	dec := pcmDecoder{codec: PCMS16LE}
	ctx, _ := dec.Open(AudioParams{Codec: PCMS16LE, SampleRate: 8000, Channels: 1})
	defer ctx.Close()

	if err := ctx.SendPacket(nil); err != nil {
		t.Fatal(err)
	}
	if _, err := ctx.ReceiveFrame(); !errors.Is(err, ErrEOF) {
		t.Errorf("receive after flush = %v, want ErrEOF", err)
	}
}

func TestG711Expansion(t *testing.T) {
	// Silence bytes decode near zero for both laws.
	if v := ulawToS16(0xFF); v < -8 || v > 8 {
		t.Errorf("ulaw silence = %d", v)
	}
	if v := alawToS16(0xD5); v < -16 || v > 16 {
		t.Errorf("alaw silence = %d", v)
	}
	// Sign symmetry.
	if ulawToS16(0x00) != -ulawToS16(0x80) {
		t.Error("ulaw sign asymmetry")
	}

	dec := pcmDecoder{codec: PCMUlaw}
	ctx, _ := dec.Open(AudioParams{Codec: PCMUlaw, SampleRate: 8000, Channels: 1})
	defer ctx.Close()

	_ = ctx.SendPacket(&media.Packet{Kind: media.KindAudio, Data: []byte{0xFF, 0x7F}})
	f, err := ctx.ReceiveFrame()
	if err != nil {
		t.Fatal(err)
	}
	if f.Samples != 2 {
		t.Fatalf("samples = %d, want 2", f.Samples)
	}
	if len(f.Planes[0]) != 4 {
		t.Errorf("expanded byte len = %d, want 4", len(f.Planes[0]))
	}
}

func TestPCMSourceFormat(t *testing.T) {
	dec := pcmDecoder{codec: PCMAlaw}
	ctx, _ := dec.Open(AudioParams{Codec: PCMAlaw, SampleRate: 8000, Channels: 2})
	defer ctx.Close()

	got := ctx.SourceFormat()
	want := AudioFormat{SampleRate: 8000, Channels: 2, Format: S16}
	if got != want {
		t.Errorf("SourceFormat() = %+v, want %+v", got, want)
	}
}

func TestExpandG711LittleEndian(t *testing.T) {
	out := expandG711([]byte{0x7F}, ulawToS16)
	v := int16(binary.LittleEndian.Uint16(out))
	if v != ulawToS16(0x7F) {
		t.Errorf("encoded %d, want %d", v, ulawToS16(0x7F))
	}
}
