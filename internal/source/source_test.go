package source

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/rtsppull/internal/logging"
	"github.com/smazurov/rtsppull/internal/media"
	"github.com/smazurov/rtsppull/internal/queue"
)

// scriptDemuxer replays a fixed sequence of read errors and packets,
// then EOF.
type scriptDemuxer struct {
	mu      sync.Mutex
	info    media.StreamInfo
	errs    int
	packets []*media.Packet
	idx     int
	closed  bool
	openErr error
}

func (d *scriptDemuxer) Open(context.Context) (*media.StreamInfo, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	info := d.info
	return &info, nil
}

func (d *scriptDemuxer) ReadPacket() (*media.Packet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, io.EOF
	}
	if d.errs > 0 {
		d.errs--
		return nil, errors.New("transient read failure")
	}
	if d.idx < len(d.packets) {
		p := d.packets[d.idx]
		d.idx++
		return p, nil
	}
	return nil, io.EOF
}

func (d *scriptDemuxer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func avInfo() media.StreamInfo {
	return media.StreamInfo{
		HasVideo: true, Width: 1280, Height: 720, FrameRate: 25,
		VideoCodec: "h264", VideoTimeBase: media.Millisecond,
		HasAudio: true, SampleRate: 44100, Channels: 2,
		AudioCodec: "aac", AudioTimeBase: media.Millisecond,
	}
}

func drainKinds(q *queue.PacketQueue) (kinds []media.Kind) {
	for {
		p, ok := q.Pop(50 * time.Millisecond)
		if !ok {
			return kinds
		}
		kinds = append(kinds, p.Kind)
		if p.IsEOS() {
			return kinds
		}
	}
}

func TestClassificationAndSentinels(t *testing.T) {
	demux := &scriptDemuxer{
		info: avInfo(),
		packets: []*media.Packet{
			{Kind: media.KindVideo, Data: []byte{1}, PTS: 0},
			{Kind: media.KindAudio, Data: []byte{2}, PTS: 0},
			{Kind: media.KindVideo, Data: []byte{3}, PTS: 40},
			{Kind: media.KindAudio, Data: []byte{4}, PTS: 20},
		},
	}
	aq, vq := queue.New(100), queue.New(100)
	s := New(demux, aq, vq, logging.GetLogger("source-test"), nil)

	if _, err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	audio := drainKinds(aq)
	video := drainKinds(vq)

	wantAudio := []media.Kind{media.KindAudio, media.KindAudio, media.KindEOS}
	wantVideo := []media.Kind{media.KindVideo, media.KindVideo, media.KindEOS}
	if len(audio) != len(wantAudio) {
		t.Fatalf("audio queue got %v", audio)
	}
	for i := range wantAudio {
		if audio[i] != wantAudio[i] {
			t.Errorf("audio[%d] = %s", i, audio[i])
		}
	}
	if len(video) != len(wantVideo) {
		t.Fatalf("video queue got %v", video)
	}
	for i := range wantVideo {
		if video[i] != wantVideo[i] {
			t.Errorf("video[%d] = %s", i, video[i])
		}
	}
}

func TestTransientErrorsTolerated(t *testing.T) {
	demux := &scriptDemuxer{
		info: avInfo(),
		errs: 50, // at the threshold, not over it
		packets: []*media.Packet{
			{Kind: media.KindAudio, Data: []byte{1}},
		},
	}
	aq, vq := queue.New(100), queue.New(100)
	errCh := make(chan error, 1)
	s := New(demux, aq, vq, logging.GetLogger("source-test"), func(err error) { errCh <- err })

	if _, err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	_ = s.Start()
	defer s.Close()

	kinds := drainKinds(aq)
	if len(kinds) != 2 || kinds[0] != media.KindAudio {
		t.Errorf("audio queue got %v, want packet then EOS", kinds)
	}
	select {
	case err := <-errCh:
		t.Errorf("fatal error on recoverable failures: %v", err)
	default:
	}
}

func TestTooManyConsecutiveErrorsFails(t *testing.T) {
	demux := &scriptDemuxer{info: avInfo(), errs: 60}
	aq, vq := queue.New(100), queue.New(100)
	errCh := make(chan error, 1)
	s := New(demux, aq, vq, logging.GetLogger("source-test"), func(err error) { errCh <- err })

	if _, err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	_ = s.Start()
	defer s.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrNetworkUnrecoverable) {
			t.Errorf("error = %v, want ErrNetworkUnrecoverable", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fatal error never surfaced")
	}

	// Sentinels still delivered after failure.
	if kinds := drainKinds(aq); len(kinds) != 1 || kinds[0] != media.KindEOS {
		t.Errorf("audio queue got %v, want lone EOS", kinds)
	}
	if s.State() != StateFailed {
		t.Errorf("state = %s, want failed", s.State())
	}
}

func TestOpenFailsWithoutStreams(t *testing.T) {
	demux := &scriptDemuxer{info: media.StreamInfo{}}
	s := New(demux, queue.New(10), queue.New(10), logging.GetLogger("source-test"), nil)
	if _, err := s.Open(context.Background()); err == nil {
		t.Fatal("expected failure with no streams")
	}
	if s.State() != StateClosed {
		t.Errorf("state = %s, want closed", s.State())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	demux := &scriptDemuxer{info: avInfo()}
	s := New(demux, queue.New(10), queue.New(10), logging.GetLogger("source-test"), nil)
	if _, err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	_ = s.Start()

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if s.State() != StateClosed {
		t.Errorf("state = %s", s.State())
	}
}
