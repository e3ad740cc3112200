package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astiav"

	"github.com/smazurov/rtsppull/internal/media"
	"github.com/smazurov/rtsppull/internal/source"
)

// DemuxConfig configures the avformat demuxer.
type DemuxConfig struct {
	URL     string
	Timeout time.Duration
}

// demuxer pulls an RTSP session through avformat with TCP transport.
// The socket timeout bounds how long a blocking read can hold the
// context before Close can free it.
type demuxer struct {
	cfg DemuxConfig

	mu  sync.Mutex // serializes ReadPacket against Close's free
	fc  *astiav.FormatContext
	pkt *astiav.Packet

	videoIdx int
	audioIdx int
	videoTB  media.Rational
	audioTB  media.Rational

	closed atomic.Bool
}

// NewDemuxer returns an avformat-backed Demuxer for an RTSP URL.
func NewDemuxer(cfg DemuxConfig) source.Demuxer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &demuxer{cfg: cfg, videoIdx: -1, audioIdx: -1}
}

func (d *demuxer) Open(_ context.Context) (*media.StreamInfo, error) {
	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, errors.New("ffmpeg: format context alloc failed")
	}

	opts := astiav.NewDictionary()
	defer opts.Free()
	_ = opts.Set("rtsp_transport", "tcp", 0)
	_ = opts.Set("max_delay", "500", 0)
	_ = opts.Set("stimeout", strconv.FormatInt(d.cfg.Timeout.Microseconds(), 10), 0)
	_ = opts.Set("probesize", "1000000", 0)
	_ = opts.Set("analyzeduration", "1000000", 0)

	if err := fc.OpenInput(d.cfg.URL, nil, opts); err != nil {
		fc.Free()
		return nil, fmt.Errorf("ffmpeg: open input: %w", err)
	}
	if err := fc.FindStreamInfo(nil); err != nil {
		fc.CloseInput()
		fc.Free()
		return nil, fmt.Errorf("ffmpeg: find stream info: %w", err)
	}

	info := &media.StreamInfo{}
	for _, st := range fc.Streams() {
		par := st.CodecParameters()
		switch par.MediaType() {
		case astiav.MediaTypeVideo:
			if d.videoIdx >= 0 {
				continue
			}
			d.videoIdx = st.Index()
			tb := st.TimeBase()
			d.videoTB = media.Rational{Num: tb.Num(), Den: tb.Den()}
			info.HasVideo = true
			info.Width = par.Width()
			info.Height = par.Height()
			info.VideoCodec = codecID(par)
			info.VideoTimeBase = d.videoTB
			info.FrameRate = frameRate(st)
		case astiav.MediaTypeAudio:
			if d.audioIdx >= 0 {
				continue
			}
			d.audioIdx = st.Index()
			tb := st.TimeBase()
			d.audioTB = media.Rational{Num: tb.Num(), Den: tb.Den()}
			info.HasAudio = true
			info.SampleRate = par.SampleRate()
			info.Channels = par.ChannelLayout().Channels()
			info.AudioCodec = codecID(par)
			info.AudioTimeBase = d.audioTB
		}
	}

	if !info.HasVideo && !info.HasAudio {
		fc.CloseInput()
		fc.Free()
		return nil, errors.New("ffmpeg: no video or audio streams found")
	}

	d.fc = fc
	d.pkt = astiav.AllocPacket()
	return info, nil
}

func (d *demuxer) ReadPacket() (*media.Packet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fc == nil {
		return nil, errors.New("ffmpeg: demuxer not open")
	}
	for {
		if d.closed.Load() {
			return nil, io.EOF
		}

		d.pkt.Unref()
		if err := d.fc.ReadFrame(d.pkt); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				return nil, io.EOF
			}
			return nil, err
		}

		var kind media.Kind
		var tb media.Rational
		switch d.pkt.StreamIndex() {
		case d.videoIdx:
			kind, tb = media.KindVideo, d.videoTB
		case d.audioIdx:
			kind, tb = media.KindAudio, d.audioTB
		default:
			// unclassified stream
			continue
		}

		pts := d.pkt.Pts()
		if pts == astiav.NoPtsValue {
			pts = d.pkt.Dts()
		}

		return &media.Packet{
			Kind:     kind,
			Data:     d.pkt.Data(),
			PTS:      pts,
			TimeBase: tb,
			KeyFrame: d.pkt.Flags().Has(astiav.PacketFlagKey),
		}, nil
	}
}

func (d *demuxer) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pkt != nil {
		d.pkt.Free()
		d.pkt = nil
	}
	if d.fc != nil {
		d.fc.CloseInput()
		d.fc.Free()
		d.fc = nil
	}
	return nil
}

// codecID maps the stream's decoder onto the registry's identifiers.
func codecID(par *astiav.CodecParameters) string {
	dec := astiav.FindDecoder(par.CodecID())
	if dec == nil {
		return ""
	}
	name := dec.Name()
	if name == "hevc" {
		return "h265"
	}
	return name
}

// frameRate prefers the average frame rate, falling back to the raw
// rate, else 0 for free-running emission.
func frameRate(st *astiav.Stream) float64 {
	r := st.AvgFrameRate()
	if r.Num() <= 0 || r.Den() <= 0 {
		r = st.RFrameRate()
	}
	if r.Num() <= 0 || r.Den() <= 0 {
		return 0
	}
	return float64(r.Num()) / float64(r.Den())
}
