package source

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/deepch/vdk/av"
	"github.com/deepch/vdk/format/rtspv2"

	"github.com/smazurov/rtsppull/internal/media"
)

// RTSPConfig configures the pure-Go RTSP demuxer.
type RTSPConfig struct {
	URL          string
	Timeout      time.Duration // dial timeout; also the read/write timeout, raised to at least 10s
	DisableAudio bool
}

// rtspDemuxer adapts the vdk rtspv2 client to the Demuxer interface.
// The client delivers depacketized elementary-stream payloads with
// durations in the millisecond domain, so packets carry the 1/1000
// time base directly. Transport is TCP interleaved.
type rtspDemuxer struct {
	cfg RTSPConfig

	cli      *rtspv2.RTSPClient
	videoIdx int8
	audioIdx int8

	closeOnce sync.Once
	closed    chan struct{}
}

// NewRTSP returns a Demuxer pulling from an RTSP URL over TCP.
func NewRTSP(cfg RTSPConfig) Demuxer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &rtspDemuxer{cfg: cfg, videoIdx: -1, audioIdx: -1, closed: make(chan struct{})}
}

func (d *rtspDemuxer) Open(ctx context.Context) (*media.StreamInfo, error) {
	rwTimeout := d.cfg.Timeout
	if rwTimeout < 10*time.Second {
		rwTimeout = 10 * time.Second
	}

	type dialResult struct {
		cli *rtspv2.RTSPClient
		err error
	}
	ch := make(chan dialResult, 1)
	go func() {
		cli, err := rtspv2.Dial(rtspv2.RTSPClientOptions{
			URL:              d.cfg.URL,
			DialTimeout:      d.cfg.Timeout,
			ReadWriteTimeout: rwTimeout,
			DisableAudio:     d.cfg.DisableAudio,
		})
		ch <- dialResult{cli, err}
	}()

	var cli *rtspv2.RTSPClient
	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.cli != nil {
				r.cli.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("rtsp dial: %w", r.err)
		}
		cli = r.cli
	}

	info := &media.StreamInfo{}
	for i, cd := range cli.CodecData {
		switch {
		case cd.Type().IsVideo() && d.videoIdx < 0:
			vcd, ok := cd.(av.VideoCodecData)
			if !ok {
				continue
			}
			d.videoIdx = int8(i)
			info.HasVideo = true
			info.Width = vcd.Width()
			info.Height = vcd.Height()
			info.VideoCodec = codecName(cd.Type())
			info.VideoTimeBase = media.Millisecond
			info.FrameRate = float64(cli.FPS)
		case cd.Type().IsAudio() && d.audioIdx < 0:
			acd, ok := cd.(av.AudioCodecData)
			if !ok {
				continue
			}
			d.audioIdx = int8(i)
			info.HasAudio = true
			info.SampleRate = acd.SampleRate()
			info.Channels = acd.ChannelLayout().Count()
			info.AudioCodec = codecName(cd.Type())
			info.AudioTimeBase = media.Millisecond
		}
	}

	if !info.HasAudio && !info.HasVideo {
		cli.Close()
		return nil, fmt.Errorf("rtsp: no usable streams in SDP")
	}

	d.cli = cli
	return info, nil
}

func (d *rtspDemuxer) ReadPacket() (*media.Packet, error) {
	if d.cli == nil {
		return nil, fmt.Errorf("rtsp: not open")
	}
	for {
		select {
		case <-d.closed:
			return nil, io.EOF
		case sig := <-d.cli.Signals:
			switch sig {
			case rtspv2.SignalStreamRTPStop:
				return nil, io.EOF
			default:
				// codec update; keep reading
				continue
			}
		case pkt, ok := <-d.cli.OutgoingPacketQueue:
			if !ok || pkt == nil {
				return nil, io.EOF
			}
			kind := media.KindAudio
			switch pkt.Idx {
			case d.videoIdx:
				kind = media.KindVideo
			case d.audioIdx:
				kind = media.KindAudio
			default:
				// unclassified stream index
				continue
			}
			return &media.Packet{
				Kind:     kind,
				Data:     pkt.Data,
				PTS:      pkt.Time.Milliseconds(),
				TimeBase: media.Millisecond,
				KeyFrame: pkt.IsKeyFrame,
			}, nil
		}
	}
}

func (d *rtspDemuxer) Close() error {
	d.closeOnce.Do(func() {
		close(d.closed)
		if d.cli != nil {
			d.cli.Close()
		}
	})
	return nil
}

// codecName maps vdk codec types onto the registry's identifiers.
func codecName(t av.CodecType) string {
	return strings.ToLower(t.String())
}
