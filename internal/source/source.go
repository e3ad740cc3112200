// Package source owns the network session: it probes the stream, reads
// compressed packets, classifies them by elementary stream, and fans
// them out to the decoder queues. The source never blocks on a queue;
// its only backpressure is the network read rate.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/smazurov/rtsppull/internal/media"
	"github.com/smazurov/rtsppull/internal/metrics"
	"github.com/smazurov/rtsppull/internal/queue"
)

// maxConsecutiveReadErrors is the failure budget before the session is
// declared unrecoverable. Any successful read resets the count.
const maxConsecutiveReadErrors = 50

// ErrNetworkUnrecoverable is wrapped into the fatal error produced
// after too many consecutive read failures.
var ErrNetworkUnrecoverable = errors.New("network unrecoverable")

// Demuxer is the session layer the source pulls from. Open probes the
// stream and must fail when neither an audio nor a video stream is
// present. ReadPacket returns io.EOF at end of stream and must unblock
// when Close is called.
type Demuxer interface {
	Open(ctx context.Context) (*media.StreamInfo, error)
	ReadPacket() (*media.Packet, error)
	Close() error
}

// State is the source lifecycle state.
type State int32

const (
	StateClosed State = iota
	StateOpening
	StateReading
	StateClosing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateReading:
		return "reading"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Source runs the demuxer read loop on its own goroutine.
type Source struct {
	demux   Demuxer
	audioQ  *queue.PacketQueue
	videoQ  *queue.PacketQueue
	log     *slog.Logger
	onError func(error)

	state   atomic.Int32
	running atomic.Bool
	done    chan struct{}
	info    *media.StreamInfo
}

// New creates a source feeding the given queues. Either queue may be
// nil when the corresponding stream is absent. onError receives the
// single fatal error of a failed session.
func New(demux Demuxer, audioQ, videoQ *queue.PacketQueue, log *slog.Logger, onError func(error)) *Source {
	return &Source{
		demux:   demux,
		audioQ:  audioQ,
		videoQ:  videoQ,
		log:     log,
		onError: onError,
	}
}

// Open probes the stream and returns its parameters. Must be called
// before Start.
func (s *Source) Open(ctx context.Context) (*media.StreamInfo, error) {
	if !s.state.CompareAndSwap(int32(StateClosed), int32(StateOpening)) {
		return nil, fmt.Errorf("source: open in state %s", s.State())
	}

	info, err := s.demux.Open(ctx)
	if err != nil {
		s.state.Store(int32(StateClosed))
		return nil, fmt.Errorf("source: open: %w", err)
	}
	if !info.HasAudio && !info.HasVideo {
		_ = s.demux.Close()
		s.state.Store(int32(StateClosed))
		return nil, errors.New("source: no audio or video streams found")
	}

	s.info = info
	s.log.Info("stream probed",
		"video", info.HasVideo, "width", info.Width, "height", info.Height,
		"frame_rate", info.FrameRate,
		"audio", info.HasAudio, "sample_rate", info.SampleRate, "channels", info.Channels)
	return info, nil
}

// Info returns the probed stream parameters, nil before Open.
func (s *Source) Info() *media.StreamInfo { return s.info }

// State returns the current lifecycle state.
func (s *Source) State() State { return State(s.state.Load()) }

// Start launches the read loop. Open must have succeeded.
func (s *Source) Start() error {
	if !s.state.CompareAndSwap(int32(StateOpening), int32(StateReading)) {
		return fmt.Errorf("source: start in state %s", s.State())
	}
	s.running.Store(true)
	s.done = make(chan struct{})
	go s.readLoop()
	return nil
}

func (s *Source) readLoop() {
	defer close(s.done)

	consecutiveErrors := 0
	for s.running.Load() {
		pkt, err := s.demux.ReadPacket()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.log.Info("end of stream reached")
				break
			}
			if !s.running.Load() {
				break
			}
			consecutiveErrors++
			metrics.IncReadError()
			if consecutiveErrors > maxConsecutiveReadErrors {
				s.fail(fmt.Errorf("%w: %d consecutive read errors, last: %v",
					ErrNetworkUnrecoverable, consecutiveErrors, err))
				break
			}
			continue
		}
		consecutiveErrors = 0

		switch pkt.Kind {
		case media.KindAudio:
			if s.audioQ != nil {
				s.audioQ.Push(pkt)
				metrics.IncPacketsRead("audio")
				metrics.SetQueueDepth("audio", s.audioQ.Len())
			}
		case media.KindVideo:
			if s.videoQ != nil {
				s.videoQ.Push(pkt)
				metrics.IncPacketsRead("video")
				metrics.SetQueueDepth("video", s.videoQ.Len())
			}
		default:
			// unclassified packets are discarded
		}
	}

	// Exactly one termination sentinel per queue, EOF or stop alike.
	if s.audioQ != nil {
		s.audioQ.Push(media.EOSPacket())
	}
	if s.videoQ != nil {
		s.videoQ.Push(media.EOSPacket())
	}
}

func (s *Source) fail(err error) {
	s.state.Store(int32(StateFailed))
	s.log.Error("source failed", "error", err)
	metrics.IncStageError("source")
	if s.onError != nil {
		s.onError(err)
	}
}

// Close stops the read loop and releases the session. Idempotent. The
// demuxer is closed first to unblock a stuck read; the join is then
// bounded: 2 seconds soft, then one more second.
func (s *Source) Close() error {
	switch s.State() {
	case StateClosed:
		return nil
	case StateOpening:
		// opened but never started
		err := s.demux.Close()
		s.state.Store(int32(StateClosed))
		return err
	}

	s.state.Store(int32(StateClosing))
	s.running.Store(false)
	err := s.demux.Close() // unblocks a pending ReadPacket

	if s.done != nil {
		select {
		case <-s.done:
		case <-time.After(2 * time.Second):
			s.log.Warn("read loop did not exit in time")
			select {
			case <-s.done:
			case <-time.After(time.Second):
				s.log.Error("read loop leaked")
			}
		}
	}
	s.state.Store(int32(StateClosed))
	return err
}
