// Package api exposes the operator surface over HTTP: player controls,
// status, Prometheus metrics, and a server-sent-events stream of
// pipeline events.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smazurov/rtsppull/internal/events"
	"github.com/smazurov/rtsppull/internal/player"
)

// Server is the Huma v2 API server wrapping one player instance.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	player     *player.Player
	eventBus   *events.Bus
	logger     *slog.Logger
}

// New creates the API server for a player.
func New(p *player.Player, bus *events.Bus, addr string, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	cfg := huma.DefaultConfig("rtsppull", "1.0.0")
	cfg.Info.Description = "RTSP pull-and-play engine control API"

	s := &Server{
		api:      humago.New(mux, cfg),
		mux:      mux,
		player:   p,
		eventBus: bus,
		logger:   logger,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.registerPlayerRoutes()
	s.registerSSERoutes()
	mux.Handle("/metrics", promhttp.Handler())
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("api server listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// StartRequest carries the RTSP URL to play.
type StartRequest struct {
	Body struct {
		URL string `json:"url" example:"rtsp://camera.local/stream" doc:"RTSP URL to pull"`
	}
}

// StatusResponse reports the pipeline's current state.
type StatusResponse struct {
	Body struct {
		State        string  `json:"state" example:"play" doc:"Pipeline state"`
		Playing      bool    `json:"playing" doc:"True while in the play state"`
		AudioClockMs int64   `json:"audio_clock_ms" doc:"Master clock position in milliseconds"`
		VideoClockMs int64   `json:"video_clock_ms" doc:"Last emitted video PTS in milliseconds"`
		Volume       float64 `json:"volume" doc:"Current gain 0..1"`
		Width        int     `json:"width,omitempty" doc:"Video width of the current session"`
		Height       int     `json:"height,omitempty" doc:"Video height of the current session"`
		FrameRate    float64 `json:"frame_rate,omitempty" doc:"Probed frame rate"`
	}
}

// VolumeRequest adjusts the playback gain.
type VolumeRequest struct {
	Body struct {
		Volume float64 `json:"volume" minimum:"0" maximum:"1" doc:"Gain 0..1"`
	}
}

func (s *Server) registerPlayerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "player-start",
		Method:      http.MethodPost,
		Path:        "/api/player/start",
		Summary:     "Start playback of an RTSP URL",
		Tags:        []string{"player"},
	}, func(_ context.Context, input *StartRequest) (*StatusResponse, error) {
		if err := s.player.Start(input.Body.URL); err != nil {
			return nil, huma.Error422UnprocessableEntity("failed to start playback", err)
		}
		return s.status(), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "player-stop",
		Method:      http.MethodPost,
		Path:        "/api/player/stop",
		Summary:     "Stop playback",
		Tags:        []string{"player"},
	}, func(_ context.Context, _ *struct{}) (*StatusResponse, error) {
		s.player.Stop()
		return s.status(), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "player-pause",
		Method:      http.MethodPost,
		Path:        "/api/player/pause",
		Summary:     "Pause playback",
		Tags:        []string{"player"},
	}, func(_ context.Context, _ *struct{}) (*StatusResponse, error) {
		s.player.Pause()
		return s.status(), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "player-resume",
		Method:      http.MethodPost,
		Path:        "/api/player/resume",
		Summary:     "Resume playback",
		Tags:        []string{"player"},
	}, func(_ context.Context, _ *struct{}) (*StatusResponse, error) {
		s.player.Resume()
		return s.status(), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "player-volume",
		Method:      http.MethodPut,
		Path:        "/api/player/volume",
		Summary:     "Set playback volume",
		Tags:        []string{"player"},
	}, func(_ context.Context, input *VolumeRequest) (*StatusResponse, error) {
		s.player.SetVolume(input.Body.Volume)
		return s.status(), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "player-status",
		Method:      http.MethodGet,
		Path:        "/api/player/status",
		Summary:     "Current pipeline status",
		Tags:        []string{"player"},
	}, func(_ context.Context, _ *struct{}) (*StatusResponse, error) {
		return s.status(), nil
	})
}

func (s *Server) status() *StatusResponse {
	resp := &StatusResponse{}
	resp.Body.State = s.player.State().String()
	resp.Body.Playing = s.player.IsPlaying()
	resp.Body.AudioClockMs = s.player.AudioClock()
	resp.Body.VideoClockMs = s.player.VideoClock()
	resp.Body.Volume = s.player.Volume()
	if info := s.player.StreamInfo(); info != nil {
		resp.Body.Width = info.Width
		resp.Body.Height = info.Height
		resp.Body.FrameRate = info.FrameRate
	}
	return resp
}
