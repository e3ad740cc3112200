// Package cmd holds the cobra subcommands.
package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/rtsppull/internal/audio"
	"github.com/smazurov/rtsppull/internal/codec"
	"github.com/smazurov/rtsppull/internal/events"
	"github.com/smazurov/rtsppull/internal/ffmpeg"
	"github.com/smazurov/rtsppull/internal/logging"
	"github.com/smazurov/rtsppull/internal/player"
	"github.com/smazurov/rtsppull/internal/source"
)

// CreatePlayCmd creates the play command: headless playback of one URL
// until end of stream, a fatal error, or an interrupt.
func CreatePlayCmd() *cobra.Command {
	var (
		timeoutMs   int
		hardware    bool
		audioDevice string
		demuxerName string
		volume      float64
		logJSON     bool
		logLevel    string
	)

	cmd := &cobra.Command{
		Use:   "play <rtsp-url>",
		Short: "Play an RTSP stream headlessly",
		Long: `Pulls the given RTSP URL over TCP, decodes audio and video, plays ` +
			`audio on the local device, and paces video against the audio clock. ` +
			`Video frames are decoded and dropped unless an embedder attaches a renderer.`,
		Args: cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			url := args[0]

			loggingConfig := logging.Config{Level: logLevel, Format: "text"}
			if logJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)
			logger := logging.GetLogger("play")

			reg := codec.NewRegistry()
			ffmpeg.Register(reg)

			bus := events.New()
			cfg := player.DefaultConfig()
			cfg.ConnectTimeout = time.Duration(timeoutMs) * time.Millisecond
			cfg.HardwareDecoding = hardware
			cfg.Volume = volume

			p := player.New(cfg, reg, bus)
			p.SetDeviceFactory(func() audio.Device {
				return audio.NewPlatformDevice(audioDevice)
			})
			if demuxerName == "ffmpeg" {
				p.SetDemuxerFactory(func(u string, timeout time.Duration) source.Demuxer {
					return ffmpeg.NewDemuxer(ffmpeg.DemuxConfig{URL: u, Timeout: timeout})
				})
			}

			done := make(chan struct{}, 1)
			bus.Subscribe(func(e events.StateChangedEvent) {
				if e.State == player.StateEnd.String() || e.State == player.StateError.String() {
					select {
					case done <- struct{}{}:
					default:
					}
				}
			})

			if err := p.Start(url); err != nil {
				logger.Error("failed to start playback", "error", err)
				os.Exit(1)
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

			select {
			case <-sig:
				logger.Info("interrupted, stopping")
				p.Stop()
			case <-done:
			}
		},
	}

	cmd.Flags().IntVar(&timeoutMs, "timeout", 3000, "Connection timeout in milliseconds")
	cmd.Flags().BoolVar(&hardware, "hardware", true, "Use hardware video decoding when available")
	cmd.Flags().StringVar(&audioDevice, "audio-device", "", `Audio output device ("hw:0,0", "none" for silent)`)
	cmd.Flags().StringVar(&demuxerName, "demuxer", "native", "Demuxer backend: native or ffmpeg")
	cmd.Flags().Float64Var(&volume, "volume", 0.5, "Initial volume 0..1")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Use JSON log format")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	return cmd
}
