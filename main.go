package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/rtsppull/cmd"
	"github.com/smazurov/rtsppull/internal/api"
	"github.com/smazurov/rtsppull/internal/audio"
	"github.com/smazurov/rtsppull/internal/codec"
	"github.com/smazurov/rtsppull/internal/config"
	"github.com/smazurov/rtsppull/internal/events"
	"github.com/smazurov/rtsppull/internal/ffmpeg"
	"github.com/smazurov/rtsppull/internal/logging"
	"github.com/smazurov/rtsppull/internal/player"
	"github.com/smazurov/rtsppull/internal/source"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Address to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Player settings
	URL              string  `help:"RTSP URL to start playing immediately" toml:"player.url" env:"PLAYER_URL"`
	ConnectTimeoutMs int     `help:"RTSP connection timeout in milliseconds" default:"3000" toml:"player.connect_timeout_ms" env:"PLAYER_CONNECT_TIMEOUT_MS"`
	HardwareDecoding bool    `help:"Use hardware video decoding when available" default:"true" toml:"player.hardware_decoding" env:"PLAYER_HARDWARE_DECODING"`
	Volume           float64 `help:"Initial volume 0..1" default:"0.5" toml:"player.volume" env:"PLAYER_VOLUME"`
	AudioDevice      string  `help:"Audio output device (empty for default, none for silent)" toml:"player.audio_device" env:"PLAYER_AUDIO_DEVICE"`
	Demuxer          string  `help:"Demuxer backend: native or ffmpeg" default:"native" toml:"player.demuxer" env:"PLAYER_DEMUXER"`

	// Logging settings
	LoggingLevel    string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat   string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingSource   string `help:"Packet source logging level" default:"info" toml:"logging.source" env:"LOGGING_SOURCE"`
	LoggingAudioDec string `help:"Audio decoder logging level" default:"info" toml:"logging.audiodec" env:"LOGGING_AUDIODEC"`
	LoggingVideoDec string `help:"Video decoder logging level" default:"info" toml:"logging.videodec" env:"LOGGING_VIDEODEC"`
	LoggingSink     string `help:"Audio sink logging level" default:"info" toml:"logging.sink" env:"LOGGING_SINK"`
	LoggingPlayer   string `help:"Player logging level" default:"info" toml:"logging.player" env:"LOGGING_PLAYER"`
	LoggingAPI      string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, nil); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"source":   opts.LoggingSource,
				"audiodec": opts.LoggingAudioDec,
				"videodec": opts.LoggingVideoDec,
				"sink":     opts.LoggingSink,
				"player":   opts.LoggingPlayer,
				"api":      opts.LoggingAPI,
			},
		})
		logger := logging.GetLogger("main")

		eventBus := events.New()

		// Feed log entries into the SSE stream.
		var logSeq uint64
		logging.SetLogCallback(func(entry logging.LogEntry) {
			logSeq++
			eventBus.Publish(events.LogEntryEvent{
				Seq:        logSeq,
				Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
				Level:      entry.Level,
				Module:     entry.Module,
				Message:    entry.Message,
				Attributes: entry.Attributes,
			})
		})

		registry := codec.NewRegistry()
		ffmpeg.Register(registry)

		playerCfg := player.DefaultConfig()
		playerCfg.ConnectTimeout = time.Duration(opts.ConnectTimeoutMs) * time.Millisecond
		playerCfg.HardwareDecoding = opts.HardwareDecoding
		playerCfg.Volume = opts.Volume

		p := player.New(playerCfg, registry, eventBus)
		p.SetDeviceFactory(func() audio.Device {
			return audio.NewPlatformDevice(opts.AudioDevice)
		})
		if opts.Demuxer == "ffmpeg" {
			p.SetDemuxerFactory(func(u string, timeout time.Duration) source.Demuxer {
				return ffmpeg.NewDemuxer(ffmpeg.DemuxConfig{URL: u, Timeout: timeout})
			})
		}

		server := api.New(p, eventBus, opts.Port, logging.GetLogger("api"))

		// Hot-reload log levels on config file changes.
		watcher := config.NewConfigWatcher(
			opts.Config,
			func(path string) (logging.Config, error) {
				return config.LoadLoggingConfig(path), nil
			},
			logger,
		)
		watcher.OnReload(func(cfg logging.Config) {
			for module, level := range cfg.Modules {
				logging.SetLevel(module, level)
			}
		})

		hooks.OnStart(func() {
			if err := watcher.Start(); err != nil {
				logger.Warn("Failed to start config watcher, hot-reload disabled", "error", err)
			}

			if opts.URL != "" {
				go func() {
					if err := p.Start(opts.URL); err != nil {
						logger.Error("Failed to start playback", "error", err)
					}
				}()
			}

			if err := server.Start(); err != nil {
				logger.Error("API server failed", "error", err)
			}
		})

		hooks.OnStop(func() {
			p.Stop()
			_ = watcher.Stop()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(ctx)
		})
	})

	cli.Root().Use = "rtsppull"
	cli.Root().AddCommand(cmd.CreatePlayCmd())

	cli.Run()
}
