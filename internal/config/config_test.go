package config

import (
	"os"
	"path/filepath"
	"testing"
)

type testOptions struct {
	Config string

	Port             string  `toml:"server.port" env:"SERVER_PORT"`
	URL              string  `toml:"player.url" env:"PLAYER_URL"`
	ConnectTimeoutMs int     `toml:"player.connect_timeout_ms" env:"PLAYER_CONNECT_TIMEOUT_MS"`
	HardwareDecoding bool    `toml:"player.hardware_decoding" env:"PLAYER_HARDWARE_DECODING"`
	Volume           float64 `toml:"player.volume" env:"PLAYER_VOLUME"`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromTOML(t *testing.T) {
	path := writeConfig(t, `
[server]
port = ":9999"

[player]
url = "rtsp://cam.local/stream"
connect_timeout_ms = 5000
hardware_decoding = false
volume = 0.8
`)
	opts := testOptions{Config: path, Port: ":8090"}
	if err := LoadConfig(&opts, nil); err != nil {
		t.Fatal(err)
	}

	if opts.Port != ":9999" {
		t.Errorf("Port = %q", opts.Port)
	}
	if opts.URL != "rtsp://cam.local/stream" {
		t.Errorf("URL = %q", opts.URL)
	}
	if opts.ConnectTimeoutMs != 5000 {
		t.Errorf("ConnectTimeoutMs = %d", opts.ConnectTimeoutMs)
	}
	if opts.HardwareDecoding {
		t.Error("HardwareDecoding not overridden")
	}
	if opts.Volume != 0.8 {
		t.Errorf("Volume = %v", opts.Volume)
	}
}

func TestEnvOverridesTOML(t *testing.T) {
	path := writeConfig(t, `
[player]
url = "rtsp://from-file/"
`)
	t.Setenv(EnvPrefix+"PLAYER_URL", "rtsp://from-env/")

	opts := testOptions{Config: path}
	if err := LoadConfig(&opts, nil); err != nil {
		t.Fatal(err)
	}
	if opts.URL != "rtsp://from-env/" {
		t.Errorf("URL = %q, env should win over file", opts.URL)
	}
}

func TestMissingFileIsNotAnError(t *testing.T) {
	opts := testOptions{Config: "/nonexistent/config.toml", Port: ":8090"}
	if err := LoadConfig(&opts, nil); err != nil {
		t.Fatalf("missing config file: %v", err)
	}
	if opts.Port != ":8090" {
		t.Errorf("defaults clobbered: %q", opts.Port)
	}
}

func TestMalformedTOMLIsAnError(t *testing.T) {
	path := writeConfig(t, "[player")
	opts := testOptions{Config: path}
	if err := LoadConfig(&opts, nil); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadLoggingConfig(t *testing.T) {
	path := writeConfig(t, `
[logging]
level = "debug"
format = "json"
sink = "warn"
videodec = "error"
`)
	cfg := LoadLoggingConfig(path)
	if cfg.Level != "debug" || cfg.Format != "json" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Modules["sink"] != "warn" || cfg.Modules["videodec"] != "error" {
		t.Errorf("modules = %v", cfg.Modules)
	}
}

func TestLoadLoggingConfigDefaults(t *testing.T) {
	cfg := LoadLoggingConfig("/nonexistent/config.toml")
	if cfg.Level != "info" || cfg.Format != "text" {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestFieldNameToFlag(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Port", "port"},
		{"LoggingLevel", "logging-level"},
		{"ConnectTimeoutMs", "connect-timeout-ms"},
	}
	for _, tt := range tests {
		if got := fieldNameToFlag(tt.in); got != tt.want {
			t.Errorf("fieldNameToFlag(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
