package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/lisuiheng/duplexvoice/core"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
system:
  network:
    websocket:
      url: ws://localhost:8000/ws
`)
	cfg, err := loadConfig(viper.New(), path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	ws := cfg.System.Network.Websocket
	if ws == nil || ws.URL != "ws://localhost:8000/ws" {
		t.Fatalf("websocket config = %+v", ws)
	}
	if ws.PingInterval != 20*time.Second || ws.SendQueue != 32 {
		t.Fatalf("websocket defaults not applied: %+v", ws)
	}
	if cfg.Audio.Input.SampleRate != 16000 || cfg.Audio.Input.BlockSize != 320 || cfg.Audio.Input.Encoding != "float32" {
		t.Fatalf("input defaults not applied: %+v", cfg.Audio.Input)
	}
	if !cfg.Audio.Input.EchoCancellation || !cfg.Audio.Input.NoiseSuppression {
		t.Fatalf("echo cancellation and noise suppression should default on: %+v", cfg.Audio.Input)
	}
	if cfg.Audio.Output.SampleRate != 22050 || cfg.Audio.Output.Encoding != "pcm16" {
		t.Fatalf("output defaults not applied: %+v", cfg.Audio.Output)
	}
	if !cfg.System.Reconnect.Enabled || cfg.System.Reconnect.MaxDelay != 30*time.Second {
		t.Fatalf("reconnect defaults not applied: %+v", cfg.System.Reconnect)
	}
	if cfg.Metrics.Namespace != "duplexvoice" {
		t.Fatalf("metrics namespace = %q", cfg.Metrics.Namespace)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
system:
  client_id: kitchen
  network:
    websocket:
      url: wss://agent.example/ws
      ping_interval: 5s
audio:
  input:
    sample_rate: 48000
    block_size: 960
    encoding: opus
  output:
    sample_rate: 24000
logging:
  level: debug
  format: json
`)
	cfg, err := loadConfig(viper.New(), path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.System.ClientID != "kitchen" {
		t.Fatalf("client id = %q", cfg.System.ClientID)
	}
	if cfg.System.Network.Websocket.PingInterval != 5*time.Second {
		t.Fatalf("ping interval = %v", cfg.System.Network.Websocket.PingInterval)
	}
	if cfg.Audio.Input.Encoding != "opus" || cfg.Audio.Input.BlockSize != 960 {
		t.Fatalf("input = %+v", cfg.Audio.Input)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("logging format = %q", cfg.Logging.Format)
	}
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("DUPLEXVOICE_SYSTEM_NETWORK_WEBSOCKET_URL", "ws://env-host/ws")
	path := writeConfig(t, "logging:\n  level: warn\n")

	cfg, err := loadConfig(viper.New(), path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.System.Network.Websocket.URL != "ws://env-host/ws" {
		t.Fatalf("url = %q, want value from environment", cfg.System.Network.Websocket.URL)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	path := writeConfig(t, `
system:
  network:
    websocket:
      url: ws://localhost/ws
audio:
  input:
    encoding: opus
    sample_rate: 44100
`)
	_, err := loadConfig(viper.New(), path)
	if !errors.Is(err, core.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := loadConfig(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}
