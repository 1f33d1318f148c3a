package core

import (
	"errors"
	"testing"
	"time"

	"github.com/lisuiheng/duplexvoice/pkg/interfaces"
	"github.com/lisuiheng/duplexvoice/protocols/websocket"
)

func testConfig() Config {
	var cfg Config
	cfg.System.Network.Transport = "websocket"
	cfg.System.Network.Websocket = &WebsocketConfig{URL: "ws://127.0.0.1:1/ws"}
	cfg.System.Reconnect = ReconnectConfig{Enabled: true, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	cfg.Audio.Input = InputConfig{SampleRate: 16000, BlockSize: 320, Encoding: "float32"}
	cfg.Audio.Output = OutputConfig{SampleRate: 1000, Encoding: "pcm16", BufferSize: 64}
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "valid", mutate: func(*Config) {}, ok: true},
		{name: "opus input", mutate: func(c *Config) {
			c.Audio.Input = InputConfig{SampleRate: 48000, BlockSize: 960, Encoding: "opus"}
		}, ok: true},
		{name: "unsupported transport", mutate: func(c *Config) { c.System.Network.Transport = "mqtt" }},
		{name: "missing websocket", mutate: func(c *Config) { c.System.Network.Websocket = nil }},
		{name: "empty url", mutate: func(c *Config) { c.System.Network.Websocket.URL = "" }},
		{name: "negative send queue", mutate: func(c *Config) { c.System.Network.Websocket.SendQueue = -1 }},
		{name: "reconnect max below initial", mutate: func(c *Config) {
			c.System.Reconnect.MaxDelay = 0
		}},
		{name: "zero block size", mutate: func(c *Config) { c.Audio.Input.BlockSize = 0 }},
		{name: "opus input rate", mutate: func(c *Config) {
			c.Audio.Input = InputConfig{SampleRate: 44100, BlockSize: 882, Encoding: "opus"}
		}},
		{name: "opus block size", mutate: func(c *Config) {
			c.Audio.Input = InputConfig{SampleRate: 16000, BlockSize: 300, Encoding: "opus"}
		}},
		{name: "unknown input encoding", mutate: func(c *Config) { c.Audio.Input.Encoding = "mulaw" }},
		{name: "unknown output encoding", mutate: func(c *Config) { c.Audio.Output.Encoding = "mp3" }},
		{name: "opus output rate", mutate: func(c *Config) {
			c.Audio.Output.Encoding = "opus"
			c.Audio.Output.SampleRate = 22050
		}},
		{name: "zero output buffer", mutate: func(c *Config) { c.Audio.Output.BufferSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			ws := *cfg.System.Network.Websocket
			cfg.System.Network.Websocket = &ws
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestNewProtocol(t *testing.T) {
	cfg := testConfig()
	tr, err := NewProtocol(cfg, "session-1", discardLogger())
	if err != nil {
		t.Fatalf("NewProtocol: %v", err)
	}
	if _, ok := tr.(*websocket.WSProtocol); !ok {
		t.Fatalf("got %T, want *websocket.WSProtocol", tr)
	}
	if tr.State() != interfaces.StateIdle {
		t.Fatalf("state = %v, want idle", tr.State())
	}

	cfg.System.Network.Transport = "udp"
	if _, err := NewProtocol(cfg, "session-1", discardLogger()); !errors.Is(err, interfaces.ErrUnsupportedProtocol) {
		t.Fatalf("err = %v, want ErrUnsupportedProtocol", err)
	}
}
