package core

import (
	"fmt"
	"slices"
	"time"

	"github.com/lisuiheng/duplexvoice/audio"
)

// Config 是客户端配置结构（与 YAML 文件结构一致）
type Config struct {
	System struct {
		ClientID string `mapstructure:"client_id"`

		Network struct {
			Transport string           `mapstructure:"transport"`
			Websocket *WebsocketConfig `mapstructure:"websocket"`
		} `mapstructure:"network"`

		Reconnect ReconnectConfig `mapstructure:"reconnect"`
	} `mapstructure:"system"`

	Audio struct {
		Input  InputConfig  `mapstructure:"input"`
		Output OutputConfig `mapstructure:"output"`
	} `mapstructure:"audio"`

	Logging struct {
		Level   string   `mapstructure:"level"`
		Format  string   `mapstructure:"format"`
		Outputs []string `mapstructure:"outputs"`
	} `mapstructure:"logging"`

	Metrics struct {
		Listen    string `mapstructure:"listen"`
		Namespace string `mapstructure:"namespace"`
	} `mapstructure:"metrics"`
}

type WebsocketConfig struct {
	URL              string        `mapstructure:"url"`
	AccessToken      string        `mapstructure:"access_token"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	SendQueue        int           `mapstructure:"send_queue"`
}

type ReconnectConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

// InputConfig 采集方向：麦克风 → 服务端
type InputConfig struct {
	SampleRate       int    `mapstructure:"sample_rate"`
	BlockSize        int    `mapstructure:"block_size"`
	Encoding         string `mapstructure:"encoding"`
	EchoCancellation bool   `mapstructure:"echo_cancellation"`
	NoiseSuppression bool   `mapstructure:"noise_suppression"`
}

// OutputConfig 播放方向：服务端 → 扬声器
type OutputConfig struct {
	SampleRate int    `mapstructure:"sample_rate"`
	Encoding   string `mapstructure:"encoding"`
	BufferSize int    `mapstructure:"buffer_size"`
}

// Validate 检查配置的取值范围
func (c Config) Validate() error {
	if c.System.Network.Transport != "websocket" {
		return fmt.Errorf("%w: unsupported transport %q", ErrInvalidConfig, c.System.Network.Transport)
	}
	if c.System.Network.Websocket == nil || c.System.Network.Websocket.URL == "" {
		return fmt.Errorf("%w: websocket url is required", ErrInvalidConfig)
	}
	if c.System.Network.Websocket.SendQueue < 0 {
		return fmt.Errorf("%w: send_queue must not be negative", ErrInvalidConfig)
	}
	if c.System.Reconnect.Enabled && c.System.Reconnect.MaxDelay < c.System.Reconnect.InitialDelay {
		return fmt.Errorf("%w: reconnect max_delay is below initial_delay", ErrInvalidConfig)
	}

	in := c.Audio.Input
	if in.SampleRate <= 0 || in.BlockSize <= 0 {
		return fmt.Errorf("%w: input sample_rate and block_size must be positive", ErrInvalidConfig)
	}
	switch in.Encoding {
	case audio.EncodingFloat32, audio.EncodingPCM16:
	case audio.EncodingOpus:
		if !slices.Contains(audio.OpusSampleRates, in.SampleRate) {
			return fmt.Errorf("%w: opus does not support input sample rate %d", ErrInvalidConfig, in.SampleRate)
		}
		if !audio.ValidOpusFrame(in.SampleRate, in.BlockSize) {
			return fmt.Errorf("%w: block_size %d is not a valid opus frame at %d Hz", ErrInvalidConfig, in.BlockSize, in.SampleRate)
		}
	default:
		return fmt.Errorf("%w: unknown input encoding %q", ErrInvalidConfig, in.Encoding)
	}

	out := c.Audio.Output
	if out.SampleRate <= 0 || out.BufferSize <= 0 {
		return fmt.Errorf("%w: output sample_rate and buffer_size must be positive", ErrInvalidConfig)
	}
	switch out.Encoding {
	case audio.EncodingPCM16:
	case audio.EncodingOpus:
		if !slices.Contains(audio.OpusSampleRates, out.SampleRate) {
			return fmt.Errorf("%w: opus does not support output sample rate %d", ErrInvalidConfig, out.SampleRate)
		}
	default:
		return fmt.Errorf("%w: unknown output encoding %q", ErrInvalidConfig, out.Encoding)
	}
	return nil
}
