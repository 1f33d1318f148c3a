package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lisuiheng/duplexvoice/audio"
	"github.com/lisuiheng/duplexvoice/metrics"
	"github.com/lisuiheng/duplexvoice/pkg/interfaces"
	"github.com/lisuiheng/duplexvoice/protocols/websocket"
	"github.com/lisuiheng/duplexvoice/utils"
)

// TransportFactory 为每次会话创建新的传输通道
type TransportFactory func(cfg Config, sessionID string, logger *slog.Logger) (interfaces.TransportProtocol, error)

// Client 会话控制器：把采集、传输、播放调度与打断控制接到连接生命周期上
type Client struct {
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	output        audio.Output
	scheduler     *audio.Scheduler
	interrupt     audio.Controller
	capture       *CaptureEncoder
	playbackCodec audio.FrameCodec
	newTransport  TransportFactory

	running    atomic.Bool
	frameMu    sync.Mutex // 串行化入队与断开时的 Flush
	stateMutex sync.RWMutex
	transport  interfaces.TransportProtocol
	sessionID  string
}

// Status 包含客户端状态信息
type Status struct {
	ConnectionState string  `json:"connection_state"`
	SessionID       string  `json:"session_id,omitempty"`
	Playback        string  `json:"playback"`
	QueuedFrames    int     `json:"queued_frames"`
	CaptureActive   bool    `json:"capture_active"`
	CaptureLevel    float32 `json:"capture_level"`
}

type options struct {
	output       audio.Output
	recorder     audio.Recorder
	newTransport TransportFactory
	metrics      *metrics.Metrics
}

// Option 替换客户端的外部协作者
type Option func(*options)

// WithOutput 使用指定的输出设备代替 PortAudio
func WithOutput(out audio.Output) Option {
	return func(o *options) { o.output = out }
}

// WithRecorder 使用指定的采集设备代替 miniaudio
func WithRecorder(rec audio.Recorder) Option {
	return func(o *options) { o.recorder = rec }
}

// WithTransportFactory 使用指定的传输通道工厂
func WithTransportFactory(f TransportFactory) Option {
	return func(o *options) { o.newTransport = f }
}

// WithMetrics 启用 Prometheus 指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// NewClient 创建一个新的语音客户端
func NewClient(cfg Config, log *slog.Logger, opts ...Option) (*Client, error) {
	if log == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.System.ClientID == "" {
		cfg.System.ClientID = uuid.NewString()
	}

	o := options{newTransport: NewProtocol}
	for _, opt := range opts {
		opt(&o)
	}

	playbackCodec, err := audio.NewCodec(cfg.Audio.Output.Encoding, cfg.Audio.Output.SampleRate, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create playback codec: %w", err)
	}
	captureCodec, err := audio.NewCodec(cfg.Audio.Input.Encoding, cfg.Audio.Input.SampleRate, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture codec: %w", err)
	}

	if o.recorder == nil {
		o.recorder, err = audio.NewRecorder(audio.Config{
			SampleRate:       cfg.Audio.Input.SampleRate,
			BlockSize:        cfg.Audio.Input.BlockSize,
			EchoCancellation: cfg.Audio.Input.EchoCancellation,
			NoiseSuppression: cfg.Audio.Input.NoiseSuppression,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create audio recorder: %w", err)
		}
	}

	if o.output == nil {
		o.output, err = audio.NewPCMPlayer(cfg.Audio.Output.SampleRate, cfg.Audio.Output.BufferSize, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create audio player: %w", err)
		}
	}

	scheduler := audio.NewScheduler(o.output, log, o.metrics)
	return &Client{
		config:        cfg,
		logger:        log,
		metrics:       o.metrics,
		output:        o.output,
		scheduler:     scheduler,
		interrupt:     audio.NewController(scheduler, log, o.metrics),
		capture:       NewCaptureEncoder(o.recorder, captureCodec, log, o.metrics),
		playbackCodec: playbackCodec,
		newTransport:  o.newTransport,
	}, nil
}

// Run 运行一次会话，直到 ctx 取消（返回 nil）或连接关闭（返回 ErrConnectionLost）。
// 采集设备获取失败返回 audio.ErrCaptureDevice。
func (c *Client) Run(ctx context.Context) error {
	_, err := c.run(ctx)
	return err
}

// Serve 反复运行会话，连接失败或丢失后按 strategy 退避重连。
// strategy 为 nil 时只运行一次。
func (c *Client) Serve(ctx context.Context, strategy utils.ReconnectStrategy) error {
	for {
		opened, err := c.run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if strategy == nil || !retryable(err) {
			return err
		}
		if opened {
			strategy.Reset()
		}

		delay := strategy.NextDelay()
		c.logger.Warn("Session ended, reconnecting", "error", err, "delay", delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func retryable(err error) bool {
	return errors.Is(err, ErrConnectionLost) || errors.Is(err, interfaces.ErrConnectionFailed)
}

func (c *Client) run(ctx context.Context) (opened bool, err error) {
	if !c.running.CompareAndSwap(false, true) {
		return false, ErrAlreadyRunning
	}
	defer c.running.Store(false)

	sessionID := uuid.NewString()
	transport, err := c.newTransport(c.config, sessionID, c.logger)
	if err != nil {
		return false, err
	}

	transport.OnFrame(func(data []byte) { c.handleFrame(transport, data) })
	transport.OnControl(c.interrupt.HandleControl)
	transport.OnStateChange(c.handleStateChange)
	c.setTransport(transport, sessionID)
	defer c.teardown(transport)

	c.logger.Info("Connecting to server",
		"transport", transport.ProtocolType(),
		"session_id", sessionID)
	if err := transport.Connect(ctx); err != nil {
		c.logger.Error("Failed to connect to server", "error", err)
		return false, err
	}

	if err := c.capture.Start(transport); err != nil {
		c.logger.Error("Failed to acquire capture device", "error", err)
		return true, err
	}
	c.logger.Info("Session started", "session_id", sessionID)

	lost := c.capture.Lost()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Context cancelled, stopping session")
			return true, nil
		case <-transport.Done():
			return true, ErrConnectionLost
		case <-lost:
			// 采集失效不影响播放和连接
			c.logger.Error("Capture stopped, continuing with playback only", "error", audio.ErrCaptureDevice)
			if err := c.capture.Stop(); err != nil {
				c.logger.Warn("Failed to release capture device", "error", err)
			}
			lost = nil
		}
	}
}

// handleStateChange 连接关闭时立即停止采集并清空播放
func (c *Client) handleStateChange(state interfaces.ConnectionState) {
	c.metrics.SetConnectionState(int(state))
	if state == interfaces.StateClosed {
		c.stopPipeline()
	}
}

func (c *Client) stopPipeline() {
	if err := c.capture.Stop(); err != nil {
		c.logger.Warn("Failed to release capture device", "error", err)
	}
	c.frameMu.Lock()
	c.scheduler.Flush()
	c.frameMu.Unlock()
}

func (c *Client) teardown(transport interfaces.TransportProtocol) {
	c.stopPipeline()
	if err := transport.Close(); err != nil {
		c.logger.Error("Failed to close transport", "error", err)
	}
	c.setTransport(nil, "")
	c.logger.Info("Session stopped")
}

// handleFrame 解码并按到达顺序入队；损坏的帧和连接关闭后才交付的帧被丢弃。
// 传输层先切换到 Closed 再通知，因此在 frameMu 内看到 Open 的帧一定早于断开时的 Flush。
func (c *Client) handleFrame(transport interfaces.TransportProtocol, data []byte) {
	c.metrics.FrameReceived()

	samples, err := c.playbackCodec.Decode(data)
	if err != nil {
		c.metrics.FrameMalformed()
		c.logger.Warn("Dropping malformed audio frame", "error", err, "bytes", len(data))
		return
	}

	c.frameMu.Lock()
	defer c.frameMu.Unlock()
	if transport.State() != interfaces.StateOpen {
		c.logger.Debug("Dropping audio frame delivered after disconnect", "bytes", len(data))
		return
	}
	c.scheduler.Enqueue(audio.Frame{Samples: samples})
}

func (c *Client) setTransport(t interfaces.TransportProtocol, sessionID string) {
	c.stateMutex.Lock()
	defer c.stateMutex.Unlock()
	c.transport = t
	c.sessionID = sessionID
}

// GetStatus 获取当前状态
func (c *Client) GetStatus() Status {
	c.stateMutex.RLock()
	transport, sessionID := c.transport, c.sessionID
	c.stateMutex.RUnlock()

	state := interfaces.StateIdle
	if transport != nil {
		state = transport.State()
	}

	return Status{
		ConnectionState: state.String(),
		SessionID:       sessionID,
		Playback:        string(c.scheduler.State()),
		QueuedFrames:    c.scheduler.Pending(),
		CaptureActive:   c.capture.Active(),
		CaptureLevel:    c.capture.Level(),
	}
}

// Close 释放客户端持有的设备
func (c *Client) Close() error {
	c.logger.Info("Closing client")

	c.stateMutex.RLock()
	transport := c.transport
	c.stateMutex.RUnlock()
	if transport != nil {
		if err := transport.Close(); err != nil {
			c.logger.Error("Failed to close transport", "error", err)
		}
	}
	c.stopPipeline()

	if closer, ok := c.output.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to close audio output: %w", err)
		}
	}
	c.logger.Info("Client closed successfully")
	return nil
}

// NewProtocol 根据配置创建对应的协议实例
func NewProtocol(config Config, sessionID string, logger *slog.Logger) (interfaces.TransportProtocol, error) {
	switch config.System.Network.Transport {
	case "websocket":
		ws := config.System.Network.Websocket
		if ws == nil {
			return nil, errors.New("websocket config missing")
		}
		return websocket.NewWebSocketProtocol(websocket.Config{
			URL:              ws.URL,
			AccessToken:      ws.AccessToken,
			ProtocolVersion:  1,
			ClientID:         config.System.ClientID,
			SessionID:        sessionID,
			HandshakeTimeout: ws.HandshakeTimeout,
			WriteTimeout:     ws.WriteTimeout,
			PingInterval:     ws.PingInterval,
			SendQueue:        ws.SendQueue,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnsupportedProtocol, config.System.Network.Transport)
	}
}
