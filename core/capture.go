package core

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/lisuiheng/duplexvoice/audio"
	"github.com/lisuiheng/duplexvoice/metrics"
	"github.com/lisuiheng/duplexvoice/pkg/interfaces"
)

// 丢帧原因
const (
	dropNotConnected = "not_connected"
	dropBackpressure = "backpressure"
	dropEncodeError  = "encode_error"
	dropSendError    = "send_error"
)

// CaptureEncoder 把采集设备的定长块编码后立即交给传输层。
// 本地不排队：连接未打开或传输层拒绝时直接丢弃该块。
type CaptureEncoder struct {
	recorder audio.Recorder
	codec    audio.FrameCodec
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu        sync.Mutex
	transport interfaces.TransportProtocol
	active    atomic.Bool
	level     atomic.Uint32
}

// NewCaptureEncoder 创建采集编码器
func NewCaptureEncoder(rec audio.Recorder, codec audio.FrameCodec, logger *slog.Logger, m *metrics.Metrics) *CaptureEncoder {
	return &CaptureEncoder{
		recorder: rec,
		codec:    codec,
		logger:   logger,
		metrics:  m,
	}
}

// Start 绑定传输通道并获取采集设备
func (e *CaptureEncoder) Start(transport interfaces.TransportProtocol) error {
	e.mu.Lock()
	e.transport = transport
	e.mu.Unlock()

	if err := e.recorder.Start(e.handleBlock); err != nil {
		e.mu.Lock()
		e.transport = nil
		e.mu.Unlock()
		if !errors.Is(err, audio.ErrCaptureDevice) {
			err = fmt.Errorf("%w: %v", audio.ErrCaptureDevice, err)
		}
		return err
	}
	e.active.Store(true)
	return nil
}

// Stop 停止产生新块并释放采集设备，可重复调用
func (e *CaptureEncoder) Stop() error {
	e.active.Store(false)
	err := e.recorder.Stop()

	e.mu.Lock()
	e.transport = nil
	e.mu.Unlock()

	e.level.Store(0)
	e.metrics.SetCaptureLevel(0)
	return err
}

// Lost 在采集设备意外失效时关闭
func (e *CaptureEncoder) Lost() <-chan struct{} {
	return e.recorder.Lost()
}

// Active 采集是否在进行
func (e *CaptureEncoder) Active() bool {
	return e.active.Load()
}

// Level 最近一个采集块的 RMS 电平，只读旁路，供界面显示
func (e *CaptureEncoder) Level() float32 {
	return math.Float32frombits(e.level.Load())
}

func (e *CaptureEncoder) handleBlock(block []float32) {
	if !e.active.Load() {
		return
	}

	level := audio.Level(block)
	e.level.Store(math.Float32bits(level))
	e.metrics.SetCaptureLevel(level)

	e.mu.Lock()
	transport := e.transport
	e.mu.Unlock()

	if transport == nil || transport.State() != interfaces.StateOpen {
		e.metrics.FrameDropped(dropNotConnected)
		return
	}

	data, err := e.codec.Encode(block)
	if err != nil {
		e.metrics.FrameDropped(dropEncodeError)
		e.logger.Error("Failed to encode capture block", "error", err, "codec", e.codec.Name())
		return
	}

	switch err := transport.Send(data, interfaces.MsgBinary); {
	case err == nil:
		e.metrics.FrameSent()
	case errors.Is(err, interfaces.ErrNotConnected):
		e.metrics.FrameDropped(dropNotConnected)
	case errors.Is(err, interfaces.ErrSendQueueFull):
		e.metrics.FrameDropped(dropBackpressure)
		e.logger.Debug("Transport busy, dropping capture block", "bytes", len(data))
	default:
		e.metrics.FrameDropped(dropSendError)
		e.logger.Warn("Failed to send capture block", "error", err)
	}
}
