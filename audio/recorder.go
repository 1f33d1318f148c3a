package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

var ErrCaptureDevice = errors.New("capture device error")

var _ Recorder = (*recorder)(nil)

// Config 采集设备参数
type Config struct {
	SampleRate       int
	BlockSize        int // 每块采样数
	EchoCancellation bool
	NoiseSuppression bool
}

type recorder struct {
	config Config
	logger *slog.Logger

	mu       sync.Mutex
	ctx      *malgo.AllocatedContext
	device   *malgo.Device
	lost     chan struct{} // 未启动时为 nil
	stopping atomic.Bool
}

// NewRecorder 创建 miniaudio 采集器，设备在 Start 时才被获取
func NewRecorder(cfg Config, logger *slog.Logger) (Recorder, error) {
	if cfg.SampleRate <= 0 || cfg.BlockSize <= 0 {
		return nil, fmt.Errorf("invalid capture config: sample_rate=%d block_size=%d", cfg.SampleRate, cfg.BlockSize)
	}
	if cfg.EchoCancellation || cfg.NoiseSuppression {
		logger.Warn("Capture backend has no echo cancellation or noise suppression, using raw input",
			"echo_cancellation", cfg.EchoCancellation,
			"noise_suppression", cfg.NoiseSuppression)
	}

	return &recorder{
		config: cfg,
		logger: logger,
	}, nil
}

func (r *recorder) Start(handler BlockHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.device != nil {
		return fmt.Errorf("%w: already started", ErrCaptureDevice)
	}

	ctxMalgo, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		r.logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return fmt.Errorf("%w: failed to initialize audio context: %v", ErrCaptureDevice, err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(r.config.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(r.config.BlockSize)

	blocks := newBlocker(r.config.BlockSize, handler)
	lost := make(chan struct{})
	lostOnce := &sync.Once{}
	r.stopping.Store(false)

	device, err := malgo.InitDevice(ctxMalgo.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, pcmData []byte, _ uint32) {
			blocks.WriteBytes(pcmData)
		},
		Stop: func() {
			if r.stopping.Load() {
				return
			}
			r.logger.Error("Capture device stopped unexpectedly")
			lostOnce.Do(func() { close(lost) })
		},
	})
	if err != nil {
		_ = ctxMalgo.Uninit()
		ctxMalgo.Free()
		return fmt.Errorf("%w: failed to initialize audio device: %v", ErrCaptureDevice, err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctxMalgo.Uninit()
		ctxMalgo.Free()
		return fmt.Errorf("%w: failed to start audio device: %v", ErrCaptureDevice, err)
	}

	r.ctx = ctxMalgo
	r.device = device
	r.lost = lost

	r.logger.Info("Audio recording started",
		"sample_rate", r.config.SampleRate,
		"block_size", r.config.BlockSize)
	return nil
}

func (r *recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.device == nil {
		return nil
	}

	r.stopping.Store(true)
	var err error
	if stopErr := r.device.Stop(); stopErr != nil {
		err = fmt.Errorf("failed to stop audio device: %w", stopErr)
	}
	r.device.Uninit()
	_ = r.ctx.Uninit()
	r.ctx.Free()
	r.device = nil
	r.ctx = nil

	r.logger.Info("Audio recording stopped")
	return err
}

func (r *recorder) Lost() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lost
}

// blocker 把设备回调的变长缓冲切分为固定大小的块，只保留一个未满的块
type blocker struct {
	block   []float32
	n       int
	handler BlockHandler
	carry   []byte
}

func newBlocker(size int, handler BlockHandler) *blocker {
	return &blocker{
		block:   make([]float32, size),
		handler: handler,
	}
}

// WriteBytes 接收 float32 LE 字节，跨回调保留不完整的采样字节
func (b *blocker) WriteBytes(data []byte) {
	if len(b.carry) > 0 {
		need := 4 - len(b.carry)
		if len(data) < need {
			b.carry = append(b.carry, data...)
			return
		}
		b.carry = append(b.carry, data[:need]...)
		b.Write(bytesToFloat32(b.carry))
		b.carry = b.carry[:0]
		data = data[need:]
	}
	whole := len(data) - len(data)%4
	b.Write(bytesToFloat32(data[:whole]))
	if whole < len(data) {
		b.carry = append(b.carry, data[whole:]...)
	}
}

// Write 追加采样，每凑满一块调用一次 handler
func (b *blocker) Write(samples []float32) {
	for len(samples) > 0 {
		c := copy(b.block[b.n:], samples)
		b.n += c
		samples = samples[c:]
		if b.n == len(b.block) {
			b.handler(b.block)
			b.n = 0
		}
	}
}

// Level 计算采样块的 RMS 电平
func Level(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(samples))))
}
