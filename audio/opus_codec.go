package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hraban/opus"
)

const (
	defaultOpusBitrate = 32000
	maxOpusFrameSize   = 5760 // 48kHz 下 120ms
	maxOpusPacketSize  = 4000
)

// OpusSampleRates opus 支持的采样率
var OpusSampleRates = []int{8000, 12000, 16000, 24000, 48000}

// ValidOpusFrame 判断块大小是否对应 opus 允许的帧时长（2.5/5/10/20/40/60ms）
func ValidOpusFrame(sampleRate, samples int) bool {
	for _, tenthsMs := range []int{25, 50, 100, 200, 400, 600} {
		if sampleRate*tenthsMs == samples*10000 {
			return true
		}
	}
	return false
}

// OpusCodec OPUS 编解码器，编码与解码各自加锁，可在不同 goroutine 中使用
type OpusCodec struct {
	encMu    sync.Mutex
	encoder  *opus.Encoder
	decMu    sync.Mutex
	decoder  *opus.Decoder
	channels int
	logger   *slog.Logger
}

// NewOpusCodec 创建新的 OPUS 编解码器
func NewOpusCodec(sampleRate, channels, bitrate int, logger *slog.Logger) (*OpusCodec, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	if err := enc.SetBitrate(bitrate); err != nil {
		return nil, fmt.Errorf("failed to set bitrate: %w", err)
	}

	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &OpusCodec{
		encoder:  enc,
		decoder:  dec,
		channels: channels,
		logger:   logger,
	}, nil
}

func (c *OpusCodec) Name() string { return EncodingOpus }

// Decode 解码一个 OPUS 包，解码失败视为帧损坏
func (c *OpusCodec) Decode(data []byte) ([]float32, error) {
	c.decMu.Lock()
	defer c.decMu.Unlock()

	if c.decoder == nil {
		return nil, errors.New("decoder not initialized")
	}

	pcm := make([]float32, maxOpusFrameSize*c.channels)
	n, err := c.decoder.DecodeFloat32(data, pcm)
	if err != nil {
		return nil, fmt.Errorf("%w: opus decode failed: %v", ErrMalformedFrame, err)
	}
	return pcm[:n*c.channels], nil
}

// Encode 编码一个采集块
func (c *OpusCodec) Encode(samples []float32) ([]byte, error) {
	c.encMu.Lock()
	defer c.encMu.Unlock()

	if c.encoder == nil {
		return nil, errors.New("encoder not initialized")
	}

	data := make([]byte, maxOpusPacketSize)
	n, err := c.encoder.EncodeFloat32(samples, data)
	if err != nil {
		return nil, fmt.Errorf("opus encode failed: %w", err)
	}
	return data[:n], nil
}
