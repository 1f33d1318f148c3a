package audio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

var _ Output = (*PCMPlayer)(nil)

// PCMPlayer PortAudio 输出设备，回调中驱动 Mixer 时间线
type PCMPlayer struct {
	*Mixer

	logger    *slog.Logger
	stream    *portaudio.Stream
	closeOnce sync.Once
}

// NewPCMPlayer 打开默认输出设备（单声道 float32）并开始渲染
func NewPCMPlayer(sampleRate, bufferSize int, logger *slog.Logger) (*PCMPlayer, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	player := &PCMPlayer{
		Mixer:  NewMixer(sampleRate),
		logger: logger,
	}

	stream, err := portaudio.OpenDefaultStream(
		0,                   // 不录音
		1,                   // 单声道输出
		float64(sampleRate), // 采样率
		bufferSize,          // 每次回调的采样数
		player.audioCallback,
	)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}
	player.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to start audio stream: %w", err)
	}

	logger.Info("Audio output started",
		"sample_rate", sampleRate,
		"buffer_size", bufferSize)
	return player, nil
}

func (p *PCMPlayer) audioCallback(out [][]float32) {
	p.Render(out[0])
	for ch := 1; ch < len(out); ch++ {
		copy(out[ch], out[0])
	}
}

// Close 停止输出流并释放 PortAudio
func (p *PCMPlayer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.stream != nil {
			if stopErr := p.stream.Stop(); stopErr != nil {
				p.logger.Error("failed to stop audio stream", "error", stopErr)
			}
			if closeErr := p.stream.Close(); closeErr != nil {
				p.logger.Error("failed to close audio stream", "error", closeErr)
				err = closeErr
			}
		}
		if termErr := portaudio.Terminate(); termErr != nil && err == nil {
			err = termErr
		}
	})
	return err
}
