// audio/interface.go
package audio

import (
	"time"

	"github.com/lisuiheng/duplexvoice/pkg/interfaces"
)

// Frame 解码后的播放帧（归一化浮点采样，单声道）
type Frame struct {
	Samples []float32
}

// Duration 按采样率计算帧时长
func (f Frame) Duration(sampleRate int) time.Duration {
	return SamplesToDuration(int64(len(f.Samples)), sampleRate)
}

// SamplesToDuration 将采样数换算为时长
func SamplesToDuration(n int64, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n * int64(time.Second) / int64(sampleRate))
}

// FrameCodec 定义传输帧与采样缓冲之间的转换
type FrameCodec interface {
	Encode(samples []float32) ([]byte, error)
	Decode(data []byte) ([]float32, error)
	Name() string
}

// Voice 一个已排程的播放片段
type Voice interface {
	// Stop 立即停止发声；片段已经结束时为空操作
	Stop()
}

// Output 输出设备边界：单调的输出时钟与定时播放。
// 时钟以输出采样率下的采样数计量。
type Output interface {
	SampleRate() int
	Clock() int64
	Schedule(samples []float32, at int64, onEnd func()) (Voice, error)
}

// BlockHandler 接收固定大小的采集块，块在回调返回后可能被复用
type BlockHandler func(block []float32)

// Recorder 定义音频采集接口
type Recorder interface {
	// Start 获取采集设备并开始回调；获取失败返回 ErrCaptureDevice
	Start(handler BlockHandler) error
	// Stop 停止采集并释放设备，可重复调用
	Stop() error
	// Lost 在设备意外停止时关闭
	Lost() <-chan struct{}
}

// Flusher 可被打断清空的播放端
type Flusher interface {
	Flush()
}

// Controller 响应远端控制消息
type Controller interface {
	HandleControl(msg interfaces.Control)
}

// PlaybackState 由调度器状态推导的播放状态
type PlaybackState string

const (
	PlaybackIdle    PlaybackState = "idle"
	PlaybackPlaying PlaybackState = "playing"
)
