package audio

import (
	"sync"
)

var _ Output = (*Mixer)(nil)

// Mixer 以采样为单位的渲染时间线，实现 Output。
//
// 设备回调每次调用 Render 推进输出时钟。片段从 at 精确开始；片段结束回调在
// 对应的采样边界、在锁外触发，因此在回调中按游标排程的下一帧会被无缝接续渲染。
type Mixer struct {
	sampleRate int

	mu     sync.Mutex
	clock  int64
	voices []*voice
}

type voice struct {
	mixer   *Mixer
	samples []float32
	at      int64
	onEnd   func()
}

func (v *voice) end() int64 { return v.at + int64(len(v.samples)) }

// Stop 从时间线移除片段，不触发结束回调
func (v *voice) Stop() {
	v.mixer.remove(v)
}

// NewMixer 创建指定输出采样率的混音时间线
func NewMixer(sampleRate int) *Mixer {
	return &Mixer{sampleRate: sampleRate}
}

func (m *Mixer) SampleRate() int { return m.sampleRate }

// Clock 返回已渲染的采样数
func (m *Mixer) Clock() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clock
}

// Schedule 在时间点 at 开始播放 samples。at 早于当前时钟时立即开始，不跳过采样。
func (m *Mixer) Schedule(samples []float32, at int64, onEnd func()) (Voice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if at < m.clock {
		at = m.clock
	}
	v := &voice{mixer: m, samples: samples, at: at, onEnd: onEnd}
	m.voices = append(m.voices, v)
	return v, nil
}

// Active 返回时间线上尚未结束的片段数
func (m *Mixer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

func (m *Mixer) remove(target *voice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, v := range m.voices {
		if v == target {
			m.voices = append(m.voices[:i], m.voices[i+1:]...)
			return
		}
	}
}

// Render 填充 out 并推进时钟 len(out) 个采样，没有片段的位置输出静音
func (m *Mixer) Render(out []float32) {
	pos := 0
	for pos < len(out) {
		m.mu.Lock()
		step := int64(len(out) - pos)
		for _, v := range m.voices {
			if e := v.end() - m.clock; e > 0 && e < step {
				step = e
			}
		}

		seg := out[pos : pos+int(step)]
		clear(seg)
		segStart, segEnd := m.clock, m.clock+step
		for _, v := range m.voices {
			from := max(segStart, v.at)
			to := min(segEnd, v.end())
			for t := from; t < to; t++ {
				seg[t-segStart] += v.samples[t-v.at]
			}
		}
		for i, s := range seg {
			if s > 1 {
				seg[i] = 1
			} else if s < -1 {
				seg[i] = -1
			}
		}
		m.clock = segEnd

		var finished []*voice
		kept := m.voices[:0]
		for _, v := range m.voices {
			if v.end() <= m.clock {
				finished = append(finished, v)
			} else {
				kept = append(kept, v)
			}
		}
		clear(m.voices[len(kept):])
		m.voices = kept
		m.mu.Unlock()

		for _, v := range finished {
			if v.onEnd != nil {
				v.onEnd()
			}
		}
		pos += int(step)
	}
}
