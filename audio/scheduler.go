package audio

import (
	"log/slog"
	"sync"

	"github.com/lisuiheng/duplexvoice/metrics"
)

var _ Flusher = (*Scheduler)(nil)

// Scheduler 抖动缓冲与时间线调度器。
//
// 帧按到达顺序进入队列，每个帧的开始时间为 max(游标, 当前输出时钟)，游标随后精确前进
// 该帧的时长。同一时刻只有一个帧在输出设备上排程，它结束时才排程下一帧。
// 每次排程与每次 Flush 都推进 gen，结束回调携带自己的 gen，过期的回调不做任何事；
// epoch 只在 Flush 时推进，用于识别在锁外排程期间被清空的帧。
type Scheduler struct {
	out     Output
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	queue   []Frame
	cursor  int64
	playing bool
	drained bool // 上一帧自然播完后队列为空，游标保留在其结束位置
	gen     uint64
	epoch   uint64
	current Voice
}

// scheduled 在锁内做出的排程决定，在锁外交给输出设备
type scheduled struct {
	gen   uint64
	epoch uint64
	frame Frame
	at    int64
}

// NewScheduler 创建绑定到输出设备的调度器
func NewScheduler(out Output, logger *slog.Logger, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		out:     out,
		logger:  logger,
		metrics: m,
		cursor:  out.Clock(),
	}
}

// Enqueue 追加一个播放帧；空闲时立即开始排程
func (s *Scheduler) Enqueue(f Frame) {
	if len(f.Samples) == 0 {
		return
	}

	s.mu.Lock()
	s.queue = append(s.queue, f)
	s.metrics.SetQueueDepth(len(s.queue))
	if s.playing {
		s.mu.Unlock()
		return
	}
	next := s.nextLocked()
	s.mu.Unlock()

	s.start(next)
}

// Flush 清空队列、停止正在发声的帧并把游标重置到当前时钟。任何时候调用都是安全的。
func (s *Scheduler) Flush() {
	s.mu.Lock()
	dropped := len(s.queue)
	clear(s.queue)
	s.queue = s.queue[:0]
	cur := s.current
	s.current = nil
	s.playing = false
	s.drained = false
	s.gen++
	s.epoch++
	s.cursor = s.out.Clock()
	s.metrics.SetQueueDepth(0)
	s.mu.Unlock()

	if cur != nil {
		cur.Stop()
	}
	s.metrics.Flushed()
	s.logger.Debug("Playback flushed", "dropped_frames", dropped, "was_playing", cur != nil)
}

// State 返回推导出的播放状态
func (s *Scheduler) State() PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		return PlaybackPlaying
	}
	return PlaybackIdle
}

// Pending 返回队列中等待播放的帧数（不含正在播放的帧）
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Cursor 返回下一帧最早开始的时间点
func (s *Scheduler) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// nextLocked 取出队首帧并计算开始时间；队列为空时转为空闲并返回 nil
func (s *Scheduler) nextLocked() *scheduled {
	if len(s.queue) == 0 {
		if s.playing {
			s.drained = true
			s.metrics.Drained()
			s.logger.Debug("Playback queue drained")
		}
		s.playing = false
		s.current = nil
		return nil
	}

	f := s.queue[0]
	s.queue[0] = Frame{}
	s.queue = s.queue[1:]
	s.metrics.SetQueueDepth(len(s.queue))

	now := s.out.Clock()
	at := s.cursor
	if now > at {
		// Flush 后游标已是当时的时钟，不计入
		if s.playing || s.drained {
			s.metrics.ObserveLateStart(SamplesToDuration(now-at, s.out.SampleRate()))
		}
		at = now
	}
	s.drained = false
	s.cursor = at + int64(len(f.Samples))
	s.gen++
	s.playing = true
	return &scheduled{gen: s.gen, epoch: s.epoch, frame: f, at: at}
}

// start 在锁外把帧交给输出设备
func (s *Scheduler) start(next *scheduled) {
	for next != nil {
		s.mu.Lock()
		stale := s.epoch != next.epoch
		s.mu.Unlock()
		if stale {
			// 决定做出后发生了 Flush，帧不再交给输出设备
			return
		}

		gen := next.gen
		v, err := s.out.Schedule(next.frame.Samples, next.at, func() { s.onEnd(gen) })
		if err != nil {
			s.logger.Error("Failed to schedule playback frame", "error", err, "samples", len(next.frame.Samples))
			s.mu.Lock()
			if s.gen != gen {
				s.mu.Unlock()
				return
			}
			// 跳过失败的帧，游标回退到它的开始时间
			s.cursor = next.at
			next = s.nextLocked()
			s.mu.Unlock()
			continue
		}

		s.mu.Lock()
		if s.epoch != next.epoch {
			// 排程期间发生了 Flush
			s.mu.Unlock()
			v.Stop()
			return
		}
		if s.gen == gen && s.playing {
			s.current = v
		}
		s.mu.Unlock()
		return
	}
}

// onEnd 帧自然结束时由输出设备回调
func (s *Scheduler) onEnd(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || !s.playing {
		s.mu.Unlock()
		return
	}
	s.current = nil
	next := s.nextLocked()
	s.mu.Unlock()

	s.start(next)
}
