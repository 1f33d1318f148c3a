package utils

import "time"

type ReconnectStrategy interface {
	NextDelay() time.Duration
	Reset()
}

const (
	defaultInitialDelay = 1 * time.Second
	defaultMaxDelay     = 30 * time.Second
)

// ExponentialBackoff 每次失败把等待时间翻倍，直到 maxDelay。非并发安全。
type ExponentialBackoff struct {
	initialDelay time.Duration
	currentDelay time.Duration
	maxDelay     time.Duration
}

// NewExponentialBackoff 创建退避策略，非正值使用默认的 1s / 30s
func NewExponentialBackoff(initial, max time.Duration) *ExponentialBackoff {
	if initial <= 0 {
		initial = defaultInitialDelay
	}
	if max <= 0 {
		max = defaultMaxDelay
	}
	if max < initial {
		max = initial
	}
	return &ExponentialBackoff{
		initialDelay: initial,
		currentDelay: initial,
		maxDelay:     max,
	}
}

func (e *ExponentialBackoff) NextDelay() time.Duration {
	delay := e.currentDelay
	e.currentDelay *= 2
	if e.currentDelay > e.maxDelay {
		e.currentDelay = e.maxDelay
	}
	return delay
}

// Reset 在一次会话成功建立后调用
func (e *ExponentialBackoff) Reset() {
	e.currentDelay = e.initialDelay
}
