// audio/controller.go
package audio

import (
	"log/slog"

	"github.com/lisuiheng/duplexvoice/metrics"
	"github.com/lisuiheng/duplexvoice/pkg/interfaces"
)

// controller 打断控制：收到 interrupt 立即清空播放端
type controller struct {
	playback Flusher
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewController 创建绑定到播放端的打断控制器
func NewController(playback Flusher, logger *slog.Logger, m *metrics.Metrics) Controller {
	return &controller{
		playback: playback,
		logger:   logger,
		metrics:  m,
	}
}

// HandleControl 每个 interrupt 同步触发一次 Flush，不去抖
func (c *controller) HandleControl(msg interfaces.Control) {
	c.metrics.ControlReceived(string(msg.ControlType()))

	switch msg.(type) {
	case interfaces.Interrupt:
		c.metrics.Interrupted()
		c.playback.Flush()
		c.logger.Info("Playback interrupted by remote")
	default:
		c.logger.Debug("Ignoring control message", "type", msg.ControlType())
	}
}
