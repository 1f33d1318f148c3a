package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 汇总语音管线的 Prometheus 指标。
// 所有方法都允许 nil 接收者，未启用指标时组件可以直接传 nil。
type Metrics struct {
	FramesSent      prometheus.Counter
	FramesDropped   *prometheus.CounterVec
	FramesReceived  prometheus.Counter
	FramesMalformed prometheus.Counter
	ControlMessages *prometheus.CounterVec
	Interrupts      prometheus.Counter
	Flushes         prometheus.Counter
	Drains          prometheus.Counter
	LateStart       prometheus.Histogram
	QueueDepth      prometheus.Gauge
	ConnectionState prometheus.Gauge
	CaptureLevel    prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New 在 reg 上注册全部指标
func New(namespace string, reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_frames_sent_total",
			Help:      "Capture blocks handed to the transport.",
		}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_frames_dropped_total",
			Help:      "Capture blocks dropped before transmission by reason.",
		}, []string{"reason"}),
		FramesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_frames_received_total",
			Help:      "Audio frames received from the remote agent.",
		}),
		FramesMalformed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_frames_malformed_total",
			Help:      "Inbound audio frames that failed to decode.",
		}),
		ControlMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_messages_total",
			Help:      "Inbound control messages by type.",
		}, []string{"type"}),
		Interrupts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_total",
			Help:      "Interrupt signals received from the remote agent.",
		}),
		Flushes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_flushes_total",
			Help:      "Playback flushes (interrupts and disconnects).",
		}),
		Drains: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_drains_total",
			Help:      "Times the playback queue ran empty after playing, including the normal end of an utterance.",
		}),
		LateStart: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "playback_late_start_ms",
			Help:      "How far past the timeline cursor a frame started, including frames arriving after the queue drained, in milliseconds.",
			Buckets:   []float64{1, 5, 10, 20, 50, 100, 250, 500, 1000},
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_queue_depth",
			Help:      "Frames waiting in the playback queue.",
		}),
		ConnectionState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Transport connection state (0 idle, 1 connecting, 2 open, 3 closed).",
		}),
		CaptureLevel: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capture_level",
			Help:      "RMS level of the most recent capture block.",
		}),
		gatherer: reg,
	}
}

func (m *Metrics) FrameSent() {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
}

func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) FrameReceived() {
	if m == nil {
		return
	}
	m.FramesReceived.Inc()
}

func (m *Metrics) FrameMalformed() {
	if m == nil {
		return
	}
	m.FramesMalformed.Inc()
}

func (m *Metrics) ControlReceived(kind string) {
	if m == nil {
		return
	}
	m.ControlMessages.WithLabelValues(kind).Inc()
}

func (m *Metrics) Interrupted() {
	if m == nil {
		return
	}
	m.Interrupts.Inc()
}

func (m *Metrics) Flushed() {
	if m == nil {
		return
	}
	m.Flushes.Inc()
}

// Drained 播放队列在播放后变空
func (m *Metrics) Drained() {
	if m == nil {
		return
	}
	m.Drains.Inc()
}

// ObserveLateStart 记录帧相对时间线游标的滞后
func (m *Metrics) ObserveLateStart(d time.Duration) {
	if m == nil {
		return
	}
	m.LateStart.Observe(float64(d) / float64(time.Millisecond))
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) SetConnectionState(state int) {
	if m == nil {
		return
	}
	m.ConnectionState.Set(float64(state))
}

func (m *Metrics) SetCaptureLevel(level float32) {
	if m == nil {
		return
	}
	m.CaptureLevel.Set(float64(level))
}

// Handler 返回暴露本实例注册表的 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
