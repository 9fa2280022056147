package lobby

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// ClientMetrics 记录客户端运行期的关键指标（用于监控与调试）
type ClientMetrics struct {
	TickCount           int64 // 统计的 Tick 次数
	TotalTickNs         int64 // Tick 累计耗时（纳秒）
	ConnectAttempts     int64 // 发起的连接次数（含自动重连）
	ReconnectsScheduled int64 // 安排的自动重连次数
	FramesSent          int64 // 实际发出的位置帧
	UpdatesSuppressed   int64 // 因间隔或死区被抑制的位置上报
	MessagesReceived    int64 // 收到的下行帧
	MalformedDropped    int64 // 无法解析而丢弃的帧
	UnrecognizedDropped int64 // 未知 type 而丢弃的帧
}

func (m *ClientMetrics) IncConnectAttempts()     { atomic.AddInt64(&m.ConnectAttempts, 1) }
func (m *ClientMetrics) IncReconnectsScheduled() { atomic.AddInt64(&m.ReconnectsScheduled, 1) }
func (m *ClientMetrics) IncFramesSent()          { atomic.AddInt64(&m.FramesSent, 1) }
func (m *ClientMetrics) IncUpdatesSuppressed()   { atomic.AddInt64(&m.UpdatesSuppressed, 1) }
func (m *ClientMetrics) IncMessagesReceived()    { atomic.AddInt64(&m.MessagesReceived, 1) }
func (m *ClientMetrics) IncMalformedDropped()    { atomic.AddInt64(&m.MalformedDropped, 1) }
func (m *ClientMetrics) IncUnrecognizedDropped() { atomic.AddInt64(&m.UnrecognizedDropped, 1) }
func (m *ClientMetrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *ClientMetrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":           tick,
		"connect_attempts":     atomic.LoadInt64(&m.ConnectAttempts),
		"reconnects_scheduled": atomic.LoadInt64(&m.ReconnectsScheduled),
		"frames_sent":          atomic.LoadInt64(&m.FramesSent),
		"updates_suppressed":   atomic.LoadInt64(&m.UpdatesSuppressed),
		"messages_received":    atomic.LoadInt64(&m.MessagesReceived),
		"malformed_dropped":    atomic.LoadInt64(&m.MalformedDropped),
		"unrecognized_dropped": atomic.LoadInt64(&m.UnrecognizedDropped),
		"avg_tick_ms":          avgMs,
	}
}

type counterDesc struct {
	desc  *prometheus.Desc
	value *int64
}

// MetricsCollector 将 ClientMetrics 暴露给 Prometheus
type MetricsCollector struct {
	counters []counterDesc
}

// NewMetricsCollector 为给定指标创建采集器
func NewMetricsCollector(m *ClientMetrics) *MetricsCollector {
	c := func(name, help string, v *int64) counterDesc {
		return counterDesc{desc: prometheus.NewDesc("lobbylink_"+name+"_total", help, nil, nil), value: v}
	}

	return &MetricsCollector{counters: []counterDesc{
		c("ticks", "Client ticks processed.", &m.TickCount),
		c("connect_attempts", "Connection attempts, including automatic reconnects.", &m.ConnectAttempts),
		c("reconnects_scheduled", "Automatic reconnects scheduled.", &m.ReconnectsScheduled),
		c("frames_sent", "Position frames sent.", &m.FramesSent),
		c("updates_suppressed", "Position updates suppressed by interval or dead-band.", &m.UpdatesSuppressed),
		c("messages_received", "Inbound frames received.", &m.MessagesReceived),
		c("malformed_dropped", "Inbound frames dropped as malformed.", &m.MalformedDropped),
		c("unrecognized_dropped", "Inbound frames dropped for an unknown type.", &m.UnrecognizedDropped),
	}}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, cd := range c.counters {
		ch <- cd.desc
	}
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	for _, cd := range c.counters {
		ch <- prometheus.MustNewConstMetric(cd.desc, prometheus.CounterValue, float64(atomic.LoadInt64(cd.value)))
	}
}
