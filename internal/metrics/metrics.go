package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 模拟引擎业务指标
type AppMetrics struct {
	FramesSent         *prometheus.CounterVec // labels: version, action
	FramesReceived     *prometheus.CounterVec // labels: version, type=call|callresult|callerror
	CallTimeouts       prometheus.Counter     // 出站 CALL 超时数
	ReconnectAttempts  prometheus.Counter     // 重连尝试数
	BreakerTransitions *prometheus.CounterVec // labels: name, to=closed|open|half_open
	StationsOnline     prometheus.Gauge       // 当前在线站点数
	StationsTotal      prometheus.Gauge       // 注册站点总数
	HeartbeatTotal     prometheus.Counter     // 已发送心跳数
	MeterSamplesTotal  prometheus.Counter     // 已上报电表采样数
	SessionsStarted    prometheus.Counter     // 已开始充电会话数
	SessionsStopped    prometheus.Counter     // 已结束充电会话数
	HealthAlerts       prometheus.Counter     // critical 健康告警数
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ocpp_frames_sent_total",
			Help: "Outbound OCPP frames by protocol version and action.",
		}, []string{"version", "action"}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ocpp_frames_received_total",
			Help: "Inbound OCPP frames by protocol version and frame type.",
		}, []string{"version", "type"}),
		CallTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ocpp_call_timeouts_total",
			Help: "Outbound calls that timed out waiting for a response.",
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ocpp_reconnect_attempts_total",
			Help: "Transport reconnection attempts.",
		}),
		BreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "breaker_transitions_total",
			Help: "Circuit breaker state transitions.",
		}, []string{"name", "to"}),
		StationsOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stations_online",
			Help: "Current number of online simulated stations.",
		}),
		StationsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stations_total",
			Help: "Current number of registered simulated stations.",
		}),
		HeartbeatTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ocpp_heartbeats_total",
			Help: "Total heartbeats sent to the CSMS.",
		}),
		MeterSamplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meter_samples_total",
			Help: "Total meter value samples reported.",
		}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "charging_sessions_started_total",
			Help: "Charging sessions started.",
		}),
		SessionsStopped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "charging_sessions_stopped_total",
			Help: "Charging sessions stopped.",
		}),
		HealthAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "station_health_alerts_total",
			Help: "Stations entering critical health status.",
		}),
	}
	reg.MustRegister(
		m.FramesSent, m.FramesReceived, m.CallTimeouts, m.ReconnectAttempts,
		m.BreakerTransitions, m.StationsOnline, m.StationsTotal, m.HeartbeatTotal,
		m.MeterSamplesTotal, m.SessionsStarted, m.SessionsStopped, m.HealthAlerts,
	)
	return m
}
