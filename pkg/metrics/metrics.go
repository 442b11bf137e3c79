// Package metrics 将控制台会话事件导出为 Prometheus 指标
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/consoleprov/consoleprov/pkg/console"
)

// Collector 实现 console.Observer
type Collector struct {
	registry         *prometheus.Registry
	sessions         *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	active           prometheus.Gauge
	checksumMismatch prometheus.Counter
}

// New 在独立注册表上创建指标
func New(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Console sessions by script and outcome",
		}, []string{"script", "outcome"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Time from step start to match or failure",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"script", "step", "result"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Console sessions currently open",
		}),
		checksumMismatch: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checksum_mismatch_total",
			Help:      "Configuration uploads whose remote digest differed",
		}),
	}
	c.registry.MustRegister(c.sessions, c.stepDuration, c.active, c.checksumMismatch,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return c
}

// Registry 指标注册表
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler /metrics 处理器
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) StateChanged(ev console.StateEvent) {
	if ev.State == console.StateConnecting {
		c.active.Inc()
	}
}

func (c *Collector) StepDone(ev console.StepEvent) {
	result := "ok"
	if ev.Err != nil {
		result = "error"
	}
	c.stepDuration.WithLabelValues(ev.Script, ev.Name, result).Observe(ev.Duration.Seconds())
}

func (c *Collector) SessionClosed(res *console.Result) {
	c.active.Dec()
	c.sessions.WithLabelValues(res.Script, string(res.Outcome.Kind)).Inc()
	for _, w := range res.Outcome.Warnings {
		if w.Kind == console.WarnChecksumMismatch {
			c.checksumMismatch.Inc()
		}
	}
}
