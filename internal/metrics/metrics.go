package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 服务指标，所有方法对 nil 接收者安全
type Metrics struct {
	apiDuration     *prometheus.HistogramVec
	analyses        *prometheus.CounterVec
	quotaDecisions  *prometheus.CounterVec
	batchEvents     *prometheus.CounterVec
	integratorFails *prometheus.CounterVec
}

// New 创建并注册指标
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		apiDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taxoai",
			Name:      "api_request_duration_seconds",
			Help:      "Latency of TaxoAI API calls by operation and outcome code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "code"}),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taxoai",
			Name:      "analyses_total",
			Help:      "Product analyses by outcome.",
		}, []string{"outcome"}),
		quotaDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taxoai",
			Name:      "quota_decisions_total",
			Help:      "Usage quota decisions by source and result.",
		}, []string{"source", "allowed"}),
		batchEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taxoai",
			Name:      "batch_events_total",
			Help:      "Batch job lifecycle events.",
		}, []string{"event"}),
		integratorFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taxoai",
			Name:      "integrator_failures_total",
			Help:      "Failures while applying analysis results to products.",
		}, []string{"integrator"}),
	}

	if reg != nil {
		reg.MustRegister(m.apiDuration, m.analyses, m.quotaDecisions, m.batchEvents, m.integratorFails)
	}
	return m
}

// ObserveAPI 记录一次 API 调用
func (m *Metrics) ObserveAPI(operation, code string, d time.Duration) {
	if m == nil {
		return
	}
	if code == "" {
		code = "ok"
	}
	m.apiDuration.WithLabelValues(operation, code).Observe(d.Seconds())
}

// Analysis 记录一次分析结果（stored, applied, below_threshold, error 码等）
func (m *Metrics) Analysis(outcome string) {
	if m == nil {
		return
	}
	m.analyses.WithLabelValues(outcome).Inc()
}

// QuotaDecision 记录配额判定
func (m *Metrics) QuotaDecision(source string, allowed bool) {
	if m == nil {
		return
	}
	v := "false"
	if allowed {
		v = "true"
	}
	m.quotaDecisions.WithLabelValues(source, v).Inc()
}

// BatchEvent 记录批量任务事件
func (m *Metrics) BatchEvent(event string) {
	if m == nil {
		return
	}
	m.batchEvents.WithLabelValues(event).Inc()
}

// IntegratorFailure 记录集成器失败
func (m *Metrics) IntegratorFailure(integrator string) {
	if m == nil {
		return
	}
	m.integratorFails.WithLabelValues(integrator).Inc()
}
