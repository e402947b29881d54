package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters/histograms for the scheduling engine.
type SchedulingMetrics struct {
	admissionTotal  *prometheus.CounterVec
	transitionTotal *prometheus.CounterVec
	taskTotal       *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		admissionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicflow",
			Subsystem: "scheduling",
			Name:      "admission_total",
			Help:      "Admission decisions by outcome",
		}, []string{"outcome"}),
		transitionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicflow",
			Subsystem: "scheduling",
			Name:      "transition_total",
			Help:      "Status transitions by target status and result",
		}, []string{"to_status", "result"}),
		taskTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicflow",
			Subsystem: "tasks",
			Name:      "processed_total",
			Help:      "Scheduled tasks processed by kind and outcome",
		}, []string{"kind", "outcome"}),
		dispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinicflow",
			Subsystem: "tasks",
			Name:      "dispatch_latency_seconds",
			Help:      "Latency of task dispatch calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.admissionTotal, m.transitionTotal, m.taskTotal, m.dispatchLatency)
	return m
}

func (m *SchedulingMetrics) ObserveAdmission(outcome string) {
	if m == nil {
		return
	}
	m.admissionTotal.WithLabelValues(outcome).Inc()
}

func (m *SchedulingMetrics) ObserveTransition(toStatus, result string) {
	if m == nil {
		return
	}
	m.transitionTotal.WithLabelValues(toStatus, result).Inc()
}

func (m *SchedulingMetrics) ObserveTask(kind, outcome string) {
	if m == nil {
		return
	}
	m.taskTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveDispatchLatency(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.dispatchLatency.WithLabelValues(kind).Observe(seconds)
}
