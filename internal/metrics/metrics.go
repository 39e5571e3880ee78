package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 服务的 Prometheus 指标，nil 时所有方法为空操作
type Metrics struct {
	gateRequests    *prometheus.CounterVec
	gateDuration    *prometheus.HistogramVec
	parkingRequests *prometheus.CounterVec
	transactions    *prometheus.CounterVec
}

// New 创建并注册指标
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		gateRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "truckpark_gate_requests_total",
			Help: "Requests sent to gate controllers.",
		}, []string{"group", "op", "result"}),
		gateDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "truckpark_gate_request_duration_seconds",
			Help:    "Latency of gate controller requests.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"group", "op"}),
		parkingRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "truckpark_parking_requests_total",
			Help: "Admission and exit attempts by outcome.",
		}, []string{"op", "outcome"}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "truckpark_transactions_total",
			Help: "Request transactions by final outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.gateRequests, m.gateDuration, m.parkingRequests, m.transactions)
	return m
}

// ObserveGate 记录一次道闸请求
func (m *Metrics) ObserveGate(group, op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.gateRequests.WithLabelValues(group, op, result).Inc()
	m.gateDuration.WithLabelValues(group, op).Observe(elapsed.Seconds())
}

// ObserveParking 记录入场或出场的结果
func (m *Metrics) ObserveParking(op, outcome string) {
	if m == nil {
		return
	}
	m.parkingRequests.WithLabelValues(op, outcome).Inc()
}

// ObserveTransaction 记录事务最终结果
func (m *Metrics) ObserveTransaction(outcome string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(outcome).Inc()
}
