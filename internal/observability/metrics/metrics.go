package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 拒绝原因标签。
const (
	ReasonIllegalState = "illegal_state"
	ReasonInvalid      = "invalid_argument"
	ReasonUnauthorized = "unauthorized"
	ReasonUnresolvable = "identity_unresolved"
)

// Metrics 汇总调度与 HTTP 指标。所有方法对 nil 接收者安全，未配置时即为空操作。
type Metrics struct {
	registry     *prometheus.Registry
	admitted     *prometheus.CounterVec
	rejected     *prometheus.CounterVec
	dispatched   *prometheus.CounterVec
	execDuration *prometheus.HistogramVec
	queueDepth   prometheus.Gauge
	state        *prometheus.GaugeVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New 创建独立注册表上的指标集合，namespace 为空时使用 elizadid。
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "elizadid"
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		admitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_admitted_total",
			Help:      "Tasks accepted into the queue.",
		}, []string{"type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_rejected_total",
			Help:      "Submissions rejected at admission.",
		}, []string{"reason"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_dispatched_total",
			Help:      "Tasks taken off the queue, by final status.",
		}, []string{"type", "status"}),
		execDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "executor_duration_seconds",
			Help:      "Executor call latency.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"type"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Tasks waiting in the queue.",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_state",
			Help:      "1 for the agent's current lifecycle state, 0 otherwise.",
		}, []string{"state"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
	}
	m.registry.MustRegister(
		m.admitted, m.rejected, m.dispatched, m.execDuration,
		m.queueDepth, m.state, m.httpRequests, m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry 返回底层注册表，测试与额外采集器注册使用。
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// TaskAdmitted 记录一次成功入队。
func (m *Metrics) TaskAdmitted(taskType string, depth int) {
	if m == nil {
		return
	}
	m.admitted.WithLabelValues(taskType).Inc()
	m.queueDepth.Set(float64(depth))
}

// TaskRejected 记录一次入队拒绝。
func (m *Metrics) TaskRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

// TaskDispatched 记录一次调度结果与执行耗时。
func (m *Metrics) TaskDispatched(taskType, status string, duration time.Duration, depth int) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(taskType, status).Inc()
	m.execDuration.WithLabelValues(taskType).Observe(duration.Seconds())
	m.queueDepth.Set(float64(depth))
}

// SetState 把当前状态置 1，其余已知状态置 0。
func (m *Metrics) SetState(current string, all ...string) {
	if m == nil {
		return
	}
	for _, s := range all {
		m.state.WithLabelValues(s).Set(0)
	}
	m.state.WithLabelValues(current).Set(1)
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (m *Metrics) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Handler exposes the metrics in Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func (m *Metrics) StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
