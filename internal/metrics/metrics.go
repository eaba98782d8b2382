package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	attempts        *prometheus.CounterVec
	gradedQuestions *prometheus.CounterVec
	gradingDuration prometheus.Histogram
	expired         prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"method", "endpoint"},
		),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bitacora_attempt_transitions_total",
				Help: "Attempt status transitions by target status",
			},
			[]string{"status"},
		),
		gradedQuestions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bitacora_graded_questions_total",
				Help: "Questions auto-graded by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		gradingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bitacora_submit_grading_seconds",
			Help:    "Time spent grading one submitted attempt",
			Buckets: prometheus.DefBuckets,
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bitacora_attempts_expired_total",
			Help: "Attempts force-submitted after their deadline",
		}),
	}
	m.reg.MustRegister(
		m.requests, m.requestDuration, m.attempts, m.gradedQuestions, m.gradingDuration, m.expired,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Middleware records request count and latency labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			endpoint = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, endpoint, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) AttemptTransition(status string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(status).Inc()
}

func (m *Metrics) QuestionGraded(kind, outcome string) {
	if m == nil {
		return
	}
	m.gradedQuestions.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveGrading(d time.Duration) {
	if m == nil {
		return
	}
	m.gradingDuration.Observe(d.Seconds())
}

func (m *Metrics) AttemptsExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expired.Add(float64(n))
}
