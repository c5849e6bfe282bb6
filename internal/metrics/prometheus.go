package metrics

import (
	"strconv"
	"sync"
	"time"
	logx "wadispatch/pkg/logx"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink with the Prometheus client library.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	log logx.Logger

	// Gateway metrics
	attemptsTotal   *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec
	probesTotal     *prometheus.CounterVec

	// Run metrics
	runsTotal         *prometheus.CounterVec
	runDuration       prometheus.Histogram
	runActive         prometheus.Gauge
	runRecipients     prometheus.Gauge
	recipientOutcomes *prometheus.CounterVec

	// EventBus metrics
	eventsDroppedTotal prometheus.Counter
	droppedMu          sync.Mutex
	droppedSeen        uint64
}

// NewPrometheusSink creates a sink registered on reg.
func NewPrometheusSink(reg prometheus.Registerer, log logx.Logger) *PrometheusSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &PrometheusSink{log: log.With(logx.String("comp", "metrics"))}
	s.initGatewayMetrics(reg)
	s.initRunMetrics(reg)
	s.initEventBusMetrics(reg)
	return s
}

func (s *PrometheusSink) initGatewayMetrics(reg prometheus.Registerer) {
	s.attemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wadispatch_gateway_attempts_total",
		Help: "Total number of gateway HTTP attempts.",
	}, []string{"op", "attempt", "status_class"})
	s.attemptDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wadispatch_gateway_attempt_duration_seconds",
		Help:    "Gateway request latency in seconds (excludes backoff wait).",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"op"})
	s.retriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wadispatch_gateway_retries_total",
		Help: "Total number of gateway retries by reason.",
	}, []string{"op", "reason"})
	s.probesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wadispatch_gateway_probes_total",
		Help: "Total number of instance health probes.",
	}, []string{"healthy"})

	s.register(reg, s.attemptsTotal, "wadispatch_gateway_attempts_total")
	s.register(reg, s.attemptDuration, "wadispatch_gateway_attempt_duration_seconds")
	s.register(reg, s.retriesTotal, "wadispatch_gateway_retries_total")
	s.register(reg, s.probesTotal, "wadispatch_gateway_probes_total")
}

func (s *PrometheusSink) initRunMetrics(reg prometheus.Registerer) {
	s.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wadispatch_runs_total",
		Help: "Total number of dispatch runs by result.",
	}, []string{"result"})
	s.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wadispatch_run_duration_seconds",
		Help:    "Wall-clock duration of finished runs.",
		Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400},
	})
	s.runActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wadispatch_run_active",
		Help: "1 while a run is in progress in this process.",
	})
	s.runRecipients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wadispatch_run_recipients",
		Help: "Recipients in the most recently started run.",
	})
	s.recipientOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wadispatch_recipient_outcomes_total",
		Help: "Total number of terminal recipient outcomes.",
	}, []string{"outcome"})

	s.register(reg, s.runsTotal, "wadispatch_runs_total")
	s.register(reg, s.runDuration, "wadispatch_run_duration_seconds")
	s.register(reg, s.runActive, "wadispatch_run_active")
	s.register(reg, s.runRecipients, "wadispatch_run_recipients")
	s.register(reg, s.recipientOutcomes, "wadispatch_recipient_outcomes_total")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.eventsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wadispatch_eventbus_dropped_total",
		Help: "Total number of events dropped on full subscriber buffers.",
	})
	s.register(reg, s.eventsDroppedTotal, "wadispatch_eventbus_dropped_total")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.log.Warn("failed to register metric", logx.String("metric", name), logx.Err(err))
	}
}

func (s *PrometheusSink) GatewayAttempt(op string, attempt int, statusClass string, duration time.Duration) {
	s.attemptsTotal.WithLabelValues(op, strconv.Itoa(attempt), statusClass).Inc()
	s.attemptDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (s *PrometheusSink) GatewayRetry(op, reason string) {
	s.retriesTotal.WithLabelValues(op, reason).Inc()
}

func (s *PrometheusSink) GatewayProbe(healthy bool) {
	s.probesTotal.WithLabelValues(strconv.FormatBool(healthy)).Inc()
}

func (s *PrometheusSink) RunStarted(total int) {
	s.runActive.Set(1)
	s.runRecipients.Set(float64(total))
}

func (s *PrometheusSink) RunFinished(duration time.Duration, interrupted bool) {
	s.runActive.Set(0)
	s.runDuration.Observe(duration.Seconds())
	result := "completed"
	if interrupted {
		result = "interrupted"
	}
	s.runsTotal.WithLabelValues(result).Inc()
}

func (s *PrometheusSink) RunRejected(reason string) {
	s.runsTotal.WithLabelValues("rejected_" + reason).Inc()
}

func (s *PrometheusSink) RecipientOutcome(outcome string) {
	s.recipientOutcomes.WithLabelValues(outcome).Inc()
}

// EventsDropped takes the bus's cumulative drop count and adds the delta.
func (s *PrometheusSink) EventsDropped(total uint64) {
	s.droppedMu.Lock()
	defer s.droppedMu.Unlock()
	if total > s.droppedSeen {
		s.eventsDroppedTotal.Add(float64(total - s.droppedSeen))
		s.droppedSeen = total
	}
}
