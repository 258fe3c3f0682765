package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/leaselect/types"
)

// PrometheusCollector implements types.MetricsCollector backed by
// Prometheus.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	campaignsStarted *prometheus.CounterVec
	electionsWon     prometheus.Counter
	proclaims        *prometheus.CounterVec
	resigns          prometheus.Counter
	leadershipLost   *prometheus.CounterVec
	waitPredecessors prometheus.Histogram
	waitDuration     prometheus.Histogram
	leadingGauge     prometheus.Gauge
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer interface (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "leaselect" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "leaselect"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.campaignsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "election",
			Name:      "campaigns_started_total",
			Help:      "Total campaign key commits by kind (created/rejoined).",
		}, []string{"kind"})

		p.electionsWon = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "election",
			Name:      "elections_won_total",
			Help:      "Total confirmed election wins.",
		})

		p.proclaims = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "election",
			Name:      "proclaims_total",
			Help:      "Total proclaim attempts by outcome.",
		}, []string{"success"})

		p.resigns = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "election",
			Name:      "resigns_total",
			Help:      "Total resign calls.",
		})

		p.leadershipLost = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "election",
			Name:      "leadership_lost_total",
			Help:      "Total involuntary leadership losses by reason.",
		}, []string{"reason"})

		p.waitPredecessors = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "election",
			Name:      "predecessor_wait_keys",
			Help:      "Number of predecessor keys waited on per campaign.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		})

		p.waitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "election",
			Name:      "predecessor_wait_seconds",
			Help:      "Total predecessor wait duration per campaign in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.25, 1, 5, 15, 60, 300},
		})

		p.leadingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "election",
			Name:      "leading",
			Help:      "Whether this instance currently believes it is the leader (0 or 1).",
		})

		collectors := []prometheus.Collector{
			p.campaignsStarted,
			p.electionsWon,
			p.proclaims,
			p.resigns,
			p.leadershipLost,
			p.waitPredecessors,
			p.waitDuration,
			p.leadingGauge,
		}
		for _, c := range collectors {
			// AlreadyRegisteredError is tolerated so multiple elections can
			// share one registerer.
			if err := p.reg.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					panic(err)
				}
			}
		}
	})
}

// RecordCampaignStarted increments the campaign counter.
func (p *PrometheusCollector) RecordCampaignStarted(rejoined bool) {
	p.ensureRegistered()
	kind := "created"
	if rejoined {
		kind = "rejoined"
	}
	p.campaignsStarted.WithLabelValues(kind).Inc()
}

// RecordElectionWon increments the win counter.
func (p *PrometheusCollector) RecordElectionWon() {
	p.ensureRegistered()
	p.electionsWon.Inc()
}

// RecordProclaim increments the proclaim counter with its outcome.
func (p *PrometheusCollector) RecordProclaim(success bool) {
	p.ensureRegistered()
	p.proclaims.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// RecordResign increments the resign counter.
func (p *PrometheusCollector) RecordResign() {
	p.ensureRegistered()
	p.resigns.Inc()
}

// RecordLeadershipLost increments the loss counter for the given reason.
func (p *PrometheusCollector) RecordLeadershipLost(reason string) {
	p.ensureRegistered()
	p.leadershipLost.WithLabelValues(reason).Inc()
}

// RecordPredecessorWait observes one completed predecessor wait.
func (p *PrometheusCollector) RecordPredecessorWait(predecessors int, duration float64) {
	p.ensureRegistered()
	p.waitPredecessors.Observe(float64(predecessors))
	p.waitDuration.Observe(duration)
}

// SetLeading sets the leadership gauge.
func (p *PrometheusCollector) SetLeading(leading bool) {
	p.ensureRegistered()
	if leading {
		p.leadingGauge.Set(1)
	} else {
		p.leadingGauge.Set(0)
	}
}
