// Package metrics implements C14: monotone counters, rolling-window
// analysis samples, and per-analyzer timing snapshots, plus a Prometheus
// registration surface. The rolling-window/mean/min/max shape follows the
// teacher's analysis.LatencyAnalyzer and analysis.TemporalAnalyzer
// (src/analysis/latency.go, src/analysis/temporal.go); the Prometheus
// collector wiring (nil-safe methods, namespaced metrics, tolerance of
// AlreadyRegisteredError on re-registration) is grounded on
// marmos91-dittofs's SessionMetrics
// (internal/protocol/nfs/v4/state/session_metrics.go).
package metrics

import (
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	maxGlobalSamples     = 1000
	maxPerAnalyzerSample = 100
)

type sample struct {
	at       time.Time
	duration time.Duration
}

type analyzerWindow struct {
	samples  []sample
	next     int
	count    int
	errors   int64
	findings int64
}

// Metrics aggregates the counters and rolling windows of C14 and exposes a
// Prometheus collector surface for the same data.
type Metrics struct {
	mu sync.Mutex

	flowsAnalyzed         int64
	findingsGenerated     int64
	errors                int64
	backpressureRejected  int64
	analyzerRuns          int64

	global   []sample
	globalAt int

	perAnalyzer map[string]*analyzerWindow

	severityHist map[string]int64
	categoryHist map[string]int64

	promFlowsAnalyzed        prometheus.Counter
	promFindingsGenerated    prometheus.Counter
	promErrors               prometheus.Counter
	promBackpressureRejected prometheus.Counter
	promAnalyzerDuration     *prometheus.HistogramVec
	promConcurrentAnalyses   prometheus.Gauge
}

// New constructs Metrics and, if reg is non-nil, registers its Prometheus
// collectors. Registration tolerates AlreadyRegisteredError so the core can
// be restarted in-process (e.g. in tests) without panicking.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		global:      make([]sample, 0, maxGlobalSamples),
		perAnalyzer: make(map[string]*analyzerWindow),
		severityHist: make(map[string]int64),
		categoryHist: make(map[string]int64),

		promFlowsAnalyzed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netsentry",
			Subsystem: "analysis",
			Name:      "flows_analyzed_total",
			Help:      "Total number of flows submitted to the analysis orchestrator.",
		}),
		promFindingsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netsentry",
			Subsystem: "analysis",
			Name:      "findings_generated_total",
			Help:      "Total number of findings emitted by any analyzer.",
		}),
		promErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netsentry",
			Subsystem: "analysis",
			Name:      "errors_total",
			Help:      "Total number of analyzer execution errors.",
		}),
		promBackpressureRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netsentry",
			Subsystem: "analysis",
			Name:      "backpressure_rejected_total",
			Help:      "Total number of flows rejected because max_concurrent_analyses was reached.",
		}),
		promAnalyzerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "netsentry",
			Subsystem: "analysis",
			Name:      "analyzer_duration_seconds",
			Help:      "Per-analyzer execution duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"analyzer"}),
		promConcurrentAnalyses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "netsentry",
			Subsystem: "analysis",
			Name:      "in_flight_analyses",
			Help:      "Current number of analyzer invocations in flight.",
		}),
	}

	if reg != nil {
		collectors := []prometheus.Collector{
			m.promFlowsAnalyzed,
			m.promFindingsGenerated,
			m.promErrors,
			m.promBackpressureRejected,
			m.promAnalyzerDuration,
			m.promConcurrentAnalyses,
		}
		for _, c := range collectors {
			if err := reg.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					panic(err)
				}
			}
		}
	}
	return m
}

// RecordBackpressureRejected increments the backpressure_rejected counter.
func (m *Metrics) RecordBackpressureRejected() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.backpressureRejected++
	m.mu.Unlock()
	m.promBackpressureRejected.Inc()
}

// SetInFlight updates the in-flight analysis gauge.
func (m *Metrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.promConcurrentAnalyses.Set(float64(n))
}

// RecordFlowSubmitted increments the flows_analyzed counter exactly once
// per Submit call, regardless of how many analyzers run against it. Callers
// must call this once per batch, not once per analyzer invocation.
func (m *Metrics) RecordFlowSubmitted() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.flowsAnalyzed++
	m.mu.Unlock()
	m.promFlowsAnalyzed.Inc()
}

// RecordAnalyzerRun records one analyzer execution: its duration, finding
// count, and whether it errored.
func (m *Metrics) RecordAnalyzerRun(analyzer string, at time.Time, d time.Duration, findingCount int, severities, categories []string, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.analyzerRuns++
	m.findingsGenerated += int64(findingCount)
	if err != nil {
		m.errors++
	}
	for _, sev := range severities {
		m.severityHist[sev]++
	}
	for _, cat := range categories {
		m.categoryHist[cat]++
	}

	pushSample(&m.global, sample{at: at, duration: d}, maxGlobalSamples)

	w, ok := m.perAnalyzer[analyzer]
	if !ok {
		w = &analyzerWindow{}
		m.perAnalyzer[analyzer] = w
	}
	pushSample(&w.samples, sample{at: at, duration: d}, maxPerAnalyzerSample)
	w.findings += int64(findingCount)
	if err != nil {
		w.errors++
	}
	m.mu.Unlock()

	m.promFindingsGenerated.Add(float64(findingCount))
	if err != nil {
		m.promErrors.Inc()
	}
	m.promAnalyzerDuration.WithLabelValues(analyzer).Observe(d.Seconds())
}

// pushSample appends to a bounded slice used as a sliding window of the
// most recent `cap` samples, dropping the oldest once full.
func pushSample(buf *[]sample, s sample, cap int) {
	if len(*buf) < cap {
		*buf = append(*buf, s)
		return
	}
	copy((*buf)[0:], (*buf)[1:])
	(*buf)[len(*buf)-1] = s
}

// Snapshot is the point-in-time rendering of get_stats(window_minutes).
type Snapshot struct {
	FlowsAnalyzed        int64
	FindingsGenerated     int64
	Errors                int64
	BackpressureRejected  int64
	ThroughputPerMin      float64
	MeanDurationMs        float64
	ErrorRate             float64
	SeverityHistogram     map[string]int64
	CategoryHistogram     map[string]int64
	PerAnalyzer           map[string]AnalyzerSnapshot
}

// AnalyzerSnapshot is the per-analyzer portion of Snapshot.
type AnalyzerSnapshot struct {
	Count    int64
	MinMs    float64
	MeanMs   float64
	MaxMs    float64
	Errors   int64
	Findings int64
}

// GetStats computes the derived snapshot over the trailing window.
func (m *Metrics) GetStats(window time.Duration) Snapshot {
	if m == nil {
		return Snapshot{}
	}
	now := time.Now()
	cutoff := now.Add(-window)

	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		FlowsAnalyzed:        m.flowsAnalyzed,
		FindingsGenerated:    m.findingsGenerated,
		Errors:               m.errors,
		BackpressureRejected: m.backpressureRejected,
		SeverityHistogram:    copyHist(m.severityHist),
		CategoryHistogram:    copyHist(m.categoryHist),
		PerAnalyzer:          make(map[string]AnalyzerSnapshot, len(m.perAnalyzer)),
	}

	var inWindow int
	var totalDur time.Duration
	for _, s := range m.global {
		if s.at.After(cutoff) {
			inWindow++
			totalDur += s.duration
		}
	}
	if inWindow > 0 {
		snap.MeanDurationMs = float64(totalDur.Milliseconds()) / float64(inWindow)
	}
	if window > 0 {
		snap.ThroughputPerMin = float64(inWindow) / window.Minutes()
	}
	if m.analyzerRuns > 0 {
		snap.ErrorRate = float64(m.errors) / float64(m.analyzerRuns)
	}

	for name, w := range m.perAnalyzer {
		var minD, maxD, total time.Duration
		for i, s := range w.samples {
			if i == 0 || s.duration < minD {
				minD = s.duration
			}
			if s.duration > maxD {
				maxD = s.duration
			}
			total += s.duration
		}
		var mean float64
		if len(w.samples) > 0 {
			mean = float64(total.Milliseconds()) / float64(len(w.samples))
		}
		snap.PerAnalyzer[name] = AnalyzerSnapshot{
			Count:    int64(len(w.samples)),
			MinMs:    float64(minD.Milliseconds()),
			MeanMs:   math.Round(mean*100) / 100,
			MaxMs:    float64(maxD.Milliseconds()),
			Errors:   w.errors,
			Findings: w.findings,
		}
	}
	return snap
}

func copyHist(h map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
