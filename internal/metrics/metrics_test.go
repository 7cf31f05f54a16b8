package metrics

import (
	"errors"
	"testing"
	"time"
)

func TestRecordAnalyzerRunAccumulatesCounters(t *testing.T) {
	m := New(nil)
	now := time.Now()

	m.RecordAnalyzerRun("http_analyzer", now, 5*time.Millisecond, 2, []string{"high", "medium"}, []string{"headers"}, nil)
	m.RecordAnalyzerRun("http_analyzer", now, 10*time.Millisecond, 0, nil, nil, errors.New("boom"))

	snap := m.GetStats(time.Hour)
	if snap.FindingsGenerated != 2 {
		t.Fatalf("expected 2 findings generated, got %d", snap.FindingsGenerated)
	}
	if snap.Errors != 1 {
		t.Fatalf("expected 1 error, got %d", snap.Errors)
	}
	if snap.ErrorRate != 0.5 {
		t.Fatalf("expected error rate 0.5, got %f", snap.ErrorRate)
	}
	if snap.SeverityHistogram["high"] != 1 || snap.SeverityHistogram["medium"] != 1 {
		t.Fatalf("unexpected severity histogram: %#v", snap.SeverityHistogram)
	}
}

func TestRecordFlowSubmittedCountsOncePerSubmissionNotPerAnalyzer(t *testing.T) {
	m := New(nil)
	now := time.Now()

	// One flow submission that ran three analyzers: RecordFlowSubmitted is
	// called once by the orchestrator, RecordAnalyzerRun three times.
	m.RecordFlowSubmitted()
	m.RecordAnalyzerRun("http_analyzer", now, time.Millisecond, 0, nil, nil, nil)
	m.RecordAnalyzerRun("tls_analyzer", now, time.Millisecond, 0, nil, nil, nil)
	m.RecordAnalyzerRun("dns_analyzer", now, time.Millisecond, 0, nil, nil, nil)

	snap := m.GetStats(time.Hour)
	if snap.FlowsAnalyzed != 1 {
		t.Fatalf("expected 1 flow analyzed for one submission across 3 analyzers, got %d", snap.FlowsAnalyzed)
	}
}

func TestGetStatsExcludesSamplesOutsideWindow(t *testing.T) {
	m := New(nil)
	old := time.Now().Add(-time.Hour)
	recent := time.Now()

	m.RecordAnalyzerRun("dns_analyzer", old, time.Millisecond, 0, nil, nil, nil)
	m.RecordAnalyzerRun("dns_analyzer", recent, 4*time.Millisecond, 0, nil, nil, nil)

	snap := m.GetStats(time.Minute)
	if snap.MeanDurationMs != 4 {
		t.Fatalf("expected only the recent sample in a 1-minute window, got mean %f", snap.MeanDurationMs)
	}
}

func TestPerAnalyzerWindowTracksMinMeanMax(t *testing.T) {
	m := New(nil)
	now := time.Now()
	durations := []time.Duration{2 * time.Millisecond, 4 * time.Millisecond, 6 * time.Millisecond}
	for _, d := range durations {
		m.RecordAnalyzerRun("tls_analyzer", now, d, 0, nil, nil, nil)
	}

	snap := m.GetStats(time.Hour)
	pa, ok := snap.PerAnalyzer["tls_analyzer"]
	if !ok {
		t.Fatalf("expected tls_analyzer entry in per-analyzer snapshot")
	}
	if pa.MinMs != 2 || pa.MaxMs != 6 || pa.MeanMs != 4 {
		t.Fatalf("expected min=2 mean=4 max=6, got %+v", pa)
	}
	if pa.Count != 3 {
		t.Fatalf("expected 3 samples, got %d", pa.Count)
	}
}

func TestPerAnalyzerWindowCapsAtMaxSamples(t *testing.T) {
	m := New(nil)
	now := time.Now()
	for i := 0; i < maxPerAnalyzerSample+10; i++ {
		m.RecordAnalyzerRun("passive_scanner", now, time.Millisecond, 0, nil, nil, nil)
	}
	snap := m.GetStats(time.Hour)
	if snap.PerAnalyzer["passive_scanner"].Count != maxPerAnalyzerSample {
		t.Fatalf("expected window capped at %d samples, got %d", maxPerAnalyzerSample, snap.PerAnalyzer["passive_scanner"].Count)
	}
}

func TestRecordBackpressureRejectedIncrementsCounter(t *testing.T) {
	m := New(nil)
	m.RecordBackpressureRejected()
	m.RecordBackpressureRejected()
	snap := m.GetStats(time.Hour)
	if snap.BackpressureRejected != 2 {
		t.Fatalf("expected 2 backpressure rejections, got %d", snap.BackpressureRejected)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordBackpressureRejected()
	m.SetInFlight(3)
	m.RecordFlowSubmitted()
	m.RecordAnalyzerRun("x", time.Now(), time.Millisecond, 1, nil, nil, nil)
	if snap := m.GetStats(time.Minute); snap.FlowsAnalyzed != 0 {
		t.Fatalf("expected zero-value snapshot from nil Metrics, got %+v", snap)
	}
}
