package pcap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/brightlane/netsentry/internal/backpressure"
	"github.com/brightlane/netsentry/internal/breaker"
	"github.com/brightlane/netsentry/internal/ringbuf"
)

func newTestExporter(t *testing.T) (*Exporter, string) {
	t.Helper()
	dir := t.TempDir()
	buf := ringbuf.New(1 << 20)
	br := breaker.New(3)
	bp := backpressure.New(buf, nil, nil)
	e := New(dir, buf, br, bp, nil)
	return e, dir
}

func TestExporterStartCreatesFileAndTransitionsToWriting(t *testing.T) {
	e, dir := newTestExporter(t)
	if err := e.Start("session_abc.pcap"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.State() != StateWriting {
		t.Fatalf("expected StateWriting, got %v", e.State())
	}
	if _, err := os.Stat(filepath.Join(dir, "session_abc.pcap")); err != nil {
		t.Fatalf("expected pcap file to exist: %v", err)
	}
}

func TestExportWritesChunkThroughRingBuffer(t *testing.T) {
	e, _ := newTestExporter(t)
	if err := e.Start("session_abc.pcap"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok := e.Export([]byte("hello-packet")); !ok {
		t.Fatalf("expected export to be admitted")
	}
}

func TestExportRejectedWhenCircuitOpen(t *testing.T) {
	e, _ := newTestExporter(t)
	if err := e.Start("session_abc.pcap"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	br := e.breaker.(*breaker.Breaker)
	br.ReportFailure()
	br.ReportFailure()
	br.ReportFailure()
	if ok := e.Export([]byte("x")); ok {
		t.Fatalf("expected export to be rejected while the circuit is open")
	}
}

type fakeMonitor struct {
	scheduled []string
}

func (f *fakeMonitor) ScheduleOnce(path string) {
	f.scheduled = append(f.scheduled, path)
}

func TestStopSchedulesPostProcessingWhenMonitorProvided(t *testing.T) {
	e, _ := newTestExporter(t)
	if err := e.Start("session_abc.pcap"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e.Export([]byte("packet-one"))

	fm := &fakeMonitor{}
	if err := e.Stop(fm); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fm.scheduled) != 1 {
		t.Fatalf("expected exactly one file scheduled for post-processing, got %d", len(fm.scheduled))
	}
	if e.State() != StateStopped {
		t.Fatalf("expected StateStopped after Stop, got %v", e.State())
	}
}
