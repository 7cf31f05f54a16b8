package pcap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/brightlane/netsentry/internal/analysis"
	"github.com/brightlane/netsentry/internal/model"
)

func TestDeriveSessionIDRules(t *testing.T) {
	cases := map[string]string{
		"session_abc123.pcap": "abc123",
		"capture_169.pcap":    "169",
		"whatever.pcap":       "whatever",
	}
	for name, want := range cases {
		if got := deriveSessionID(filepath.Join("/tmp", name)); got != want {
			t.Fatalf("deriveSessionID(%q) = %q, want %q", name, got, want)
		}
	}
}

type fakeDNSPersister struct {
	stored []model.DNSQuery
}

func (f *fakeDNSPersister) StoreDNS(ctx context.Context, queries []model.DNSQuery) error {
	f.stored = append(f.stored, queries...)
	return nil
}

type fakeAnalysisSubmitter struct {
	submitted []model.AnalysisInput
}

func (f *fakeAnalysisSubmitter) Submit(ctx context.Context, input model.AnalysisInput) []analysis.Result {
	f.submitted = append(f.submitted, input)
	return nil
}

func fakeDissector(records []dissectorRecord) Dissector {
	return func(ctx context.Context, path string) ([]dissectorRecord, error) {
		return records, nil
	}
}

func TestProcessFileMapsTypesPersistsAndSubmits(t *testing.T) {
	persister := &fakeDNSPersister{}
	submitter := &fakeAnalysisSubmitter{}
	records := []dissectorRecord{
		{QueryName: "example.com", QueryType: 1, Addresses: []string{"93.184.216.34"}, FrameTime: 1700000000},
		{QueryName: "mail.example.com", QueryType: 15, FrameTime: 1700000001},
	}
	m := NewMonitor(nil, time.Second, fakeDissector(records), persister, submitter, nil)

	if err := m.processFile(context.Background(), "/tmp/session_xyz.pcap"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(persister.stored) != 2 {
		t.Fatalf("expected 2 persisted queries, got %d", len(persister.stored))
	}
	if persister.stored[0].Type != model.DNSTypeA {
		t.Fatalf("expected A record type, got %v", persister.stored[0].Type)
	}
	if persister.stored[1].Type != model.DNSTypeMX {
		t.Fatalf("expected MX record type, got %v", persister.stored[1].Type)
	}
	if persister.stored[0].SessionID != "xyz" {
		t.Fatalf("expected derived session id xyz, got %q", persister.stored[0].SessionID)
	}
	if len(submitter.submitted) != 2 {
		t.Fatalf("expected 2 analysis submissions, got %d", len(submitter.submitted))
	}
}

func TestScheduleOnceProcessesAFileAtMostOnce(t *testing.T) {
	m := NewMonitor(nil, time.Hour, fakeDissector(nil), &fakeDNSPersister{}, &fakeAnalysisSubmitter{}, nil)
	m.ScheduleOnce("/tmp/a.pcap")
	m.ScheduleOnce("/tmp/a.pcap")
	if len(m.pending) != 1 {
		t.Fatalf("expected exactly one queued entry for a file scheduled twice, got %d", len(m.pending))
	}
}

func TestScanOnceDiscoversFilesInConfiguredDirectories(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "session_123.pcap"), []byte("data"), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := NewMonitor([]string{dir}, time.Hour, fakeDissector(nil), &fakeDNSPersister{}, &fakeAnalysisSubmitter{}, nil)
	m.scanOnce()
	if len(m.pending) != 1 {
		t.Fatalf("expected the written file to be scheduled, got %d entries", len(m.pending))
	}
}
