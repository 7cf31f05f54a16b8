package pcap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/brightlane/netsentry/internal/analysis"
	"github.com/brightlane/netsentry/internal/model"
)

// dissectorRecord is one structured record emitted by the external DNS
// dissector: query name, numeric type, resolved payload, frame time.
type dissectorRecord struct {
	QueryName  string   `json:"query_name"`
	QueryType  int      `json:"query_type"`
	Addresses  []string `json:"addresses"`
	CNAMEChain []string `json:"cname_chain"`
	FrameTime  float64  `json:"frame_time"`
}

// Dissector invokes the external DNS-filtering packet dissector against a
// capture file and returns its structured per-packet records.
type Dissector func(ctx context.Context, path string) ([]dissectorRecord, error)

// execDissector shells out to the configured dissector command, passing
// the capture path and a "dns" protocol filter, and parses its stdout as
// newline-delimited JSON records.
func execDissector(command string, args ...string) Dissector {
	return func(ctx context.Context, path string) ([]dissectorRecord, error) {
		fullArgs := append(append([]string{}, args...), path, "dns")
		cmd := exec.CommandContext(ctx, command, fullArgs...)
		var stdout bytes.Buffer
		cmd.Stdout = &stdout
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("run dissector: %w", err)
		}
		var records []dissectorRecord
		dec := json.NewDecoder(&stdout)
		for dec.More() {
			var rec dissectorRecord
			if err := dec.Decode(&rec); err != nil {
				return nil, fmt.Errorf("decode dissector output: %w", err)
			}
			records = append(records, rec)
		}
		return records, nil
	}
}

// NewTSharkDissector builds a Dissector that invokes the named tshark-style
// binary as "<command> -r <path> dns" (no -Y or -T flags are passed) and
// parses its stdout as newline-delimited JSON dissectorRecord objects.
func NewTSharkDissector(command string) Dissector {
	return execDissector(command, "-r")
}

// DNSPersister is the batch durability sink for extracted DNS queries.
type DNSPersister interface {
	StoreDNS(ctx context.Context, queries []model.DNSQuery) error
}

// AnalysisSubmitter is the sink C12 forwards each extracted query to for
// DNS analysis.
type AnalysisSubmitter interface {
	Submit(ctx context.Context, input model.AnalysisInput) []analysis.Result
}

// Monitor watches a set of directories for rotated capture files at a
// configured poll interval, dissects each at most once, persists the
// extracted DNS queries, and forwards them to the DNS analyzer. A file
// dropped because the work queue is saturated stays marked as seen and is
// not scheduled again.
type Monitor struct {
	dirs         []string
	pollInterval time.Duration
	dissector    Dissector
	store        DNSPersister
	analyzer     AnalysisSubmitter
	logger       *slog.Logger

	mu      sync.Mutex
	seen    map[string]struct{}
	pending chan string
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewMonitor constructs a Monitor. logger may be nil.
func NewMonitor(dirs []string, pollInterval time.Duration, dissector Dissector, store DNSPersister, analyzer AnalysisSubmitter, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		dirs:         dirs,
		pollInterval: pollInterval,
		dissector:    dissector,
		store:        store,
		analyzer:     analyzer,
		logger:       logger,
		seen:         make(map[string]struct{}),
		pending:      make(chan string, 64),
		stopCh:       make(chan struct{}),
	}
}

// Start begins the directory-polling loop and the single worker goroutine
// that processes scheduled files.
func (m *Monitor) Start(ctx context.Context) error {
	m.wg.Add(2)
	go m.pollLoop(ctx)
	go m.worker(ctx)
	return nil
}

// Stop halts the polling loop and worker, waiting for the in-flight file
// (if any) to finish processing.
func (m *Monitor) Stop(ctx context.Context) error {
	close(m.stopCh)
	m.wg.Wait()
	return nil
}

func (m *Monitor) pollLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.scanOnce()
		}
	}
}

func (m *Monitor) scanOnce() {
	for _, dir := range m.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			m.ScheduleOnce(filepath.Join(dir, entry.Name()))
		}
	}
}

// ScheduleOnce enqueues path for processing if it has not already been
// processed in this monitor's lifetime. Satisfies the Monitor interface
// the exporter schedules a post-stop pass through.
func (m *Monitor) ScheduleOnce(path string) {
	m.mu.Lock()
	if _, already := m.seen[path]; already {
		m.mu.Unlock()
		return
	}
	m.seen[path] = struct{}{}
	m.mu.Unlock()

	select {
	case m.pending <- path:
	default:
		m.logger.Warn("pcap monitor queue saturated, dropping file", "path", path)
	}
}

func (m *Monitor) worker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case path := <-m.pending:
			if err := m.processFile(ctx, path); err != nil {
				m.logger.Error("pcap post-processing failed", "path", path, "error", err)
			}
		}
	}
}

func (m *Monitor) processFile(ctx context.Context, path string) error {
	sessionID := deriveSessionID(path)

	records, err := m.dissector(ctx, path)
	if err != nil {
		return fmt.Errorf("dissect %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil
	}

	queries := make([]model.DNSQuery, 0, len(records))
	for _, rec := range records {
		q := model.DNSQuery{
			SessionID: sessionID,
			Timestamp: time.Unix(int64(rec.FrameTime), 0),
			Name:      rec.QueryName,
			Type:      model.DNSQueryTypeFromCode(rec.QueryType),
		}
		if len(rec.Addresses) > 0 || len(rec.CNAMEChain) > 0 {
			q.Response = &model.DNSResponse{Addresses: rec.Addresses, CNAMEChain: rec.CNAMEChain}
		}
		queries = append(queries, q)
	}

	if m.store != nil {
		if err := m.store.StoreDNS(ctx, queries); err != nil {
			return fmt.Errorf("persist dns queries: %w", err)
		}
	}
	if m.analyzer != nil {
		for i := range queries {
			m.analyzer.Submit(ctx, model.AnalysisInput{DNSQuery: &queries[i]})
		}
	}
	return nil
}

// deriveSessionID applies the filename-derivation rules: session_<id>.pcap
// -> <id>; capture_<ts>.pcap -> <ts>; otherwise the file stem.
func deriveSessionID(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	switch {
	case strings.HasPrefix(stem, "session_"):
		return strings.TrimPrefix(stem, "session_")
	case strings.HasPrefix(stem, "capture_"):
		return strings.TrimPrefix(stem, "capture_")
	default:
		return stem
	}
}
