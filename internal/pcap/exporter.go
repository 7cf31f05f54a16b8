// Package pcap implements the PCAP exporter (C11) and the post-capture
// DNS pipeline (C12). The exporter drives a ring buffer into an on-disk
// pcapgo writer guarded by a circuit breaker and backpressure controller,
// the same drive-buffer-to-writer shape the teacher's captureStore uses
// for its in-memory capture ring, generalized here to bytes on disk. The
// monitor polls a directory for rotated files the way other_examples'
// netscope capture engine watches its interface, adapted from a live
// pcap.Handle read loop to a stat-based polling loop over finished files.
package pcap

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/brightlane/netsentry/internal/backpressure"
	"github.com/brightlane/netsentry/internal/breaker"
	"github.com/brightlane/netsentry/internal/ringbuf"
)

// State is the exporter's lifecycle.
type State int

const (
	StateIdle State = iota
	StateWriting
	StateStopped
)

// Breaker is the subset of breaker.Breaker the exporter depends on.
type Breaker interface {
	ShouldOpen() bool
	ReportFailure()
	ReportSuccess()
}

// Backpressure is the subset of backpressure.Controller the exporter
// depends on.
type Backpressure interface {
	ShouldPause() bool
}

// Monitor is the subset of *Monitor the exporter schedules a
// post-processing pass on after stop.
type Monitor interface {
	ScheduleOnce(path string)
}

// Exporter drains a ring buffer to an on-disk pcap file, opening a fresh
// writer per capture and refusing admission while the circuit is open or
// the buffer is under backpressure.
type Exporter struct {
	mu        sync.Mutex
	outputDir string
	buf       *ringbuf.Buffer
	breaker   Breaker
	backp     Backpressure
	logger    *slog.Logger

	state State
	file  *os.File
	w     *pcapgo.Writer
	path  string
}

// New constructs an Exporter writing under outputDir, backed by buf and
// guarded by br/bp. logger may be nil.
func New(outputDir string, buf *ringbuf.Buffer, br *breaker.Breaker, bp *backpressure.Controller, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{outputDir: outputDir, buf: buf, breaker: br, backp: bp, logger: logger, state: StateIdle}
}

// Start opens filename (relative to the configured output directory) for
// writing and transitions to StateWriting. The output directory is
// created with owner-only permissions if missing.
func (e *Exporter) Start(filename string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := os.MkdirAll(e.outputDir, 0o700); err != nil {
		return fmt.Errorf("create pcap output directory: %w", err)
	}
	path := filepath.Join(e.outputDir, filename)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open pcap file: %w", err)
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return fmt.Errorf("write pcap header: %w", err)
	}

	e.file = f
	e.w = w
	e.path = path
	e.state = StateWriting
	return nil
}

// Export pushes chunk into the ring buffer, then drains one chunk from
// the buffer to the writer. It reports false without touching the buffer
// when the circuit is open or the buffer is under backpressure.
func (e *Exporter) Export(chunk []byte) bool {
	if e.breaker != nil && e.breaker.ShouldOpen() {
		return false
	}
	if e.backp != nil && e.backp.ShouldPause() {
		return false
	}
	if !e.buf.Push(chunk) {
		return false
	}

	popped, ok := e.buf.Pop()
	if !ok {
		return true
	}
	if err := e.writeChunk(popped); err != nil {
		e.logger.Error("pcap write failed", "error", err)
		if e.breaker != nil {
			e.breaker.ReportFailure()
		}
		return false
	}
	if e.breaker != nil {
		e.breaker.ReportSuccess()
	}
	return true
}

func (e *Exporter) writeChunk(chunk []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateWriting || e.w == nil {
		return fmt.Errorf("exporter not in writing state")
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(chunk),
		Length:        len(chunk),
	}
	return e.w.WritePacket(ci, chunk)
}

// Stop drains any remaining buffered chunks to the writer, closes it, and
// transitions to StateStopped. If monitor is non-nil and the output file
// exists, a single post-processing pass over that file is scheduled.
func (e *Exporter) Stop(monitor Monitor) error {
	for {
		chunk, ok := e.buf.Pop()
		if !ok {
			break
		}
		if err := e.writeChunk(chunk); err != nil {
			e.logger.Error("pcap drain failed", "error", err)
			break
		}
	}

	e.mu.Lock()
	path := e.path
	f := e.file
	e.file = nil
	e.w = nil
	e.state = StateStopped
	e.mu.Unlock()

	var closeErr error
	if f != nil {
		closeErr = f.Close()
	}

	if monitor != nil && path != "" {
		if _, err := os.Stat(path); err == nil {
			monitor.ScheduleOnce(path)
		}
	}
	return closeErr
}

// State reports the exporter's current lifecycle state.
func (e *Exporter) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}
