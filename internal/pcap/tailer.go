package pcap

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Tailer is the capture source feeding C11: it tails the raw-capture
// subprocess's growing output file and hands each newly observed chunk to
// the Exporter, sleeping while the exporter reports backpressure rather
// than overrunning the ring buffer; it checks the backpressure
// controller's ShouldPause once per poll, before reading new data.
type Tailer struct {
	path       string
	exporter   *Exporter
	backp      Backpressure
	pollEvery  time.Duration
	chunkBytes int
	logger     *slog.Logger

	stopCh chan struct{}
}

// NewTailer constructs a Tailer over path, feeding exporter.
func NewTailer(path string, exporter *Exporter, bp Backpressure, pollEvery time.Duration, logger *slog.Logger) *Tailer {
	if logger == nil {
		logger = slog.Default()
	}
	if pollEvery <= 0 {
		pollEvery = time.Second
	}
	return &Tailer{
		path:       path,
		exporter:   exporter,
		backp:      bp,
		pollEvery:  pollEvery,
		chunkBytes: 64 * 1024,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Start begins tailing in a background goroutine.
func (t *Tailer) Start(ctx context.Context) error {
	go t.run(ctx)
	return nil
}

// Stop halts the tailing goroutine.
func (t *Tailer) Stop(ctx context.Context) error {
	close(t.stopCh)
	return nil
}

func (t *Tailer) run(ctx context.Context) {
	var offset int64
	ticker := time.NewTicker(t.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-ticker.C:
			offset = t.drainOnce(offset)
		}
	}
}

func (t *Tailer) drainOnce(offset int64) int64 {
	if t.backp != nil && t.backp.ShouldPause() {
		return offset
	}

	f, err := os.Open(t.path)
	if err != nil {
		return offset
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset
	}

	buf := make([]byte, t.chunkBytes)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !t.exporter.Export(chunk) {
				t.logger.Warn("capture chunk not admitted", "path", t.path)
				return offset
			}
			offset += int64(n)
		}
		if err != nil {
			break
		}
	}
	return offset
}
