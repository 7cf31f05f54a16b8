package analysis

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/brightlane/netsentry/internal/eventbus"
	"github.com/brightlane/netsentry/internal/model"
)

// Recorder is the metrics sink the orchestrator reports to. The concrete
// implementation is internal/metrics.Metrics.
type Recorder interface {
	RecordFlowSubmitted()
	RecordAnalyzerRun(analyzer string, at time.Time, d time.Duration, findingCount int, severities, categories []string, err error)
	RecordBackpressureRejected()
	SetInFlight(n int)
}

// Persister is the batched-write sink for one flow's analysis output. The
// flow itself is already persisted by C7 before submission; the
// orchestrator only adds the findings and analysis records this run
// produced.
type Persister interface {
	StoreAnalysisResults(ctx context.Context, flowID string, findings []model.Finding, records []model.AnalysisRecord) error
}

// cacheEntry is the small result descriptor kept per (flow id, analyzer
// name): a metric/dedup hint, never a substitute for re-running the
// analyzer.
type cacheEntry struct {
	key          cacheKey
	findingCount int
	insertedAt   time.Time
}

type cacheKey struct {
	flowID   string
	analyzer string
}

// cache is a bounded LRU with absolute-TTL eviction, keyed by (flow id,
// analyzer name).
type cache struct {
	mu       sync.Mutex
	maxSize  int
	ttl      time.Duration
	order    *list.List
	elements map[cacheKey]*list.Element
}

func newCache(maxSize int, ttl time.Duration) *cache {
	return &cache{
		maxSize:  maxSize,
		ttl:      ttl,
		order:    list.New(),
		elements: make(map[cacheKey]*list.Element),
	}
}

func (c *cache) put(key cacheKey, findingCount int) {
	if c.maxSize <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.elements[key]; ok {
		c.order.Remove(el)
		delete(c.elements, key)
	}
	el := c.order.PushFront(&cacheEntry{key: key, findingCount: findingCount, insertedAt: time.Now()})
	c.elements[key] = el

	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.elements, oldest.Value.(*cacheEntry).key)
	}
}

func (c *cache) get(key cacheKey) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.elements[key]
	if !ok {
		return 0, false
	}
	entry := el.Value.(*cacheEntry)
	if time.Since(entry.insertedAt) > c.ttl {
		c.order.Remove(el)
		delete(c.elements, key)
		return 0, false
	}
	c.order.MoveToFront(el)
	return entry.findingCount, true
}

// Orchestrator is C9: bounded concurrent fan-out to analyzers, with cache,
// latency budget, metrics, and batched persistence.
type Orchestrator struct {
	analyzers    []Analyzer
	sem          chan struct{}
	maxDuration  time.Duration
	cache        *cache
	cacheEnabled bool
	metrics      Recorder
	store        Persister
	bus          *eventbus.Broker

	inFlight int64
	mu       sync.Mutex
}

// Config configures the orchestrator's limits.
type Config struct {
	MaxConcurrentAnalyses int
	MaxAnalysisTime       time.Duration
	CacheEnabled          bool
	CacheMaxSize          int
	CacheTTL              time.Duration
}

// New constructs an Orchestrator. metrics and bus may be nil in tests.
func New(analyzers []Analyzer, cfg Config, metrics Recorder, store Persister, bus *eventbus.Broker) *Orchestrator {
	if cfg.MaxConcurrentAnalyses <= 0 {
		cfg.MaxConcurrentAnalyses = 1
	}
	return &Orchestrator{
		analyzers:    analyzers,
		sem:          make(chan struct{}, cfg.MaxConcurrentAnalyses),
		maxDuration:  cfg.MaxAnalysisTime,
		cache:        newCache(cfg.CacheMaxSize, cfg.CacheTTL),
		cacheEnabled: cfg.CacheEnabled,
		metrics:      metrics,
		store:        store,
		bus:          bus,
	}
}

// Submit runs every analyzer against input, once each, up to the
// concurrency cap. If the cap is already saturated, the submission is
// rejected immediately: backpressure_rejected is incremented and an empty
// result set is returned. Otherwise each analyzer's findings and a
// corresponding analysis record are batched into a single
// StoreAnalysisResults call; DNS-only input has no owning flow and is
// stored with an empty flow id.
func (o *Orchestrator) Submit(ctx context.Context, input model.AnalysisInput) []Result {
	select {
	case o.sem <- struct{}{}:
	default:
		if o.metrics != nil {
			o.metrics.RecordBackpressureRejected()
		}
		return nil
	}
	defer func() { <-o.sem }()

	if o.metrics != nil {
		o.metrics.RecordFlowSubmitted()
	}

	o.mu.Lock()
	o.inFlight++
	inFlight := o.inFlight
	o.mu.Unlock()
	if o.metrics != nil {
		o.metrics.SetInFlight(int(inFlight))
	}
	defer func() {
		o.mu.Lock()
		o.inFlight--
		remaining := o.inFlight
		o.mu.Unlock()
		if o.metrics != nil {
			o.metrics.SetInFlight(int(remaining))
		}
	}()

	var results []Result
	var findings []model.Finding
	var records []model.AnalysisRecord

	for _, az := range o.analyzers {
		start := time.Now()
		result := az.Analyze(input)
		elapsed := time.Since(start)

		if o.maxDuration > 0 && elapsed > o.maxDuration && o.bus != nil {
			o.bus.Broadcast(eventbus.Event{
				EventType: eventbus.TypeFinding,
				Data: map[string]any{
					"type":        "slow_analysis",
					"analyzer":    az.Name(),
					"duration_ms": elapsed.Milliseconds(),
				},
			})
		}

		severities := make([]string, 0, len(result.Findings))
		categories := make([]string, 0, len(result.Findings))
		for _, f := range result.Findings {
			severities = append(severities, string(f.Severity))
			categories = append(categories, f.Category)
		}
		if o.metrics != nil {
			o.metrics.RecordAnalyzerRun(az.Name(), start, elapsed, len(result.Findings), severities, categories, nil)
		}

		if o.cacheEnabled {
			o.cache.put(cacheKey{flowID: result.FlowID, analyzer: az.Name()}, len(result.Findings))
		}

		findings = append(findings, result.Findings...)
		records = append(records, model.AnalysisRecord{
			ID:           model.NewID(),
			FlowID:       result.FlowID,
			AnalyzerName: az.Name(),
			Timestamp:    result.Timestamp,
			Metadata:     result.Metadata,
		})
		results = append(results, result)
	}

	if o.store != nil && (input.Flow != nil || len(findings) > 0 || len(records) > 0) {
		// A persistence failure here must not propagate to the capture
		// path; the store implementation is responsible for logging it.
		flowID := ""
		if input.Flow != nil {
			flowID = input.Flow.ID
		}
		_ = o.store.StoreAnalysisResults(ctx, flowID, findings, records)
	}

	return results
}
