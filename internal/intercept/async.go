package intercept

import (
	"context"
	"log"

	"github.com/brightlane/netsentry/internal/analysis"
	"github.com/brightlane/netsentry/internal/model"
	"github.com/brightlane/netsentry/internal/store"
)

const asyncQueueDepth = 256

// AsyncStore adapts store.Store to the Store interface the hook uses: a
// single worker goroutine drains a bounded queue so StoreFlowAsync never
// blocks the response path. Persistence is never dropped for queue
// saturation alone: a full queue spills to a one-off goroutine that
// performs the write directly, unlike AsyncAnalyzer's submission queue,
// which is allowed to drop under sustained overload.
type AsyncStore struct {
	store *store.Store
	queue chan *model.Flow
}

// NewAsyncStore starts the background worker and returns the adapter.
func NewAsyncStore(s *store.Store) *AsyncStore {
	a := &AsyncStore{store: s, queue: make(chan *model.Flow, asyncQueueDepth)}
	go a.run()
	return a
}

func (a *AsyncStore) run() {
	for flow := range a.queue {
		if err := a.store.StoreFlow(context.Background(), flow, nil, nil); err != nil {
			log.Printf("intercept: async flow persist failed for %s: %v", flow.ID, err)
		}
	}
}

// StoreFlowAsync enqueues flow for persistence without blocking the caller.
// When the queue is saturated it still does not drop the flow: it spills
// the write onto its own goroutine so durability never depends on queue
// depth, only on the store eventually accepting the write.
func (a *AsyncStore) StoreFlowAsync(flow *model.Flow) {
	select {
	case a.queue <- flow:
	default:
		log.Printf("intercept: persistence queue saturated, spilling flow %s to its own goroutine", flow.ID)
		go func() {
			if err := a.store.StoreFlow(context.Background(), flow, nil, nil); err != nil {
				log.Printf("intercept: spilled flow persist failed for %s: %v", flow.ID, err)
			}
		}()
	}
}

// AsyncAnalyzer adapts an analysis.Orchestrator to the Analyzer interface:
// submission happens on a worker goroutine so the orchestrator's own
// concurrency cap and potential cache/store latency never stalls the hook.
type AsyncAnalyzer struct {
	orchestrator *analysis.Orchestrator
	queue        chan model.AnalysisInput
}

// NewAsyncAnalyzer starts the background worker and returns the adapter.
func NewAsyncAnalyzer(o *analysis.Orchestrator) *AsyncAnalyzer {
	a := &AsyncAnalyzer{orchestrator: o, queue: make(chan model.AnalysisInput, asyncQueueDepth)}
	go a.run()
	return a
}

func (a *AsyncAnalyzer) run() {
	for input := range a.queue {
		a.orchestrator.Submit(context.Background(), input)
	}
}

// SubmitAsync enqueues an analysis input without blocking the caller.
func (a *AsyncAnalyzer) SubmitAsync(input model.AnalysisInput) {
	select {
	case a.queue <- input:
	default:
		log.Println("intercept: analysis submission queue saturated, dropping input")
	}
}
