// Package analysis implements the analysis orchestrator (C9) and the four
// analyzers (C10): pure functions from a typed input to a finding list,
// fanned out per flow under a bounded concurrency cap, cached, metered,
// and batch-persisted. The registry/fan-out shape generalizes the
// teacher's analysis.Registry (src/analysis/model.go), adapted from its
// side-effecting OnRequest(ev) analyzers to pure Analyze(input) → Result
// analyzers, since this spec requires analyzers that never mutate their
// input.
package analysis

import (
	"time"

	"github.com/brightlane/netsentry/internal/model"
)

// Result is the output of one analyzer invocation against one input.
type Result struct {
	AnalyzerName string
	FlowID       string
	SessionID    string
	Findings     []model.Finding
	Metadata     map[string]any
	Timestamp    time.Time
}

// Analyzer is a pure function from a typed input to a Result. Analyzers
// must not mutate input.Flow or input.DNSQuery.
type Analyzer interface {
	Name() string
	Analyze(input model.AnalysisInput) Result
}

func newResult(name, flowID, sessionID string) Result {
	return Result{
		AnalyzerName: name,
		FlowID:       flowID,
		SessionID:    sessionID,
		Metadata:     make(map[string]any),
		Timestamp:    time.Now(),
	}
}

func finding(sessionID, flowID string, severity model.Severity, category, title, description, recommendation string) model.Finding {
	return findingWithMetadata(sessionID, flowID, severity, category, title, description, recommendation, nil)
}

func findingWithMetadata(sessionID, flowID string, severity model.Severity, category, title, description, recommendation string, metadata map[string]any) model.Finding {
	return model.Finding{
		ID:             model.NewID(),
		SessionID:      sessionID,
		FlowID:         flowID,
		Severity:       severity,
		Category:       category,
		Title:          title,
		Description:    description,
		Recommendation: recommendation,
		Metadata:       metadata,
		CreatedAt:      time.Now(),
	}
}

// NewDefaultAnalyzers returns the four spec-defined analyzers, each
// individually enable-gated by the caller before registration.
func NewDefaultAnalyzers() []Analyzer {
	return []Analyzer{
		&HTTPAnalyzer{},
		&PassiveAnalyzer{},
		&TLSAnalyzer{},
		&DNSAnalyzer{},
	}
}
