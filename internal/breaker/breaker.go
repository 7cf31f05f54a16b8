// Package breaker implements a consecutive-failure circuit breaker (C3)
// guarding a fallible operation such as the PCAP writer.
package breaker

import "sync"

// Breaker opens after FailureThreshold consecutive failures and stays open
// until ReportSuccess or Reset is called.
type Breaker struct {
	mu                sync.Mutex
	failureThreshold  int
	consecutiveFails  int
	open              bool
}

// New constructs a Breaker that opens after failureThreshold consecutive
// failures. A non-positive threshold is treated as 1.
func New(failureThreshold int) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &Breaker{failureThreshold: failureThreshold}
}

// ReportFailure records a failure of the guarded operation. Once
// consecutive failures reach the threshold, the breaker opens.
func (b *Breaker) ReportFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFails++
	if b.consecutiveFails >= b.failureThreshold {
		b.open = true
	}
}

// ReportSuccess resets the consecutive-failure count to zero and closes
// the breaker.
func (b *Breaker) ReportSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFails = 0
	b.open = false
}

// Reset forces the breaker closed regardless of the failure count,
// equivalent to an explicit operator reset.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFails = 0
	b.open = false
}

// ShouldOpen reports whether the breaker is currently open.
func (b *Breaker) ShouldOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}
