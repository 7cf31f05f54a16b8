package breaker

import "testing"

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	b := New(3)
	b.ReportFailure()
	b.ReportFailure()
	if b.ShouldOpen() {
		t.Fatalf("breaker opened before reaching threshold")
	}
	b.ReportFailure()
	if !b.ShouldOpen() {
		t.Fatalf("expected breaker to open at threshold")
	}
}

func TestSuccessResetsCount(t *testing.T) {
	b := New(2)
	b.ReportFailure()
	b.ReportSuccess()
	b.ReportFailure()
	if b.ShouldOpen() {
		t.Fatalf("expected breaker closed after success reset the streak")
	}
}

func TestExplicitReset(t *testing.T) {
	b := New(1)
	b.ReportFailure()
	if !b.ShouldOpen() {
		t.Fatalf("expected breaker open")
	}
	b.Reset()
	if b.ShouldOpen() {
		t.Fatalf("expected breaker closed after explicit reset")
	}
}
