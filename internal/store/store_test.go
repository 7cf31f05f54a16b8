package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/brightlane/netsentry/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := New(&Config{Type: DatabaseTypeSQLite, SQLite: SQLiteConfig{Path: path}})
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	return s
}

func TestNewRunsMigrationInDevMode(t *testing.T) {
	s := newTestStore(t)
	var ledger migrationLedger
	if err := s.db.First(&ledger).Error; err != nil {
		t.Fatalf("expected migration ledger row, got error: %v", err)
	}
	if ledger.Version != schemaVersion {
		t.Fatalf("expected ledger version %d, got %d", schemaVersion, ledger.Version)
	}
}

func TestNewFailsOnPendingMigrationInProductionMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prod.db")
	_, err := New(&Config{Type: DatabaseTypeSQLite, SQLite: SQLiteConfig{Path: path}, Production: true})
	if err == nil {
		t.Fatalf("expected fatal error for pending migration in production mode on a fresh store")
	}
}

func TestStoreFlowPersistsFlowFindingsAndRecordsAtomically(t *testing.T) {
	s := newTestStore(t)
	flow := &model.Flow{SessionID: "sess-1", Method: "GET", URL: "https://example.com/", Timestamp: time.Now()}
	findings := []model.Finding{{Severity: model.SeverityHigh, Category: "headers", Title: "missing CSP"}}
	records := []model.AnalysisRecord{{AnalyzerName: "http_analyzer", Timestamp: time.Now()}}

	if err := s.StoreFlow(context.Background(), flow, findings, records); err != nil {
		t.Fatalf("unexpected error storing flow: %v", err)
	}
	if flow.ID == "" {
		t.Fatalf("expected flow to receive an assigned ID")
	}

	var count int64
	s.db.Model(&model.Finding{}).Where("flow_id = ?", flow.ID).Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 finding linked to flow, got %d", count)
	}
}

func TestGetFlowReturnsPersistedFlow(t *testing.T) {
	s := newTestStore(t)
	flow := &model.Flow{SessionID: "sess-1", Method: "GET", URL: "https://example.com/", Timestamp: time.Now()}
	if err := s.StoreFlow(context.Background(), flow, nil, nil); err != nil {
		t.Fatalf("unexpected error storing flow: %v", err)
	}

	got, err := s.GetFlow(context.Background(), flow.ID)
	if err != nil {
		t.Fatalf("unexpected error fetching flow: %v", err)
	}
	if got.URL != flow.URL {
		t.Fatalf("expected fetched flow URL %q, got %q", flow.URL, got.URL)
	}
}

func TestGetFlowReturnsErrNotFoundForUnknownID(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetFlow(context.Background(), "does-not-exist"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreAnalysisResultsAppendsToExistingFlow(t *testing.T) {
	s := newTestStore(t)
	flow := &model.Flow{SessionID: "sess-1", Method: "GET", URL: "https://example.com/", Timestamp: time.Now()}
	if err := s.StoreFlow(context.Background(), flow, nil, nil); err != nil {
		t.Fatalf("unexpected error storing flow: %v", err)
	}

	findings := []model.Finding{{Severity: model.SeverityMedium, Category: "tls", Title: "weak cipher"}}
	records := []model.AnalysisRecord{{AnalyzerName: "tls_analyzer", Timestamp: time.Now()}}
	if err := s.StoreAnalysisResults(context.Background(), flow.ID, findings, records); err != nil {
		t.Fatalf("unexpected error storing analysis results: %v", err)
	}

	var count int64
	s.db.Model(&model.Finding{}).Where("flow_id = ?", flow.ID).Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 finding linked to flow, got %d", count)
	}
}

func TestStoreSessionUpserts(t *testing.T) {
	s := newTestStore(t)
	sess := &model.Session{ID: "abc123", ClientAddress: "10.0.0.1:1234", CreatedAt: time.Now(), LastActivity: time.Now()}
	if err := s.StoreSession(context.Background(), sess); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sess.RequestCount = 5
	if err := s.StoreSession(context.Background(), sess); err != nil {
		t.Fatalf("unexpected error on upsert: %v", err)
	}

	var count int64
	s.db.Model(&model.Session{}).Where("id = ?", "abc123").Count(&count)
	if count != 1 {
		t.Fatalf("expected exactly one session row after upsert, got %d", count)
	}
}

func TestStoreDNSBulkInsert(t *testing.T) {
	s := newTestStore(t)
	queries := []model.DNSQuery{
		{SessionID: "sess-1", Name: "example.com", Type: model.DNSTypeA, Timestamp: time.Now()},
		{SessionID: "sess-1", Name: "api.example.com", Type: model.DNSTypeCNAME, Timestamp: time.Now()},
	}
	if err := s.StoreDNS(context.Background(), queries); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var count int64
	s.db.Model(&model.DNSQuery{}).Count(&count)
	if count != 2 {
		t.Fatalf("expected 2 DNS query rows, got %d", count)
	}
}

func TestBootstrapAdminCreatesSingleAdministrator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admin.db")
	s, err := New(&Config{
		Type:              DatabaseTypeSQLite,
		SQLite:            SQLiteConfig{Path: path},
		AdminUsername:     "root",
		AdminPasswordHash: "$2a$stub",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	has, err := s.HasAdministrator(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !has {
		t.Fatalf("expected administrator to have been bootstrapped")
	}
}

func TestNoAdminConfiguredLeavesStoreWithoutAdministrator(t *testing.T) {
	s := newTestStore(t)
	has, err := s.HasAdministrator(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if has {
		t.Fatalf("expected no administrator without configured credentials")
	}
}
