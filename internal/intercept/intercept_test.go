package intercept

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/brightlane/netsentry/internal/eventbus"
	"github.com/brightlane/netsentry/internal/model"
)

type fakeSessions struct {
	mu  sync.Mutex
	ids map[string]string
	n   int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{ids: make(map[string]string)}
}

func (f *fakeSessions) GetOrCreate(clientAddress, linkAddress, userAgent string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.ids[clientAddress]; ok {
		return id
	}
	f.n++
	id := clientAddress + "-session"
	f.ids[clientAddress] = id
	return id
}

type fakeStore struct {
	mu    sync.Mutex
	flows []*model.Flow
}

func (f *fakeStore) StoreFlowAsync(flow *model.Flow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flows = append(f.flows, flow)
}

type fakeAnalyzer struct {
	mu     sync.Mutex
	inputs []model.AnalysisInput
}

func (f *fakeAnalyzer) SubmitAsync(input model.AnalysisInput) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, input)
}

func TestOnResponseBuildsFlowAndFansOutWithoutBlocking(t *testing.T) {
	sessions := newFakeSessions()
	st := &fakeStore{}
	an := &fakeAnalyzer{}
	bus := eventbus.New(nil)
	h := New(sessions, st, an, bus)

	req := httptest.NewRequest(http.MethodGet, "https://example.com/login?password=hunter2", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	h.onRequest(req)

	resp := &http.Response{StatusCode: 200, Header: make(http.Header), Request: req}

	start := time.Now()
	h.onResponse(req, resp)
	if time.Since(start) > 200*time.Millisecond {
		t.Fatalf("onResponse took too long, expected fire-and-forget fan-out")
	}

	// Allow the fake sinks (called synchronously in this unit test, since
	// they are not wrapped in the async queue adapters here) to observe
	// the flow.
	st.mu.Lock()
	gotFlow := len(st.flows) == 1
	st.mu.Unlock()
	if !gotFlow {
		t.Fatalf("expected exactly one flow stored, got %d", len(st.flows))
	}

	an.mu.Lock()
	gotInput := len(an.inputs) == 1
	an.mu.Unlock()
	if !gotInput {
		t.Fatalf("expected exactly one analysis submission, got %d", len(an.inputs))
	}
}

func TestOnRequestEmitsClientConnectedOnlyOnce(t *testing.T) {
	sessions := newFakeSessions()
	bus := eventbus.New(nil)
	ch, _ := bus.Subscribe("")
	h := New(sessions, nil, nil, bus)

	req1 := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	req1.RemoteAddr = "10.0.0.9:1"
	h.onRequest(req1)

	select {
	case ev := <-ch:
		if ev.EventType != eventbus.TypeClientConnected {
			t.Fatalf("expected client_connected event, got %v", ev.EventType)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a client_connected event to be broadcast")
	}

	req2 := httptest.NewRequest(http.MethodGet, "http://example.com/other", nil)
	req2.RemoteAddr = "10.0.0.9:1"
	h.onRequest(req2)

	select {
	case ev := <-ch:
		t.Fatalf("expected no second client_connected event, got %v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestOnResponseIgnoresUnknownRequest(t *testing.T) {
	h := New(newFakeSessions(), &fakeStore{}, &fakeAnalyzer{}, nil)
	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	resp := &http.Response{StatusCode: 200, Header: make(http.Header), Request: req}
	// onResponse without a matching onRequest call should no-op rather than panic.
	h.onResponse(req, resp)
}

func TestExtractTLSInfoNilWhenNoTLSState(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	resp := &http.Response{StatusCode: 200, Header: make(http.Header), Request: req}
	if info := extractTLSInfo(resp); info != nil {
		t.Fatalf("expected nil TLS info for a plain HTTP response, got %+v", info)
	}
}

func TestContainsSensitiveMarkerDetectsPasswordInURL(t *testing.T) {
	flow := &model.Flow{URL: "https://example.com/login?password=x"}
	if !containsSensitiveMarker(flow) {
		t.Fatalf("expected sensitive marker to be detected")
	}
}
