// Package intercept implements the interception hook (C7): it runs
// inside the goproxy-based transparent HTTPS/HTTP interceptor, converts
// request/response pairs into canonical Flow records, and hands them off
// fire-and-forget to persistence, analysis, and live broadcast. The
// handler wiring (request/response DoFunc pairs, an ephemeral
// sync.Map of in-flight partial captures keyed by request pointer, the
// http2-aware transport, MITM enablement) is grounded directly on the
// teacher's buildProxyHandler (src/proxy.go); this hook differs from the
// teacher's in producing model.Flow instead of Capture and in routing
// the result to C8/C9/C13 instead of an in-memory capture store. The
// hot path keeps the teacher's plain log.Printf texture rather than
// structured logging, since this code must never block on I/O.
package intercept

import (
	"crypto/tls"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/elazarl/goproxy"
	"golang.org/x/net/http2"

	"github.com/brightlane/netsentry/internal/eventbus"
	"github.com/brightlane/netsentry/internal/model"
)

// SessionAssigner resolves a client address to a session id, lazily
// creating one if none exists (C6).
type SessionAssigner interface {
	GetOrCreate(clientAddress, linkAddress, userAgent string) string
}

// Store is the persistence sink for one completed flow (C8). It must not
// block the hot path: implementations hand off internally.
type Store interface {
	StoreFlowAsync(flow *model.Flow)
}

// Analyzer is the analysis submission sink (C9).
type Analyzer interface {
	SubmitAsync(input model.AnalysisInput)
}

type phaseTiming struct {
	start     time.Time
	sessionID string
}

// Hook is C7: it builds the goproxy handler and, on response completion,
// fans a Flow out to the store, analyzer, and event bus without blocking
// the interceptor.
type Hook struct {
	sessions SessionAssigner
	store    Store
	analyzer Analyzer
	bus      *eventbus.Broker

	inFlight sync.Map // *http.Request -> *phaseTiming
	seen     sync.Map // session id -> struct{}, for client_connected detection
}

// New constructs a Hook. Any of store, analyzer, bus may be nil, in which
// case that sink is skipped (used in tests and partial wiring).
func New(sessions SessionAssigner, store Store, analyzer Analyzer, bus *eventbus.Broker) *Hook {
	return &Hook{sessions: sessions, store: store, analyzer: analyzer, bus: bus}
}

// BuildProxyHandler constructs the goproxy.ProxyHttpServer wired to this
// hook's request/response handlers, with MITM enabled against the given
// certificate when provided.
func (h *Hook) BuildProxyHandler(mitmCert *tls.Certificate) http.Handler {
	proxy := goproxy.NewProxyHttpServer()
	proxy.Verbose = false

	tr := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		ForceAttemptHTTP2: true,
	}
	if err := http2.ConfigureTransport(tr); err != nil {
		log.Printf("intercept: http2 configure failed: %v", err)
	}
	proxy.Tr = tr

	if mitmCert != nil {
		enableMITM(proxy, mitmCert)
	} else {
		log.Println("intercept: MITM disabled, HTTPS will be tunneled opaquely")
	}

	proxy.OnRequest().DoFunc(func(r *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
		h.onRequest(r)
		return r, nil
	})

	proxy.OnResponse().DoFunc(func(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
		if ctx == nil || ctx.Req == nil {
			return resp
		}
		if resp == nil {
			h.onFailedRoundTrip(ctx)
			return resp
		}
		h.onResponse(ctx.Req, resp)
		return resp
	})

	return proxy
}

// onFailedRoundTrip fires when the upstream round trip produced no
// response at all; a failed TLS handshake during MITM is the most common
// cause, so it is reported as such rather than silently dropped.
func (h *Hook) onFailedRoundTrip(ctx *goproxy.ProxyCtx) {
	h.inFlight.Delete(ctx.Req)
	if h.bus == nil {
		return
	}
	var reason string
	if ctx.Error != nil {
		reason = ctx.Error.Error()
	}
	h.bus.Broadcast(eventbus.Event{EventType: eventbus.TypeTLSHandshakeFailed, Data: map[string]any{
		"host":   ctx.Req.URL.Host,
		"reason": reason,
	}})
}

func (h *Hook) onRequest(r *http.Request) {
	log.Printf("intercept: request %s %s", r.Method, r.URL.String())

	timing := &phaseTiming{start: time.Now()}

	clientAddress := r.RemoteAddr
	if h.sessions != nil {
		sessionID := h.sessions.GetOrCreate(clientAddress, "", r.UserAgent())
		timing.sessionID = sessionID
		if _, alreadySeen := h.seen.LoadOrStore(sessionID, struct{}{}); !alreadySeen && h.bus != nil {
			h.bus.Broadcast(eventbus.Event{EventType: eventbus.TypeClientConnected, Data: map[string]any{
				"session_id":     sessionID,
				"client_address": clientAddress,
			}})
		}
	}

	h.inFlight.Store(r, timing)
}

func (h *Hook) onResponse(req *http.Request, resp *http.Response) {
	val, ok := h.inFlight.LoadAndDelete(req)
	if !ok {
		return
	}
	timing := val.(*phaseTiming)
	duration := time.Since(timing.start)
	sessionID := timing.sessionID

	flow := &model.Flow{
		ID:              model.NewID(),
		SessionID:       sessionID,
		Method:          req.Method,
		URL:             req.URL.String(),
		Host:            req.URL.Host,
		Path:            req.URL.Path,
		StatusCode:      resp.StatusCode,
		RequestBytes:    req.ContentLength,
		ResponseBytes:   resp.ContentLength,
		ContentType:     resp.Header.Get("Content-Type"),
		Timestamp:       time.Now(),
		RequestHeaders:  model.HeaderMapFromHTTP(req.Header),
		ResponseHeaders: model.HeaderMapFromHTTP(resp.Header),
		Cookies:         strings.Join(resp.Header.Values("Set-Cookie"), "; "),
		AuthKind:        model.DetectAuthKind(req.Header.Get("Authorization")),
		DurationMs:      duration.Milliseconds(),
		TLS:             extractTLSInfo(resp),
	}
	flow.SensitiveData = containsSensitiveMarker(flow)

	log.Printf("intercept: response %s status=%d duration=%dms", flow.URL, flow.StatusCode, flow.DurationMs)

	// Fire-and-forget fan-out: must never block the hook.
	if h.store != nil {
		h.store.StoreFlowAsync(flow)
	}
	if h.analyzer != nil {
		h.analyzer.SubmitAsync(model.AnalysisInput{Flow: flow})
	}
	if h.bus != nil {
		h.bus.Broadcast(eventbus.Event{EventType: eventbus.TypeHTTPFlow, Data: flowSummary(flow)})
	}
}

// ForgetSession drops a session id from the connected-session set so a
// future request from the same client is treated as a fresh connection.
// Callers wire this to the session tracker's expiry notification.
func (h *Hook) ForgetSession(sessionID string) {
	h.seen.Delete(sessionID)
}

func flowSummary(f *model.Flow) map[string]any {
	return map[string]any{
		"id":          f.ID,
		"session_id":  f.SessionID,
		"method":      f.Method,
		"url":         f.URL,
		"status_code": f.StatusCode,
		"duration_ms": f.DurationMs,
	}
}

func containsSensitiveMarker(f *model.Flow) bool {
	lower := strings.ToLower(f.URL)
	return strings.Contains(lower, "password") || strings.Contains(lower, "token") || strings.Contains(lower, "secret")
}

func extractTLSInfo(resp *http.Response) *model.TLSInfo {
	if resp.TLS == nil {
		return nil
	}
	cs := resp.TLS
	info := &model.TLSInfo{
		Version:     tlsVersionName(cs.Version),
		CipherSuite: tls.CipherSuiteName(cs.CipherSuite),
	}
	if len(cs.PeerCertificates) > 0 {
		leaf := cs.PeerCertificates[0]
		info.LeafSubject = leaf.Subject.String()
		info.LeafIssuer = leaf.Issuer.String()
		info.LeafNotBefore = leaf.NotBefore
		info.LeafNotAfter = leaf.NotAfter
		for _, c := range cs.PeerCertificates {
			info.Chain = append(info.Chain, model.CertSummary{Subject: c.Subject.String(), Issuer: c.Issuer.String()})
		}
	}
	return info
}

func tlsVersionName(v uint16) string {
	switch v {
	case tls.VersionSSL30:
		return "SSLv3"
	case tls.VersionTLS10:
		return "TLSv1.0"
	case tls.VersionTLS11:
		return "TLSv1.1"
	case tls.VersionTLS12:
		return "TLSv1.2"
	case tls.VersionTLS13:
		return "TLSv1.3"
	default:
		return "TYPE" + strconv.Itoa(int(v))
	}
}

func enableMITM(proxy *goproxy.ProxyHttpServer, cert *tls.Certificate) {
	tlsFromCA := goproxy.TLSConfigFromCA(cert)
	proxy.OnRequest().HandleConnect(goproxy.FuncHttpsHandler(
		func(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
			return &goproxy.ConnectAction{
				Action:    goproxy.ConnectMitm,
				TLSConfig: tlsFromCA,
			}, host
		},
	))
}
