// Package model defines the entities the core observes, stores, and
// analyzes: Session, Flow, Finding, AnalysisRecord and DNSQuery.
package model

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"
)

// NewID generates a random hex-encoded identifier for entities with a
// string primary key (Flow, Finding, AnalysisRecord, DNSQuery), the same
// 16-byte crypto/rand scheme the session tracker uses for session IDs.
func NewID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// AuthKind is a tagged variant for the authentication scheme detected on a
// flow's Authorization header, rather than a free-form string.
type AuthKind string

const (
	AuthNone   AuthKind = "none"
	AuthBasic  AuthKind = "basic"
	AuthBearer AuthKind = "bearer"
	AuthOAuth  AuthKind = "oauth"
	AuthOther  AuthKind = "other"
)

// DetectAuthKind classifies an Authorization header value by its scheme
// prefix. An empty header yields AuthNone.
func DetectAuthKind(authorizationHeader string) AuthKind {
	if authorizationHeader == "" {
		return AuthNone
	}
	switch {
	case hasCIPrefix(authorizationHeader, "basic "):
		return AuthBasic
	case hasCIPrefix(authorizationHeader, "bearer "):
		return AuthBearer
	case hasCIPrefix(authorizationHeader, "oauth "):
		return AuthOAuth
	default:
		return AuthOther
	}
}

func hasCIPrefix(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		a, b := s[i], prefix[i]
		if 'A' <= a && a <= 'Z' {
			a += 'a' - 'A'
		}
		if 'A' <= b && b <= 'Z' {
			b += 'a' - 'A'
		}
		if a != b {
			return false
		}
	}
	return true
}

// CertSummary is one certificate in a chain: subject/issuer only, the
// fields the spec requires and nothing the proxy can't reliably surface.
type CertSummary struct {
	Subject string
	Issuer  string
}

// TLSInfo is the optional TLS metadata attached to a Flow. Fields the
// interceptor cannot reliably read (anything beyond version, cipher, leaf
// subject/issuer/validity, and chain subject/issuer pairs) are left zero
// rather than invented, per the open question in spec.md §9.
type TLSInfo struct {
	Version        string
	CipherSuite    string
	LeafSubject    string
	LeafIssuer     string
	LeafNotBefore  time.Time
	LeafNotAfter   time.Time
	Chain          []CertSummary
}

// Session is identity assigned to an observed client.
type Session struct {
	ID             string `gorm:"primaryKey"`
	ClientAddress  string `gorm:"index"`
	LinkAddress    string
	UserAgent      string
	CreatedAt      time.Time
	LastActivity   time.Time
	RequestCount   int64
}

// Flow is one completed HTTP exchange.
type Flow struct {
	ID              string `gorm:"primaryKey"`
	SessionID       string `gorm:"index"`
	Method          string
	URL             string
	Host            string
	Path            string
	StatusCode      int
	RequestBytes    int64
	ResponseBytes   int64
	ContentType     string
	Timestamp       time.Time
	RequestHeaders  HeaderMap `gorm:"serializer:json"`
	ResponseHeaders HeaderMap `gorm:"serializer:json"`
	Cookies         string
	AuthKind        AuthKind
	SensitiveData   bool
	DurationMs      int64
	TLS             *TLSInfo `gorm:"serializer:json"`
}

// HeaderMap is a case-insensitive-at-the-edges header multimap persisted as
// JSON; on the wire/hot path it is built from and read into http.Header.
type HeaderMap map[string][]string

// ToHTTPHeader copies m into a canonical http.Header.
func (m HeaderMap) ToHTTPHeader() http.Header {
	if m == nil {
		return nil
	}
	h := make(http.Header, len(m))
	for k, v := range m {
		cp := make([]string, len(v))
		copy(cp, v)
		h[http.CanonicalHeaderKey(k)] = cp
	}
	return h
}

// HeaderMapFromHTTP converts an http.Header into a HeaderMap.
func HeaderMapFromHTTP(h http.Header) HeaderMap {
	if h == nil {
		return nil
	}
	m := make(HeaderMap, len(h))
	for k, v := range h {
		cp := make([]string, len(v))
		copy(cp, v)
		m[k] = cp
	}
	return m
}

// Severity is a finding's severity level.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Finding is a structured security observation emitted by an analyzer.
type Finding struct {
	ID             string `gorm:"primaryKey"`
	SessionID      string `gorm:"index"`
	FlowID         string `gorm:"index"`
	Severity       Severity
	Category       string
	Title          string
	Description    string
	Recommendation string
	CreatedAt      time.Time
	Metadata       map[string]any `gorm:"serializer:json"`
}

// AnalysisRecord is one (flow, analyzer) execution record.
type AnalysisRecord struct {
	ID           string `gorm:"primaryKey"`
	FlowID       string `gorm:"index"`
	AnalyzerName string
	Timestamp    time.Time
	Metadata     map[string]any `gorm:"serializer:json"`
}

// DNSQueryType is the symbolic DNS query type, mapped from the numeric
// code observed by the post-capture dissector.
type DNSQueryType string

const (
	DNSTypeA     DNSQueryType = "A"
	DNSTypeNS    DNSQueryType = "NS"
	DNSTypeCNAME DNSQueryType = "CNAME"
	DNSTypeMX    DNSQueryType = "MX"
	DNSTypeTXT   DNSQueryType = "TXT"
	DNSTypeAAAA  DNSQueryType = "AAAA"
)

// DNSQueryTypeFromCode maps the numeric DNS RR type to its symbol, falling
// back to "TYPE<n>" for anything not explicitly enumerated by the spec.
func DNSQueryTypeFromCode(code int) DNSQueryType {
	switch code {
	case 1:
		return DNSTypeA
	case 2:
		return DNSTypeNS
	case 5:
		return DNSTypeCNAME
	case 15:
		return DNSTypeMX
	case 16:
		return DNSTypeTXT
	case 28:
		return DNSTypeAAAA
	default:
		return DNSQueryType(typeCodeFallback(code))
	}
}

func typeCodeFallback(code int) string {
	return "TYPE" + strconv.Itoa(code)
}

// DNSQuery is a DNS query observed via post-capture dissection.
type DNSQuery struct {
	ID        string `gorm:"primaryKey"`
	SessionID string `gorm:"index"`
	Timestamp time.Time
	Name      string
	Type      DNSQueryType
	Response  *DNSResponse `gorm:"serializer:json"`
}

// DNSResponse is the optional resolved payload for a DNSQuery.
type DNSResponse struct {
	Addresses  []string
	CNAMEChain []string
}

// AnalysisInput is the single typed union fed to analyzers: exactly one of
// Flow or DNSQuery is populated.
type AnalysisInput struct {
	Flow     *Flow
	DNSQuery *DNSQuery
}
