package analysis

import (
	"strconv"
	"strings"
	"time"

	"github.com/brightlane/netsentry/internal/model"
)

// TLSAnalyzer inspects negotiated TLS parameters and certificate posture
// when the flow is HTTPS and TLS metadata was captured (spec §4.6.3).
type TLSAnalyzer struct{}

func (a *TLSAnalyzer) Name() string { return "tls_analyzer" }

var weakProtocolVersions = []string{"SSLv2", "SSLv3", "TLSv1.0", "TLSv1.1"}

var weakCipherSubstrings = []string{
	"RC4", "DES", "3DES", "MD5", "SHA1", "TLS_RSA_WITH_", "TLS_DHE_RSA_WITH_",
}

const certExpiryWarnWindow = 30 * 24 * time.Hour

func (a *TLSAnalyzer) Analyze(input model.AnalysisInput) Result {
	flow := input.Flow
	res := newResult(a.Name(), "", "")
	if flow == nil {
		return res
	}
	res.FlowID = flow.ID
	res.SessionID = flow.SessionID

	if !strings.HasPrefix(strings.ToLower(flow.URL), "https://") || flow.TLS == nil {
		return res
	}
	info := flow.TLS

	for _, weak := range weakProtocolVersions {
		if strings.Contains(info.Version, weak) {
			res.Findings = append(res.Findings, finding(flow.SessionID, flow.ID, model.SeverityHigh,
				"weak_tls_version", "Weak TLS protocol version negotiated",
				"Negotiated protocol: "+info.Version,
				"Disable "+weak+" and require TLS 1.2 or later."))
			break
		}
	}

	for _, weak := range weakCipherSubstrings {
		if strings.Contains(info.CipherSuite, weak) {
			res.Findings = append(res.Findings, finding(flow.SessionID, flow.ID, model.SeverityMedium,
				"weak_cipher_suite", "Weak cipher suite negotiated",
				"Negotiated cipher: "+info.CipherSuite,
				"Disable cipher suites using "+weak+"."))
			break
		}
	}

	if !info.LeafNotAfter.IsZero() {
		now := time.Now()
		if info.LeafNotAfter.Before(now) {
			daysAgo := int(now.Sub(info.LeafNotAfter).Hours() / 24)
			res.Findings = append(res.Findings, finding(flow.SessionID, flow.ID, model.SeverityHigh,
				"certificate_expiry", "Certificate expired",
				"Leaf certificate expired "+strconv.Itoa(daysAgo)+" days ago.",
				"Renew the certificate immediately."))
		} else if remaining := info.LeafNotAfter.Sub(now); remaining < certExpiryWarnWindow {
			daysLeft := int(remaining.Hours() / 24)
			res.Findings = append(res.Findings, finding(flow.SessionID, flow.ID, model.SeverityMedium,
				"certificate_expiry", "Certificate nearing expiry",
				"Leaf certificate expires in "+strconv.Itoa(daysLeft)+" days.",
				"Schedule certificate renewal."))
		}
	}

	if info.LeafSubject != "" && info.LeafSubject == info.LeafIssuer {
		res.Findings = append(res.Findings, finding(flow.SessionID, flow.ID, model.SeverityMedium,
			"self_signed_certificate", "Self-signed leaf certificate",
			"Leaf certificate subject equals its issuer: "+info.LeafSubject,
			"Use a certificate issued by a trusted CA."))
	}

	if len(info.Chain) < 2 {
		res.Findings = append(res.Findings, finding(flow.SessionID, flow.ID, model.SeverityLow,
			"short_certificate_chain", "Short certificate chain",
			"The certificate chain contained fewer than 2 certificates.",
			"Serve the full intermediate chain alongside the leaf certificate."))
	}

	res.Metadata["finding_count"] = len(res.Findings)
	return res
}
