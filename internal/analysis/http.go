package analysis

import (
	"strings"

	"github.com/brightlane/netsentry/internal/model"
)

// HTTPAnalyzer checks response security headers, cookie hygiene, sensitive
// tokens in the URL, and authentication posture (spec §4.6.1).
type HTTPAnalyzer struct{}

func (a *HTTPAnalyzer) Name() string { return "http_analyzer" }

var missingHeaderSeverity = map[string]model.Severity{
	"X-Content-Type-Options":  model.SeverityMedium,
	"X-Frame-Options":         model.SeverityMedium,
	"Content-Security-Policy": model.SeverityMedium,
	"Strict-Transport-Security": model.SeverityHigh, // HTTPS only
}

var sensitiveTokens = []string{
	"password", "passwd", "pwd", "apikey", "api_key", "api-key",
	"token", "secret", "private_key", "access_token", "refresh_token",
	"session_id", "ssn", "credit_card", "ccnumber",
}

func (a *HTTPAnalyzer) Analyze(input model.AnalysisInput) Result {
	flow := input.Flow
	res := newResult(a.Name(), "", "")
	if flow == nil {
		return res
	}
	res.FlowID = flow.ID
	res.SessionID = flow.SessionID

	isHTTPS := strings.HasPrefix(strings.ToLower(flow.URL), "https://")
	headers := flow.ResponseHeaders.ToHTTPHeader()

	for name, severity := range missingHeaderSeverity {
		if name == "Strict-Transport-Security" && !isHTTPS {
			continue
		}
		if headers.Get(name) == "" {
			res.Findings = append(res.Findings, finding(flow.SessionID, flow.ID, severity,
				"missing_security_header",
				"Missing "+name+" header",
				"The response did not include the "+name+" header.",
				"Add the "+name+" response header."))
		}
	}

	if cookies := flow.Cookies; cookies != "" {
		lower := strings.ToLower(cookies)
		if isHTTPS && !strings.Contains(lower, "secure") {
			res.Findings = append(res.Findings, finding(flow.SessionID, flow.ID, model.SeverityHigh,
				"cookie_hygiene", "Cookie missing Secure attribute",
				"A Set-Cookie header on an HTTPS response lacked the Secure attribute.",
				"Set the Secure attribute on all cookies issued over HTTPS."))
		}
		if !strings.Contains(lower, "httponly") {
			res.Findings = append(res.Findings, finding(flow.SessionID, flow.ID, model.SeverityMedium,
				"cookie_hygiene", "Cookie missing HttpOnly attribute",
				"A Set-Cookie header lacked the HttpOnly attribute.",
				"Set the HttpOnly attribute to prevent script access to the cookie."))
		}
		if !strings.Contains(lower, "samesite") {
			res.Findings = append(res.Findings, finding(flow.SessionID, flow.ID, model.SeverityMedium,
				"cookie_hygiene", "Cookie missing SameSite attribute",
				"A Set-Cookie header lacked the SameSite attribute.",
				"Set SameSite to Lax or Strict."))
		}
	}

	lowerURL := strings.ToLower(flow.URL)
	for _, tok := range sensitiveTokens {
		if strings.Contains(lowerURL, tok) {
			res.Findings = append(res.Findings, findingWithMetadata(flow.SessionID, flow.ID, model.SeverityCritical,
				"sensitive_data_exposure", "Sensitive token in URL",
				"The URL appears to contain a "+tok+"-class value.",
				"Avoid placing credentials or tokens in the URL; use headers or a request body instead.",
				map[string]any{"pattern": tok, "data_type": tok + " parameter"}))
			break
		}
	}

	authHeader := flow.RequestHeaders.ToHTTPHeader().Get("Authorization")
	if authHeader != "" && !isHTTPS {
		res.Findings = append(res.Findings, finding(flow.SessionID, flow.ID, model.SeverityCritical,
			"auth_over_plaintext", "Authorization header sent over plaintext HTTP",
			"An Authorization header was observed on a non-HTTPS request.",
			"Require HTTPS for any endpoint that accepts credentials."))
	}
	if flow.AuthKind == model.AuthBasic {
		res.Findings = append(res.Findings, finding(flow.SessionID, flow.ID, model.SeverityMedium,
			"weak_auth_scheme", "HTTP Basic authentication detected",
			"The request used HTTP Basic authentication.",
			"Prefer a token-based scheme over Basic authentication."))
	}

	res.Metadata["finding_count"] = len(res.Findings)
	return res
}
