package analysis

import (
	"strconv"
	"strings"

	"github.com/brightlane/netsentry/internal/model"
)

// PassiveAnalyzer fingerprints a flow from response headers and the
// request path alone, without any network activity of its own (spec
// §4.6.2).
type PassiveAnalyzer struct{}

func (a *PassiveAnalyzer) Name() string { return "passive_scanner" }

var disclosureHeaders = []string{"X-Powered-By", "X-AspNet-Version", "X-Generator"}

var debugHeaders = []string{"X-Debug", "X-Debug-Token", "X-Debug-Token-Link"}

var debugPaths = []string{
	"/debug/", "/dev/", "/.git/", "/.svn/", "/test/", "/staging/",
	"/admin/phpinfo.php", "/phpinfo.php", "/info.php", "/.env",
}

var vulnerableSoftware = map[string][]string{
	"Apache":  {"2.4.49", "2.4.50"},
	"nginx":   {"1.20.0"},
	"PHP":     {"7.4.0"},
	"OpenSSL": {"1.0.1", "1.0.2"},
}

func (a *PassiveAnalyzer) Analyze(input model.AnalysisInput) Result {
	flow := input.Flow
	res := newResult(a.Name(), "", "")
	if flow == nil {
		return res
	}
	res.FlowID = flow.ID
	res.SessionID = flow.SessionID
	headers := flow.ResponseHeaders.ToHTTPHeader()

	if server := headers.Get("Server"); server != "" {
		if strings.ContainsAny(server, "./ ") {
			res.Findings = append(res.Findings, finding(flow.SessionID, flow.ID, model.SeverityLow,
				"version_disclosure", "Server header discloses software version",
				"Server header value: "+server,
				"Suppress or generalize the Server header."))
		}
		for product, versions := range vulnerableSoftware {
			if !strings.Contains(server, product) {
				continue
			}
			for _, v := range versions {
				if strings.Contains(server, v) {
					res.Findings = append(res.Findings, finding(flow.SessionID, flow.ID, model.SeverityHigh,
						"vulnerable_software", "Known-vulnerable "+product+" version exposed",
						"Server header advertises "+product+" "+v+".",
						"Upgrade "+product+" past the affected version."))
				}
			}
		}
	}

	for _, h := range disclosureHeaders {
		if headers.Get(h) != "" {
			res.Findings = append(res.Findings, finding(flow.SessionID, flow.ID, model.SeverityLow,
				"version_disclosure", h+" header present",
				"The response included the "+h+" header.",
				"Remove "+h+" from responses."))
		}
	}

	lowerPath := strings.ToLower(flow.Path)
	for _, p := range debugPaths {
		if strings.Contains(lowerPath, p) && flow.StatusCode >= 200 && flow.StatusCode < 400 {
			res.Findings = append(res.Findings, finding(flow.SessionID, flow.ID, model.SeverityMedium,
				"debug_surface_exposed", "Debug or administrative path reachable",
				"Path "+flow.Path+" matched a known debug-surface pattern and returned "+strconv.Itoa(flow.StatusCode)+".",
				"Restrict or remove access to debug and administrative endpoints in production."))
			break
		}
	}

	for _, h := range debugHeaders {
		if headers.Get(h) != "" {
			res.Findings = append(res.Findings, finding(flow.SessionID, flow.ID, model.SeverityMedium,
				"debug_surface_exposed", h+" header present",
				"The response included the debug header "+h+".",
				"Disable debug headers outside development."))
		}
	}

	if flow.StatusCode >= 500 && strings.Contains(strings.ToLower(flow.ContentType), "text") {
		res.Findings = append(res.Findings, finding(flow.SessionID, flow.ID, model.SeverityMedium,
			"information_leak", "Server error with textual content-type",
			"Response returned status "+strconv.Itoa(flow.StatusCode)+" with content-type "+flow.ContentType+", a common stack-trace leak pattern.",
			"Return a generic error page and log the detail server-side only."))
	}

	res.Metadata["finding_count"] = len(res.Findings)
	return res
}
