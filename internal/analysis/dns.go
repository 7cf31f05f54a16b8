package analysis

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/brightlane/netsentry/internal/model"
)

// DNSAnalyzer flags suspicious TLDs, DGA-like labels, typosquatting, and
// tunneling indicators on an observed DNS query (spec §4.6.4).
type DNSAnalyzer struct{}

func (a *DNSAnalyzer) Name() string { return "dns_analyzer" }

var suspiciousTLDs = []string{".tk", ".ml", ".ga", ".cf", ".gq"}

var dgaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)[a-z]{10,}`),
	regexp.MustCompile(`[0-9]{5,}`),
	regexp.MustCompile(`(?i)[a-z0-9]{20,}`),
}

var typosquatTargets = []string{"paypa1", "goog1e", "faceb00k", "amaz0n", "micros0ft"}

func (a *DNSAnalyzer) Analyze(input model.AnalysisInput) Result {
	q := input.DNSQuery
	res := newResult(a.Name(), "", "")
	if q == nil {
		return res
	}
	res.SessionID = q.SessionID

	lowerName := strings.ToLower(q.Name)

	for _, tld := range suspiciousTLDs {
		if strings.HasSuffix(lowerName, tld) {
			res.Findings = append(res.Findings, finding(q.SessionID, "", model.SeverityMedium,
				"suspicious_tld", "Query to suspicious top-level domain",
				"Observed query to "+q.Name+", which uses a TLD commonly abused for abuse/phishing infrastructure.",
				"Investigate the destination and consider blocking the TLD if unused by legitimate services."))
			break
		}
	}

	firstLabel := lowerName
	if idx := strings.IndexByte(lowerName, '.'); idx >= 0 {
		firstLabel = lowerName[:idx]
	}
	for _, pattern := range dgaPatterns {
		if pattern.MatchString(firstLabel) {
			res.Findings = append(res.Findings, finding(q.SessionID, "", model.SeverityHigh,
				"dga_like_domain", "DGA-like domain name",
				"First label \""+firstLabel+"\" of query "+q.Name+" matches a domain-generation-algorithm pattern.",
				"Correlate with other DGA indicators before blocking; consider sinkholing if confirmed malicious."))
			break
		}
	}

	for _, target := range typosquatTargets {
		if strings.Contains(lowerName, target) {
			res.Findings = append(res.Findings, finding(q.SessionID, "", model.SeverityMedium,
				"typosquatting", "Possible typosquatted domain",
				"Query "+q.Name+" resembles a known brand with character substitution.",
				"Verify the destination is not an impersonation attempt."))
			break
		}
	}

	totalLen := len(q.Name)
	dotCount := strings.Count(q.Name, ".")
	if q.Type == model.DNSTypeTXT && totalLen > 100 {
		res.Findings = append(res.Findings, finding(q.SessionID, "", model.SeverityHigh,
			"dns_tunneling", "Possible DNS tunneling via TXT query",
			"TXT query with total length "+strconv.Itoa(totalLen)+" exceeds the 100-character tunneling threshold.",
			"Inspect the resolver logs for sustained high-volume TXT traffic to this domain."))
	}
	if dotCount > 5 {
		res.Findings = append(res.Findings, finding(q.SessionID, "", model.SeverityMedium,
			"dns_tunneling", "Unusually deep DNS label structure",
			"Query "+q.Name+" has "+strconv.Itoa(dotCount+1)+" labels, consistent with data encoded in subdomains.",
			"Investigate the querying host for tunneling tooling."))
	}

	res.Metadata["finding_count"] = len(res.Findings)
	return res
}
