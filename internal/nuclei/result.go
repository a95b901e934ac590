package nuclei

import (
	"encoding/json"
	"time"

	"github.com/hakim/waverly/internal/models"
)

// Classification holds CVE/CWE and CVSS metadata for a finding.
type Classification struct {
	CVEID       []string `json:"cve-id"`
	CWEID       []string `json:"cwe-id"`
	CVSSMetrics string   `json:"cvss-metrics"`
	CVSSScore   float64  `json:"cvss-score"`
}

// ResultInfo holds the template info block from nuclei JSONL output.
type ResultInfo struct {
	Name           string          `json:"name"`
	Severity       string          `json:"severity"`
	Description    string          `json:"description"`
	Reference      []string        `json:"reference"`
	Classification *Classification `json:"classification"`
	Remediation    string          `json:"remediation"`
	Tags           []string        `json:"tags"`
}

// Result represents one finding from nuclei's JSONL output.
type Result struct {
	TemplateID    string     `json:"template-id"`
	TemplateURL   string     `json:"template-url"`
	Info          ResultInfo `json:"info"`
	Type          string     `json:"type"`
	Host          string     `json:"host"`
	MatchedAt     string     `json:"matched-at"`
	IP            string     `json:"ip"`
	Timestamp     string     `json:"timestamp"`
	MatcherStatus bool       `json:"matcher-status"`
}

// ParseFinding attempts to parse a single output line as a structured nuclei
// result. The second return value is false for anything that is not a result
// line (log text, banners, truncated JSON); callers count those as malformed
// and move on. A bad line never aborts the enclosing read loop.
//
// The raw line is preserved verbatim on the finding for later inspection.
func ParseFinding(line string) (models.Finding, bool) {
	var result Result
	if err := json.Unmarshal([]byte(line), &result); err != nil {
		return models.Finding{}, false
	}
	if result.TemplateID == "" {
		// Valid JSON but not a nuclei result line.
		return models.Finding{}, false
	}

	return models.Finding{
		TemplateID:  result.TemplateID,
		Name:        result.Info.Name,
		Severity:    mapSeverity(result.Info.Severity),
		Host:        result.Host,
		MatchedAt:   result.MatchedAt,
		Description: result.Info.Description,
		Raw:         json.RawMessage(line),
		SeenAt:      time.Now(),
	}, true
}

// mapSeverity converts a nuclei severity string to a models.Severity constant.
// Any unrecognised value falls back to SeverityInfo.
func mapSeverity(s string) models.Severity {
	switch s {
	case "critical":
		return models.SeverityCritical
	case "high":
		return models.SeverityHigh
	case "medium":
		return models.SeverityMedium
	case "low":
		return models.SeverityLow
	default:
		return models.SeverityInfo
	}
}
