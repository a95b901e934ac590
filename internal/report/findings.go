package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hakim/waverly/internal/models"
)

// severityOrder defines the display order for finding sections (most severe first).
var severityOrder = []models.Severity{
	models.SeverityCritical,
	models.SeverityHigh,
	models.SeverityMedium,
	models.SeverityLow,
	models.SeverityInfo,
}

// WriteFindingsReport generates a markdown report for a finished task's
// findings and writes it to the specified output path.
func WriteFindingsReport(record *models.TaskRecord, outputPath string) error {
	summary := models.SeveritySummary(record.Findings)

	var b strings.Builder

	// Header
	b.WriteString("# Scan Report\n\n")
	b.WriteString(fmt.Sprintf("**Task:** %s (%s)\n", record.Name, record.ID))
	b.WriteString(fmt.Sprintf("**Status:** %s\n", record.Status))
	b.WriteString(fmt.Sprintf("**Date:** %s\n", time.Now().UTC().Format("2006-01-02 15:04:05 UTC")))
	b.WriteString(fmt.Sprintf("**Targets:** %d | **Templates:** %d\n", len(record.Targets), len(record.Templates)))
	b.WriteString(fmt.Sprintf(
		"**Total findings:** %d | **Critical:** %d | **High:** %d | **Medium:** %d | **Low:** %d | **Info:** %d\n\n",
		len(record.Findings),
		summary[models.SeverityCritical],
		summary[models.SeverityHigh],
		summary[models.SeverityMedium],
		summary[models.SeverityLow],
		summary[models.SeverityInfo],
	))

	if record.LastError != "" {
		b.WriteString(fmt.Sprintf("**Last error:** %s\n\n", record.LastError))
	}

	// One section per severity in priority order
	bySeverity := findingsBySeverity(record.Findings)
	for _, sev := range severityOrder {
		heading := strings.ToUpper(string(sev[0])) + string(sev[1:])
		b.WriteString(fmt.Sprintf("## %s Findings\n\n", heading))

		findings := bySeverity[sev]
		if len(findings) == 0 {
			b.WriteString(fmt.Sprintf("No %s findings.\n\n", string(sev)))
			continue
		}

		b.WriteString("| Name | Host | Matched At | Template ID |\n")
		b.WriteString("|------|------|------------|-------------|\n")
		for _, f := range findings {
			matchedAt := f.MatchedAt
			if matchedAt == "" {
				matchedAt = "-"
			}
			b.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
				f.Name, f.Host, matchedAt, f.TemplateID))
		}
		b.WriteString("\n")
	}

	if record.MalformedLines > 0 {
		b.WriteString(fmt.Sprintf("_%d output lines could not be parsed and were skipped._\n", record.MalformedLines))
	}

	// Write to file
	if err := os.WriteFile(outputPath, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("writing report to %s: %w", outputPath, err)
	}

	return nil
}

// WriteFindingsCSV exports findings as CSV for spreadsheet tooling.
func WriteFindingsCSV(record *models.TaskRecord, outputPath string) error {
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating CSV file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"Template ID", "Name", "Severity", "Host", "Matched At", "Description"}); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}

	for _, finding := range record.Findings {
		row := []string{
			finding.TemplateID,
			finding.Name,
			string(finding.Severity),
			finding.Host,
			finding.MatchedAt,
			finding.Description,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("writing CSV row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

// findingsBySeverity partitions a findings slice into a map keyed by severity.
func findingsBySeverity(findings []models.Finding) map[models.Severity][]models.Finding {
	groups := make(map[models.Severity][]models.Finding)
	for _, f := range findings {
		groups[f.Severity] = append(groups[f.Severity], f)
	}
	return groups
}
