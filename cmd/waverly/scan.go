package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hakim/waverly/internal/models"
	"github.com/hakim/waverly/internal/report"
	"github.com/hakim/waverly/internal/scheduler"
	"github.com/hakim/waverly/internal/storage"
	"github.com/hakim/waverly/internal/templates"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a nuclei scan task against targets and templates",
	Long: `Create a scan task from the given targets and template ids, run it to
completion and archive the result.

The external nuclei process streams findings as JSONL; waverly parses them
incrementally, so progress and partial results are visible while the scan is
still running. Ctrl-C stops the scan gracefully (SIGTERM, then SIGKILL after
the grace period); findings accumulated up to that point are kept.

Results are saved to:
  - {reports_dir}/{task_id}.md   (markdown report)
  - {reports_dir}/{task_id}.csv  (CSV export, with --csv)

The finished task, findings included, is archived in the configured database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Step 1: Get flags
		name, _ := cmd.Flags().GetString("name")
		targets, _ := cmd.Flags().GetStringSlice("target")
		targetFile, _ := cmd.Flags().GetString("target-file")
		templateIDs, _ := cmd.Flags().GetStringSlice("template")
		rateLimit, _ := cmd.Flags().GetInt("rate-limit")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		severity, _ := cmd.Flags().GetString("severity")
		proxy, _ := cmd.Flags().GetString("proxy")
		interactsh, _ := cmd.Flags().GetString("interactsh")
		interval, _ := cmd.Flags().GetDuration("poll-interval")
		writeCSV, _ := cmd.Flags().GetBool("csv")

		if targetFile != "" {
			fromFile, err := readTargetFile(targetFile)
			if err != nil {
				return err
			}
			targets = append(targets, fromFile...)
		}

		// Step 2: Fill unset options from config defaults
		opts := models.TaskOptions{
			RateLimit:   rateLimit,
			Concurrency: concurrency,
			Severity:    severity,
			Proxy:       proxy,
			Interactsh:  interactsh,
		}
		if opts.RateLimit == 0 {
			opts.RateLimit = cfg.Defaults.RateLimit
		}
		if opts.Concurrency == 0 {
			opts.Concurrency = cfg.Defaults.Concurrency
		}
		if opts.Severity == "" {
			opts.Severity = cfg.Defaults.Severity
		}
		if opts.Proxy == "" {
			opts.Proxy = cfg.Proxy.Active()
		}
		if opts.Interactsh == "" {
			opts.Interactsh = cfg.Nuclei.Interactsh
		}

		// Step 3: Open template store and task archive
		store, err := templates.NewStore(cfg.TemplatesDir)
		if err != nil {
			return fmt.Errorf("opening template store: %w", err)
		}
		defer store.Close()

		archive, err := storage.NewStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer archive.Close()

		grace, err := time.ParseDuration(cfg.Nuclei.GraceStop)
		if err != nil || grace <= 0 {
			grace = 5 * time.Second
		}

		sched := scheduler.New(cfg.Nuclei.Path, store,
			scheduler.WithArchiver(archive),
			scheduler.WithGracePeriod(grace),
			scheduler.WithExtraArgs(cfg.Nuclei.ExtraArgs),
		)

		// Step 4: Stop the scan gracefully on Ctrl-C
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		go func() {
			<-sigChan
			fmt.Println("\n[!] Interrupt received, stopping scan...")
			sched.StopAll()
		}()

		// Step 5: Create and submit the task
		fmt.Printf("[*] Starting scan %q: %d target(s), %d template(s)\n",
			name, len(targets), len(templateIDs))

		t, err := sched.Create(name, targets, templateIDs, opts)
		if err != nil {
			return fmt.Errorf("creating scan task: %w", err)
		}
		fmt.Printf("[*] Task ID: %s\n", t.ID())

		// Step 6: Poll snapshots until the task reaches a terminal status
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		printed := 0
	poll:
		for {
			select {
			case <-t.Done():
				break poll
			case <-ticker.C:
				snap := t.Snapshot()
				if snap.Status != models.StatusRunning {
					continue
				}
				if verbose {
					printed = printNewFindings(t.Findings(), printed)
				}
				fmt.Printf("[*] running: %d finding(s), %s elapsed\n",
					snap.ResultCount, snap.Elapsed.Round(time.Second))
			}
		}
		if verbose {
			printNewFindings(t.Findings(), printed)
		}

		// Step 7: Print the final summary
		snap := t.Snapshot()
		record := t.Record()
		summary := models.SeveritySummary(record.Findings)

		fmt.Println()
		fmt.Printf("[+] Scan %s (%s)\n", snap.Status, snap.Elapsed.Round(time.Millisecond))
		if snap.LastError != "" {
			fmt.Printf("[!] Error: %s\n", snap.LastError)
		}
		fmt.Printf("    Total findings: %d\n", snap.ResultCount)
		for _, sev := range []models.Severity{
			models.SeverityCritical, models.SeverityHigh, models.SeverityMedium,
			models.SeverityLow, models.SeverityInfo,
		} {
			if count := summary[sev]; count > 0 {
				fmt.Printf("    %-10s %d\n", string(sev)+":", count)
			}
		}
		if snap.MalformedLines > 0 {
			fmt.Printf("    Skipped %d unparseable output line(s)\n", snap.MalformedLines)
		}

		// Step 8: Write reports
		if err := os.MkdirAll(cfg.ReportsDir, 0755); err != nil {
			return fmt.Errorf("creating reports directory: %w", err)
		}

		reportPath := filepath.Join(cfg.ReportsDir, record.ID+".md")
		if err := report.WriteFindingsReport(&record, reportPath); err != nil {
			// Warn but do not fail; the task record is still archived below
			fmt.Printf("[!] Warning: failed to write markdown report: %v\n", err)
		} else {
			fmt.Printf("    Report: %s\n", reportPath)
		}

		if writeCSV {
			csvPath := filepath.Join(cfg.ReportsDir, record.ID+".csv")
			if err := report.WriteFindingsCSV(&record, csvPath); err != nil {
				fmt.Printf("[!] Warning: failed to write CSV export: %v\n", err)
			} else {
				fmt.Printf("    CSV: %s\n", csvPath)
			}
		}

		// Step 9: Archive the finished task
		if err := sched.Remove(t.ID()); err != nil {
			return fmt.Errorf("archiving task: %w", err)
		}
		fmt.Printf("[+] Task archived (ID: %s)\n", record.ID)

		if snap.Status == models.StatusFailed {
			return fmt.Errorf("scan failed: %s", snap.LastError)
		}
		return nil
	},
}

func init() {
	scanCmd.Flags().StringP("name", "n", "scan", "task name (used to group archived runs)")
	scanCmd.Flags().StringSliceP("target", "t", nil, "target URL/host (repeatable)")
	scanCmd.Flags().String("target-file", "", "file with one target per line")
	scanCmd.Flags().StringSliceP("template", "T", nil, "template id from the local library (repeatable)")
	scanCmd.Flags().Int("rate-limit", 0, "nuclei rate limit (0 = config default)")
	scanCmd.Flags().Int("concurrency", 0, "nuclei template concurrency (0 = config default)")
	scanCmd.Flags().String("severity", "", "severity filter, comma-separated (empty = config default)")
	scanCmd.Flags().String("proxy", "", "proxy URL (http/https/socks5)")
	scanCmd.Flags().String("interactsh", "", "interactsh (DNS callback) server URL")
	scanCmd.Flags().Duration("poll-interval", 2*time.Second, "progress reporting interval")
	scanCmd.Flags().Bool("csv", false, "also write a CSV export of the findings")
	scanCmd.MarkFlagRequired("template")
	rootCmd.AddCommand(scanCmd)
}

// printNewFindings prints every finding past the already-printed offset and
// returns the new offset.
func printNewFindings(findings []models.Finding, printed int) int {
	for _, f := range findings[printed:] {
		location := f.MatchedAt
		if location == "" {
			location = f.Host
		}
		fmt.Printf("[+] [%s] %s %s\n", f.Severity, f.TemplateID, location)
	}
	return len(findings)
}

// readTargetFile loads targets from a file, one per line. Blank lines and
// #-comments are ignored; further cleanup happens at task creation.
func readTargetFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading target file: %w", err)
	}

	var targets []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		targets = append(targets, line)
	}
	return targets, nil
}
