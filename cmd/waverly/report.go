package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hakim/waverly/internal/report"
	"github.com/hakim/waverly/internal/storage"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report <task-id>",
	Short: "Regenerate reports for an archived scan task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		writeCSV, _ := cmd.Flags().GetBool("csv")

		archive, err := storage.NewStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer archive.Close()

		record, err := archive.GetTask(args[0])
		if err != nil {
			return fmt.Errorf("loading task: %w", err)
		}
		if record == nil {
			return fmt.Errorf("no archived task with id %s", args[0])
		}

		if err := os.MkdirAll(cfg.ReportsDir, 0755); err != nil {
			return fmt.Errorf("creating reports directory: %w", err)
		}

		reportPath := filepath.Join(cfg.ReportsDir, record.ID+".md")
		if err := report.WriteFindingsReport(record, reportPath); err != nil {
			return err
		}
		fmt.Printf("[+] Report written to %s\n", reportPath)

		if writeCSV {
			csvPath := filepath.Join(cfg.ReportsDir, record.ID+".csv")
			if err := report.WriteFindingsCSV(record, csvPath); err != nil {
				return err
			}
			fmt.Printf("[+] CSV written to %s\n", csvPath)
		}

		return nil
	},
}

func init() {
	reportCmd.Flags().Bool("csv", false, "also write a CSV export of the findings")
	rootCmd.AddCommand(reportCmd)
}
