package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/hakim/waverly/internal/models"
	"github.com/hakim/waverly/internal/storage"
	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect archived scan tasks",
}

var tasksHistoryCmd = &cobra.Command{
	Use:   "history [name]",
	Short: "List archived scan tasks, newest first",
	Long: `List finished scan tasks from the archive. With a name argument, only
runs of that task name are shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		archive, err := storage.NewStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer archive.Close()

		var records []*models.TaskRecord
		if len(args) == 1 {
			records, err = archive.ListTasks(args[0])
		} else {
			records, err = archive.ListAllTasks()
		}
		if err != nil {
			return fmt.Errorf("listing archived tasks: %w", err)
		}

		if len(records) == 0 {
			fmt.Println("No archived tasks.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tName\tStatus\tTargets\tFindings\tCreated")
		fmt.Fprintln(w, "--\t----\t------\t-------\t--------\t-------")
		for _, record := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
				record.ID,
				record.Name,
				record.Status,
				len(record.Targets),
				len(record.Findings),
				record.CreatedAt.Format(time.DateTime),
			)
		}
		return w.Flush()
	},
}

var tasksShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show one archived task in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		fmt.Printf("Task:     %s (%s)\n", record.Name, record.ID)
		fmt.Printf("Status:   %s\n", record.Status)
		fmt.Printf("Created:  %s\n", record.CreatedAt.Format(time.DateTime))
		if record.StartedAt != nil && record.FinishedAt != nil {
			fmt.Printf("Duration: %s\n", record.FinishedAt.Sub(*record.StartedAt).Round(time.Millisecond))
		}
		if record.LastError != "" {
			fmt.Printf("Error:    %s\n", record.LastError)
		}
		fmt.Printf("Targets:  %d\n", len(record.Targets))
		for _, target := range record.Targets {
			fmt.Printf("  - %s\n", target)
		}
		fmt.Printf("Templates: %d\n", len(record.Templates))
		for _, id := range record.Templates {
			fmt.Printf("  - %s\n", id)
		}

		fmt.Printf("Findings: %d\n", len(record.Findings))
		if len(record.Findings) == 0 {
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "Severity\tTemplate\tHost\tMatched At")
		for _, f := range record.Findings {
			matchedAt := f.MatchedAt
			if matchedAt == "" {
				matchedAt = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.Severity, f.TemplateID, f.Host, matchedAt)
		}
		return w.Flush()
	},
}

func init() {
	tasksCmd.AddCommand(tasksHistoryCmd)
	tasksCmd.AddCommand(tasksShowCmd)
	rootCmd.AddCommand(tasksCmd)
}
