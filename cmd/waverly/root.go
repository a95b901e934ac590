package main

import (
	"fmt"

	"github.com/hakim/waverly/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "waverly",
	Short: "Concurrent nuclei scan-task orchestrator",
	Long: `Waverly launches and tracks concurrent nuclei scans against sets of targets
and templates. Each scan runs as an isolated tracked task with its own
lifecycle: results stream in as the external process emits them, scans can be
stopped at any point, and finished tasks are archived with their findings for
later reporting.

It also manages a local library of nuclei templates, deduplicated by
template id.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for commands that don't need it
		skipConfig := map[string]bool{
			"check":   true,
			"init":    true,
			"help":    true,
			"version": true,
		}

		if skipConfig[cmd.Name()] {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: waverly.yaml, ~/.config/waverly/waverly.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "print each finding as it streams in during a scan")

	// Version flag
	rootCmd.Version = "0.1.0-dev"
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
