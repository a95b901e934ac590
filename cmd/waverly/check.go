package main

import (
	"fmt"

	"github.com/hakim/waverly/internal/config"
	"github.com/hakim/waverly/internal/nuclei"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the nuclei binary is available",
	Long: `Verify that the external nuclei binary is installed and resolvable.
Shows the resolved path and version, and prints installation instructions
when the binary is missing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		binary := "nuclei"
		// Use the configured path when a config is present; check must also
		// work before 'init' has been run.
		if cfg, err := config.Load(cfgFile); err == nil && cfg.Nuclei.Path != "" {
			binary = cfg.Nuclei.Path
		}

		result := nuclei.Check(binary)
		if !result.Found {
			fmt.Printf("[-] nuclei not found (looked for %q)\n", binary)
			fmt.Printf("    Install: %s\n", nuclei.InstallCmd)
			return fmt.Errorf("required tool 'nuclei' is missing")
		}

		fmt.Printf("[+] nuclei found\n")
		fmt.Printf("    Path:    %s\n", result.Path)
		fmt.Printf("    Version: %s\n", result.Version)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
