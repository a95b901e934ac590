package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/hakim/waverly/internal/templates"
	"github.com/spf13/cobra"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage the local nuclei template library",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates in the local library",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := templates.NewStore(cfg.TemplatesDir)
		if err != nil {
			return fmt.Errorf("opening template store: %w", err)
		}
		defer store.Close()

		all, err := store.List()
		if err != nil {
			return err
		}

		if len(all) == 0 {
			fmt.Printf("No templates in %s. Import some with 'waverly templates import <dir>'.\n", store.Dir())
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tName\tSeverity\tTags")
		fmt.Fprintln(w, "--\t----\t--------\t----")
		for _, meta := range all {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				meta.ID, meta.Name, meta.Severity, strings.Join(meta.Tags, ","))
		}
		if err := w.Flush(); err != nil {
			return err
		}

		fmt.Printf("\n%d template(s) in %s\n", len(all), store.Dir())
		return nil
	},
}

var templatesImportCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Import templates from a directory, deduplicated by template id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := templates.NewStore(cfg.TemplatesDir)
		if err != nil {
			return fmt.Errorf("opening template store: %w", err)
		}
		defer store.Close()

		imported, err := store.Import(args[0])
		if err != nil {
			return fmt.Errorf("importing templates: %w", err)
		}

		for _, path := range imported {
			fmt.Printf("[+] Imported %s\n", path)
		}
		fmt.Printf("[*] %d template(s) imported (existing ids skipped)\n", len(imported))
		return nil
	},
}

var templatesShowCmd = &cobra.Command{
	Use:   "show <template-id>",
	Short: "Print a template's YAML content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := templates.NewStore(cfg.TemplatesDir)
		if err != nil {
			return fmt.Errorf("opening template store: %w", err)
		}
		defer store.Close()

		content, err := store.Load(args[0])
		if err != nil {
			return err
		}
		fmt.Print(content)
		return nil
	},
}

var templatesRmCmd = &cobra.Command{
	Use:   "rm <template-id>",
	Short: "Delete a template from the local library",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := templates.NewStore(cfg.TemplatesDir)
		if err != nil {
			return fmt.Errorf("opening template store: %w", err)
		}
		defer store.Close()

		if err := store.Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("[+] Deleted template %s\n", args[0])
		return nil
	},
}

var templatesNewCmd = &cobra.Command{
	Use:   "new <template-id>",
	Short: "Create a basic HTTP word-matcher template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		severity, _ := cmd.Flags().GetString("severity")
		method, _ := cmd.Flags().GetString("method")
		path, _ := cmd.Flags().GetString("path")
		words, _ := cmd.Flags().GetStringSlice("word")

		content, err := templates.BuildBasic(templates.BasicTemplate{
			ID:           args[0],
			Name:         name,
			Severity:     severity,
			Method:       method,
			Path:         path,
			MatcherWords: words,
		})
		if err != nil {
			return err
		}

		store, err := templates.NewStore(cfg.TemplatesDir)
		if err != nil {
			return fmt.Errorf("opening template store: %w", err)
		}
		defer store.Close()

		saved, err := store.Save(args[0], content)
		if err != nil {
			return err
		}
		fmt.Printf("[+] Created template %s\n", saved)
		return nil
	},
}

func init() {
	templatesNewCmd.Flags().String("name", "", "template display name (defaults to the id)")
	templatesNewCmd.Flags().String("severity", "info", "template severity")
	templatesNewCmd.Flags().String("method", "GET", "HTTP method")
	templatesNewCmd.Flags().String("path", "/", "request path")
	templatesNewCmd.Flags().StringSlice("word", nil, "matcher word (repeatable)")

	templatesCmd.AddCommand(templatesListCmd)
	templatesCmd.AddCommand(templatesImportCmd)
	templatesCmd.AddCommand(templatesShowCmd)
	templatesCmd.AddCommand(templatesRmCmd)
	templatesCmd.AddCommand(templatesNewCmd)
	rootCmd.AddCommand(templatesCmd)
}
