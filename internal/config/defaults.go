package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	baseDir := filepath.Join(home, ".waverly")

	return &Config{
		TemplatesDir: filepath.Join(baseDir, "templates"),
		ReportsDir:   filepath.Join(baseDir, "reports"),
		DBPath:       filepath.Join(baseDir, "waverly.db"),
		Nuclei: NucleiConfig{
			Path:      "nuclei",
			ExtraArgs: []string{},
			GraceStop: "5s",
		},
		Defaults: ScanDefaults{
			RateLimit:   50,
			Concurrency: 25,
			Severity:    "",
		},
		Proxy: ProxySettings{},
	}
}

// WriteDefault writes a default configuration to the specified path
func WriteDefault(path string) error {
	cfg := DefaultConfig()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
