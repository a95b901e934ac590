package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	TemplatesDir string        `mapstructure:"templates_dir" yaml:"templates_dir"`
	ReportsDir   string        `mapstructure:"reports_dir" yaml:"reports_dir"`
	DBPath       string        `mapstructure:"db_path" yaml:"db_path"`
	Nuclei       NucleiConfig  `mapstructure:"nuclei" yaml:"nuclei"`
	Defaults     ScanDefaults  `mapstructure:"defaults" yaml:"defaults"`
	Proxy        ProxySettings `mapstructure:"proxy" yaml:"proxy"`
}

// NucleiConfig locates the external nuclei binary and its fixed arguments
type NucleiConfig struct {
	Path       string   `mapstructure:"path" yaml:"path"`
	ExtraArgs  []string `mapstructure:"extra_args" yaml:"extra_args"`
	GraceStop  string   `mapstructure:"grace_stop" yaml:"grace_stop"`
	Interactsh string   `mapstructure:"interactsh" yaml:"interactsh"`
}

// ScanDefaults are applied to new tasks when the caller leaves an option unset
type ScanDefaults struct {
	RateLimit   int    `mapstructure:"rate_limit" yaml:"rate_limit"`
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency"`
	Severity    string `mapstructure:"severity" yaml:"severity"`
}

// ProxySettings holds per-scheme proxy URLs handed to nuclei's -proxy flag
type ProxySettings struct {
	HTTP   string `mapstructure:"http" yaml:"http"`
	HTTPS  string `mapstructure:"https" yaml:"https"`
	SOCKS5 string `mapstructure:"socks5" yaml:"socks5"`
}

// Active returns the first configured proxy URL, preferring socks5.
// Empty string means no proxy is configured.
func (p ProxySettings) Active() string {
	for _, candidate := range []string{p.SOCKS5, p.HTTPS, p.HTTP} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// Load reads and parses configuration from a YAML file
// If path is empty, searches for waverly.yaml in current directory and ~/.config/waverly/
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path != "" {
		// Use explicit path
		v.SetConfigFile(path)
	} else {
		// Search for config in default locations
		v.SetConfigName("waverly")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")

		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".config", "waverly"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.TemplatesDir == "" {
		errs = append(errs, errors.New("templates_dir cannot be empty"))
	}

	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path cannot be empty"))
	}

	if c.Nuclei.Path == "" {
		errs = append(errs, errors.New("nuclei.path cannot be empty"))
	}

	if c.Defaults.RateLimit < 0 {
		errs = append(errs, errors.New("defaults.rate_limit must not be negative"))
	}

	if c.Defaults.Concurrency < 0 {
		errs = append(errs, errors.New("defaults.concurrency must not be negative"))
	}

	for scheme, raw := range map[string]string{
		"http":   c.Proxy.HTTP,
		"https":  c.Proxy.HTTPS,
		"socks5": c.Proxy.SOCKS5,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("proxy.%s is not a valid URL: %q", scheme, raw))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}
