package config

import (
	"errors"
	"runtime"

	"github.com/spf13/viper"
)

// Config represents the scanner configuration
type Config struct {
	// Scan settings
	Workers      int      `mapstructure:"workers"`        // number of worker goroutines
	MaxSize      string   `mapstructure:"max_size"`       // maximum file size to parse
	Extensions   []string `mapstructure:"extensions"`     // file extensions to scan
	Exclude      []string `mapstructure:"exclude"`        // directories to exclude
	ScanAllFiles bool     `mapstructure:"scan_all_files"` // scan all files regardless of extension
	PatternsPath string   `mapstructure:"patterns_path"`  // directory of extra control-pattern YAML files
	RulePacks    []string `mapstructure:"rule_packs"`     // enabled rule packs (empty = all)
	Disable      []string `mapstructure:"disable"`        // disabled rule packs

	// Policy settings
	Profile      string `mapstructure:"profile"`       // startup, strict, compliance-lite
	PolicyFile   string `mapstructure:"policy_file"`   // YAML policy overrides
	WaiversFile  string `mapstructure:"waivers_file"`  // YAML or JSON waiver list
	BaselineFile string `mapstructure:"baseline_file"` // previous artifact for regression analysis

	// Report settings
	ReportFormat string `mapstructure:"report_format"` // json, text, md, sarif
	OutputFile   string `mapstructure:"output_file"`   // output file path
}

// DefaultExtensions are the source extensions parsed when none are configured
var DefaultExtensions = []string{"ts", "tsx", "js", "jsx", "mjs", "cjs"}

// LoadConfig loads configuration from an optional .vibecheck.yaml, environment
// variables and defaults
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("workers", runtime.NumCPU())
	v.SetDefault("max_size", "1M")
	v.SetDefault("extensions", DefaultExtensions)
	v.SetDefault("exclude", []string{".git", "node_modules", ".next", "dist", "build", "coverage", ".vibecheck"})
	v.SetDefault("scan_all_files", false)
	v.SetDefault("patterns_path", "")
	v.SetDefault("profile", "startup")
	v.SetDefault("report_format", "")

	v.SetConfigName(".vibecheck")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	// Read environment variables
	v.SetEnvPrefix("VIBECHECK")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ShouldScanFile determines if a file should be scanned based on extension
func (c *Config) ShouldScanFile(extension string) bool {
	if c.ScanAllFiles {
		return true
	}

	extensions := c.Extensions
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	for _, ext := range extensions {
		if ext == extension {
			return true
		}
	}
	return false
}

// RulePackEnabled reports whether the named rule pack should run
func (c *Config) RulePackEnabled(name string) bool {
	for _, d := range c.Disable {
		if d == name {
			return false
		}
	}
	if len(c.RulePacks) == 0 {
		return true
	}
	for _, p := range c.RulePacks {
		if p == name {
			return true
		}
	}
	return false
}
