package signatures

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/quantracode/VibeCheck-sub002/pkg/models"
	"gopkg.in/yaml.v3"
)

// Loader loads control patterns from YAML files
type Loader struct {
	patternsPath string
}

// NewLoader creates a new pattern loader
func NewLoader(patternsPath string) *Loader {
	return &Loader{
		patternsPath: patternsPath,
	}
}

// PatternFile represents a YAML pattern file
type PatternFile struct {
	Patterns []*models.ControlPattern `yaml:"patterns"`
}

// Load returns the default table extended by every YAML file under the
// patterns path. Entries reuse an ID to replace a default; an entry with an
// ID and no pattern only toggles the existing one.
func (l *Loader) Load() (*Table, error) {
	table := DefaultTable()

	if l.patternsPath == "" {
		return table, nil
	}
	// Return the defaults if the path doesn't exist
	if _, err := os.Stat(l.patternsPath); os.IsNotExist(err) {
		return table, nil
	}

	err := filepath.Walk(l.patternsPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// Skip directories and non-YAML files
		if info.IsDir() || (filepath.Ext(path) != ".yaml" && filepath.Ext(path) != ".yml") {
			return nil
		}

		if err := l.loadFile(path, table); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}

		return nil
	})

	return table, err
}

// loadFile loads patterns from a single YAML file
func (l *Loader) loadFile(path string, table *Table) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var patternFile PatternFile
	if err := yaml.Unmarshal(data, &patternFile); err != nil {
		return err
	}

	for _, p := range patternFile.Patterns {
		if p.Pattern == "" {
			existing, ok := table.Get(p.ID)
			if !ok {
				return fmt.Errorf("pattern %s: no pattern and no default to modify", p.ID)
			}
			toggled := *existing
			toggled.Enabled = p.Enabled
			p = &toggled
		}

		if err := table.Add(p); err != nil {
			return fmt.Errorf("failed to add pattern %s: %w", p.ID, err)
		}
	}

	return nil
}
