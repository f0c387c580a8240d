package models

import (
	"fmt"

	regexp "github.com/wasilibs/go-re2"
)

// ControlKind is the security control a pattern recognises
type ControlKind string

const (
	ControlAuth       ControlKind = "auth"
	ControlValidation ControlKind = "validation"
	ControlRateLimit  ControlKind = "rate_limit"
)

// PatternShape describes how a pattern match is interpreted
type PatternShape string

const (
	ShapeCall         PatternShape = "call"          // a call that performs the check
	ShapeCondition    PatternShape = "condition"     // a guard condition on an auth subject
	ShapeAssignedCall PatternShape = "assigned_call" // a call whose result must be assigned and used
)

// ControlPattern is one entry of a control vocabulary
type ControlPattern struct {
	ID         string         `yaml:"id" json:"id"`
	Name       string         `yaml:"name" json:"name"`
	Kind       ControlKind    `yaml:"kind" json:"kind"`
	Shape      PatternShape   `yaml:"shape" json:"shape"`
	Pattern    string         `yaml:"pattern" json:"pattern"`
	Enabled    *bool          `yaml:"enabled" json:"enabled,omitempty"`
	CompiledRe *regexp.Regexp `yaml:"-" json:"-"`
}

// IsEnabled reports whether the pattern takes part in matching (default true)
func (p *ControlPattern) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// PatternDatabase contains all control patterns indexed by kind
type PatternDatabase struct {
	Patterns []*ControlPattern
	ByID     map[string]*ControlPattern
	ByKind   map[ControlKind][]*ControlPattern
}

// NewPatternDatabase creates an empty pattern database
func NewPatternDatabase() *PatternDatabase {
	return &PatternDatabase{
		Patterns: make([]*ControlPattern, 0),
		ByID:     make(map[string]*ControlPattern),
		ByKind:   make(map[ControlKind][]*ControlPattern),
	}
}

// AddPattern compiles p and adds it. A pattern whose ID already exists
// replaces the earlier entry in place so that files can override defaults.
func (db *PatternDatabase) AddPattern(p *ControlPattern) error {
	if p.ID == "" {
		return fmt.Errorf("pattern without id")
	}
	switch p.Kind {
	case ControlAuth, ControlValidation, ControlRateLimit:
	default:
		return fmt.Errorf("pattern %s: unknown kind %q", p.ID, p.Kind)
	}
	if p.Shape == "" {
		p.Shape = ShapeCall
	}
	re, err := regexp.Compile(p.Pattern)
	if err != nil {
		return fmt.Errorf("pattern %s: %w", p.ID, err)
	}
	p.CompiledRe = re

	old, exists := db.ByID[p.ID]
	db.ByID[p.ID] = p
	if !exists {
		db.Patterns = append(db.Patterns, p)
		db.ByKind[p.Kind] = append(db.ByKind[p.Kind], p)
		return nil
	}

	for i, existing := range db.Patterns {
		if existing == old {
			db.Patterns[i] = p
		}
	}
	if old.Kind == p.Kind {
		for i, existing := range db.ByKind[p.Kind] {
			if existing == old {
				db.ByKind[p.Kind][i] = p
			}
		}
		return nil
	}
	kept := db.ByKind[old.Kind][:0]
	for _, existing := range db.ByKind[old.Kind] {
		if existing != old {
			kept = append(kept, existing)
		}
	}
	db.ByKind[old.Kind] = kept
	db.ByKind[p.Kind] = append(db.ByKind[p.Kind], p)
	return nil
}

// GetByKind returns patterns of one kind in insertion order
func (db *PatternDatabase) GetByKind(kind ControlKind) []*ControlPattern {
	return db.ByKind[kind]
}
