package services

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed phases.yaml
var defaultPhasesYAML []byte

// PhaseDefinition describes how one phase of a report is generated.
type PhaseDefinition struct {
	Phase          int     `yaml:"phase"`
	Name           string  `yaml:"name"`
	Section        string  `yaml:"section"`
	PromptTemplate string  `yaml:"prompt"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
}

// PhaseCatalog is the fixed, ordered list of phase definitions.
type PhaseCatalog struct {
	phases []PhaseDefinition
}

// DefaultPhaseCatalog returns the built-in four phase catalog.
func DefaultPhaseCatalog() (*PhaseCatalog, error) {
	return ParsePhaseCatalog(defaultPhasesYAML)
}

// LoadPhaseCatalog reads a catalog from a YAML file. An empty path yields the
// built-in catalog.
func LoadPhaseCatalog(path string) (*PhaseCatalog, error) {
	if path == "" {
		return DefaultPhaseCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{err: fmt.Errorf("read phase catalog: %w", err)}
	}
	return ParsePhaseCatalog(data)
}

// ParsePhaseCatalog parses and validates a YAML catalog.
func ParsePhaseCatalog(data []byte) (*PhaseCatalog, error) {
	var doc struct {
		Phases []PhaseDefinition `yaml:"phases"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigError{err: fmt.Errorf("parse phase catalog: %w", err)}
	}
	if len(doc.Phases) == 0 {
		return nil, &ConfigError{err: fmt.Errorf("phase catalog is empty")}
	}
	for i, def := range doc.Phases {
		if def.Phase != i+1 {
			return nil, &ConfigError{err: fmt.Errorf("phase %d listed at position %d, phases must be numbered 1..N in order", def.Phase, i+1)}
		}
		if !strings.Contains(def.PromptTemplate, "{title}") {
			return nil, &ConfigError{err: fmt.Errorf("phase %d prompt has no {title} placeholder", def.Phase)}
		}
		if def.Section == "" {
			return nil, &ConfigError{err: fmt.Errorf("phase %d has no section", def.Phase)}
		}
		if def.MaxTokens <= 0 {
			return nil, &ConfigError{err: fmt.Errorf("phase %d max_tokens must be positive", def.Phase)}
		}
		if def.Temperature < 0 || def.Temperature > 2 {
			return nil, &ConfigError{err: fmt.Errorf("phase %d temperature %.2f out of range", def.Phase, def.Temperature)}
		}
	}
	return &PhaseCatalog{phases: doc.Phases}, nil
}

// Len returns the number of phases.
func (c *PhaseCatalog) Len() int {
	return len(c.phases)
}

// DefinitionFor returns the definition of a phase.
func (c *PhaseCatalog) DefinitionFor(phase int) (PhaseDefinition, error) {
	if phase < 1 || phase > len(c.phases) {
		return PhaseDefinition{}, &ConfigError{err: fmt.Errorf("%w: %d", ErrPhaseNotDefined, phase)}
	}
	return c.phases[phase-1], nil
}

// Definitions returns a copy of all phase definitions in order.
func (c *PhaseCatalog) Definitions() []PhaseDefinition {
	out := make([]PhaseDefinition, len(c.phases))
	copy(out, c.phases)
	return out
}
