package checklist

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
)

//go:embed default.yaml
var defaultChecklist []byte

type fileRule struct {
	ID       string            `yaml:"id"`
	Category string            `yaml:"category"`
	Severity string            `yaml:"severity"`
	Weight   float64           `yaml:"weight"`
	Enabled  *bool             `yaml:"enabled"`
	Params   map[string]string `yaml:"params"`
}

type file struct {
	Rules []fileRule `yaml:"rules"`
}

// Parse decodes a checklist YAML document. Rules are enabled unless the file
// says otherwise.
func Parse(data []byte) ([]Rule, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse checklist: %w", err)
	}
	rules := make([]Rule, 0, len(f.Rules))
	for _, fr := range f.Rules {
		enabled := true
		if fr.Enabled != nil {
			enabled = *fr.Enabled
		}
		rules = append(rules, Rule{
			ID:             fr.ID,
			Category:       fr.Category,
			Severity:       scans.Severity(fr.Severity),
			SeverityWeight: fr.Weight,
			Enabled:        enabled,
			Params:         fr.Params,
		})
	}
	return rules, nil
}

// LoadFile reads and parses a checklist file.
func LoadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checklist %s: %w", path, err)
	}
	return Parse(data)
}

// Default returns the built-in checklist.
func Default() []Rule {
	rules, err := Parse(defaultChecklist)
	if err != nil {
		panic(fmt.Sprintf("embedded checklist is invalid: %v", err))
	}
	return rules
}
