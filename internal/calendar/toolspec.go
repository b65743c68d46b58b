package calendar

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed toolspec.yaml
var toolSpecYAML []byte

// ToolParameter describes one argument of a tool.
type ToolParameter struct {
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type" json:"type"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// ToolSpec describes one calendar tool the gateway exposes.
type ToolSpec struct {
	Name        string          `yaml:"name" json:"name"`
	Description string          `yaml:"description" json:"description"`
	Parameters  []ToolParameter `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

type toolManifest struct {
	Tools []ToolSpec `yaml:"tools"`
}

// LoadToolSpecs parses the embedded tool manifest.
func LoadToolSpecs() ([]ToolSpec, error) {
	var manifest toolManifest
	if err := yaml.Unmarshal(toolSpecYAML, &manifest); err != nil {
		return nil, fmt.Errorf("parse tool manifest: %w", err)
	}
	if len(manifest.Tools) == 0 {
		return nil, fmt.Errorf("tool manifest is empty")
	}
	return manifest.Tools, nil
}
