package config

import (
	"fmt"
	"strings"
)

// GeneratorConfig configures unit rendering and the worker pool.
type GeneratorConfig struct {
	OutputSuffix  string `yaml:"output_suffix"`
	RuntimeImport string `yaml:"runtime_import"`
	Header        string `yaml:"header,omitempty"`
	Workers       int    `yaml:"workers"`
	// FailOnWarning makes warnings block generation like errors do.
	FailOnWarning bool `yaml:"fail_on_warning"`
}

// Validate checks generator settings.
func (g GeneratorConfig) Validate() error {
	if g.Workers < 0 {
		return fmt.Errorf("generator.workers must be >= 0")
	}
	if g.OutputSuffix != "" && !strings.HasSuffix(g.OutputSuffix, ".go") {
		return fmt.Errorf("generator.output_suffix %q must end in .go", g.OutputSuffix)
	}
	if g.Header != "" && !strings.HasPrefix(g.Header, "//") {
		return fmt.Errorf("generator.header must be a line comment")
	}
	return nil
}
