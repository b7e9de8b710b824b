// Package decl holds the normalized declaration model autoclose consumes.
// A descriptor describes one Go package: the types to inspect, their
// fields and methods, and extra type facts for types declared elsewhere.
package decl

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Hook kinds a method may be marked with.
const (
	HookUnmanaged = "unmanaged"
	HookSync      = "sync"
	HookAsync     = "async"
)

// Mode names accepted in the autoclose annotation.
const (
	ModeImplicit = "implicit"
	ModeExplicit = "explicit"
)

// Position is a source location. The zero value means unknown.
type Position struct {
	File   string `yaml:"file,omitempty"`
	Line   int    `yaml:"line,omitempty"`
	Column int    `yaml:"column,omitempty"`
}

// IsValid reports whether the position carries any location.
func (p Position) IsValid() bool {
	return p.File != "" || p.Line > 0
}

func (p Position) String() string {
	if !p.IsValid() {
		return "-"
	}
	s := p.File
	if p.Line > 0 {
		s += fmt.Sprintf(":%d", p.Line)
		if p.Column > 0 {
			s += fmt.Sprintf(":%d", p.Column)
		}
	}
	return s
}

// Package is a parsed descriptor.
type Package struct {
	Package  string     `yaml:"package"`
	Universe []TypeFact `yaml:"universe,omitempty"`
	Types    []Type     `yaml:"types"`

	// Source is the path the descriptor was loaded from, if any.
	Source string `yaml:"-"`
}

// TypeFact describes a type declared outside the descriptor's package.
type TypeFact struct {
	Name       string   `yaml:"name"`
	Implements []string `yaml:"implements,omitempty"`
	Methods    []Method `yaml:"methods,omitempty"`
}

// Type describes one named type of the package.
type Type struct {
	Name       string      `yaml:"name"`
	Position   Position    `yaml:"position,omitempty"`
	TypeParams []TypeParam `yaml:"type_params,omitempty"`
	Implements []string    `yaml:"implements,omitempty"`
	GateField  string      `yaml:"gate_field,omitempty"`
	Base       *Base       `yaml:"base,omitempty"`
	AutoClose  *Annotation `yaml:"autoclose,omitempty"`
	Fields     []Field     `yaml:"fields,omitempty"`
	Methods    []Method    `yaml:"methods,omitempty"`
}

// Annotated reports whether the type asks for generated teardown.
func (t Type) Annotated() bool {
	return t.AutoClose != nil
}

// Annotation marks a type for generated teardown.
type Annotation struct {
	Mode     string   `yaml:"mode,omitempty"`
	Position Position `yaml:"position,omitempty"`
}

// TypeParam is a type parameter and its constraint interfaces.
type TypeParam struct {
	Name        string   `yaml:"name"`
	Constraints []string `yaml:"constraints,omitempty"`
}

// Base is the embedded base type a type extends.
type Base struct {
	Field    string   `yaml:"field"`
	Type     string   `yaml:"type"`
	Position Position `yaml:"position,omitempty"`
}

// Field is a struct field, or a package-level variable attributed to the
// type when Static is set.
type Field struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"`
	Static   bool     `yaml:"static,omitempty"`
	Include  Include  `yaml:"include,omitempty"`
	Exclude  bool     `yaml:"exclude,omitempty"`
	Position Position `yaml:"position,omitempty"`
}

// Include is the explicit-include flag. It accepts either a boolean or a
// mapping naming the dependency members released together with the field.
type Include struct {
	Enabled      bool
	Dependencies []string
}

// UnmarshalYAML accepts `include: true` and `include: {dependencies: [...]}`.
func (i *Include) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var enabled bool
		if err := value.Decode(&enabled); err != nil {
			return fmt.Errorf("include: %w", err)
		}
		*i = Include{Enabled: enabled}
		return nil
	case yaml.MappingNode:
		var raw struct {
			Dependencies []string `yaml:"dependencies"`
		}
		if err := value.Decode(&raw); err != nil {
			return fmt.Errorf("include: %w", err)
		}
		*i = Include{Enabled: true, Dependencies: raw.Dependencies}
		return nil
	default:
		return fmt.Errorf("include: expected bool or mapping at line %d", value.Line)
	}
}

// MarshalYAML renders the short form when there are no dependencies.
func (i Include) MarshalYAML() (interface{}, error) {
	if len(i.Dependencies) == 0 {
		return i.Enabled, nil
	}
	return map[string][]string{"dependencies": i.Dependencies}, nil
}

// IsZero lets omitempty drop an unset include flag.
func (i Include) IsZero() bool {
	return !i.Enabled && len(i.Dependencies) == 0
}

// Method is a method declared on the type, or a plain function attributed
// to it when Func is set.
type Method struct {
	Name       string   `yaml:"name"`
	Params     []string `yaml:"params,omitempty"`
	Results    []string `yaml:"results,omitempty"`
	TypeParams []string `yaml:"type_params,omitempty"`
	Func       bool     `yaml:"func,omitempty"`
	Hook       string   `yaml:"hook,omitempty"`
	Position   Position `yaml:"position,omitempty"`
}

// Signature renders the method's parameter and result types in Go
// function type syntax, e.g. "func(context.Context) error".
func (m Method) Signature() string {
	return Signature(m.Params, m.Results)
}

// Signature renders params and results as a Go function type.
func Signature(params, results []string) string {
	var b strings.Builder
	b.WriteString("func(")
	b.WriteString(strings.Join(params, ", "))
	b.WriteString(")")
	switch len(results) {
	case 0:
	case 1:
		b.WriteString(" ")
		b.WriteString(results[0])
	default:
		b.WriteString(" (")
		b.WriteString(strings.Join(results, ", "))
		b.WriteString(")")
	}
	return b.String()
}

// Lookup returns the type with the given name.
func (p *Package) Lookup(name string) (Type, bool) {
	for _, t := range p.Types {
		if t.Name == name {
			return t, true
		}
	}
	return Type{}, false
}
