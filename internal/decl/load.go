package decl

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// ErrInvalidDescriptor is wrapped by every shape error Validate returns.
var ErrInvalidDescriptor = errors.New("invalid descriptor")

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// FieldError locates a shape error inside the descriptor.
type FieldError struct {
	Path    string
	Message string
}

func (e *FieldError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func (e *FieldError) Unwrap() error {
	return ErrInvalidDescriptor
}

func fieldError(path, format string, args ...interface{}) error {
	return &FieldError{Path: path, Message: fmt.Sprintf(format, args...)}
}

// Load reads and validates a descriptor file. JSON descriptors are
// accepted since JSON is valid YAML.
func Load(path string) (*Package, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor: %w", err)
	}
	pkg, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	pkg.Source = path
	return pkg, nil
}

// Decode parses a descriptor with unknown keys rejected, then validates it.
func Decode(r io.Reader) (*Package, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var pkg Package
	if err := dec.Decode(&pkg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fieldError("", "empty descriptor")
		}
		return nil, fmt.Errorf("failed to parse descriptor: %w", err)
	}
	if err := pkg.Validate(); err != nil {
		return nil, err
	}
	return &pkg, nil
}

// Validate checks the descriptor's shape. It does not judge teardown
// semantics; those are reported as diagnostics later.
func (p *Package) Validate() error {
	if !identPattern.MatchString(p.Package) {
		return fieldError("package", "package name %q is not an identifier", p.Package)
	}
	for i, fact := range p.Universe {
		if fact.Name == "" {
			return fieldError(fmt.Sprintf("universe[%d].name", i), "type name is required")
		}
		for j, m := range fact.Methods {
			if err := validateMethod(m, fmt.Sprintf("universe[%d].methods[%d]", i, j)); err != nil {
				return err
			}
		}
	}

	seen := make(map[string]bool, len(p.Types))
	for i, t := range p.Types {
		path := fmt.Sprintf("types[%d]", i)
		if !identPattern.MatchString(t.Name) {
			return fieldError(path+".name", "type name %q is not an identifier", t.Name)
		}
		if seen[t.Name] {
			return fieldError(path+".name", "duplicate type %q", t.Name)
		}
		seen[t.Name] = true
		if err := validateType(t, path); err != nil {
			return err
		}
	}
	return nil
}

func validateType(t Type, path string) error {
	if t.AutoClose != nil {
		switch t.AutoClose.Mode {
		case "", ModeImplicit, ModeExplicit:
		default:
			return fieldError(path+".autoclose.mode", "unknown mode %q", t.AutoClose.Mode)
		}
	}
	if t.GateField != "" && !identPattern.MatchString(t.GateField) {
		return fieldError(path+".gate_field", "%q is not an identifier", t.GateField)
	}
	if t.Base != nil {
		if !identPattern.MatchString(t.Base.Field) {
			return fieldError(path+".base.field", "%q is not an identifier", t.Base.Field)
		}
		if t.Base.Type == "" {
			return fieldError(path+".base.type", "base type is required")
		}
	}
	for i, tp := range t.TypeParams {
		if !identPattern.MatchString(tp.Name) {
			return fieldError(fmt.Sprintf("%s.type_params[%d].name", path, i), "%q is not an identifier", tp.Name)
		}
	}

	fields := make(map[string]bool, len(t.Fields))
	for i, f := range t.Fields {
		fpath := fmt.Sprintf("%s.fields[%d]", path, i)
		if !identPattern.MatchString(f.Name) {
			return fieldError(fpath+".name", "%q is not an identifier", f.Name)
		}
		if fields[f.Name] {
			return fieldError(fpath+".name", "duplicate field %q", f.Name)
		}
		fields[f.Name] = true
		if f.Type == "" {
			return fieldError(fpath+".type", "field type is required")
		}
	}
	for i, m := range t.Methods {
		if err := validateMethod(m, fmt.Sprintf("%s.methods[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

func validateMethod(m Method, path string) error {
	if !identPattern.MatchString(m.Name) {
		return fieldError(path+".name", "%q is not an identifier", m.Name)
	}
	switch m.Hook {
	case "", HookUnmanaged, HookSync, HookAsync:
	default:
		return fieldError(path+".hook", "unknown hook kind %q", m.Hook)
	}
	return nil
}
