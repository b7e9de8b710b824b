package diag

import (
	"fmt"
	"sort"
	"sync"

	"autoclose/internal/decl"
)

// Diagnostic is one reported violation.
type Diagnostic struct {
	Code      Code
	Severity  Severity
	Type      string
	Args      []string
	Locations []decl.Position
	Message   string
}

// New builds a diagnostic for code. Locations that are unknown are
// replaced by fallback, normally the owning type's position.
func New(code Code, typ string, fallback decl.Position, locs []decl.Position, args ...string) Diagnostic {
	d, ok := Lookup(code)
	if !ok {
		d = Descriptor{Code: code, Severity: Error, Template: string(code)}
	}
	var resolved []decl.Position
	for _, l := range locs {
		if l.IsValid() {
			resolved = append(resolved, l)
		}
	}
	if len(resolved) == 0 {
		resolved = []decl.Position{fallback}
	}
	return Diagnostic{
		Code:      code,
		Severity:  d.Severity,
		Type:      typ,
		Args:      append([]string(nil), args...),
		Locations: resolved,
		Message:   d.Format(args...),
	}
}

// Position returns the primary location.
func (d Diagnostic) Position() decl.Position {
	if len(d.Locations) == 0 {
		return decl.Position{}
	}
	return d.Locations[0]
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s %s: %s", d.Position(), d.Severity, d.Code, d.Message)
}

// Sink receives diagnostics.
type Sink interface {
	Report(d Diagnostic)
}

// Collector is a Sink safe for concurrent use.
type Collector struct {
	mu    sync.Mutex
	items []Diagnostic
}

// Report appends d.
func (c *Collector) Report(d Diagnostic) {
	c.mu.Lock()
	c.items = append(c.items, d)
	c.mu.Unlock()
}

// ReportAll appends every diagnostic of ds.
func (c *Collector) ReportAll(ds []Diagnostic) {
	c.mu.Lock()
	c.items = append(c.items, ds...)
	c.mu.Unlock()
}

// Diagnostics returns a sorted copy of everything reported so far.
func (c *Collector) Diagnostics() []Diagnostic {
	c.mu.Lock()
	out := append([]Diagnostic(nil), c.items...)
	c.mu.Unlock()
	Sort(out)
	return out
}

// Sort orders diagnostics by file, line, column, code and type, which
// makes the stream independent of worker scheduling.
func Sort(ds []Diagnostic) {
	sort.SliceStable(ds, func(i, j int) bool {
		a, b := ds[i].Position(), ds[j].Position()
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		if ds[i].Code != ds[j].Code {
			return ds[i].Code < ds[j].Code
		}
		if ds[i].Type != ds[j].Type {
			return ds[i].Type < ds[j].Type
		}
		return ds[i].Message < ds[j].Message
	})
}

// Counts returns the number of errors and warnings in ds.
func Counts(ds []Diagnostic) (errors, warnings int) {
	for _, d := range ds {
		if d.Severity == Warning {
			warnings++
		} else {
			errors++
		}
	}
	return errors, warnings
}

// HasErrors reports whether any diagnostic in ds is an error.
func HasErrors(ds []Diagnostic) bool {
	errs, _ := Counts(ds)
	return errs > 0
}
