// Package synth renders protocol plans as Go source. Rendering is a pure
// template instantiation followed by go/format, so identical plans always
// produce byte-identical units.
package synth

import (
	"bytes"
	"fmt"
	"go/format"
	"path"
	"sort"
	"strings"
	"text/template"
	"unicode"

	"autoclose/internal/protocol"
)

const (
	// DefaultRuntimeImport is the package generated code calls into.
	DefaultRuntimeImport = "autoclose/pkg/lifecycle"
	// DefaultHeader marks generated files for tools and reviewers.
	DefaultHeader = "// Code generated by autoclose. DO NOT EDIT."
	// DefaultSuffix is appended to the snake-cased type name.
	DefaultSuffix = "_autoclose.go"

	multierrImport = "go.uber.org/multierr"
)

// Options control rendering.
type Options struct {
	RuntimeImport string
	Header        string
	OutputSuffix  string
}

// DefaultOptions returns the options the CLI starts from.
func DefaultOptions() Options {
	return Options{
		RuntimeImport: DefaultRuntimeImport,
		Header:        DefaultHeader,
		OutputSuffix:  DefaultSuffix,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.RuntimeImport == "" {
		o.RuntimeImport = d.RuntimeImport
	}
	if o.Header == "" {
		o.Header = d.Header
	}
	if o.OutputSuffix == "" {
		o.OutputSuffix = d.OutputSuffix
	}
	return o
}

// Unit is the generated source of one type.
type Unit struct {
	Type     string
	FileName string
	Source   []byte
}

// FileName returns the generated file name for a type, e.g.
// "HTTPPool" becomes "http_pool_autoclose.go".
func FileName(typeName, suffix string) string {
	return SnakeCase(typeName) + suffix
}

// SnakeCase converts a Go identifier to snake_case.
func SnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type block struct {
	Cond  string
	Lines []string
}

type levelView struct {
	Blocks []block
}

type fileView struct {
	Header    string
	Package   string
	Imports   [][]string
	Type      string
	Recv      string
	Gate      string
	Close     bool
	Shutdown  bool
	Finalizer bool

	CloseLevel    *levelView
	ShutdownLevel *levelView
}

var fileTemplate = template.Must(template.New("unit").Parse(`{{.Header}}

package {{.Package}}
{{if .Imports}}
import (
{{- range $i, $group := .Imports}}{{if $i}}
{{end}}
{{- range $group}}
	"{{.}}"
{{- end}}
{{- end}}
)
{{end}}
// IsClosed reports whether teardown of {{.Type}} has started.
func (t {{.Recv}}) IsClosed() bool {
	return t.{{.Gate}}.IsClosed()
}
{{with .CloseLevel}}
// closeLevel tears down this level of {{$.Type}} once. While finalizing
// only unmanaged state is released.
func (t {{$.Recv}}) closeLevel(finalizing bool) (err error) {
	if !t.{{$.Gate}}.Enter() {
		return nil
	}
	defer t.{{$.Gate}}.Settle()
{{- template "blocks" .Blocks}}
	return err
}
{{end}}
{{- with .ShutdownLevel}}
// shutdownLevel tears down this level of {{$.Type}} once.
func (t {{$.Recv}}) shutdownLevel(ctx context.Context) (err error) {
	if !t.{{$.Gate}}.Enter() {
		return nil
	}
	defer t.{{$.Gate}}.Settle()
{{- template "blocks" .Blocks}}
	return err
}
{{end}}
{{- if .Close}}
// Close releases {{.Type}}. Only the first call to an entry point tears
// down; later calls return nil immediately.
func (t {{.Recv}}) Close() error {
	err := t.closeLevel(false)
{{- if .Finalizer}}
	if t.{{.Gate}}.Disarm() {
		runtime.SetFinalizer(t, nil)
	}
{{- end}}
	return err
}
{{end}}
{{- if .Shutdown}}
// Shutdown releases {{.Type}}, passing ctx to every async release. Only
// the first call to an entry point tears down; later calls return nil
// immediately.
func (t {{.Recv}}) Shutdown(ctx context.Context) error {
	err := t.shutdownLevel(ctx)
{{- if .Finalizer}}
	if t.{{.Gate}}.Disarm() {
		runtime.SetFinalizer(t, nil)
	}
{{- end}}
	return err
}
{{end}}
{{- if .Finalizer}}
// armFinalizer registers a finalizer that releases unmanaged state if t
// becomes unreachable before it is closed. Call it from the constructor
// of the outermost type only.
func (t {{.Recv}}) armFinalizer() {
	if t.{{.Gate}}.Arm() {
		runtime.SetFinalizer(t, func(t {{.Recv}}) {
			_ = t.closeLevel(true)
		})
	}
}
{{end}}
{{- define "blocks"}}
{{- range .}}
{{- if .Cond}}
	if {{.Cond}} {
{{- range .Lines}}
		{{.}}
{{- end}}
	}
{{- else}}
{{- range .Lines}}
	{{.}}
{{- end}}
{{- end}}
{{- end}}
{{- end}}`))

// Render instantiates the unit of a plan.
func Render(plan protocol.Plan, opts Options) (Unit, error) {
	opts = opts.withDefaults()
	if err := plan.Check(); err != nil {
		return Unit{}, err
	}
	r := renderer{qualifier: path.Base(opts.RuntimeImport)}

	view := fileView{
		Header:    opts.Header,
		Package:   plan.Package,
		Type:      plan.Type,
		Recv:      plan.Receiver,
		Gate:      plan.GateField,
		Close:     plan.Close,
		Shutdown:  plan.Shutdown,
		Finalizer: plan.Finalizer,
	}
	if plan.CloseLevel != nil {
		view.CloseLevel = r.level(plan.CloseLevel, false)
	}
	if plan.ShutdownLevel != nil {
		view.ShutdownLevel = r.level(plan.ShutdownLevel, true)
	}
	view.Imports = imports(plan, r, opts.RuntimeImport)

	var buf bytes.Buffer
	if err := fileTemplate.Execute(&buf, view); err != nil {
		return Unit{}, fmt.Errorf("%s: failed to render unit: %w", plan.Type, err)
	}
	src, err := format.Source(buf.Bytes())
	if err != nil {
		return Unit{}, fmt.Errorf("%s: generated source does not parse: %w", plan.Type, err)
	}
	return Unit{
		Type:     plan.Type,
		FileName: FileName(plan.Type, opts.OutputSuffix),
		Source:   src,
	}, nil
}

type renderer struct {
	qualifier string
	// set while rendering
	usesRuntime  bool
	usesMultierr bool
	usesContext  bool
}

func (r *renderer) level(seq *protocol.Sequence, async bool) *levelView {
	var blocks []block
	for _, s := range seq.Steps {
		cond := condition(s.When)
		ln := r.line(s, async)
		if n := len(blocks); n > 0 && blocks[n-1].Cond == cond {
			blocks[n-1].Lines = append(blocks[n-1].Lines, ln)
			continue
		}
		blocks = append(blocks, block{Cond: cond, Lines: []string{ln}})
	}
	return &levelView{Blocks: blocks}
}

func condition(w protocol.When) string {
	switch w {
	case protocol.Managed:
		return "!finalizing"
	case protocol.Finalizing:
		return "finalizing"
	default:
		return ""
	}
}

func (r *renderer) line(s protocol.Step, async bool) string {
	ctx := "ctx"
	if s.Background || !async {
		ctx = "context.Background()"
	}
	operand := "t." + s.Target
	if s.Address {
		operand = "&" + operand
	}

	switch s.Kind {
	case protocol.StepUnmanagedHook:
		return fmt.Sprintf("t.%s()", s.Target)
	case protocol.StepSyncHook:
		if !s.ReturnsError {
			return fmt.Sprintf("t.%s()", s.Target)
		}
		return r.accumulate(fmt.Sprintf("t.%s()", s.Target))
	case protocol.StepAsyncHook:
		return r.accumulate(fmt.Sprintf("t.%s(ctx)", s.Target))
	case protocol.StepCloseMember, protocol.StepCloseBase:
		r.usesRuntime = true
		return r.accumulate(fmt.Sprintf("%s.Close(%s)", r.qualifier, operand))
	case protocol.StepShutdownMember, protocol.StepShutdownBase:
		r.usesRuntime = true
		r.useContext(ctx)
		return r.accumulate(fmt.Sprintf("%s.Shutdown(%s, %s)", r.qualifier, ctx, operand))
	case protocol.StepCloseBaseLevel:
		arg := s.Arg
		if arg == "" {
			arg = "finalizing"
		}
		return guard(s, r.accumulate(fmt.Sprintf("t.%s.closeLevel(%s)", s.Target, arg)))
	case protocol.StepShutdownBaseLevel:
		r.useContext(ctx)
		return guard(s, r.accumulate(fmt.Sprintf("t.%s.shutdownLevel(%s)", s.Target, ctx)))
	default:
		return fmt.Sprintf("// unknown step %s", s.Kind)
	}
}

// guard wraps a base delegation in a nil check. go/format fixes the
// indentation.
func guard(s protocol.Step, stmt string) string {
	if !s.NilGuard {
		return stmt
	}
	return fmt.Sprintf("if t.%s != nil {\n%s\n}", s.Target, stmt)
}

func (r *renderer) accumulate(call string) string {
	r.usesMultierr = true
	return fmt.Sprintf("err = multierr.Append(err, %s)", call)
}

func (r *renderer) useContext(ctx string) {
	if ctx != "ctx" {
		r.usesContext = true
	}
}

func imports(plan protocol.Plan, r renderer, runtimeImport string) [][]string {
	var std, ext []string
	if plan.Shutdown || plan.ShutdownLevel != nil || r.usesContext {
		std = append(std, "context")
	}
	if plan.Finalizer {
		std = append(std, "runtime")
	}
	if r.usesRuntime {
		ext = append(ext, runtimeImport)
	}
	if r.usesMultierr {
		ext = append(ext, multierrImport)
	}
	sort.Strings(std)
	sort.Strings(ext)

	var groups [][]string
	if len(std) > 0 {
		groups = append(groups, std)
	}
	if len(ext) > 0 {
		groups = append(groups, ext)
	}
	return groups
}
