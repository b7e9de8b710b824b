// Package facts computes release capabilities with a Google Mangle program.
// Type facts (declared methods, implemented or embedded interfaces, and
// type-parameter constraints) are loaded as extensional atoms; the program
// derives which types reach the sync or async release contract.
package facts

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"autoclose/internal/capability"
	"autoclose/internal/decl"
)

// Predicate names used by the closure program.
const (
	PredMethod        = "method"
	PredImplements    = "implements"
	PredConstrainedBy = "constrained_by"
	PredReaches       = "reaches"
	PredSyncRelease   = "sync_release"
	PredAsyncRelease  = "async_release"
)

// Program returns the Mangle source of the closure rules.
func Program() string {
	var b strings.Builder
	b.WriteString("Decl method(Type, Name, Signature).\n")
	b.WriteString("Decl implements(Type, Iface).\n")
	b.WriteString("Decl constrained_by(Param, Iface).\n\n")
	b.WriteString("reaches(T, U) :- implements(T, U).\n")
	b.WriteString("reaches(T, U) :- constrained_by(T, U).\n")
	b.WriteString("reaches(T, V) :- reaches(T, U), reaches(U, V).\n\n")
	writeRelease(&b, PredSyncRelease, capability.SyncContract)
	writeRelease(&b, PredAsyncRelease, capability.AsyncContract)
	return b.String()
}

func writeRelease(b *strings.Builder, pred string, c capability.Contract) {
	fmt.Fprintf(b, "%s(T) :- method(T, %q, %q).\n", pred, c.Method, c.Signature)
	fmt.Fprintf(b, "%s(T) :- reaches(T, U), method(U, %q, %q).\n", pred, c.Method, c.Signature)
}

// ParamKey scopes a type parameter to the type that declares it.
func ParamKey(owner, param string) string {
	return owner + "#" + param
}

// Normalize strips type arguments from a type expression, so that
// "*Pool[int]" is looked up as "*Pool".
func Normalize(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.IndexByte(name, '['); i > 0 {
		return name[:i]
	}
	return name
}

type triple struct{ a, b, c string }

// Builder collects type facts before evaluation.
type Builder struct {
	factLimit   int
	methods     []triple
	implements  [][2]string
	constraints [][2]string
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithFactLimit caps the number of facts evaluation may derive. Zero
// leaves the engine default in place.
func (b *Builder) WithFactLimit(n int) *Builder {
	b.factLimit = n
	return b
}

// AddMethod records a method of typ. Plain functions and generic methods
// never satisfy a method contract and are skipped.
func (b *Builder) AddMethod(typ string, m decl.Method) {
	if m.Func || len(m.TypeParams) > 0 {
		return
	}
	b.methods = append(b.methods, triple{Normalize(typ), m.Name, m.Signature()})
}

// AddImplements records that typ implements or embeds iface.
func (b *Builder) AddImplements(typ, iface string) {
	b.implements = append(b.implements, [2]string{Normalize(typ), Normalize(iface)})
}

// AddConstraint records that a scoped type parameter is constrained by iface.
func (b *Builder) AddConstraint(param, iface string) {
	b.constraints = append(b.constraints, [2]string{param, Normalize(iface)})
}

// AddTypeFact records every method and interface of an external type.
func (b *Builder) AddTypeFact(f decl.TypeFact) {
	for _, m := range f.Methods {
		b.AddMethod(f.Name, m)
	}
	for _, iface := range f.Implements {
		b.AddImplements(f.Name, iface)
	}
}

// Evaluate runs the closure program over the collected facts and returns
// an immutable capability table.
func (b *Builder) Evaluate() (*Capabilities, error) {
	unit, err := parse.Unit(strings.NewReader(Program()))
	if err != nil {
		return nil, fmt.Errorf("failed to parse closure program: %w", err)
	}
	programInfo, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze closure program: %w", err)
	}

	index := make(map[string]ast.PredicateSym, len(programInfo.Decls))
	for sym := range programInfo.Decls {
		index[sym.Symbol] = sym
	}
	for _, clause := range programInfo.Rules {
		index[clause.Head.Predicate.Symbol] = clause.Head.Predicate
	}
	for _, name := range []string{PredMethod, PredImplements, PredConstrainedBy, PredSyncRelease, PredAsyncRelease} {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("closure program does not define %s", name)
		}
	}

	store := factstore.NewSimpleInMemoryStore()
	for _, m := range b.methods {
		store.Add(atom(index[PredMethod], m.a, m.b, m.c))
	}
	for _, e := range b.implements {
		store.Add(atom(index[PredImplements], e[0], e[1]))
	}
	for _, e := range b.constraints {
		store.Add(atom(index[PredConstrainedBy], e[0], e[1]))
	}

	var opts []mengine.EvalOption
	if b.factLimit > 0 {
		opts = append(opts, mengine.WithCreatedFactLimit(b.factLimit))
	}
	stats, err := mengine.EvalProgramWithStats(programInfo, store, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate closure program: %w", err)
	}

	caps := &Capabilities{
		sync:  make(map[string]bool),
		async: make(map[string]bool),
		stats: stats,
	}
	if err := collect(store, index[PredSyncRelease], caps.sync); err != nil {
		return nil, err
	}
	if err := collect(store, index[PredAsyncRelease], caps.async); err != nil {
		return nil, err
	}
	return caps, nil
}

func atom(sym ast.PredicateSym, args ...string) ast.Atom {
	terms := make([]ast.BaseTerm, len(args))
	for i, a := range args {
		terms[i] = ast.String(a)
	}
	return ast.Atom{Predicate: sym, Args: terms}
}

func collect(store factstore.FactStore, sym ast.PredicateSym, into map[string]bool) error {
	return store.GetFacts(ast.NewQuery(sym), func(a ast.Atom) error {
		c, ok := a.Args[0].(ast.Constant)
		if !ok {
			return fmt.Errorf("%s: unexpected term %v", sym.Symbol, a.Args[0])
		}
		into[c.Symbol] = true
		return nil
	})
}

// Capabilities is the evaluated capability table. It is safe for
// concurrent reads.
type Capabilities struct {
	sync  map[string]bool
	async map[string]bool
	stats mengine.Stats
}

// Of returns the capability of a type expression.
func (c *Capabilities) Of(typ string) capability.Capability {
	key := Normalize(typ)
	return capability.Of(c.sync[key], c.async[key])
}

// Releasable returns every type with a non-None capability, sorted.
func (c *Capabilities) Releasable() []string {
	seen := make(map[string]bool, len(c.sync)+len(c.async))
	for k := range c.sync {
		seen[k] = true
	}
	for k := range c.async {
		seen[k] = true
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Stats returns the engine's evaluation statistics.
func (c *Capabilities) Stats() mengine.Stats {
	return c.stats
}
